package clients

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	xerrors "github.com/lightcast/ingest-api/errors"
	"github.com/lightcast/ingest-api/log"
	"github.com/lightcast/ingest-api/metrics"
)

// Give up on fetches that take more than this long - the file is probably too
// big for us to process locally or the request is hanging
const MaxFetchDuration = 10 * time.Minute

var retryableHttpClient = newRetryableHttpClient()

func newRetryableHttpClient() *http.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 200 * time.Millisecond // Wait at least this long between retries
	client.RetryWaitMax = 5 * time.Second        // Wait at most this long between retries (exponential backoff)
	client.Logger = log.NewRetryableHTTPLogger()
	client.HTTPClient = &http.Client{
		Timeout: MaxFetchDuration,
	}

	return client.StandardClient()
}

// FetchHTTP streams a remote file to destPath, reporting progress per chunk
// when the server advertises a Content-Length.
func FetchHTTP(ctx context.Context, jobID, sourceURL, destPath string, onProgress ProgressFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return xerrors.Validation("error creating http request: %v", err)
	}
	resp, err := retryableHttpClient.Do(req)
	if err != nil {
		return xerrors.Upstream("error fetching source: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return xerrors.Upstream("error fetching source: status %d", resp.StatusCode)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("error creating incoming file: %w", err)
	}
	defer out.Close()

	var downloaded, total int64
	total = resp.ContentLength

	buf := make([]byte, 256*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return fmt.Errorf("error writing incoming file: %w", writeErr)
			}
			downloaded += int64(n)
			metrics.Metrics.DownloadedBytesTotal.WithLabelValues(string(DownloaderHTTP)).Add(float64(n))
			if total > 0 && onProgress != nil {
				onProgress(float64(downloaded) / float64(total))
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return xerrors.Upstream("error reading source body: %v", readErr)
		}
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("error closing incoming file: %w", err)
	}
	if onProgress != nil {
		onProgress(1.0)
	}
	log.Log(jobID, "fetched remote source", "url", sourceURL, "bytes", downloaded)
	return nil
}
