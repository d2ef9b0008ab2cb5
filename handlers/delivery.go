package handlers

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/lightcast/ingest-api/errors"
	"github.com/lightcast/ingest-api/log"
)

var deliveryContentTypes = map[string]string{
	".m3u8": "application/vnd.apple.mpegurl",
	".mpd":  "application/dash+xml",
	".m4s":  "video/iso.segment",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".jpg":  "image/jpeg",
}

func contentTypeFor(path string) string {
	if ct, ok := deliveryContentTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// DownloadVideo serves the progressive WebM with single-range support. A
// request without a Range header gets the whole file as 200; a valid
// "bytes=s-[e]" gets a 206 slice.
func (d *IngestAPIHandlersCollection) DownloadVideo() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		id, err := uuid.Parse(params.ByName("id"))
		if err != nil {
			errors.WriteHTTPBadRequest(w, "invalid video id", err)
			return
		}
		path := d.Storage.DownloadPath(id)
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				errors.WriteHTTPNotFound(w, "no progressive output for this video", nil)
				return
			}
			errors.WriteHTTPInternalServerError(w, "failed to open progressive output", err)
			return
		}
		defer f.Close()
		stat, err := f.Stat()
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "failed to stat progressive output", err)
			return
		}
		size := stat.Size()

		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Type", "video/webm")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s.webm"`, id))

		rangeHeader := req.Header.Get("Range")
		if rangeHeader == "" {
			w.Header().Set("Content-Length", fmt.Sprint(size))
			if _, err := io.Copy(w, f); err != nil {
				log.LogError(id.String(), "progressive delivery aborted", err)
			}
			return
		}

		start, end, err := parseRange(rangeHeader, size)
		if err != nil {
			errors.WriteHTTPError(w, "unsatisfiable range", err)
			return
		}
		if _, err := f.Seek(start, io.SeekStart); err != nil {
			errors.WriteHTTPInternalServerError(w, "failed to seek progressive output", err)
			return
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
		w.Header().Set("Content-Length", fmt.Sprint(end-start+1))
		w.WriteHeader(http.StatusPartialContent)
		if _, err := io.CopyN(w, f, end-start+1); err != nil {
			log.LogError(id.String(), "ranged delivery aborted", err)
		}
	}
}

// ServeHLS resolves a path under the job's HLS tree, regenerating the ladder
// first if the cleanup engine pruned it.
func (d *IngestAPIHandlersCollection) ServeHLS() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		d.serveAdaptiveAsset(w, req, params, "hls")
	}
}

// ServeDASH is the DASH twin of ServeHLS.
func (d *IngestAPIHandlersCollection) ServeDASH() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		d.serveAdaptiveAsset(w, req, params, "dash")
	}
}

func (d *IngestAPIHandlersCollection) serveAdaptiveAsset(w http.ResponseWriter, req *http.Request, params httprouter.Params, format string) {
	id, err := uuid.Parse(params.ByName("id"))
	if err != nil {
		errors.WriteHTTPBadRequest(w, "invalid video id", err)
		return
	}
	relPath := strings.TrimPrefix(params.ByName("path"), "/")
	if err := validateAssetPath(relPath); err != nil {
		errors.WriteHTTPError(w, "invalid asset path", err)
		return
	}

	var dir string
	switch format {
	case "hls":
		dir = d.Storage.HLSDir(id)
		err = d.Segmenter.EnsureHLS(req.Context(), id)
	default:
		dir = d.Storage.DashDir(id)
		err = d.Segmenter.EnsureDASH(req.Context(), id)
	}
	if err != nil {
		errors.WriteHTTPError(w, "failed to prepare adaptive output", err)
		return
	}

	d.serveFile(w, id, filepath.Join(dir, filepath.FromSlash(relPath)))
}

// Thumbnail serves the poster frame extracted after transcode.
func (d *IngestAPIHandlersCollection) Thumbnail() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		id, err := uuid.Parse(params.ByName("id"))
		if err != nil {
			errors.WriteHTTPBadRequest(w, "invalid video id", err)
			return
		}
		d.serveFile(w, id, d.Storage.PosterPath(id))
	}
}

func (d *IngestAPIHandlersCollection) serveFile(w http.ResponseWriter, id uuid.UUID, path string) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			errors.WriteHTTPNotFound(w, "asset not found", nil)
			return
		}
		errors.WriteHTTPInternalServerError(w, "failed to open asset", err)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", contentTypeFor(path))
	if stat, err := f.Stat(); err == nil {
		w.Header().Set("Content-Length", fmt.Sprint(stat.Size()))
	}
	if _, err := io.Copy(w, f); err != nil {
		log.LogError(id.String(), "asset delivery aborted", err, "path", filepath.Base(path))
	}
}

// validateAssetPath rejects absolute paths and any traversal outside the
// job's artifact directory.
func validateAssetPath(relPath string) error {
	if relPath == "" {
		return errors.Validation("empty asset path")
	}
	if strings.HasPrefix(relPath, "/") || strings.Contains(relPath, "\\") {
		return errors.Validation("asset path must be relative: %q", relPath)
	}
	for _, seg := range strings.Split(relPath, "/") {
		if seg == ".." {
			return errors.Validation("asset path must not traverse upward: %q", relPath)
		}
	}
	return nil
}
