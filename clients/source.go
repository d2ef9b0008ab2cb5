// Package clients acquires source bytes from the outside world: plain HTTP,
// aria2 for FTP/torrent/magnet sources, and yt-dlp for page URLs.
package clients

import (
	"net/url"
	"strings"

	"github.com/lightcast/ingest-api/errors"
)

type Downloader string

const (
	DownloaderHTTP  Downloader = "http"
	DownloaderAria2 Downloader = "aria2"
	DownloaderYtDlp Downloader = "yt-dlp"
)

// ProgressFunc receives acquisition progress in [0,1].
type ProgressFunc func(progress float64)

var aria2Schemes = map[string]bool{"ftp": true, "ftps": true, "p2p": true}

// ClassifySource picks the downloader for a submitted URL string. Magnet
// links, .torrent files and FTP-family schemes go through aria2; everything
// else must parse as a URL and goes through plain HTTP. The yt-dlp path is
// only ever selected explicitly by endpoint.
func ClassifySource(raw string) (Downloader, error) {
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "magnet:") || strings.HasSuffix(lower, ".torrent") {
		return DownloaderAria2, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.Validation("invalid source url %q: %v", raw, err)
	}
	if aria2Schemes[strings.ToLower(u.Scheme)] {
		return DownloaderAria2, nil
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errors.Validation("unsupported source url scheme %q", u.Scheme)
	}
	return DownloaderHTTP, nil
}
