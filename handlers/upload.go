package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/lightcast/ingest-api/clients"
	"github.com/lightcast/ingest-api/errors"
	"github.com/lightcast/ingest-api/jobstore"
	"github.com/lightcast/ingest-api/log"
	"github.com/lightcast/ingest-api/metrics"
	"github.com/lightcast/ingest-api/pipeline"
	"github.com/xeipuuv/gojsonschema"
)

// TranscodeOverrides are the per-request knobs a caller may set; anything
// unset falls back to the server defaults.
type TranscodeOverrides struct {
	CRF     *uint `json:"crf,omitempty"`
	CPUUsed *uint `json:"cpu_used,omitempty"`
}

type RemoteUploadRequest struct {
	URL       string              `json:"url"`
	Transcode *TranscodeOverrides `json:"transcode,omitempty"`
}

// UploadResponse is returned immediately on acceptance; every URL in it is
// valid to poll or fetch right away (delivery blocks until artifacts exist).
type UploadResponse struct {
	ID              string `json:"id"`
	StatusURL       string `json:"status_url"`
	DownloadURL     string `json:"download_url"`
	HLSMasterURL    string `json:"hls_master_url"`
	DashManifestURL string `json:"dash_manifest_url"`
}

func newUploadResponse(id uuid.UUID) UploadResponse {
	return UploadResponse{
		ID:              id.String(),
		StatusURL:       fmt.Sprintf("/jobs/%s", id),
		DownloadURL:     fmt.Sprintf("/videos/%s/download", id),
		HLSMasterURL:    fmt.Sprintf("/videos/%s/hls/master.m3u8", id),
		DashManifestURL: fmt.Sprintf("/videos/%s/dash/manifest.mpd", id),
	}
}

func writeAccepted(w http.ResponseWriter, id uuid.UUID) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(newUploadResponse(id)); err != nil {
		log.LogError(id.String(), "failed to write upload response", err)
	}
}

// UploadMultipart streams the file part of a multipart body straight to the
// job's incoming path, reporting byte progress against Content-Length, then
// hands the job to the pipeline.
func (d *IngestAPIHandlersCollection) UploadMultipart() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		metrics.Metrics.UploadRequestCount.WithLabelValues("multipart").Inc()

		if d.Cli.MaxUploadSizeBytes > 0 {
			req.Body = http.MaxBytesReader(w, req.Body, d.Cli.MaxUploadSizeBytes)
		}
		mr, err := req.MultipartReader()
		if err != nil {
			errors.WriteHTTPUnsupportedMediaType(w, "request is not a multipart body", err)
			return
		}

		id := uuid.New()
		log.AddContext(id.String(), "route", "multipart")
		d.Jobs.Create(id)
		d.Jobs.SetPlan(id, []jobstore.Stage{jobstore.StageUploading, jobstore.StageTranscoding})
		d.Jobs.UpdateStage(id, jobstore.StageUploading)

		var opts pipeline.SubmissionOptions
		received := false
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				d.Jobs.Fail(id, "malformed multipart body")
				errors.WriteHTTPBadRequest(w, "malformed multipart body", err)
				return
			}
			if part.FileName() == "" {
				applyFormOverride(&opts, part)
				continue
			}
			if err := d.receiveFilePart(req, id, part); err != nil {
				d.Jobs.Fail(id, err.Error())
				errors.WriteHTTPError(w, "failed to receive upload", err)
				return
			}
			received = true
			break
		}
		if !received {
			d.Jobs.Fail(id, "no file part in multipart body")
			errors.WriteHTTPBadRequest(w, "multipart body must contain a file part", nil)
			return
		}

		d.Jobs.UpdateProgress(id, 1.0)
		d.Coordinator.StartLocalJob(id, opts)
		writeAccepted(w, id)
	}
}

func (d *IngestAPIHandlersCollection) receiveFilePart(req *http.Request, id uuid.UUID, part io.Reader) error {
	dest := d.Storage.IncomingPath(id)
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to open incoming file: %w", err)
	}
	defer out.Close()

	// Content-Length covers the whole multipart body, so the ratio slightly
	// undershoots; the store clamps and the transcode stage resets it anyway.
	total := req.ContentLength
	var written int64
	buf := make([]byte, 256*1024)
	for {
		n, err := part.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				os.Remove(dest)
				return fmt.Errorf("failed to write incoming file: %w", werr)
			}
			written += int64(n)
			metrics.Metrics.DownloadedBytesTotal.WithLabelValues("multipart").Add(float64(n))
			if total > 0 {
				d.Jobs.UpdateProgress(id, float64(written)/float64(total))
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			os.Remove(dest)
			return errors.Validation("upload interrupted: %v", err)
		}
	}
}

// applyFormOverride picks up optional crf / cpu_used form fields that arrive
// before the file part. Unknown fields are ignored.
func applyFormOverride(opts *pipeline.SubmissionOptions, part *multipart.Part) {
	raw, err := io.ReadAll(io.LimitReader(part, 32))
	if err != nil {
		return
	}
	v, err := strconv.ParseUint(string(raw), 10, 32)
	if err != nil {
		return
	}
	u := uint(v)
	switch part.FormName() {
	case "crf":
		opts.CRF = &u
	case "cpu_used":
		opts.CPUUsed = &u
	}
}

// UploadRemote accepts a JSON body naming a source URL; the URL's shape picks
// the downloader (aria2 for magnet/torrent/ftp, plain HTTP otherwise).
func (d *IngestAPIHandlersCollection) UploadRemote() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		metrics.Metrics.UploadRequestCount.WithLabelValues("remote").Inc()

		body, ok := d.parseRemoteBody(w, req, "/upload/remote")
		if !ok {
			return
		}
		downloader, err := clients.ClassifySource(body.URL)
		if err != nil {
			errors.WriteHTTPError(w, "unsupported source url", err)
			return
		}

		id := uuid.New()
		log.AddContext(id.String(), "route", "remote", "downloader", string(downloader))
		d.Jobs.Create(id)
		d.Jobs.SetPlan(id, []jobstore.Stage{jobstore.StageDownloading, jobstore.StageTranscoding})
		d.Coordinator.StartRemoteJob(id, downloader, body.URL, submissionOptions(body.Transcode))
		writeAccepted(w, id)
	}
}

// DownloadYtDlp accepts the same JSON body as UploadRemote but always
// resolves the source through yt-dlp.
func (d *IngestAPIHandlersCollection) DownloadYtDlp() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		metrics.Metrics.UploadRequestCount.WithLabelValues("yt-dlp").Inc()

		body, ok := d.parseRemoteBody(w, req, "/download/yt-dlp")
		if !ok {
			return
		}

		id := uuid.New()
		log.AddContext(id.String(), "route", "yt-dlp")
		d.Jobs.Create(id)
		d.Jobs.SetPlan(id, []jobstore.Stage{jobstore.StageDownloading, jobstore.StageTranscoding})
		d.Coordinator.StartYtDlpJob(id, body.URL, submissionOptions(body.Transcode))
		writeAccepted(w, id)
	}
}

func (d *IngestAPIHandlersCollection) parseRemoteBody(w http.ResponseWriter, req *http.Request, where string) (RemoteUploadRequest, bool) {
	var body RemoteUploadRequest
	payload, err := io.ReadAll(io.LimitReader(req.Body, 1<<20))
	if err != nil {
		errors.WriteHTTPBadRequest(w, "failed to read request body", err)
		return body, false
	}
	result, err := inputSchemasCompiled["RemoteUpload"].Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		errors.WriteHTTPBadRequest(w, "body is not valid JSON", err)
		return body, false
	}
	if !result.Valid() {
		errors.WriteHTTPBadBodySchema(where, w, result.Errors())
		return body, false
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		errors.WriteHTTPBadRequest(w, "failed to parse request body", err)
		return body, false
	}
	return body, true
}

func submissionOptions(t *TranscodeOverrides) pipeline.SubmissionOptions {
	if t == nil {
		return pipeline.SubmissionOptions{}
	}
	return pipeline.SubmissionOptions{CRF: t.CRF, CPUUsed: t.CPUUsed}
}
