package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/lightcast/ingest-api/cleanup"
	"github.com/lightcast/ingest-api/config"
	xerrors "github.com/lightcast/ingest-api/errors"
	"github.com/lightcast/ingest-api/jobstore"
	"github.com/lightcast/ingest-api/pipeline"
	"github.com/lightcast/ingest-api/storage"
	"github.com/stretchr/testify/require"
)

func newTestHandlers(t *testing.T) (*IngestAPIHandlersCollection, *jobstore.LocalStore, *storage.Storage) {
	st := storage.New(filepath.Join(t.TempDir(), "data"))
	st.Tmp = filepath.Join(t.TempDir(), "tmp")
	require.NoError(t, st.Init())

	store := jobstore.NewLocalStore()
	engine := cleanup.NewEngine(cleanup.Config{MinFreeBytes: 1, MinFreeRatio: 0, MaxBatch: 5}, store, st).
		WithDiskUsage(func(string) (uint64, uint64, error) { return 100 << 30, 200 << 30, nil })
	cli := config.Cli{DefaultQuality: 24, DefaultCPUUsed: 4}
	coordinator := pipeline.NewCoordinator(cli, store, st, engine)

	d := &IngestAPIHandlersCollection{
		Cli:         cli,
		Coordinator: coordinator,
		Jobs:        store,
		Storage:     st,
		Segmenter:   coordinator.Segmenter,
	}
	return d, store, st
}

func TestHealthz(t *testing.T) {
	d, _, _ := newTestHandlers(t)
	rr := httptest.NewRecorder()
	d.Healthz()(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}

func TestParseRange(t *testing.T) {
	start, end, err := parseRange("bytes=100-", 200)
	require.NoError(t, err)
	require.Equal(t, int64(100), start)
	require.Equal(t, int64(199), end)
	require.Equal(t, int64(100), end-start+1)

	start, end, err = parseRange("bytes=0-0", 10)
	require.NoError(t, err)
	require.Equal(t, int64(0), start)
	require.Equal(t, int64(0), end)

	_, _, err = parseRange("items=0-10", 200)
	require.Error(t, err)
	require.Equal(t, xerrors.KindValidation, xerrors.KindOf(err))

	_, _, err = parseRange("bytes=5-2", 200)
	require.Error(t, err)

	_, _, err = parseRange("bytes=0-200", 200)
	require.Error(t, err, "end must stay below the resource size")

	_, _, err = parseRange("bytes=0-1,5-6", 200)
	require.Error(t, err, "multi-range is rejected")
}

func TestDownloadVideoFullAndRanged(t *testing.T) {
	d, _, st := newTestHandlers(t)
	id := uuid.New()
	require.NoError(t, st.EnsureVideoDir(id))
	require.NoError(t, os.WriteFile(st.DownloadPath(id), []byte("abcdef"), 0644))
	params := httprouter.Params{{Key: "id", Value: id.String()}}

	rr := httptest.NewRecorder()
	d.DownloadVideo()(rr, httptest.NewRequest(http.MethodGet, "/videos/"+id.String()+"/download", nil), params)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "abcdef", rr.Body.String())
	require.Equal(t, "bytes", rr.Header().Get("Accept-Ranges"))
	require.Equal(t, "video/webm", rr.Header().Get("Content-Type"))
	require.Contains(t, rr.Header().Get("Content-Disposition"), `inline; filename="`+id.String()+`.webm"`)

	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/videos/"+id.String()+"/download", nil)
	req.Header.Set("Range", "bytes=1-3")
	d.DownloadVideo()(rr, req, params)
	require.Equal(t, http.StatusPartialContent, rr.Code)
	require.Equal(t, "bcd", rr.Body.String())
	require.Equal(t, "bytes 1-3/6", rr.Header().Get("Content-Range"))
	require.Equal(t, "3", rr.Header().Get("Content-Length"))
}

func TestDownloadVideoBadRangeAndMissing(t *testing.T) {
	d, _, st := newTestHandlers(t)
	id := uuid.New()
	require.NoError(t, st.EnsureVideoDir(id))
	require.NoError(t, os.WriteFile(st.DownloadPath(id), []byte("abcdef"), 0644))
	params := httprouter.Params{{Key: "id", Value: id.String()}}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/videos/x/download", nil)
	req.Header.Set("Range", "bytes=4-100")
	d.DownloadVideo()(rr, req, params)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	missing := httprouter.Params{{Key: "id", Value: uuid.NewString()}}
	d.DownloadVideo()(rr, httptest.NewRequest(http.MethodGet, "/videos/x/download", nil), missing)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestValidateAssetPath(t *testing.T) {
	require.NoError(t, validateAssetPath("master.m3u8"))
	require.NoError(t, validateAssetPath("segment_0_00001.m4s"))
	require.Error(t, validateAssetPath(""))
	require.Error(t, validateAssetPath("/etc/passwd"))
	require.Error(t, validateAssetPath("../outside.m3u8"))
	require.Error(t, validateAssetPath("a/../../b"))
}

func TestJobStatusNotFoundAndMalformed(t *testing.T) {
	d, _, _ := newTestHandlers(t)

	rr := httptest.NewRecorder()
	d.JobStatus()(rr, httptest.NewRequest(http.MethodGet, "/jobs/nope", nil), httprouter.Params{{Key: "id", Value: "nope"}})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	d.JobStatus()(rr, httptest.NewRequest(http.MethodGet, "/jobs/x", nil), httprouter.Params{{Key: "id", Value: uuid.NewString()}})
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestJobStatusReturnsSnapshot(t *testing.T) {
	d, store, _ := newTestHandlers(t)
	id := uuid.New()
	store.Create(id)
	store.SetPlan(id, []jobstore.Stage{jobstore.StageUploading, jobstore.StageTranscoding})
	store.UpdateStage(id, jobstore.StageUploading)
	store.UpdateProgress(id, 0.5)

	rr := httptest.NewRecorder()
	d.JobStatus()(rr, httptest.NewRequest(http.MethodGet, "/jobs/x", nil), httprouter.Params{{Key: "id", Value: id.String()}})
	require.Equal(t, http.StatusOK, rr.Code)

	var snap jobstore.Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	require.Equal(t, id.String(), snap.ID)
	require.Equal(t, jobstore.StageUploading, snap.Stage)
	require.Equal(t, 0.25, snap.Progress)
}

func TestUploadRemoteRejectsBadBodies(t *testing.T) {
	d, _, _ := newTestHandlers(t)
	for _, body := range []string{
		`not json`,
		`{}`,
		`{"url": ""}`,
		`{"url": "https://example.com/a.mp4", "extra": true}`,
		`{"url": "https://example.com/a.mp4", "transcode": {"crf": "high"}}`,
	} {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/upload/remote", strings.NewReader(body))
		d.UploadRemote()(rr, req, nil)
		require.Equal(t, http.StatusBadRequest, rr.Code, "body %q must be rejected", body)
	}
}

func TestUploadRemoteRejectsUnsupportedScheme(t *testing.T) {
	d, _, _ := newTestHandlers(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/upload/remote", strings.NewReader(`{"url": "gopher://example.com/a"}`))
	d.UploadRemote()(rr, req, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUploadRemoteAcceptsAndCreatesJob(t *testing.T) {
	d, store, _ := newTestHandlers(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/upload/remote", strings.NewReader(`{"url": "https://example.com/a.mp4"}`))
	d.UploadRemote()(rr, req, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp UploadResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	id, err := uuid.Parse(resp.ID)
	require.NoError(t, err)
	require.Equal(t, "/jobs/"+resp.ID, resp.StatusURL)
	require.Equal(t, "/videos/"+resp.ID+"/download", resp.DownloadURL)
	require.Equal(t, "/videos/"+resp.ID+"/hls/master.m3u8", resp.HLSMasterURL)
	require.Equal(t, "/videos/"+resp.ID+"/dash/manifest.mpd", resp.DashManifestURL)

	snap, ok := store.Status(id)
	require.True(t, ok)
	require.Equal(t, 2, snap.TotalStages)
}

func TestUploadMultipartStreamsFileToIncoming(t *testing.T) {
	d, store, _ := newTestHandlers(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("crf", "30"))
	fw, err := mw.CreateFormFile("file", "input.mov")
	require.NoError(t, err)
	_, err = fw.Write([]byte("fake video bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/upload/multipart", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	d.UploadMultipart()(rr, req, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp UploadResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	id, err := uuid.Parse(resp.ID)
	require.NoError(t, err)

	snap, ok := store.Status(id)
	require.True(t, ok)
	require.NotEqual(t, "", string(snap.Stage))
}

func TestUploadMultipartRejectsNonMultipart(t *testing.T) {
	d, _, _ := newTestHandlers(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/upload/multipart", strings.NewReader("plain"))
	req.Header.Set("Content-Type", "text/plain")
	d.UploadMultipart()(rr, req, nil)
	require.Equal(t, http.StatusUnsupportedMediaType, rr.Code)
}

func TestServeHLSDeliversExistingAssetWithoutRegeneration(t *testing.T) {
	d, _, st := newTestHandlers(t)
	id := uuid.New()
	require.NoError(t, os.MkdirAll(st.HLSDir(id), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(st.HLSDir(id), storage.HLSIndexName), []byte("#EXTM3U\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(st.HLSDir(id), storage.HLSMasterName), []byte("#EXTM3U\n#EXT-X-STREAM-INF\n"), 0644))

	rr := httptest.NewRecorder()
	params := httprouter.Params{{Key: "id", Value: id.String()}, {Key: "path", Value: "/" + storage.HLSMasterName}}
	d.ServeHLS()(rr, httptest.NewRequest(http.MethodGet, "/videos/x/hls/master.m3u8", nil), params)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "application/vnd.apple.mpegurl", rr.Header().Get("Content-Type"))
	require.Contains(t, rr.Body.String(), "#EXT-X-STREAM-INF")
}

func TestServeHLSRejectsTraversalAndMissingProgressive(t *testing.T) {
	d, _, _ := newTestHandlers(t)
	id := uuid.New()

	rr := httptest.NewRecorder()
	params := httprouter.Params{{Key: "id", Value: id.String()}, {Key: "path", Value: "/../outside.m3u8"}}
	d.ServeHLS()(rr, httptest.NewRequest(http.MethodGet, "/videos/x/hls/a", nil), params)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	// no progressive output on disk, so there is nothing to regenerate from
	rr = httptest.NewRecorder()
	params = httprouter.Params{{Key: "id", Value: id.String()}, {Key: "path", Value: "/" + storage.HLSIndexName}}
	d.ServeHLS()(rr, httptest.NewRequest(http.MethodGet, "/videos/x/hls/index.m3u8", nil), params)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestServeDASHDeliversExistingManifest(t *testing.T) {
	d, _, st := newTestHandlers(t)
	id := uuid.New()
	require.NoError(t, os.MkdirAll(st.DashDir(id), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(st.DashDir(id), storage.DashManifestName), []byte("<MPD/>"), 0644))

	rr := httptest.NewRecorder()
	params := httprouter.Params{{Key: "id", Value: id.String()}, {Key: "path", Value: "/" + storage.DashManifestName}}
	d.ServeDASH()(rr, httptest.NewRequest(http.MethodGet, "/videos/x/dash/manifest.mpd", nil), params)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "application/dash+xml", rr.Header().Get("Content-Type"))
}

func TestThumbnailServesPoster(t *testing.T) {
	d, _, st := newTestHandlers(t)
	id := uuid.New()
	require.NoError(t, st.EnsureVideoDir(id))
	require.NoError(t, os.WriteFile(st.PosterPath(id), []byte{0xff, 0xd8, 0xff}, 0644))

	rr := httptest.NewRecorder()
	d.Thumbnail()(rr, httptest.NewRequest(http.MethodGet, "/videos/x/thumbnail", nil), httprouter.Params{{Key: "id", Value: id.String()}})
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "image/jpeg", rr.Header().Get("Content-Type"))

	rr = httptest.NewRecorder()
	d.Thumbnail()(rr, httptest.NewRequest(http.MethodGet, "/videos/x/thumbnail", nil), httprouter.Params{{Key: "id", Value: uuid.NewString()}})
	require.Equal(t, http.StatusNotFound, rr.Code)
}
