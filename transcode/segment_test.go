package transcode

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	xerrors "github.com/lightcast/ingest-api/errors"
	"github.com/lightcast/ingest-api/storage"
	"github.com/lightcast/ingest-api/video"
	"github.com/stretchr/testify/require"
)

// countingProber records invocations so tests can assert the lazy paths do
// not re-probe when artifacts are already on disk.
type countingProber struct {
	calls int
	info  video.MediaInfo
	err   error
}

func (p *countingProber) ProbeFile(jobID, path string) (video.MediaInfo, error) {
	p.calls++
	return p.info, p.err
}

func testSegmenter(t *testing.T) (*Segmenter, *countingProber, *storage.Storage) {
	st := storage.New(filepath.Join(t.TempDir(), "data"))
	st.Tmp = filepath.Join(t.TempDir(), "tmp")
	require.NoError(t, st.Init())
	prober := &countingProber{err: xerrors.Transcode("prober must not run")}
	return &Segmenter{Storage: st, Prober: prober}, prober, st
}

func TestEnsureHLSIsNoOpWhenIndexExists(t *testing.T) {
	s, prober, st := testSegmenter(t)
	id := uuid.New()
	require.NoError(t, os.MkdirAll(st.HLSDir(id), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(st.HLSDir(id), storage.HLSIndexName), []byte("#EXTM3U\n"), 0644))

	require.NoError(t, s.EnsureHLS(context.Background(), id))
	require.Zero(t, prober.calls, "a populated tree must not be probed or regenerated")
}

func TestEnsureDASHIsNoOpWhenManifestExists(t *testing.T) {
	s, prober, st := testSegmenter(t)
	id := uuid.New()
	require.NoError(t, os.MkdirAll(st.DashDir(id), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(st.DashDir(id), storage.DashManifestName), []byte("<MPD/>"), 0644))

	require.NoError(t, s.EnsureDASH(context.Background(), id))
	require.Zero(t, prober.calls, "a populated tree must not be probed or regenerated")
}

func TestEnsureWithoutProgressiveIsNotFound(t *testing.T) {
	s, prober, _ := testSegmenter(t)
	id := uuid.New()

	err := s.EnsureHLS(context.Background(), id)
	require.Error(t, err)
	require.Equal(t, xerrors.KindNotFound, xerrors.KindOf(err))

	err = s.EnsureDASH(context.Background(), id)
	require.Error(t, err)
	require.Equal(t, xerrors.KindNotFound, xerrors.KindOf(err))
	require.Zero(t, prober.calls, "a missing progressive file is rejected before probing")
}

func TestEnsureSurfacesProbeFailureAsTranscode(t *testing.T) {
	s, prober, st := testSegmenter(t)
	id := uuid.New()
	require.NoError(t, st.EnsureVideoDir(id))
	require.NoError(t, os.WriteFile(st.DownloadPath(id), []byte("webm"), 0644))
	prober.err = xerrors.Transcode("no video stream found")

	err := s.EnsureHLS(context.Background(), id)
	require.Error(t, err)
	require.Equal(t, xerrors.KindTranscode, xerrors.KindOf(err))
	require.Equal(t, 1, prober.calls)
}
