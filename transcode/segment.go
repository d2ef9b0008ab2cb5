package transcode

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	xerrors "github.com/lightcast/ingest-api/errors"
	"github.com/lightcast/ingest-api/log"
	"github.com/lightcast/ingest-api/metrics"
	"github.com/lightcast/ingest-api/storage"
	"github.com/lightcast/ingest-api/video"
	"golang.org/x/sync/errgroup"
)

// Segmenter derives adaptive HLS and DASH ladders from a job's progressive
// output. Generation runs eagerly on the finalize path and lazily from the
// delivery surface when derived artifacts were pruned.
type Segmenter struct {
	Storage *storage.Storage
	Prober  video.Prober
}

// GenerateAdaptive probes the progressive output, plans the ladder and
// synthesizes HLS and DASH concurrently. Both must succeed.
func (s *Segmenter) GenerateAdaptive(ctx context.Context, id uuid.UUID) error {
	input := s.Storage.DownloadPath(id)
	info, err := s.Prober.ProbeFile(id.String(), input)
	if err != nil {
		return xerrors.Transcode("error probing progressive output: %v", err)
	}
	ladder := video.SelectLadder(info.Width, info.Height)
	log.Log(id.String(), "planned adaptive ladder", "rungs", len(ladder), "source_width", info.Width, "source_height", info.Height)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return s.generateHLSTimed(egCtx, id, input, ladder, info.HasAudio)
	})
	eg.Go(func() error {
		return s.generateDASHTimed(egCtx, id, input, ladder, info.HasAudio)
	})
	return eg.Wait()
}

// EnsureHLS regenerates the HLS tree if its index playlist is absent. A
// populated tree makes this a no-op.
func (s *Segmenter) EnsureHLS(ctx context.Context, id uuid.UUID) error {
	indexPath := filepath.Join(s.Storage.HLSDir(id), storage.HLSIndexName)
	if _, err := os.Stat(indexPath); err == nil {
		return nil
	}
	input, info, err := s.probeProgressive(id)
	if err != nil {
		return err
	}
	log.Log(id.String(), "regenerating hls artifacts on demand")
	return s.generateHLSTimed(ctx, id, input, video.SelectLadder(info.Width, info.Height), info.HasAudio)
}

// EnsureDASH is the DASH counterpart, keyed on the manifest.
func (s *Segmenter) EnsureDASH(ctx context.Context, id uuid.UUID) error {
	manifestPath := filepath.Join(s.Storage.DashDir(id), storage.DashManifestName)
	if _, err := os.Stat(manifestPath); err == nil {
		return nil
	}
	input, info, err := s.probeProgressive(id)
	if err != nil {
		return err
	}
	log.Log(id.String(), "regenerating dash artifacts on demand")
	return s.generateDASHTimed(ctx, id, input, video.SelectLadder(info.Width, info.Height), info.HasAudio)
}

func (s *Segmenter) probeProgressive(id uuid.UUID) (string, video.MediaInfo, error) {
	input := s.Storage.DownloadPath(id)
	if _, err := os.Stat(input); err != nil {
		return "", video.MediaInfo{}, xerrors.NotFound("no progressive output for job %s", id)
	}
	info, err := s.Prober.ProbeFile(id.String(), input)
	if err != nil {
		return "", video.MediaInfo{}, xerrors.Transcode("error probing progressive output: %v", err)
	}
	return input, info, nil
}

func (s *Segmenter) generateHLSTimed(ctx context.Context, id uuid.UUID, input string, ladder []video.Rendition, hasAudio bool) error {
	start := time.Now()
	err := GenerateHLS(ctx, id.String(), input, s.Storage.HLSDir(id), ladder, hasAudio)
	metrics.Metrics.SegmentingDurationSec.WithLabelValues("hls").Observe(time.Since(start).Seconds())
	return err
}

func (s *Segmenter) generateDASHTimed(ctx context.Context, id uuid.UUID, input string, ladder []video.Rendition, hasAudio bool) error {
	start := time.Now()
	err := GenerateDASH(ctx, id.String(), input, s.Storage.DashDir(id), ladder, hasAudio)
	metrics.Metrics.SegmentingDurationSec.WithLabelValues("dash").Observe(time.Since(start).Seconds())
	return err
}
