package transcode

import (
	"context"
	"os"
	"path/filepath"

	xerrors "github.com/lightcast/ingest-api/errors"
	"github.com/lightcast/ingest-api/storage"
	"github.com/lightcast/ingest-api/video"
)

// GenerateDASH produces the CMAF DASH ladder for a progressive input:
// templated init/chunk segments plus a manifest.mpd.
func GenerateDASH(ctx context.Context, jobID, input, destDir string, ladder []video.Rendition, hasAudio bool) error {
	if err := purgeAndRecreate(destDir); err != nil {
		return err
	}

	adaptationSets := "id=0,streams=v"
	if hasAudio {
		adaptationSets = "id=0,streams=v id=1,streams=a"
	}

	args := ladderEncodeArgs(input, ladder, hasAudio)
	args = append(args,
		"-f", "dash",
		"-seg_duration", "4",
		"-use_template", "1",
		"-use_timeline", "1",
		"-streaming", "1",
		"-remove_at_exit", "0",
		"-init_seg_name", "init_$RepresentationID$.m4s",
		"-media_seg_name", "chunk_$RepresentationID$_$Number$.m4s",
		"-adaptation_sets", adaptationSets,
		filepath.Join(destDir, storage.DashManifestName),
	)
	if err := runMediaTool(ctx, args); err != nil {
		return err
	}

	if _, err := os.Stat(filepath.Join(destDir, storage.DashManifestName)); err != nil {
		return xerrors.Transcode("dash manifest missing after segmenting: %v", err)
	}
	return nil
}
