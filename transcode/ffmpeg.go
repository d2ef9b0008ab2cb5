package transcode

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/lightcast/ingest-api/config"
	xerrors "github.com/lightcast/ingest-api/errors"
	"github.com/lightcast/ingest-api/log"
)

// TranscodeRequest describes the one-shot progressive encode of a source
// file into AV1/WebM.
type TranscodeRequest struct {
	JobID      string
	InputPath  string
	OutputPath string
	// DurationSec drives progress reporting; 0 means the probe failed and
	// stderr is only drained.
	DurationSec float64
	HasAudio    bool
	// Backend forces a specific encoder; empty selects automatically.
	Backend    EncoderBackend
	Opts       EncodeOptions
	OnProgress func(float64)
	OnETA      func(float64)
}

// RunTranscode tries each encoder candidate in order until one succeeds.
// Per-candidate failures are recovered locally; only exhaustion surfaces, as
// the last candidate's error.
func RunTranscode(ctx context.Context, configuredEncoder string, req TranscodeRequest) error {
	candidates := CandidateOrder(req.Backend, configuredEncoder)
	var lastErr error
	for _, backend := range candidates {
		err := runFFmpegOnce(ctx, backend, req)
		if err == nil {
			if lastErr != nil {
				log.Log(req.JobID, "encoder fallback succeeded", "backend", string(backend))
			}
			return nil
		}
		if xerrors.KindOf(err) == xerrors.KindDependency {
			// the binary itself is missing, no point trying other backends
			return err
		}
		log.LogError(req.JobID, "encoder backend failed, trying next candidate", err, "backend", string(backend))
		lastErr = err
	}
	return lastErr
}

func runFFmpegOnce(ctx context.Context, backend EncoderBackend, req TranscodeRequest) error {
	binary, err := exec.LookPath(config.FFmpegPath)
	if err != nil {
		return xerrors.Dependency("%s not found on PATH: %v", config.FFmpegPath, err)
	}

	args := []string{"-y", "-i", req.InputPath}
	args = append(args, backend.Args(req.Opts)...)
	args = append(args, audioArgs(req.HasAudio)...)
	args = append(args, req.OutputPath)

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdin = nil
	cmd.Stdout = io.Discard
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return xerrors.Transcode("error opening ffmpeg stderr pipe: %v", err)
	}
	if err := cmd.Start(); err != nil {
		return xerrors.Dependency("error starting ffmpeg: %v", err)
	}

	// The monitor runs concurrently with the child and is joined before we
	// return; its errors count as transcode failures.
	monitorErr := make(chan error, 1)
	go func() {
		monitorErr <- monitorRecovered(func() error {
			if req.DurationSec > 0 {
				return newProgressMonitor(req.JobID, req.DurationSec, req.OnProgress, req.OnETA).consume(stderr)
			}
			_, err := io.Copy(os.Stderr, stderr)
			return err
		})
	}()

	waitErr := cmd.Wait()
	monErr := <-monitorErr
	if waitErr != nil {
		return xerrors.Transcode("ffmpeg (%s) failed: %v", backend, waitErr)
	}
	if monErr != nil {
		return xerrors.Transcode("ffmpeg progress monitor failed: %v", monErr)
	}
	return nil
}

func monitorRecovered(f func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in progress monitor: %v", rec)
		}
	}()
	return f()
}
