package video

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lightcast/ingest-api/config"
	"gopkg.in/vansante/go-ffprobe.v2"
)

// MediaInfo is the subset of probed data the pipeline needs: geometry for
// ladder planning, duration for encoder progress, audio presence for the
// audio argv fragment.
type MediaInfo struct {
	Width       int
	Height      int
	DurationSec float64
	HasAudio    bool
}

type Prober interface {
	ProbeFile(jobID, path string) (MediaInfo, error)
}

type Probe struct{}

var _ Prober = Probe{}

func (p Probe) ProbeFile(jobID, path string) (MediaInfo, error) {
	ffprobe.SetFFProbeBinPath(config.FFprobePath)
	var data *ffprobe.ProbeData
	operation := func() error {
		probeCtx, probeCancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer probeCancel()
		var err error
		data, err = ffprobe.ProbeURL(probeCtx, path, "-loglevel", "error")
		return err
	}

	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = 500 * time.Millisecond
	backOff.MaxInterval = 2 * time.Second
	backOff.MaxElapsedTime = 0 // don't impose a timeout as part of the retries
	err := backoff.Retry(operation, backoff.WithMaxRetries(backOff, 3))
	if err != nil {
		return MediaInfo{}, fmt.Errorf("error probing: %w", err)
	}
	return parseProbeOutput(data)
}

func parseProbeOutput(probeData *ffprobe.ProbeData) (MediaInfo, error) {
	videoStream := probeData.FirstVideoStream()
	if videoStream == nil {
		return MediaInfo{}, errors.New("error checking for video: no video stream found")
	}
	if videoStream.Width <= 0 || videoStream.Height <= 0 {
		return MediaInfo{}, fmt.Errorf("error parsing input video: invalid dimensions %dx%d", videoStream.Width, videoStream.Height)
	}

	info := MediaInfo{
		Width:    videoStream.Width,
		Height:   videoStream.Height,
		HasAudio: probeData.FirstAudioStream() != nil,
	}
	if probeData.Format != nil {
		info.DurationSec = probeData.Format.Duration().Seconds()
	}
	return info, nil
}
