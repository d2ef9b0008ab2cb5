package transcode

import (
	"bytes"
	"fmt"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// ExtractPoster grabs a single JPEG frame at roughly a quarter of the way
// through the video, far enough in to skip intros and fade-ins.
func ExtractPoster(input, output string, durationSec float64) error {
	seek := 0.0
	if durationSec > 0 {
		seek = durationSec * 0.25
	}
	ffmpegErr := bytes.Buffer{}
	err := ffmpeg.Input(input, ffmpeg.KwArgs{"ss": fmt.Sprintf("%.2f", seek)}).
		Output(output, ffmpeg.KwArgs{
			"vframes": 1,
			"q:v":     3,
		}).OverWriteOutput().WithErrorOutput(&ffmpegErr).Run()
	if err != nil {
		return fmt.Errorf("error extracting poster frame (%s) [%s]: %w", input, ffmpegErr.String(), err)
	}
	return nil
}
