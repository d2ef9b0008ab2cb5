// Package transcode orchestrates the media tool: the one-shot AV1/WebM
// progressive encode with hardware-backend fallback, and the adaptive HLS
// and DASH ladders derived from it.
package transcode

import (
	"fmt"
	"runtime"
	"strings"
)

type EncoderBackend string

const (
	BackendVideoToolbox EncoderBackend = "videotoolbox_av1"
	BackendNvenc        EncoderBackend = "nvenc_av1"
	BackendQSV          EncoderBackend = "qsv_av1"
	BackendVAAPI        EncoderBackend = "vaapi_av1"
	BackendSoftware     EncoderBackend = "software_av1"
)

const DefaultVAAPIDevice = "/dev/dri/renderD128"

// EncodeOptions carries the per-job quality knobs. Out-of-range values are
// clamped, not rejected.
type EncodeOptions struct {
	CRF         uint
	CPUUsed     uint
	VAAPIDevice string
}

func (o EncodeOptions) sanitized() EncodeOptions {
	if o.CRF > 63 {
		o.CRF = 63
	}
	if o.CPUUsed > 8 {
		o.CPUUsed = 8
	}
	if o.VAAPIDevice == "" {
		o.VAAPIDevice = DefaultVAAPIDevice
	}
	return o
}

// ParseBackend maps the user-facing encoder aliases onto a backend.
func ParseBackend(name string) (EncoderBackend, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "videotoolbox", "vt":
		return BackendVideoToolbox, true
	case "nvenc", "cuda":
		return BackendNvenc, true
	case "qsv", "quicksync":
		return BackendQSV, true
	case "vaapi":
		return BackendVAAPI, true
	case "software", "cpu":
		return BackendSoftware, true
	default:
		return "", false
	}
}

// CandidateOrder builds the encoder fallback chain: an explicit request
// first, then the configured preference, then OS defaults, always ending on
// the software encoder. Duplicates keep their first position.
func CandidateOrder(explicit EncoderBackend, configured string) []EncoderBackend {
	return candidateOrderForOS(explicit, configured, runtime.GOOS)
}

func candidateOrderForOS(explicit EncoderBackend, configured, goos string) []EncoderBackend {
	var order []EncoderBackend
	if explicit != "" {
		order = append(order, explicit)
	} else if backend, ok := ParseBackend(configured); ok {
		order = append(order, backend)
	} else {
		switch goos {
		case "darwin":
			order = append(order, BackendVideoToolbox)
		case "windows":
			order = append(order, BackendNvenc, BackendQSV)
		case "linux":
			order = append(order, BackendVAAPI, BackendNvenc)
		}
	}
	order = append(order, BackendSoftware)

	seen := map[EncoderBackend]bool{}
	deduped := order[:0]
	for _, b := range order {
		if !seen[b] {
			seen[b] = true
			deduped = append(deduped, b)
		}
	}
	return deduped
}

// Args is the encoder-specific argv fragment injected between the input and
// the audio fragment.
func (b EncoderBackend) Args(opts EncodeOptions) []string {
	opts = opts.sanitized()
	switch b {
	case BackendVideoToolbox:
		return []string{
			"-c:v", "av1_videotoolbox",
			"-q:v", fmt.Sprint(opts.CRF),
			"-pix_fmt", "yuv420p",
		}
	case BackendNvenc:
		cq := opts.CRF
		if cq > 51 {
			cq = 51
		}
		return []string{
			"-hwaccel", "cuda",
			"-hwaccel_output_format", "cuda",
			"-c:v", "av1_nvenc",
			"-preset", "p5",
			"-cq", fmt.Sprint(cq),
			"-pix_fmt", "yuv420p",
		}
	case BackendQSV:
		return []string{
			"-hwaccel", "qsv",
			"-c:v", "av1_qsv",
			"-global_quality", fmt.Sprint(opts.CRF),
			"-pix_fmt", "yuv420p",
		}
	case BackendVAAPI:
		return []string{
			"-hwaccel", "vaapi",
			"-hwaccel_device", opts.VAAPIDevice,
			"-hwaccel_output_format", "vaapi",
			"-vf", "format=nv12,hwupload",
			"-c:v", "av1_vaapi",
			"-qp", fmt.Sprint(opts.CRF),
		}
	default:
		return []string{
			"-c:v", "libaom-av1",
			"-crf", fmt.Sprint(opts.CRF),
			"-b:v", "0",
			"-g", "120",
			"-cpu-used", fmt.Sprint(opts.CPUUsed),
			"-pix_fmt", "yuv420p",
		}
	}
}

// audioArgs is the audio fragment: opus when the source carries audio,
// stripped otherwise.
func audioArgs(hasAudio bool) []string {
	if !hasAudio {
		return []string{"-an"}
	}
	return []string{"-c:a", "libopus", "-b:a", "192k"}
}
