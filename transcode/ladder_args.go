package transcode

import (
	"fmt"
	"strings"

	"github.com/lightcast/ingest-api/video"
)

// ladderEncodeArgs builds the shared encode portion of the HLS and DASH
// invocations: one lanczos-scaled output per rung, all encoded with libaom
// at the planned rates.
func ladderEncodeArgs(input string, ladder []video.Rendition, hasAudio bool) []string {
	args := []string{"-y", "-i", input}

	filters := make([]string, len(ladder))
	for i, r := range ladder {
		filters[i] = fmt.Sprintf("[0:v]scale=-2:%d:flags=lanczos[v%d]", r.Height, i)
	}
	args = append(args, "-filter_complex", strings.Join(filters, ";"))
	for i := range ladder {
		args = append(args, "-map", fmt.Sprintf("[v%d]", i))
	}
	if hasAudio {
		args = append(args, "-map", "0:a:0")
	}

	args = append(args,
		"-c:v", "libaom-av1",
		"-pix_fmt", "yuv420p",
		"-row-mt", "1",
		"-cpu-used", "6",
		"-g", "120",
		"-keyint_min", "120",
		"-sc_threshold", "0",
	)
	for i, r := range ladder {
		args = append(args,
			fmt.Sprintf("-b:v:%d", i), fmt.Sprintf("%dk", r.BitrateKbps),
			fmt.Sprintf("-maxrate:v:%d", i), fmt.Sprintf("%dk", r.MaxrateKbps),
			fmt.Sprintf("-bufsize:v:%d", i), fmt.Sprintf("%dk", r.BufsizeKbps),
		)
	}
	if hasAudio {
		args = append(args, "-c:a", "aac", "-ac", "2", "-b:a", "192k")
	}
	return args
}

func hlsVarStreamMap(ladder []video.Rendition, hasAudio bool) string {
	entries := make([]string, len(ladder))
	for i, r := range ladder {
		if hasAudio {
			entries[i] = fmt.Sprintf("v:%d,a:0,name:%s", i, r.Name)
		} else {
			entries[i] = fmt.Sprintf("v:%d,name:%s", i, r.Name)
		}
	}
	return strings.Join(entries, " ")
}
