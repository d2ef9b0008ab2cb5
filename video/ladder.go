package video

import (
	"fmt"
	"math"
	"sort"
)

// Rendition is a single rung of the adaptive ladder, derived at segmentation
// time from the probed source geometry.
type Rendition struct {
	Name        string
	Width       int
	Height      int
	BitrateKbps int
	MaxrateKbps int
	BufsizeKbps int
}

const MaxLadderRungs = 5

const (
	// 1080p at 4500 kbps is the reference point for bitrate scaling
	referenceBitrateKbps = 4500
	referencePixels      = 1920 * 1080
	minBitrateKbps       = 320
	maxBitrateKbps       = 22000
)

// Candidate heights per aspect-ratio class, highest first.
var (
	ultrawideHeights = []int{4320, 3200, 2560, 2160, 2000, 1600, 1440, 1080, 864, 720, 540, 432, 360}
	wideHeights      = []int{4320, 2880, 2160, 1800, 1440, 1200, 1080, 900, 720, 540, 480, 360, 240}
	standardHeights  = []int{2880, 2160, 1600, 1440, 1280, 1080, 960, 720, 540, 480, 360, 240}
	tallHeights      = []int{2160, 1920, 1600, 1440, 1200, 1080, 900, 720, 540, 480, 360, 240}
)

func baseHeights(aspect float64) []int {
	switch {
	case aspect >= 2.1:
		return ultrawideHeights
	case aspect >= 1.55:
		return wideHeights
	case aspect >= 1.3:
		return standardHeights
	default:
		return tallHeights
	}
}

// SelectLadder plans the rendition ladder for a source of the given
// dimensions. Every rung has even dimensions no larger than the source, rungs
// are strictly decreasing in height, and at most MaxLadderRungs are emitted.
func SelectLadder(width, height int) []Rendition {
	aspect := float64(width) / float64(height)

	candidates := append([]int{height}, baseHeights(aspect)...)
	sort.Sort(sort.Reverse(sort.IntSlice(candidates)))

	type dims struct{ w, h int }
	seen := map[dims]bool{}
	var ladder []Rendition
	for _, candidate := range candidates {
		if candidate > height {
			continue
		}
		h := evenFloor(candidate)
		w := int(math.Round(aspect * float64(h)))
		if w > width {
			w = width
		}
		w = evenFloor(w)
		if w < 2 || h < 2 || seen[dims{w, h}] {
			continue
		}
		seen[dims{w, h}] = true
		ladder = append(ladder, makeRendition(w, h))
		if len(ladder) == MaxLadderRungs {
			break
		}
	}

	// degenerate sources still get a single rung
	if len(ladder) == 0 {
		w, h := evenFloor(width), evenFloor(height)
		if w < 2 {
			w = 2
		}
		if h < 2 {
			h = 2
		}
		ladder = append(ladder, makeRendition(w, h))
	}
	return ladder
}

func makeRendition(w, h int) Rendition {
	bitrate := estimateBitrateKbps(w, h)
	return Rendition{
		Name:        fmt.Sprintf("%dp", h),
		Width:       w,
		Height:      h,
		BitrateKbps: bitrate,
		MaxrateKbps: int(math.Ceil(float64(bitrate) * 1.3)),
		BufsizeKbps: int(math.Ceil(float64(bitrate) * 2.5)),
	}
}

func estimateBitrateKbps(w, h int) int {
	bitrate := referenceBitrateKbps * float64(w*h) / float64(referencePixels)
	if bitrate < minBitrateKbps {
		bitrate = minBitrateKbps
	}
	if bitrate > maxBitrateKbps {
		bitrate = maxBitrateKbps
	}
	return int(math.Round(bitrate))
}

func evenFloor(v int) int {
	return v &^ 1
}
