package effects

import (
	"math/rand"
	"slices"
	"strings"

	"github.com/ivlev/panel2anime/internal/storyboard"
)

// Modes lists the supported push-in anchors.
var Modes = []string{"center", "top-left", "top-right", "bottom-left", "bottom-right"}

const (
	fadeInOffset = 0.12
	maxPeak      = 1.5
)

// ValidMode reports whether mode is one of Modes or "random".
func ValidMode(mode string) bool {
	mode = strings.ToLower(mode)
	return mode == "random" || slices.Contains(Modes, mode)
}

// KenBurns builds a fade-in followed by a slow push-in toward the mode's anchor.
// Emphasis (0..1) controls how far the panel is pushed. "random" picks an anchor
// deterministically from the clip index.
func KenBurns(mode string, emphasis float64, clipIndex int) []storyboard.Keyframe {
	mode = strings.ToLower(mode)
	if mode == "random" {
		r := rand.New(rand.NewSource(int64(clipIndex*99 + 1)))
		mode = Modes[r.Intn(len(Modes))]
	}

	if emphasis < 0 {
		emphasis = 0
	}
	if emphasis > 1 {
		emphasis = 1
	}

	peak := 1.05 + 0.2*emphasis
	if peak > maxPeak {
		peak = maxPeak
	}

	// Keeping an edge in place while scaling around the center needs a shift
	// of half the growth, expressed in percent of the 92% fit box.
	drift := (peak - 1) * 46

	var dx, dy float64
	switch mode {
	case "top-left":
		dx, dy = drift, drift
	case "top-right":
		dx, dy = -drift, drift
	case "bottom-left":
		dx, dy = drift, -drift
	case "bottom-right":
		dx, dy = -drift, -drift
	default: // center
	}

	early := 1 + (peak-1)*fadeInOffset
	return []storyboard.Keyframe{
		{Offset: 0, Transform: storyboard.Identity, Opacity: 0},
		{Offset: fadeInOffset, Transform: storyboard.Transform{TranslateX: dx * fadeInOffset, TranslateY: dy * fadeInOffset, Scale: early}, Opacity: 1},
		{Offset: 1, Transform: storyboard.Transform{TranslateX: dx, TranslateY: dy, Scale: peak}, Opacity: 1},
	}
}

// FillMissing gives every clip without keyframes a KenBurns preset and
// returns how many clips were filled.
func FillMissing(project *storyboard.Project, mode string) int {
	filled := 0
	for i := range project.Clips {
		clip := &project.Clips[i]
		if len(clip.Keyframes) > 0 {
			continue
		}
		emphasis := 0.5
		if panel, ok := project.Panel(clip.PanelID); ok {
			emphasis = panel.Emphasis
		}
		clip.Keyframes = KenBurns(mode, emphasis, i)
		filled++
	}
	return filled
}
