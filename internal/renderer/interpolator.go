package renderer

import (
	"math"

	"github.com/ivlev/panel2anime/internal/storyboard"
)

// spanEpsilon guards zero-width and duplicate-offset keyframe spans
const spanEpsilon = 1e-6

// State is the interpolated placement of a panel at one instant
type State struct {
	TranslateX float64 // percent of surface width
	TranslateY float64 // percent of surface height
	Scale      float64
	Opacity    float64
}

// Interpolate resolves the panel state at a clip-local progress in [0,1].
// Keyframes are expected sorted by offset; when no bracketing pair exists the
// nearest edge keyframe is used as is.
func Interpolate(keyframes []storyboard.Keyframe, progress float64) State {
	if len(keyframes) == 0 {
		return State{Scale: 1, Opacity: 1}
	}

	if math.IsNaN(progress) {
		progress = 0
	}
	progress = clamp(progress, 0, 1)

	current, next, localT := bracket(keyframes, progress)

	return State{
		TranslateX: lerp(current.Transform.TranslateX, next.Transform.TranslateX, localT),
		TranslateY: lerp(current.Transform.TranslateY, next.Transform.TranslateY, localT),
		Scale:      max(0, lerp(current.Transform.Scale, next.Transform.Scale, localT)),
		Opacity:    clamp(lerp(current.Opacity, next.Opacity, localT), 0, 1),
	}
}

// bracket finds the pair with current.Offset <= progress <= next.Offset.
func bracket(keyframes []storyboard.Keyframe, progress float64) (storyboard.Keyframe, storyboard.Keyframe, float64) {
	for i := 0; i < len(keyframes)-1; i++ {
		current, next := keyframes[i], keyframes[i+1]
		if progress >= current.Offset && progress <= next.Offset {
			span := max(spanEpsilon, next.Offset-current.Offset)
			return current, next, (progress - current.Offset) / span
		}
	}

	edge := keyframes[len(keyframes)-1]
	if progress < keyframes[0].Offset {
		edge = keyframes[0]
	}
	return edge, edge, 1
}

// lerp performs linear interpolation between a and b
func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
