package storyboard

import "time"

// Timeline is the ordered concatenation of clips.
type Timeline []Clip

// TotalDuration is the sum of clip durations. It is derived on every call.
func (t Timeline) TotalDuration() time.Duration {
	var total time.Duration
	for _, c := range t {
		total += c.Duration()
	}
	return total
}

// Start returns the offset at which clip i begins.
func (t Timeline) Start(i int) time.Duration {
	var start time.Duration
	for j := 0; j < i && j < len(t); j++ {
		start += t[j].Duration()
	}
	return start
}

// Locate maps elapsed time to the first clip whose [start, start+duration]
// interval contains it and the clip-local progress clamped to [0,1].
func (t Timeline) Locate(elapsed time.Duration) (int, float64, bool) {
	var clipStart time.Duration
	for i, c := range t {
		d := c.Duration()
		clipEnd := clipStart + d
		if elapsed >= clipStart && elapsed <= clipEnd {
			if d <= 0 {
				return i, 1, true
			}
			return i, clamp01(float64(elapsed-clipStart) / float64(d)), true
		}
		clipStart = clipEnd
	}
	return -1, 0, false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
