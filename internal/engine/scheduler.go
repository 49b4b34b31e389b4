package engine

import (
	"time"

	"github.com/ivlev/panel2anime/internal/storyboard"
)

// State of the playback state machine
type State int

const (
	Idle State = iota
	Playing
	Paused
	Finished
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Finished:
		return "finished"
	}
	return "unknown"
}

// Frame is what the scheduler asks to be drawn on one tick.
type Frame struct {
	Index    int
	Clip     storyboard.Clip
	Progress float64
	Elapsed  time.Duration
	Final    bool
}

// Scheduler maps wall-clock time onto the timeline. It holds no goroutines
// and no locks; the owner serializes access.
type Scheduler struct {
	timeline    storyboard.Timeline
	total       time.Duration
	state       State
	start       time.Time
	pauseOffset time.Duration
}

func NewScheduler(timeline storyboard.Timeline) *Scheduler {
	s := &Scheduler{}
	s.SetTimeline(timeline)
	return s
}

// SetTimeline installs a new timeline and rewinds to Idle.
func (s *Scheduler) SetTimeline(timeline storyboard.Timeline) {
	s.timeline = timeline
	s.total = timeline.TotalDuration()
	s.Reset()
}

// Play starts from Idle or resumes from Paused so that elapsed time continues
// from the pause offset. It reports whether the state changed.
func (s *Scheduler) Play(now time.Time) bool {
	if len(s.timeline) == 0 {
		return false
	}
	if s.state != Idle && s.state != Paused {
		return false
	}
	s.start = now.Add(-s.pauseOffset)
	s.state = Playing
	return true
}

// Pause freezes elapsed time at min(now-start, total).
func (s *Scheduler) Pause(now time.Time) bool {
	if s.state != Playing {
		return false
	}
	s.pauseOffset = min(max(0, now.Sub(s.start)), s.total)
	s.state = Paused
	return true
}

func (s *Scheduler) Reset() {
	s.state = Idle
	s.start = time.Time{}
	s.pauseOffset = 0
}

// Tick advances the state machine. The second result is false when there is
// nothing to draw. Reaching the end yields exactly one final frame of the last
// clip at progress 1 and moves to Finished.
func (s *Scheduler) Tick(now time.Time) (Frame, bool) {
	if s.state != Playing {
		return Frame{}, false
	}

	elapsed := max(0, now.Sub(s.start))
	if elapsed < s.total {
		if i, progress, ok := s.timeline.Locate(elapsed); ok {
			return Frame{Index: i, Clip: s.timeline[i], Progress: progress, Elapsed: elapsed}, true
		}
	}

	s.state = Finished
	s.pauseOffset = s.total
	last := len(s.timeline) - 1
	return Frame{Index: last, Clip: s.timeline[last], Progress: 1, Elapsed: s.total, Final: true}, true
}

// Elapsed reports the timeline position at now without advancing anything.
func (s *Scheduler) Elapsed(now time.Time) time.Duration {
	switch s.state {
	case Playing:
		return min(max(0, now.Sub(s.start)), s.total)
	case Paused:
		return s.pauseOffset
	case Finished:
		return s.total
	}
	return 0
}

func (s *Scheduler) State() State {
	return s.state
}

// Total is the sum of clip durations used to decide Finished.
func (s *Scheduler) Total() time.Duration {
	return s.total
}

// Len is the number of clips on the timeline.
func (s *Scheduler) Len() int {
	return len(s.timeline)
}
