package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	"github.com/ivlev/panel2anime/internal/config"
	"github.com/ivlev/panel2anime/internal/renderer"
	"github.com/ivlev/panel2anime/internal/source"
	"github.com/ivlev/panel2anime/internal/storyboard"
	"github.com/ivlev/panel2anime/internal/system"
	"github.com/ivlev/panel2anime/internal/video"
)

var (
	ErrNotReady      = errors.New("panels are not loaded")
	ErrEmptyTimeline = errors.New("timeline has no clips")
)

// MissingPanelError means a clip points at a panel with no decoded bitmap.
type MissingPanelError struct {
	ClipID  string
	PanelID string
}

func (e *MissingPanelError) Error() string {
	return fmt.Sprintf("clip %q: no bitmap for panel %q", e.ClipID, e.PanelID)
}

// Clock is the time source of the render loop.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type Option func(*Session)

// WithExternalHost disables the internal loop goroutine. The host must call
// Frame from its own per-frame callback.
func WithExternalHost() Option {
	return func(s *Session) { s.external = true }
}

func WithClock(c Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithEncoder replaces the ffmpeg encoder used by captures.
func WithEncoder(newEncoder func() video.Encoder) Option {
	return func(s *Session) { s.newEncoder = newEncoder }
}

// Session ties the loader cache, scheduler, compositor, surface and capture
// together for one project at a time.
type Session struct {
	cfg        *config.Config
	loader     *source.Loader
	compositor *renderer.Compositor
	surface    *system.Surface
	capture    *Capture
	clock      Clock
	external   bool
	newEncoder func() video.Encoder

	mu          sync.Mutex
	project     *storyboard.Project
	beats       storyboard.BeatIndex
	sched       *Scheduler
	last        Frame
	drawn       bool
	err         error
	gen         uint64
	loopRunning bool
}

func NewSession(cfg *config.Config, dec source.Decoder, opts ...Option) *Session {
	s := &Session{
		cfg:        cfg,
		loader:     source.NewLoader(dec, cfg.Workers),
		compositor: renderer.NewCompositor(),
		surface:    system.NewSurface(cfg.Width, cfg.Height),
		clock:      systemClock{},
		sched:      NewScheduler(nil),
		beats:      storyboard.NewBeatIndex(nil),
		project:    &storyboard.Project{},
	}
	s.newEncoder = func() video.Encoder {
		return video.NewFFmpegEncoder(cfg.FFmpegPath, cfg.Width, cfg.Height, cfg.FPS, cfg.VideoEncoder, cfg.Quality)
	}
	for _, opt := range opts {
		opt(s)
	}
	s.capture = newCapture(s)
	return s
}

// Replace installs a new project and loads its panels. An active capture is
// discarded and the previous artifact released. A load that was overtaken by a
// newer Replace returns source.ErrSuperseded.
func (s *Session) Replace(ctx context.Context, project *storyboard.Project) error {
	s.capture.Discard()
	s.capture.Release()

	timeline := project.Timeline()

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.project = project
	s.beats = storyboard.NewBeatIndex(project.Beats)
	s.sched.SetTimeline(timeline)
	s.err = nil
	s.drawn = false
	s.last = Frame{}
	s.mu.Unlock()

	s.surface.Clear()

	start := time.Now()
	if err := s.loader.Load(ctx, project.Panels, timeline); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return source.ErrSuperseded
	}
	if len(timeline) > 0 {
		log.Printf("[*] Загружено панелей: %d за %v (%s)", s.loader.Len(), time.Since(start).Round(time.Millisecond), project.Summary())
		return s.drawPoster()
	}
	return nil
}

// drawPoster renders the first clip at progress 0.
// Caller holds s.mu.
func (s *Session) drawPoster() error {
	if s.sched.Len() == 0 || !s.loader.Ready() {
		return nil
	}
	clip := s.project.Timeline()[0]
	return s.draw(Frame{Index: 0, Clip: clip})
}

// draw composites one frame into the surface. Caller holds s.mu.
func (s *Session) draw(f Frame) error {
	img, ok := s.loader.Bitmap(f.Clip.PanelID)
	if !ok {
		return &MissingPanelError{ClipID: f.Clip.ID, PanelID: f.Clip.PanelID}
	}
	st := renderer.Interpolate(f.Clip.Keyframes, f.Progress)
	beat := s.beats.Lookup(f.Clip.PanelID)
	s.surface.Draw(func(dst *image.RGBA) {
		s.compositor.Draw(dst, img, st, beat)
	})
	s.last = f
	s.drawn = true
	return nil
}

// Frame performs one step of the render loop and reports whether the loop
// should keep ticking. A missing panel bitmap pauses playback, discards an
// active capture and is returned as *MissingPanelError.
func (s *Session) Frame(now time.Time) (bool, error) {
	s.mu.Lock()
	f, ok := s.sched.Tick(now)
	if !ok {
		s.mu.Unlock()
		return false, nil
	}

	if err := s.draw(f); err != nil {
		if s.sched.State() == Playing {
			s.sched.Pause(now)
		}
		s.err = err
		s.mu.Unlock()
		s.capture.Discard()
		return false, err
	}
	more := s.sched.State() == Playing
	s.mu.Unlock()

	if f.Final {
		log.Printf("[+++] Воспроизведение завершено: %v", f.Elapsed)
		s.capture.finish()
	}
	return more, nil
}

// Play starts or resumes playback. A finished timeline starts over.
func (s *Session) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playLocked(false)
}

func (s *Session) playLocked(rewind bool) error {
	if s.sched.Len() == 0 {
		return ErrEmptyTimeline
	}
	if !s.loader.Ready() {
		return ErrNotReady
	}
	if rewind || s.sched.State() == Finished {
		s.sched.Reset()
	}
	if !s.sched.Play(s.clock.Now()) {
		return nil
	}
	s.err = nil
	s.startLoop()
	return nil
}

// restart rewinds to the beginning, plays and draws the first frame so a
// capture never taps a stale surface. Used by captures.
func (s *Session) restart() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.playLocked(true); err != nil {
		return err
	}
	if err := s.drawPoster(); err != nil {
		s.sched.Pause(s.clock.Now())
		s.err = err
		return err
	}
	return nil
}

func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sched.Pause(s.clock.Now())
}

// Toggle pauses a playing timeline and plays otherwise.
func (s *Session) Toggle() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sched.State() == Playing {
		s.sched.Pause(s.clock.Now())
		return nil
	}
	return s.playLocked(false)
}

// Reset rewinds to Idle and clears the surface. An active capture is discarded
// and the artifact released.
func (s *Session) Reset() error {
	s.capture.Discard()
	s.capture.Release()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sched.Reset()
	s.err = nil
	s.drawn = false
	s.last = Frame{}
	s.surface.Clear()
	return nil
}

// startLoop spawns the internal ticker loop unless a host drives Frame.
// Caller holds s.mu.
func (s *Session) startLoop() {
	if s.external || s.loopRunning {
		return
	}
	s.loopRunning = true
	go s.loop(s.cfg.TickInterval())
}

func (s *Session) loop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		more, err := s.Frame(s.clock.Now())
		if err != nil {
			log.Printf("[!] Ошибка кадра: %v", err)
		}
		if !more {
			s.mu.Lock()
			if s.sched.State() != Playing {
				s.loopRunning = false
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()
		}
		<-ticker.C
	}
}

// Status is a snapshot of the session for displays and the API.
type Status struct {
	State        string  `json:"state"`
	Clip         int     `json:"clip"`
	Clips        int     `json:"clips"`
	Progress     float64 `json:"progress"`
	ElapsedMs    int64   `json:"elapsed_ms"`
	TotalMs      int64   `json:"total_ms"`
	Ready        bool    `json:"ready"`
	Capturing    bool    `json:"capturing"`
	Artifact     string  `json:"artifact,omitempty"`
	ArtifactSize int     `json:"artifact_size,omitempty"`
	Summary      string  `json:"summary"`
	Narration    string  `json:"narration,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// String renders the "Clip i/n · p%" readout.
func (st Status) String() string {
	return fmt.Sprintf("Clip %d/%d · %d%%", st.Clip, st.Clips, int(st.Progress*100+0.5))
}

func (s *Session) Status() Status {
	s.mu.Lock()
	st := Status{
		State:     s.sched.State().String(),
		Clips:     s.sched.Len(),
		ElapsedMs: s.sched.Elapsed(s.clock.Now()).Milliseconds(),
		TotalMs:   s.sched.Total().Milliseconds(),
		Ready:     s.loader.Ready(),
		Summary:   s.project.Summary(),
	}
	if s.drawn {
		st.Clip = s.last.Index + 1
		st.Progress = s.last.Progress
		if beat := s.beats.Lookup(s.last.Clip.PanelID); beat != nil {
			st.Narration = beat.Narration
		}
	}
	if s.err != nil {
		st.Error = s.err.Error()
	}
	s.mu.Unlock()

	st.Capturing = s.capture.Active()
	if a := s.capture.Artifact(); a != nil {
		st.Artifact = a.Name
		st.ArtifactSize = len(a.Data)
	}
	return st
}

// Err returns the last hard error of the render loop.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sched.State()
}

// Total duration of the current timeline.
func (s *Session) Total() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sched.Total()
}

func (s *Session) Ready() bool {
	return s.loader.Ready()
}

func (s *Session) Surface() *system.Surface {
	return s.surface
}

func (s *Session) Capture() *Capture {
	return s.capture
}

func (s *Session) Config() *config.Config {
	return s.cfg
}
