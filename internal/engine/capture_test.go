package engine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ivlev/panel2anime/internal/config"
	"github.com/ivlev/panel2anime/internal/storyboard"
)

func waitArtifact(t *testing.T, c *Capture, timeout time.Duration) *Artifact {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	a, err := c.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return a
}

func TestCaptureExport(t *testing.T) {
	factory := &encoderFactory{}
	s := NewSession(testConfig(), &fakeDecoder{}, WithEncoder(factory.New))
	if err := s.Replace(context.Background(), testProject(150)); err != nil {
		t.Fatal(err)
	}

	total := s.Total()
	start := time.Now()
	if err := s.Capture().Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	a := waitArtifact(t, s.Capture(), 5*time.Second)
	took := time.Since(start)

	// scheduling slack on top of the fallback margin
	if limit := total + s.Config().StopMargin + 250*time.Millisecond; took > limit {
		t.Errorf("Export took %v, expected under %v", took, limit)
	}
	if a == nil || len(a.Data) == 0 {
		t.Fatal("Expected a non-empty artifact")
	}
	if a.Name != config.ArtifactName || a.MIME != config.ArtifactMIME {
		t.Errorf("Unexpected artifact %s (%s)", a.Name, a.MIME)
	}
	if !bytes.HasPrefix(a.Data, []byte("EBML")) {
		t.Error("Chunks must be concatenated in arrival order")
	}

	enc := factory.Last()
	if !enc.Closed() {
		t.Error("Encoder must be closed")
	}
	if enc.Frames() < 3 {
		t.Errorf("Expected the tap to write several frames, got %d", enc.Frames())
	}
	if s.State() != Finished {
		t.Errorf("Expected finished playback, got %s", s.State())
	}
	if s.Capture().Active() {
		t.Error("Capture must be inactive after stop")
	}
	if st := s.Status(); st.Artifact != config.ArtifactName || st.ArtifactSize != len(a.Data) {
		t.Errorf("Status must expose the artifact, got %+v", st)
	}
}

func TestCaptureFallbackTimer(t *testing.T) {
	cfg := testConfig()
	cfg.StopMargin = 50 * time.Millisecond
	factory := &encoderFactory{}
	// no host drives Frame, so the scheduler never reports Finished
	s := NewSession(cfg, &fakeDecoder{}, WithExternalHost(), WithEncoder(factory.New))
	if err := s.Replace(context.Background(), testProject(50)); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := s.Capture().Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	a := waitArtifact(t, s.Capture(), 5*time.Second)

	if took := time.Since(start); took < 150*time.Millisecond {
		t.Errorf("Fallback fired early: %v", took)
	}
	if a == nil || len(a.Data) == 0 {
		t.Fatal("Fallback stop must still produce an artifact")
	}
}

func TestCaptureAlreadyActive(t *testing.T) {
	factory := &encoderFactory{}
	s := NewSession(testConfig(), &fakeDecoder{}, WithExternalHost(), WithEncoder(factory.New))
	if err := s.Replace(context.Background(), testProject(500)); err != nil {
		t.Fatal(err)
	}

	c := s.Capture()
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Errorf("Second start must be a silent no-op, got %v", err)
	}
	if factory.Count() != 1 {
		t.Errorf("Expected one encoder, got %d", factory.Count())
	}
	if s.State() != Playing {
		t.Errorf("Capture must start playback, got %s", s.State())
	}

	c.Stop()
	if a := waitArtifact(t, c, 5*time.Second); a == nil {
		t.Error("Expected an artifact after stop")
	}
}

func TestCaptureRewindsPlayback(t *testing.T) {
	clock := newFakeClock()
	factory := &encoderFactory{}
	s := NewSession(testConfig(), &fakeDecoder{}, WithExternalHost(), WithClock(clock), WithEncoder(factory.New))
	if err := s.Replace(context.Background(), testProject(500)); err != nil {
		t.Fatal(err)
	}
	s.Play()
	s.Frame(clock.Advance(700 * time.Millisecond))
	s.Pause()

	if err := s.Capture().Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if st := s.Status(); st.State != "playing" || st.ElapsedMs != 0 {
		t.Errorf("Capture must restart from the beginning, got %+v", st)
	}

	s.Frame(clock.Advance(2 * time.Second))
	if a := waitArtifact(t, s.Capture(), 5*time.Second); a == nil {
		t.Error("Finishing the timeline must produce an artifact")
	}
}

func TestCaptureFirstFrameIsTimelineStart(t *testing.T) {
	clock := newFakeClock()
	factory := &encoderFactory{}
	s := NewSession(testConfig(), panelColors(), WithExternalHost(), WithClock(clock), WithEncoder(factory.New))
	if err := s.Replace(context.Background(), testProject(500)); err != nil {
		t.Fatal(err)
	}
	s.Play()
	s.Frame(clock.Advance(700 * time.Millisecond))
	s.Pause()

	frame := s.Surface().Acquire()
	if c := frame.RGBAAt(640, 360); c != green {
		t.Fatalf("Expected the second clip on the surface, got %v", c)
	}

	if err := s.Capture().Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.Capture().Stop()
	if a := waitArtifact(t, s.Capture(), 5*time.Second); a == nil {
		t.Fatal("Expected an artifact")
	}

	if c := factory.Last().First(); c != red {
		t.Errorf("First captured frame must show the first clip, got %v", c)
	}
	if st := s.Status(); st.Clip != 1 {
		t.Errorf("Expected the rewound clip in status, got %+v", st)
	}
}

func TestCaptureReplaceDiscards(t *testing.T) {
	factory := &encoderFactory{}
	s := NewSession(testConfig(), &fakeDecoder{}, WithExternalHost(), WithEncoder(factory.New))
	if err := s.Replace(context.Background(), testProject(500)); err != nil {
		t.Fatal(err)
	}
	if err := s.Capture().Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := s.Replace(context.Background(), testProject(300)); err != nil {
		t.Fatal(err)
	}
	if s.Capture().Active() {
		t.Error("Replace must stop the active capture")
	}
	if !factory.Last().Closed() {
		t.Error("Discarded encoder must be closed")
	}
	if a := waitArtifact(t, s.Capture(), time.Second); a != nil {
		t.Error("Discarded capture must not produce an artifact")
	}
}

func TestCaptureResetReleasesArtifact(t *testing.T) {
	factory := &encoderFactory{}
	s := NewSession(testConfig(), &fakeDecoder{}, WithExternalHost(), WithEncoder(factory.New))
	if err := s.Replace(context.Background(), testProject(500)); err != nil {
		t.Fatal(err)
	}
	s.Capture().Start(context.Background())
	s.Capture().Stop()
	if waitArtifact(t, s.Capture(), 5*time.Second) == nil {
		t.Fatal("Expected an artifact")
	}

	s.Reset()
	if s.Capture().Artifact() != nil {
		t.Error("Reset must release the artifact")
	}
}

func TestCaptureNotReady(t *testing.T) {
	s := NewSession(testConfig(), &fakeDecoder{}, WithExternalHost())

	if err := s.Capture().Start(context.Background()); !errors.Is(err, ErrEmptyTimeline) {
		t.Errorf("Expected ErrEmptyTimeline, got %v", err)
	}

	s.Replace(context.Background(), &storyboard.Project{})
	if err := s.Capture().Start(context.Background()); !errors.Is(err, ErrEmptyTimeline) {
		t.Errorf("Expected ErrEmptyTimeline for an empty project, got %v", err)
	}
	select {
	case <-s.Capture().Done():
	default:
		t.Error("Done must be closed without any recording")
	}
}

func TestArtifactSave(t *testing.T) {
	dir := t.TempDir()
	a := &Artifact{Name: config.ArtifactName, MIME: config.ArtifactMIME, Data: []byte("webm")}

	path, err := a.Save(dir + "/out")
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "webm" {
		t.Errorf("Expected saved artifact, got %q (%v)", data, err)
	}
	if filepath.Base(path) != config.ArtifactName {
		t.Errorf("Unexpected file name %s", path)
	}
}
