package storyboard

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testTimeline() Timeline {
	return Timeline{
		{ID: "c1", PanelID: "p1", DurationMs: 1000},
		{ID: "c2", PanelID: "p2", DurationMs: 2000},
		{ID: "c3", PanelID: "p1", DurationMs: 500},
	}
}

func TestTotalDuration(t *testing.T) {
	if got := testTimeline().TotalDuration(); got != 3500*time.Millisecond {
		t.Errorf("Expected 3.5s, got %s", got)
	}
	if got := Timeline(nil).TotalDuration(); got != 0 {
		t.Errorf("Expected 0 for empty timeline, got %s", got)
	}
}

func TestLocate(t *testing.T) {
	tl := testTimeline()

	tests := []struct {
		elapsed  time.Duration
		index    int
		progress float64
	}{
		{0, 0, 0},
		{500 * time.Millisecond, 0, 0.5},
		{1000 * time.Millisecond, 0, 1}, // shared boundary belongs to the earlier clip
		{1500 * time.Millisecond, 1, 0.25},
		{3000 * time.Millisecond, 1, 1},
		{3250 * time.Millisecond, 2, 0.5},
		{3500 * time.Millisecond, 2, 1},
	}

	for _, tt := range tests {
		t.Run(tt.elapsed.String(), func(t *testing.T) {
			idx, p, ok := tl.Locate(tt.elapsed)
			if !ok {
				t.Fatal("Expected a clip")
			}
			if idx != tt.index {
				t.Errorf("Expected clip %d, got %d", tt.index, idx)
			}
			if math.Abs(p-tt.progress) > 1e-9 {
				t.Errorf("Expected progress %.3f, got %.3f", tt.progress, p)
			}
		})
	}

	if _, _, ok := tl.Locate(4 * time.Second); ok {
		t.Error("Expected no clip past the end")
	}
	if _, _, ok := Timeline(nil).Locate(0); ok {
		t.Error("Expected no clip for empty timeline")
	}
}

func TestTimelineStart(t *testing.T) {
	tl := testTimeline()
	if tl.Start(0) != 0 || tl.Start(2) != 3*time.Second {
		t.Errorf("Unexpected clip starts: %s, %s", tl.Start(0), tl.Start(2))
	}
}

func TestBeatIndex(t *testing.T) {
	idx := NewBeatIndex([]Beat{
		{PanelID: "p1", Narration: "first", Tone: ToneCalm},
		{PanelID: "p1", Narration: "second", Tone: ToneTense},
	})

	b := idx.Lookup("p1")
	if b == nil || b.Narration != "second" {
		t.Fatalf("Expected the later beat, got %+v", b)
	}
	if b.Label() != "Tone: tense" {
		t.Errorf("Unexpected label %q", b.Label())
	}
	if idx.Lookup("missing") != nil {
		t.Error("Expected nil for a panel without beat")
	}
	if (Beat{}).Label() != "Tone: neutral" {
		t.Errorf("Unexpected default label %q", (Beat{}).Label())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		project Project
		wantErr bool
	}{
		{"ok", Project{Panels: []Panel{{ID: "p1"}}, Clips: []Clip{{ID: "c", PanelID: "p1", DurationMs: 10}}}, false},
		{"empty", Project{}, false},
		{"zero duration", Project{Clips: []Clip{{ID: "c", PanelID: "p1"}}}, true},
		{"no panel id", Project{Clips: []Clip{{ID: "c", DurationMs: 10}}}, true},
		{"duplicate panel", Project{Panels: []Panel{{ID: "p1"}, {ID: "p1"}}}, true},
		{"unnamed panel", Project{Panels: []Panel{{}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.project.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	p := Project{Clips: []Clip{{Keyframes: []Keyframe{{Offset: 1}, {Offset: 0}, {Offset: 0.5}}}}}
	p.Normalize()

	kfs := p.Clips[0].Keyframes
	if kfs[0].Offset != 0 || kfs[1].Offset != 0.5 || kfs[2].Offset != 1 {
		t.Errorf("Keyframes not sorted: %+v", kfs)
	}
}

func TestSummary(t *testing.T) {
	p := Project{Clips: testTimeline()}
	if got := p.Summary(); got != "3 motion clips · 3.5s runtime" {
		t.Errorf("Unexpected summary %q", got)
	}
	if got := (&Project{}).Summary(); got != "Awaiting generation" {
		t.Errorf("Unexpected empty summary %q", got)
	}
}

func TestParseTransform(t *testing.T) {
	tests := []struct {
		in      string
		want    Transform
		wantErr bool
	}{
		{"translate3d(-5%, -5%, 0) scale(1.1)", Transform{-5, -5, 1.1}, false},
		{"translate3d(0%,0%,0px) scale(1)", Transform{0, 0, 1}, false},
		{"scale(1.2)", Transform{0, 0, 1.2}, false},
		{"translateX(3%) translateY(-2%)", Transform{3, -2, 1}, false},
		{"", Identity, false},
		{"rotate(10deg)", Transform{}, true},
		{"scale(1, 2)", Transform{}, true},
		{"translate3d(a, b, c)", Transform{}, true},
		{"scale 1.1", Transform{}, true},
		{"translate(10px, 0px) scale(1)", Transform{}, true},
		{"translateX(2vw)", Transform{}, true},
		{"scale(110%)", Transform{}, true},
		{"translate(4, -3%)", Transform{4, -3, 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTransform(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

const sampleProject = `
version: "1.0"
panels:
  - id: p1
    image: page1.png
    width: 800
    height: 600
    emphasis: 0.7
clips:
  - id: c1
    panel_id: p1
    duration_ms: 2400
    keyframes:
      - offset: 1
        transform: "translate3d(-5%, -5%, 0) scale(1.1)"
        opacity: 1
      - offset: 0
        translate_x: 0
        translate_y: 0
beats:
  - panel_id: p1
    narration: The rain starts.
    tone: melancholic
`

func TestDecodeProject(t *testing.T) {
	p, err := DecodeProject([]byte(sampleProject))
	if err != nil {
		t.Fatalf("DecodeProject failed: %v", err)
	}

	if len(p.Clips) != 1 || len(p.Clips[0].Keyframes) != 2 {
		t.Fatalf("Unexpected clips: %+v", p.Clips)
	}

	first, last := p.Clips[0].Keyframes[0], p.Clips[0].Keyframes[1]
	if first.Offset != 0 || first.Transform != Identity || first.Opacity != 1 {
		t.Errorf("Unexpected first keyframe %+v", first)
	}
	if last.Transform != (Transform{-5, -5, 1.1}) {
		t.Errorf("Unexpected last keyframe %+v", last)
	}
	if p.Clips[0].Duration() != 2400*time.Millisecond {
		t.Errorf("Unexpected duration %s", p.Clips[0].Duration())
	}
	if p.Beats[0].Tone != ToneMelancholic {
		t.Errorf("Unexpected tone %q", p.Beats[0].Tone)
	}
}

func TestDecodeProjectRejectsRotation(t *testing.T) {
	doc := strings.Replace(sampleProject, "scale(1.1)", "rotate(5deg)", 1)
	if _, err := DecodeProject([]byte(doc)); err == nil {
		t.Error("Expected error for unsupported transform")
	}
}

func TestProjectWriteRead(t *testing.T) {
	p, err := DecodeProject([]byte(sampleProject))
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "project.yaml")
	if err := WriteProject(p, path); err != nil {
		t.Fatalf("WriteProject failed: %v", err)
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 1 {
		t.Errorf("Expected only the project file, got %d entries", len(entries))
	}

	read, err := ReadProject(path)
	if err != nil {
		t.Fatalf("ReadProject failed: %v", err)
	}
	if read.Clips[0].Keyframes[1] != p.Clips[0].Keyframes[1] {
		t.Errorf("Keyframe mismatch: %+v vs %+v", read.Clips[0].Keyframes[1], p.Clips[0].Keyframes[1])
	}
	if read.Panels[0] != p.Panels[0] {
		t.Errorf("Panel mismatch: %+v vs %+v", read.Panels[0], p.Panels[0])
	}
}

func TestFindLatestProject(t *testing.T) {
	dir := t.TempDir()
	files := []string{"a.yaml", "b.yml", "c.yaml"}
	for i, name := range files {
		path := filepath.Join(dir, name)
		os.WriteFile(path, []byte("version: \"1.0\"\n"), 0644)
		modTime := time.Now().Add(time.Duration(i) * time.Hour)
		os.Chtimes(path, modTime, modTime)
	}
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644)

	latest, err := FindLatestProject(dir)
	if err != nil {
		t.Fatalf("FindLatestProject failed: %v", err)
	}
	if filepath.Base(latest) != "c.yaml" {
		t.Errorf("Expected c.yaml, got %s", latest)
	}

	if _, err := FindLatestProject(t.TempDir()); err == nil {
		t.Error("Expected error for empty directory")
	}
}

func TestFindLatestProjectSkipsBrokenEntries(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	if err := os.WriteFile(good, []byte("version: \"1.0\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Hour)
	os.Chtimes(good, old, old)

	if err := os.Symlink(filepath.Join(dir, "deleted.yaml"), filepath.Join(dir, "gone.yaml")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	os.Mkdir(filepath.Join(dir, "drafts.yaml"), 0755)

	latest, err := FindLatestProject(dir)
	if err != nil {
		t.Fatalf("FindLatestProject failed: %v", err)
	}
	if latest != good {
		t.Errorf("Expected %s, got %s", good, latest)
	}
}
