package storyboard

import (
	"fmt"
	"sort"
	"time"
)

// Project is one immutable playback/export input: panels from the segmenter,
// clips and beats from the pacing step, keyed by panel id.
type Project struct {
	Version string  `yaml:"version"`
	Panels  []Panel `yaml:"panels"`
	Clips   []Clip  `yaml:"clips"`
	Beats   []Beat  `yaml:"beats,omitempty"`
}

// Panel is a single extracted image region
type Panel struct {
	ID       string  `yaml:"id"`
	Image    string  `yaml:"image"` // file path, "doc.pdf#3" or data URL
	Width    int     `yaml:"width"`
	Height   int     `yaml:"height"`
	Emphasis float64 `yaml:"emphasis"` // 0.0-1.0
}

// Transform is the structured per-keyframe placement.
// Translation is a percentage of the surface size.
type Transform struct {
	TranslateX float64 `yaml:"translate_x"`
	TranslateY float64 `yaml:"translate_y"`
	Scale      float64 `yaml:"scale"`
}

// Identity is the untransformed placement.
var Identity = Transform{Scale: 1}

// Keyframe is a snapshot of transform and opacity at a clip-relative offset
type Keyframe struct {
	Offset    float64   `yaml:"offset"` // 0.0-1.0
	Transform Transform `yaml:",inline"`
	Opacity   float64   `yaml:"opacity"`
}

// Clip animates exactly one panel
type Clip struct {
	ID         string     `yaml:"id"`
	PanelID    string     `yaml:"panel_id"`
	DurationMs int64      `yaml:"duration_ms"`
	Keyframes  []Keyframe `yaml:"keyframes"`
}

// Duration returns the clip length.
func (c Clip) Duration() time.Duration {
	return time.Duration(c.DurationMs) * time.Millisecond
}

type Tone string

const (
	ToneCalm        Tone = "calm"
	ToneTense       Tone = "tense"
	ToneDramatic    Tone = "dramatic"
	ToneMelancholic Tone = "melancholic"
	ToneHopeful     Tone = "hopeful"
	ToneComedic     Tone = "comedic"
	ToneNeutral     Tone = "neutral"
)

// Beat is narration attached to a panel
type Beat struct {
	PanelID   string `yaml:"panel_id"`
	Narration string `yaml:"narration"`
	Tone      Tone   `yaml:"tone"`
}

// Label is the secondary overlay line.
func (b Beat) Label() string {
	tone := b.Tone
	if tone == "" {
		tone = ToneNeutral
	}
	return fmt.Sprintf("Tone: %s", tone)
}

// BeatIndex looks beats up by panel id.
type BeatIndex map[string]Beat

// NewBeatIndex indexes beats; a later beat for the same panel replaces an earlier one.
func NewBeatIndex(beats []Beat) BeatIndex {
	idx := make(BeatIndex, len(beats))
	for _, b := range beats {
		idx[b.PanelID] = b
	}
	return idx
}

// Lookup returns the beat for a panel, or nil.
func (idx BeatIndex) Lookup(panelID string) *Beat {
	b, ok := idx[panelID]
	if !ok {
		return nil
	}
	return &b
}

// Timeline returns the ordered clip list.
func (p *Project) Timeline() Timeline {
	return Timeline(p.Clips)
}

// Panel finds a panel by id.
func (p *Project) Panel(id string) (Panel, bool) {
	for _, panel := range p.Panels {
		if panel.ID == id {
			return panel, true
		}
	}
	return Panel{}, false
}

// Normalize sorts every clip's keyframes by offset. Equal offsets keep their order.
func (p *Project) Normalize() {
	for i := range p.Clips {
		kfs := p.Clips[i].Keyframes
		sort.SliceStable(kfs, func(a, b int) bool {
			return kfs[a].Offset < kfs[b].Offset
		})
	}
}

// Validate checks the parts of the data model that do not depend on decoded assets.
func (p *Project) Validate() error {
	seen := make(map[string]bool, len(p.Panels))
	for i, panel := range p.Panels {
		if panel.ID == "" {
			return fmt.Errorf("panel %d: empty id", i)
		}
		if seen[panel.ID] {
			return fmt.Errorf("panel %q: duplicate id", panel.ID)
		}
		seen[panel.ID] = true
	}
	for i, clip := range p.Clips {
		if clip.PanelID == "" {
			return fmt.Errorf("clip %d (%s): empty panel id", i, clip.ID)
		}
		if clip.DurationMs <= 0 {
			return fmt.Errorf("clip %d (%s): duration must be positive, got %dms", i, clip.ID, clip.DurationMs)
		}
	}
	return nil
}

// Summary is the short runtime readout, e.g. "4 motion clips · 12.5s runtime".
func (p *Project) Summary() string {
	if len(p.Clips) == 0 {
		return "Awaiting generation"
	}
	return fmt.Sprintf("%d motion clips · %.1fs runtime", len(p.Clips), p.Timeline().TotalDuration().Seconds())
}
