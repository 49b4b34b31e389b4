package source

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ivlev/panel2anime/internal/storyboard"
)

// ErrSuperseded is returned by a batch whose results were discarded because a
// newer batch started while it was in flight.
var ErrSuperseded = errors.New("load batch superseded")

// LoadError reports the panel that failed to decode. The whole batch fails with it.
type LoadError struct {
	PanelID string
	Ref     string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load panel %s (%s): %v", e.PanelID, e.Ref, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Loader resolves every panel referenced by the clip list into bitmaps.
// The cache is all-or-nothing: it is populated only when every referenced
// panel decoded, and only by the most recent batch.
type Loader struct {
	decoder Decoder
	workers int

	mu         sync.RWMutex
	generation uint64
	cancel     context.CancelFunc
	cache      map[string]image.Image
	ready      bool
}

// NewLoader creates a loader. workers <= 0 issues every decode at once.
func NewLoader(dec Decoder, workers int) *Loader {
	return &Loader{
		decoder: dec,
		workers: workers,
		cache:   make(map[string]image.Image),
	}
}

// Load runs a new batch. Any batch still in flight is cancelled and its
// results will never reach the cache.
func (l *Loader) Load(ctx context.Context, panels []storyboard.Panel, clips []storyboard.Clip) error {
	gen, ctx := l.begin(ctx)
	if len(clips) == 0 {
		l.finish(gen)
		return nil
	}

	byID := make(map[string]storyboard.Panel, len(panels))
	for _, p := range panels {
		byID[p.ID] = p
	}

	var ids []string
	seen := make(map[string]bool)
	for _, c := range clips {
		if !seen[c.PanelID] {
			seen[c.PanelID] = true
			ids = append(ids, c.PanelID)
		}
	}

	results := make([]image.Image, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	if l.workers > 0 {
		g.SetLimit(l.workers)
	}
	for i, id := range ids {
		g.Go(func() error {
			panel, ok := byID[id]
			if !ok {
				return &LoadError{PanelID: id, Err: errors.New("panel not found")}
			}
			img, err := l.decoder.Decode(gctx, panel.Image)
			if err != nil {
				return &LoadError{PanelID: id, Ref: panel.Image, Err: err}
			}
			results[i] = img
			return nil
		})
	}
	err := g.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.generation {
		return ErrSuperseded
	}
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	if err != nil {
		var le *LoadError
		if !errors.As(err, &le) {
			err = &LoadError{PanelID: "", Err: err}
		}
		return err
	}
	for i, id := range ids {
		l.cache[id] = results[i]
	}
	l.ready = true
	return nil
}

func (l *Loader) begin(ctx context.Context) (uint64, context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.invalidate()
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	return l.generation, ctx
}

func (l *Loader) finish(gen uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gen == l.generation && l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}

// invalidate must be called with mu held.
func (l *Loader) invalidate() {
	l.generation++
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.cache = make(map[string]image.Image)
	l.ready = false
}

// Clear drops the cache and invalidates any batch in flight.
func (l *Loader) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.invalidate()
}

// Ready reports whether every referenced panel of the current batch decoded.
func (l *Loader) Ready() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ready
}

// Bitmap returns the decoded image for a panel id.
func (l *Loader) Bitmap(panelID string) (image.Image, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	img, ok := l.cache[panelID]
	return img, ok
}

// Len is the number of cached bitmaps.
func (l *Loader) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.cache)
}
