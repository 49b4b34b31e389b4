package engine

import (
	"bytes"
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ivlev/panel2anime/internal/config"
	"github.com/ivlev/panel2anime/internal/system"
	"github.com/ivlev/panel2anime/internal/video"
)

// Artifact is a finished export ready for download.
type Artifact struct {
	Name      string
	MIME      string
	Data      []byte
	CreatedAt time.Time
}

// Save writes the artifact into dir under its download name.
func (a *Artifact) Save(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, a.Name)
	if err := os.WriteFile(path, a.Data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// Capture records the session surface into an encoder while the timeline
// plays from the beginning. Only one recording runs at a time.
type Capture struct {
	s *Session

	mu       sync.Mutex
	rec      *recording
	last     *recording
	artifact *Artifact
}

type recording struct {
	enc       video.Encoder
	cancel    context.CancelFunc
	stop      chan struct{}
	stopOnce  sync.Once
	discarded atomic.Bool
	done      chan struct{}
	frames    int

	chunkMu sync.Mutex
	chunks  [][]byte

	err error
}

func newCapture(s *Session) *Capture {
	return &Capture{s: s}
}

func (r *recording) appendChunk(chunk []byte) {
	r.chunkMu.Lock()
	r.chunks = append(r.chunks, chunk)
	r.chunkMu.Unlock()
}

func (r *recording) requestStop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// Start rewinds the session, starts playback and begins recording. It is a
// no-op while a recording is active.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.rec != nil {
		c.mu.Unlock()
		return nil
	}

	total := c.s.Total()
	if total <= 0 {
		c.mu.Unlock()
		return ErrEmptyTimeline
	}
	if !c.s.Ready() {
		c.mu.Unlock()
		return ErrNotReady
	}

	c.artifact = nil

	// Запись не должна зависеть от контекста запроса
	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rec := &recording{
		enc:    c.s.newEncoder(),
		cancel: cancel,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if err := rec.enc.Start(rctx, rec.appendChunk); err != nil {
		cancel()
		c.mu.Unlock()
		return err
	}
	c.rec = rec
	c.last = rec
	c.mu.Unlock()

	limit := total + c.s.cfg.StopMargin
	log.Printf("[*] Запись начата: %v (лимит %v)", total, limit)

	if err := c.s.restart(); err != nil {
		rec.discarded.Store(true)
		rec.requestStop()
		go c.run(rec, c.s.cfg.FrameInterval(), limit)
		return err
	}

	go c.run(rec, c.s.cfg.FrameInterval(), limit)
	return nil
}

// run taps the surface at a fixed rate until a stop request or the fallback timer.
func (c *Capture) run(rec *recording, interval, limit time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	fallback := time.NewTimer(limit)
	defer fallback.Stop()

	tap := func() bool {
		frame := c.s.surface.Acquire()
		defer system.PutImage(frame)
		if err := rec.enc.WriteFrame(frame); err != nil {
			log.Printf("[!] Ошибка записи кадра %d: %v", rec.frames, err)
			rec.err = err
			return false
		}
		rec.frames++
		return true
	}

	ok := !rec.discarded.Load() && tap()
loop:
	for ok {
		select {
		case <-ticker.C:
			ok = tap()
		case <-rec.stop:
			break loop
		case <-fallback.C:
			log.Printf("[!] Запись остановлена по таймеру (%v)", limit)
			break loop
		}
	}

	if ok && !rec.discarded.Load() {
		tap()
	}
	if err := rec.enc.Close(); err != nil && rec.err == nil {
		rec.err = err
	}
	rec.cancel()

	c.mu.Lock()
	if c.rec == rec {
		c.rec = nil
	}
	if rec.err == nil && !rec.discarded.Load() {
		rec.chunkMu.Lock()
		data := bytes.Join(rec.chunks, nil)
		rec.chunkMu.Unlock()
		if len(data) > 0 {
			c.artifact = &Artifact{
				Name:      config.ArtifactName,
				MIME:      config.ArtifactMIME,
				Data:      data,
				CreatedAt: time.Now(),
			}
			log.Printf("[+++] Экспорт готов: %s (%d кадров, %d байт)", config.ArtifactName, rec.frames, len(data))
		}
	}
	c.mu.Unlock()

	close(rec.done)
}

// finish is the natural stop on the final frame.
func (c *Capture) finish() {
	c.mu.Lock()
	rec := c.rec
	c.mu.Unlock()
	if rec != nil {
		rec.requestStop()
	}
}

// Stop ends the active recording and keeps its artifact.
func (c *Capture) Stop() {
	c.finish()
}

// Discard ends the active recording without producing an artifact.
func (c *Capture) Discard() {
	c.mu.Lock()
	rec := c.rec
	c.mu.Unlock()
	if rec == nil {
		return
	}
	rec.discarded.Store(true)
	rec.requestStop()
	<-rec.done
}

// Release drops the current artifact.
func (c *Capture) Release() {
	c.mu.Lock()
	c.artifact = nil
	c.mu.Unlock()
}

func (c *Capture) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rec != nil
}

func (c *Capture) Artifact() *Artifact {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.artifact
}

// Done is closed when the latest recording has stopped. Without any recording
// it is already closed.
func (c *Capture) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.last.done
}

// Wait blocks until the latest recording stops and returns its artifact.
// A discarded recording yields a nil artifact and no error.
func (c *Capture) Wait(ctx context.Context) (*Artifact, error) {
	c.mu.Lock()
	rec := c.last
	c.mu.Unlock()
	if rec == nil {
		return nil, nil
	}

	select {
	case <-rec.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if rec.err != nil {
		return nil, rec.err
	}
	return c.Artifact(), nil
}
