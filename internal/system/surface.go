package system

import (
	"image"
	"sync"
)

// Surface is the fixed-size drawing target shared by the render loop (writer)
// and the capture tap and previews (readers).
type Surface struct {
	mu      sync.RWMutex
	img     *image.RGBA
	version uint64
}

func NewSurface(width, height int) *Surface {
	return &Surface{img: image.NewRGBA(image.Rect(0, 0, width, height))}
}

// Bounds of the surface
func (s *Surface) Bounds() image.Rectangle {
	return s.img.Rect
}

// Draw runs fn with exclusive access to the surface pixels.
func (s *Surface) Draw(fn func(dst *image.RGBA)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.img)
	s.version++
}

// Clear resets every pixel to transparent black.
func (s *Surface) Clear() {
	s.Draw(func(dst *image.RGBA) {
		clear(dst.Pix)
	})
}

// Snapshot copies the surface into dst, which must have the same bounds,
// and returns the version of the copied frame.
func (s *Surface) Snapshot(dst *image.RGBA) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copy(dst.Pix, s.img.Pix)
	return s.version
}

// Acquire returns a pooled copy of the current frame. Release it with PutImage.
func (s *Surface) Acquire() *image.RGBA {
	frame := GetImage(s.img.Rect)
	s.Snapshot(frame)
	return frame
}

// Version increases with every draw.
func (s *Surface) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}
