package system

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestImagePool(t *testing.T) {
	pool := NewImagePool()
	rect := image.Rect(0, 0, 16, 9)

	img := pool.Get(rect)
	if img.Rect != rect {
		t.Fatalf("Expected %v, got %v", rect, img.Rect)
	}
	pool.Put(img)
	pool.Put(nil)

	other := pool.Get(image.Rect(0, 0, 4, 4))
	if other.Rect.Dx() != 4 {
		t.Errorf("Expected a 4x4 image, got %v", other.Rect)
	}
}

func TestSurfaceSnapshot(t *testing.T) {
	s := NewSurface(8, 4)
	if s.Version() != 0 {
		t.Errorf("Expected version 0, got %d", s.Version())
	}

	s.Draw(func(dst *image.RGBA) {
		dst.SetRGBA(1, 1, color.RGBA{9, 8, 7, 255})
	})

	frame := s.Acquire()
	defer PutImage(frame)
	if frame.RGBAAt(1, 1) != (color.RGBA{9, 8, 7, 255}) {
		t.Errorf("Snapshot lost pixel: %v", frame.RGBAAt(1, 1))
	}
	if s.Version() != 1 {
		t.Errorf("Expected version 1, got %d", s.Version())
	}

	s.Clear()
	dst := image.NewRGBA(s.Bounds())
	if v := s.Snapshot(dst); v != 2 {
		t.Errorf("Expected version 2, got %d", v)
	}
	if dst.RGBAAt(1, 1) != (color.RGBA{}) {
		t.Errorf("Expected cleared pixel, got %v", dst.RGBAAt(1, 1))
	}
}

func TestSurfaceConcurrentAccess(t *testing.T) {
	s := NewSurface(32, 32)
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.Draw(func(dst *image.RGBA) { dst.Pix[0]++ })
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				PutImage(s.Acquire())
			}
		}()
	}
	wg.Wait()

	if s.Version() != 200 {
		t.Errorf("Expected 200 draws, got %d", s.Version())
	}
}

func TestResourceUsageString(t *testing.T) {
	u := ResourceUsage{ProcessRSS: 10 << 20, ProcessCPU: 12.5, HostUsedPct: 40, HostAvailable: 512 << 20}
	s := u.String()
	if !strings.Contains(s, "10.0 MiB") || !strings.Contains(s, "512.0 MiB") {
		t.Errorf("Unexpected report %q", s)
	}
}

func TestReadResourceUsage(t *testing.T) {
	u, err := ReadResourceUsage()
	if err != nil {
		t.Skipf("resource stats unavailable: %v", err)
	}
	if u.ProcessRSS == 0 {
		t.Error("Expected non-zero RSS")
	}
}

func TestInitResourceLimitsKeepsHigherLimit(t *testing.T) {
	current := InitResourceLimits(1)
	if current == 0 {
		t.Skip("rlimit unavailable")
	}
	if again := InitResourceLimits(1); again != current {
		t.Errorf("A lower request must keep the limit %d, got %d", current, again)
	}
}

func fakeDurationTool(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts unavailable")
	}
	path := filepath.Join(t.TempDir(), "ffprobe")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestGetMediaDuration(t *testing.T) {
	d, err := GetMediaDuration(fakeDurationTool(t, "echo 2.500000"), "render.webm")
	if err != nil {
		t.Fatalf("GetMediaDuration failed: %v", err)
	}
	if d != 2500*time.Millisecond {
		t.Errorf("Expected 2.5s, got %v", d)
	}
}

func TestGetMediaDurationErrors(t *testing.T) {
	_, err := GetMediaDuration(fakeDurationTool(t, "echo 'Invalid data found' >&2; exit 1"), "broken.webm")
	if err == nil || !strings.Contains(err.Error(), "Invalid data found") {
		t.Errorf("Expected ffprobe stderr in error, got %v", err)
	}

	if _, err := GetMediaDuration(fakeDurationTool(t, "echo N/A"), "live.webm"); err == nil {
		t.Error("Expected error for a missing duration")
	}
}
