package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"
	"os/exec"
	"sync"
)

const chunkSize = 32 * 1024

// Encoder turns a stream of equally sized frames into encoded container chunks.
// The sink is called from a single goroutine, in output order.
type Encoder interface {
	Start(ctx context.Context, sink func(chunk []byte)) error
	WriteFrame(img *image.RGBA) error
	Close() error
}

// FFmpegEncoder pipes raw RGBA frames into an ffmpeg subprocess and streams
// the WebM output back in chunks.
type FFmpegEncoder struct {
	Path    string
	Width   int
	Height  int
	FPS     int
	Codec   string
	Quality int

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr bytes.Buffer
	read   chan error
	mu     sync.Mutex
	closed bool
}

func NewFFmpegEncoder(path string, width, height, fps int, codec string, quality int) *FFmpegEncoder {
	return &FFmpegEncoder{
		Path:    path,
		Width:   width,
		Height:  height,
		FPS:     fps,
		Codec:   codec,
		Quality: quality,
	}
}

func (e *FFmpegEncoder) Start(ctx context.Context, sink func(chunk []byte)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cmd != nil {
		return errors.New("encoder already started")
	}

	path := e.Path
	if path == "" {
		path = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, path, e.buildFFmpegArgs()...)
	cmd.Stderr = &e.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe error: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe error: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg start error: %w", err)
	}

	e.cmd = cmd
	e.stdin = stdin
	e.read = make(chan error, 1)

	// Один читатель stdout сохраняет порядок чанков
	go func() {
		e.read <- pump(stdout, sink)
	}()

	return nil
}

// pump copies r into sink in chunkSize pieces until EOF.
func pump(r io.Reader, sink func([]byte)) error {
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			sink(chunk)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (e *FFmpegEncoder) buildFFmpegArgs() []string {
	codec := e.Codec
	if codec == "" {
		codec = "libvpx-vp9"
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "rawvideo",
		"-pixel_format", "rgba",
		"-video_size", fmt.Sprintf("%dx%d", e.Width, e.Height),
		"-framerate", fmt.Sprintf("%d", e.FPS),
		"-i", "-",
		"-c:v", codec,
	}

	// Качество в зависимости от энкодера
	switch codec {
	case "libvpx-vp9":
		args = append(args, "-b:v", "0", "-crf", fmt.Sprintf("%d", e.Quality), "-deadline", "realtime", "-cpu-used", "8")
	case "libvpx":
		args = append(args, "-b:v", "2M", "-crf", fmt.Sprintf("%d", e.Quality), "-deadline", "realtime")
	default:
		args = append(args, "-crf", fmt.Sprintf("%d", e.Quality))
	}

	args = append(args, "-pix_fmt", "yuv420p", "-f", "webm", "-")
	return args
}

func (e *FFmpegEncoder) WriteFrame(img *image.RGBA) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cmd == nil || e.closed {
		return errors.New("encoder is not running")
	}
	if img.Rect.Dx() != e.Width || img.Rect.Dy() != e.Height {
		return fmt.Errorf("frame size %dx%d, encoder expects %dx%d", img.Rect.Dx(), img.Rect.Dy(), e.Width, e.Height)
	}
	if err := writeRawRGBA(e.stdin, img); err != nil {
		return fmt.Errorf("write raw error: %w", err)
	}
	return nil
}

// Close finishes the stream and waits until every chunk reached the sink.
func (e *FFmpegEncoder) Close() error {
	e.mu.Lock()
	if e.cmd == nil || e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.stdin.Close()
	e.mu.Unlock()

	readErr := <-e.read
	if err := e.cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg wait error: %v, output: %s", err, e.stderr.String())
	}
	if readErr != nil {
		return fmt.Errorf("ffmpeg read error: %w", readErr)
	}
	return nil
}

func writeRawRGBA(w io.Writer, img image.Image) error {
	bounds := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != bounds.Dx()*4 || rgba.Rect.Min.X != 0 || rgba.Rect.Min.Y != 0 {
		rgba = image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(rgba, rgba.Rect, img, bounds.Min, draw.Src)
	}
	_, err := w.Write(rgba.Pix)
	return err
}
