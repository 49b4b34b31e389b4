package preview

import (
	"context"
	"errors"
	"image"
	"log"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"github.com/ivlev/panel2anime/internal/engine"
)

const hint = "[Space] play/pause  [R] reset  [E] export  [Esc] quit"

// Window hosts a session in a desktop window. ebiten calls Update once per
// tick, which drives the session's render loop.
type Window struct {
	session   *engine.Session
	outputDir string

	frame     *ebiten.Image
	buf       *image.RGBA
	version   uint64
	exporting bool
}

// New expects a session created with engine.WithExternalHost.
func New(session *engine.Session, outputDir string) *Window {
	return &Window{
		session:   session,
		outputDir: outputDir,
		buf:       image.NewRGBA(session.Surface().Bounds()),
		version:   ^uint64(0),
	}
}

func (w *Window) Update() error {
	switch {
	case inpututil.IsKeyJustPressed(ebiten.KeyEscape), inpututil.IsKeyJustPressed(ebiten.KeyQ):
		return ebiten.Termination
	case inpututil.IsKeyJustPressed(ebiten.KeySpace):
		if err := w.session.Toggle(); err != nil {
			log.Printf("[!] %v", err)
		}
	case inpututil.IsKeyJustPressed(ebiten.KeyR):
		if err := w.session.Reset(); err != nil {
			log.Printf("[!] %v", err)
		}
	case inpututil.IsKeyJustPressed(ebiten.KeyE):
		w.startExport()
	}

	if _, err := w.session.Frame(time.Now()); err != nil {
		log.Printf("[!] Ошибка кадра: %v", err)
	}
	w.pollExport()
	return nil
}

func (w *Window) startExport() {
	if err := w.session.Capture().Start(context.Background()); err != nil {
		log.Printf("[!] Экспорт не запущен: %v", err)
		return
	}
	w.exporting = true
}

// pollExport saves the artifact once the running capture stops.
func (w *Window) pollExport() {
	if !w.exporting {
		return
	}
	select {
	case <-w.session.Capture().Done():
	default:
		return
	}
	w.exporting = false

	a := w.session.Capture().Artifact()
	if a == nil {
		log.Println("[!] Экспорт отменен")
		return
	}
	path, err := a.Save(w.outputDir)
	if err != nil {
		log.Printf("[!] Не удалось сохранить %s: %v", a.Name, err)
		return
	}
	log.Printf("[+++] Видео сохранено: %s", path)
}

func (w *Window) Draw(screen *ebiten.Image) {
	if w.frame == nil {
		b := w.buf.Bounds()
		w.frame = ebiten.NewImage(b.Dx(), b.Dy())
	}
	if v := w.session.Surface().Version(); v != w.version {
		w.version = w.session.Surface().Snapshot(w.buf)
		w.frame.WritePixels(w.buf.Pix)
	}
	screen.DrawImage(w.frame, nil)

	st := w.session.Status()
	line := st.String() + " · " + st.State + "\n" + hint
	if st.Narration != "" {
		line += "\n" + st.Narration
	}
	if st.Capturing {
		line += "\nREC"
	}
	if st.Error != "" {
		line += "\n" + st.Error
	}
	ebitenutil.DebugPrint(screen, line)
}

func (w *Window) Layout(outsideWidth, outsideHeight int) (int, int) {
	b := w.buf.Bounds()
	return b.Dx(), b.Dy()
}

// Run opens the window and blocks until it is closed.
func Run(w *Window, title string, tps int) error {
	b := w.buf.Bounds()
	ebiten.SetWindowSize(b.Dx(), b.Dy())
	ebiten.SetWindowTitle(title)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetTPS(tps)

	if err := ebiten.RunGame(w); err != nil && !errors.Is(err, ebiten.Termination) {
		return err
	}
	return nil
}
