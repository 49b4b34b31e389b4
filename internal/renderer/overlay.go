package renderer

import (
	"image"
	"image/color"
	"log"
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/gomedium"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/ivlev/panel2anime/internal/storyboard"
)

// Overlay layout, in surface pixels
const (
	OverlayPadding = 24
	OverlayHeight  = 80
	textInset      = 20
)

var (
	overlayFill    = color.NRGBA{15, 16, 40, 184}
	narrationColor = color.NRGBA{220, 230, 255, 242}
	labelColor     = color.NRGBA{140, 150, 210, 230}
)

type faces struct {
	narration font.Face
	label     font.Face
}

var (
	fontsOnce   sync.Once
	mediumFont  *opentype.Font
	regularFont *opentype.Font
)

// newFaces builds a fresh pair of faces. The parsed fonts are shared, but a
// font.Face caches glyphs and is not safe for concurrent use, so every
// Compositor owns its faces.
func newFaces() *faces {
	fontsOnce.Do(func() {
		mediumFont = parseFont(gomedium.TTF)
		regularFont = parseFont(goregular.TTF)
	})
	return &faces{
		narration: newFace(mediumFont, 18),
		label:     newFace(regularFont, 12),
	}
}

func parseFont(ttf []byte) *opentype.Font {
	f, err := opentype.Parse(ttf)
	if err != nil {
		log.Printf("[!] Failed to parse font, falling back to basicfont: %v", err)
		return nil
	}
	return f
}

func newFace(f *opentype.Font, size float64) font.Face {
	if f == nil {
		return basicfont.Face7x13
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		log.Printf("[!] Failed to create font face, falling back to basicfont: %v", err)
		return basicfont.Face7x13
	}
	return face
}

// OverlayRect is the bottom-aligned narration box for a surface of the given bounds.
func OverlayRect(b image.Rectangle) image.Rectangle {
	return image.Rect(
		b.Min.X+OverlayPadding,
		b.Max.Y-OverlayHeight-OverlayPadding,
		b.Max.X-OverlayPadding,
		b.Max.Y-OverlayPadding,
	)
}

func (c *Compositor) drawOverlay(dst *image.RGBA, beat *storyboard.Beat) {
	b := dst.Bounds()
	box := OverlayRect(b)
	draw.Draw(dst, box, image.NewUniform(overlayFill), image.Point{}, draw.Over)

	x := box.Min.X + textInset
	maxWidth := box.Dx() - 2*textInset

	c.drawText(dst, c.faces.narration, narrationColor, x, b.Max.Y-OverlayPadding-36, ellipsize(c.faces.narration, beat.Narration, maxWidth))
	c.drawText(dst, c.faces.label, labelColor, x, b.Max.Y-OverlayPadding-16, ellipsize(c.faces.label, beat.Label(), maxWidth))
}

func (c *Compositor) drawText(dst *image.RGBA, face font.Face, col color.Color, x, baseline int, s string) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P(x, baseline),
	}
	d.DrawString(s)
}

// ellipsize trims s so that it fits into maxWidth pixels.
func ellipsize(face font.Face, s string, maxWidth int) string {
	limit := fixed.I(maxWidth)
	if font.MeasureString(face, s) <= limit {
		return s
	}

	const ellipsis = "…"
	runes := []rune(s)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if font.MeasureString(face, string(runes[:mid])+ellipsis) <= limit {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	if lo == 0 {
		return ""
	}
	return string(runes[:lo]) + ellipsis
}
