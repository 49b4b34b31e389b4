package renderer

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/ivlev/panel2anime/internal/storyboard"
)

// FitRatio is the share of the surface a panel may occupy before scaling
const FitRatio = 0.92

var (
	backdropTop    = color.RGBA{5, 8, 15, 255}
	backdropBottom = color.RGBA{2, 0, 15, 255}
)

// Rect is a placement on the surface in pixels
type Rect struct {
	X, Y, W, H float64
}

// FitRect scales (w, h) uniformly to fit inside (maxW, maxH), keeping aspect ratio.
func FitRect(w, h, maxW, maxH float64) (float64, float64) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	ratio := math.Min(maxW/w, maxH/h)
	return w * ratio, h * ratio
}

// Placement computes where a panel of imgW x imgH lands on a surfaceW x surfaceH
// surface: fit to 92%, apply the scale, center, then shift by the translation
// percentages of the surface size.
func Placement(imgW, imgH, surfaceW, surfaceH int, st State) Rect {
	sw, sh := float64(surfaceW), float64(surfaceH)
	fw, fh := FitRect(float64(imgW), float64(imgH), sw*FitRatio, sh*FitRatio)

	w := fw * st.Scale
	h := fh * st.Scale
	return Rect{
		X: sw/2 - w/2 + st.TranslateX/100*sw,
		Y: sh/2 - h/2 + st.TranslateY/100*sh,
		W: w,
		H: h,
	}
}

// Compositor draws one frame: backdrop, transformed panel and narration overlay.
// It keeps no per-frame state.
type Compositor struct {
	Interp draw.Interpolator
	faces  *faces
}

func NewCompositor() *Compositor {
	return &Compositor{
		Interp: draw.BiLinear,
		faces:  newFaces(),
	}
}

// Draw renders a frame into dst. img may be nil, in which case only the backdrop
// and overlay are drawn. beat may be nil.
func (c *Compositor) Draw(dst *image.RGBA, img image.Image, st State, beat *storyboard.Beat) {
	c.Backdrop(dst)
	if img != nil {
		c.drawPanel(dst, img, st)
	}
	if beat != nil {
		c.drawOverlay(dst, beat)
	}
}

// Backdrop paints the vertical gradient.
func (c *Compositor) Backdrop(dst *image.RGBA) {
	b := dst.Bounds()
	rows := b.Dy()
	for y := 0; y < rows; y++ {
		t := 0.0
		if rows > 1 {
			t = float64(y) / float64(rows-1)
		}
		col := color.RGBA{
			R: uint8(math.Round(lerp(float64(backdropTop.R), float64(backdropBottom.R), t))),
			G: uint8(math.Round(lerp(float64(backdropTop.G), float64(backdropBottom.G), t))),
			B: uint8(math.Round(lerp(float64(backdropTop.B), float64(backdropBottom.B), t))),
			A: 255,
		}
		row := image.Rect(b.Min.X, b.Min.Y+y, b.Max.X, b.Min.Y+y+1)
		draw.Draw(dst, row, &image.Uniform{C: col}, image.Point{}, draw.Src)
	}
}

func (c *Compositor) drawPanel(dst *image.RGBA, img image.Image, st State) {
	opacity := clamp(st.Opacity, 0, 1)
	if opacity == 0 {
		return
	}

	sb := img.Bounds()
	db := dst.Bounds()
	r := Placement(sb.Dx(), sb.Dy(), db.Dx(), db.Dy(), st)
	if r.W < 1 || r.H < 1 {
		return
	}

	sx := r.W / float64(sb.Dx())
	sy := r.H / float64(sb.Dy())
	s2d := f64.Aff3{
		sx, 0, float64(db.Min.X) + r.X - sx*float64(sb.Min.X),
		0, sy, float64(db.Min.Y) + r.Y - sy*float64(sb.Min.Y),
	}

	var opts *draw.Options
	if opacity < 1 {
		opts = &draw.Options{
			SrcMask: image.NewUniform(color.Alpha16{A: uint16(math.Round(opacity * 0xffff))}),
		}
	}
	c.Interp.Transform(dst, s2d, img, sb, draw.Over, opts)
}
