package imaging

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/math/fixed"

	"github.com/LincolnGameplays/emprataai/internal/models"
)

const (
	BrandMark    = "EmprataAI"
	patternText  = "EMPRATA AI"
	badgeText    = "FREE PLAN"
	patternAngle = -30.0

	// Sizes are tuned for the canonical 1080 canvas and scale with its width.
	patternDiv = 360
	markDiv    = 216
	badgeDiv   = 540
	marginDiv  = 30
)

var (
	patternColor = color.NRGBA{R: 255, G: 255, B: 255, A: 46}
	markColor    = color.NRGBA{R: 255, G: 255, B: 255, A: 235}
	strokeColor  = color.NRGBA{R: 20, G: 20, B: 20, A: 220}
	badgeFill    = color.NRGBA{R: 0, G: 0, B: 0, A: 150}
	badgeInk     = color.NRGBA{R: 255, G: 196, B: 0, A: 255}
)

// ApplyWatermark bakes the FREE-tier watermark into dst and reports whether it
// did. Paid plans leave dst untouched.
func ApplyWatermark(dst *image.RGBA, plan models.Plan) bool {
	if !plan.Watermarked() {
		return false
	}
	drawPattern(dst)
	drawWordmark(dst)
	drawBadge(dst)
	return true
}

// WordmarkRect is where the brand mark lands on a w x h canvas.
func WordmarkRect(w, h int) image.Rectangle {
	tw, th := textSize(BrandMark, scaled(w, markDiv))
	margin := scaled(w, marginDiv)
	return image.Rect(w-margin-tw, h-margin-th, w-margin, h-margin)
}

func scaled(w, div int) int {
	return max(w/div, 1)
}

// drawPattern tiles the low-opacity text on an oversized layer and rotates it
// onto dst so that every corner is covered.
func drawPattern(dst *image.RGBA) {
	b := dst.Bounds()
	diag := int(math.Ceil(math.Hypot(float64(b.Dx()), float64(b.Dy()))))
	layer := image.NewRGBA(image.Rect(0, 0, diag, diag))

	glyphs := renderText(patternText, patternColor)
	tw, th := textSize(patternText, scaled(b.Dx(), patternDiv))
	stepX, stepY := tw+tw/2, th*4
	for row, y := 0, 0; y < diag; row, y = row+1, y+stepY {
		offset := 0
		if row%2 == 1 {
			offset = stepX / 2
		}
		for x := -offset; x < diag; x += stepX {
			draw.NearestNeighbor.Scale(layer, image.Rect(x, y, x+tw, y+th), glyphs, glyphs.Bounds(), draw.Over, nil)
		}
	}

	rad := patternAngle * math.Pi / 180
	sin, cos := math.Sincos(rad)
	cx, cy := float64(diag)/2, float64(diag)/2
	dx, dy := float64(b.Min.X)+float64(b.Dx())/2, float64(b.Min.Y)+float64(b.Dy())/2
	s2d := f64.Aff3{
		cos, -sin, dx - (cos*cx - sin*cy),
		sin, cos, dy - (sin*cx + cos*cy),
	}
	draw.ApproxBiLinear.Transform(dst, s2d, layer, layer.Bounds(), draw.Over, nil)
}

func drawWordmark(dst *image.RGBA) {
	b := dst.Bounds()
	r := WordmarkRect(b.Dx(), b.Dy()).Add(b.Min)

	stroke := renderText(BrandMark, strokeColor)
	for _, d := range []image.Point{{-1, -1}, {0, -1}, {1, -1}, {-1, 0}, {1, 0}, {-1, 1}, {0, 1}, {1, 1}} {
		draw.NearestNeighbor.Scale(dst, r.Add(d.Mul(scaled(b.Dx(), patternDiv))), stroke, stroke.Bounds(), draw.Over, nil)
	}
	ink := renderText(BrandMark, markColor)
	draw.NearestNeighbor.Scale(dst, r, ink, ink.Bounds(), draw.Over, nil)
}

func drawBadge(dst *image.RGBA) {
	b := dst.Bounds()
	tw, th := textSize(badgeText, scaled(b.Dx(), badgeDiv))
	pad := scaled(b.Dx(), 108)
	inset := scaled(b.Dx(), 45)
	box := image.Rect(inset, inset, inset+tw+2*pad, inset+th+2*pad).Add(b.Min)
	draw.Draw(dst, box, image.NewUniform(badgeFill), image.Point{}, draw.Over)

	ink := renderText(badgeText, badgeInk)
	text := image.Rect(box.Min.X+pad, box.Min.Y+pad, box.Min.X+pad+tw, box.Min.Y+pad+th)
	draw.NearestNeighbor.Scale(dst, text, ink, ink.Bounds(), draw.Over, nil)
}

// renderText draws s with the built-in bitmap face on a tight transparent image.
func renderText(s string, c color.Color) *image.RGBA {
	face := basicfont.Face7x13
	w, h := textSize(s, 1)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(0, face.Ascent),
	}
	d.DrawString(s)
	return img
}

func textSize(s string, scale int) (int, int) {
	face := basicfont.Face7x13
	w := font.MeasureString(face, s).Ceil()
	return w * scale, face.Height * scale
}
