package imaging

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/LincolnGameplays/emprataai/internal/models"
)

// NormalizeToSquare center-crops src to its largest square and scales it to
// target x target. A crop that already has the target size is copied
// verbatim, so normalizing an already normalized buffer is a no-op.
func NormalizeToSquare(src image.Image, target int) (*image.RGBA, error) {
	if src == nil || target <= 0 {
		return nil, fmt.Errorf("%w: nothing to normalize", ErrInvalidImage)
	}
	b := src.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: zero dimension %dx%d", ErrInvalidImage, b.Dx(), b.Dy())
	}
	size := min(b.Dx(), b.Dy())
	x := b.Min.X + (b.Dx()-size)/2
	y := b.Min.Y + (b.Dy()-size)/2

	dst := image.NewRGBA(image.Rect(0, 0, target, target))
	scale(dst, dst.Bounds(), src, image.Rect(x, y, x+size, y+size))
	return dst, nil
}

// CoverRect returns the region of a srcW x srcH image that, stretched over a
// dstW x dstH rectangle, fills it without distortion (object-fit: cover).
// The region is centered on the source; zero is returned for empty inputs.
func CoverRect(srcW, srcH, dstW, dstH int) image.Rectangle {
	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return image.Rectangle{}
	}
	// Compare srcW/srcH with dstW/dstH without floating point.
	if int64(srcW)*int64(dstH) > int64(dstW)*int64(srcH) {
		cropW := max(int((int64(srcH)*int64(dstW)+int64(dstH)/2)/int64(dstH)), 1)
		x := (srcW - cropW) / 2
		return image.Rect(x, 0, x+cropW, srcH)
	}
	cropH := max(int((int64(srcW)*int64(dstH)+int64(dstW)/2)/int64(dstW)), 1)
	y := (srcH - cropH) / 2
	return image.Rect(0, y, srcW, y+cropH)
}

// DrawCover fills r of dst with src using cover semantics. Source content
// outside the computed crop is discarded.
func DrawCover(dst draw.Image, r image.Rectangle, src image.Image) error {
	if src == nil {
		return fmt.Errorf("%w: nil source", ErrInvalidImage)
	}
	b := src.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 || r.Empty() {
		return fmt.Errorf("%w: cannot cover %v with %dx%d", ErrInvalidImage, r, b.Dx(), b.Dy())
	}
	crop := CoverRect(b.Dx(), b.Dy(), r.Dx(), r.Dy()).Add(b.Min)
	scale(dst, r, src, crop)
	return nil
}

// Composite draws src over a fresh size x size canvas and bakes in the plan's
// watermark. The bool reports whether a watermark was applied.
func Composite(src image.Image, size int, plan models.Plan) (*image.RGBA, bool, error) {
	if size <= 0 {
		return nil, false, fmt.Errorf("%w: canvas size %d", ErrInvalidImage, size)
	}
	canvas := image.NewRGBA(image.Rect(0, 0, size, size))
	if err := DrawCover(canvas, canvas.Bounds(), src); err != nil {
		return nil, false, err
	}
	return canvas, ApplyWatermark(canvas, plan), nil
}

func scale(dst draw.Image, r image.Rectangle, src image.Image, sr image.Rectangle) {
	if sr.Dx() == r.Dx() && sr.Dy() == r.Dy() {
		draw.Draw(dst, r, src, sr.Min, draw.Src)
		return
	}
	draw.CatmullRom.Scale(dst, r, src, sr, draw.Src, nil)
}
