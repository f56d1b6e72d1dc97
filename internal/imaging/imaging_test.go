package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LincolnGameplays/emprataai/internal/models"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func noise(w, h int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	rng.Read(img.Pix)
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	return img
}

func TestCoverRect(t *testing.T) {
	tests := []struct {
		name                   string
		srcW, srcH, dstW, dstH int
		want                   image.Rectangle
	}{
		{"wide into square", 2000, 1000, 1080, 1080, image.Rect(500, 0, 1500, 1000)},
		{"tall into square", 1000, 2000, 1080, 1080, image.Rect(0, 500, 1000, 1500)},
		{"square into square", 100, 100, 50, 50, image.Rect(0, 0, 100, 100)},
		{"hd into square", 1920, 1080, 1080, 1080, image.Rect(420, 0, 1500, 1080)},
		{"square into wide", 100, 100, 200, 100, image.Rect(0, 25, 100, 75)},
		{"empty", 0, 100, 10, 10, image.Rectangle{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CoverRect(tt.srcW, tt.srcH, tt.dstW, tt.dstH))
		})
	}
}

func TestNormalizeToSquareOutputsCanonicalSize(t *testing.T) {
	for _, size := range []image.Point{{2000, 1000}, {1000, 2000}, {1080, 1080}, {300, 301}} {
		out, err := NormalizeToSquare(noise(size.X, size.Y, 1), CanonicalSize)
		require.NoError(t, err)
		require.Equal(t, image.Rect(0, 0, CanonicalSize, CanonicalSize), out.Bounds(), "input %v", size)
	}
}

func TestNormalizeToSquareCropsCenter(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 300, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 300; x++ {
			switch {
			case x < 100:
				src.SetRGBA(x, y, color.RGBA{R: 255, A: 255})
			case x < 200:
				src.SetRGBA(x, y, color.RGBA{G: 255, A: 255})
			default:
				src.SetRGBA(x, y, color.RGBA{B: 255, A: 255})
			}
		}
	}

	out, err := NormalizeToSquare(src, 100)
	require.NoError(t, err)
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			require.Equal(t, color.RGBA{G: 255, A: 255}, out.RGBAAt(x, y))
		}
	}
}

func TestNormalizeToSquareIsIdempotent(t *testing.T) {
	once, err := NormalizeToSquare(noise(2000, 1000, 7), CanonicalSize)
	require.NoError(t, err)
	twice, err := NormalizeToSquare(once, CanonicalSize)
	require.NoError(t, err)
	require.True(t, bytes.Equal(once.Pix, twice.Pix))
}

func TestNormalizeToSquareRejectsEmpty(t *testing.T) {
	_, err := NormalizeToSquare(image.NewRGBA(image.Rect(0, 0, 0, 10)), CanonicalSize)
	require.ErrorIs(t, err, ErrInvalidImage)

	_, err = NormalizeToSquare(noise(10, 10, 1), 0)
	require.ErrorIs(t, err, ErrInvalidImage)
}

func TestDrawCoverSquareOnSquareIsExact(t *testing.T) {
	src := noise(256, 256, 3)
	dst := image.NewRGBA(image.Rect(0, 0, 256, 256))
	require.NoError(t, DrawCover(dst, dst.Bounds(), src))
	require.True(t, bytes.Equal(src.Pix, dst.Pix))
}

func TestDrawCoverFillsDestination(t *testing.T) {
	src := solid(400, 100, color.RGBA{R: 200, G: 100, B: 50, A: 255})
	dst := image.NewRGBA(image.Rect(0, 0, 120, 90))
	require.NoError(t, DrawCover(dst, dst.Bounds(), src))
	for y := 0; y < 90; y++ {
		for x := 0; x < 120; x++ {
			require.Equal(t, uint8(255), dst.RGBAAt(x, y).A, "pixel %d,%d left transparent", x, y)
		}
	}
}

func TestDrawCoverHonoursSourceOrigin(t *testing.T) {
	base := noise(200, 100, 5)
	sub := base.SubImage(image.Rect(100, 0, 200, 100)).(*image.RGBA)
	dst := image.NewRGBA(image.Rect(0, 0, 100, 100))
	require.NoError(t, DrawCover(dst, dst.Bounds(), sub))
	require.Equal(t, base.RGBAAt(150, 50), dst.RGBAAt(50, 50))
}

func TestWatermarkOnlyForFreePlan(t *testing.T) {
	src := solid(CanonicalSize, CanonicalSize, color.RGBA{R: 60, G: 60, B: 60, A: 255})

	free, marked, err := Composite(src, CanonicalSize, models.PlanFree)
	require.NoError(t, err)
	require.True(t, marked)

	for _, plan := range []models.Plan{models.PlanStarter, models.PlanPro} {
		paid, marked, err := Composite(src, CanonicalSize, plan)
		require.NoError(t, err)
		require.False(t, marked)
		require.True(t, bytes.Equal(src.Pix, paid.Pix), "plan %s must not be watermarked", plan)
		require.False(t, bytes.Equal(free.Pix, paid.Pix))
	}

	region := WordmarkRect(CanonicalSize, CanonicalSize)
	bright := 0
	for y := region.Min.Y; y < region.Max.Y; y++ {
		for x := region.Min.X; x < region.Max.X; x++ {
			if c := free.RGBAAt(x, y); c.R > 200 && c.G > 200 && c.B > 200 {
				bright++
			}
		}
	}
	require.Greater(t, bright, 100, "brand mark pixels missing in the bottom-right anchor")
}

func TestWatermarkPatternCoversCorners(t *testing.T) {
	plain := solid(600, 600, color.RGBA{R: 10, G: 10, B: 10, A: 255})
	marked := solid(600, 600, color.RGBA{R: 10, G: 10, B: 10, A: 255})
	require.True(t, ApplyWatermark(marked, models.PlanFree))

	// The pattern is translucent, so somewhere along each edge band it must lighten the canvas.
	for _, band := range []image.Rectangle{
		image.Rect(0, 200, 600, 260),
		image.Rect(0, 540, 300, 600),
	} {
		changed := false
		for y := band.Min.Y; y < band.Max.Y && !changed; y++ {
			for x := band.Min.X; x < band.Max.X; x++ {
				if marked.RGBAAt(x, y) != plain.RGBAAt(x, y) {
					changed = true
					break
				}
			}
		}
		assert.True(t, changed, "band %v untouched", band)
	}
}

func TestDecode(t *testing.T) {
	_, _, err := Decode(nil)
	require.ErrorIs(t, err, ErrInvalidImage)

	_, _, err = Decode([]byte("definitely not an image"))
	require.ErrorIs(t, err, ErrInvalidImage)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, noise(20, 10, 2)))
	img, format, err := Decode(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, "png", format)
	require.Equal(t, image.Rect(0, 0, 20, 10), img.Bounds())
}

func TestEncodeJPEGRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeJPEG(&buf, noise(64, 64, 9), DefaultQuality))

	img, format, err := Decode(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, "jpeg", format)
	require.Equal(t, image.Rect(0, 0, 64, 64), img.Bounds())

	require.ErrorIs(t, EncodeJPEG(&buf, nil, DefaultQuality), ErrEncodingFailed)
}
