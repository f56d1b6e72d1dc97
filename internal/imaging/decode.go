// Package imaging implements the raster side of exports: decoding, square
// normalization, cover-fit drawing, watermarking and JPEG encoding. Every
// operation is synchronous and free of network I/O.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

const (
	// CanonicalSize is the edge of every exported artifact.
	CanonicalSize = 1080
	// DefaultQuality is the JPEG quality of exports.
	DefaultQuality = 92
	// NormalizeQuality is used when a normalized source is re-encoded for upload.
	NormalizeQuality = 95

	maxPixels = 40_000_000
)

var (
	ErrInvalidImage   = errors.New("imaging: invalid image")
	ErrEncodingFailed = errors.New("imaging: encoding failed")
)

// Decode reads a jpeg, png, gif or webp image. Empty, unreadable and
// zero-sized inputs all report ErrInvalidImage.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty input", ErrInvalidImage)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", fmt.Errorf("%w: zero dimension %dx%d", ErrInvalidImage, cfg.Width, cfg.Height)
	}
	if cfg.Width*cfg.Height > maxPixels {
		return nil, "", fmt.Errorf("%w: %dx%d exceeds pixel budget", ErrInvalidImage, cfg.Width, cfg.Height)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return img, format, nil
}

// EncodeJPEG writes img at the given quality (1..100).
func EncodeJPEG(w io.Writer, img image.Image, quality int) error {
	if img == nil {
		return fmt.Errorf("%w: nil image", ErrEncodingFailed)
	}
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: quality}); err != nil {
		return fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}
	return nil
}
