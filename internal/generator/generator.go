// Package generator defines the external image-generation contract and the
// primary/secondary fallback strategy.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/LincolnGameplays/emprataai/internal/models"
)

// ErrMalformedOutput means the provider answered but produced no usable image.
var ErrMalformedOutput = errors.New("generator: malformed output")

type Request struct {
	Prompt      string
	SourceURL   string
	Style       models.StyleParams
	AspectRatio string
	Resolution  string
}

type Generator interface {
	Name() string
	Generate(ctx context.Context, req Request) (*models.Image, error)
}

// Result carries the image and the provider that produced it.
type Result struct {
	Image    *models.Image
	Provider string
}

// Fallback tries Primary and, only when Primary's output is malformed or
// empty, Secondary. Any other Primary error is returned untouched.
type Fallback struct {
	Primary   Generator
	Secondary Generator
	Log       *slog.Logger
}

func (f *Fallback) Generate(ctx context.Context, req Request) (*Result, error) {
	if f.Primary == nil {
		return nil, fmt.Errorf("no primary generator configured")
	}
	img, err := f.Primary.Generate(ctx, req)
	if err == nil && !img.Empty() {
		return &Result{Image: img, Provider: f.Primary.Name()}, nil
	}
	if err != nil && !errors.Is(err, ErrMalformedOutput) {
		return nil, fmt.Errorf("%s: %w", f.Primary.Name(), err)
	}
	if err == nil {
		err = ErrMalformedOutput
	}
	if f.Secondary == nil {
		return nil, fmt.Errorf("%s: %w", f.Primary.Name(), err)
	}

	if f.Log != nil {
		f.Log.Warn("primary generator output unusable, falling back", "primary", f.Primary.Name(), "secondary", f.Secondary.Name(), "err", err)
	}
	img, err = f.Secondary.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Secondary.Name(), err)
	}
	if img.Empty() {
		return nil, fmt.Errorf("%s: %w", f.Secondary.Name(), ErrMalformedOutput)
	}
	return &Result{Image: img, Provider: f.Secondary.Name()}, nil
}
