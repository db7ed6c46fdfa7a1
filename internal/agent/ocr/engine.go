// Package ocr recognizes text in raster images. Engines are pluggable so the
// parsers can run against Tesseract, Textract, or a test double.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"slices"

	"github.com/feichai0017/tender-ingest/internal/models"
)

// ErrUnavailable means no engine or language pack is installed.
var ErrUnavailable = errors.New("ocr engine unavailable")

// Result is the recognized content of one image.
type Result struct {
	Text string
	// Confidence is the mean word confidence in [0, 100].
	Confidence float64
	Tables     []models.Table
}

// Engine 识别图片中的文字
type Engine interface {
	Name() string
	Recognize(ctx context.Context, img image.Image) (Result, error)
}

// Unavailable is the engine used when nothing usable is installed. Every call
// returns ErrUnavailable.
type Unavailable struct {
	Cause error
}

func (Unavailable) Name() string { return "none" }

func (u Unavailable) Recognize(context.Context, image.Image) (Result, error) {
	if u.Cause != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, u.Cause)
	}
	return Result{}, ErrUnavailable
}

type languagesKey struct{}

// WithLanguages scopes recognition under ctx to the given ISO 639-1 hints.
// Engines that cannot honour them keep their configured languages.
func WithLanguages(ctx context.Context, hints ...string) context.Context {
	if len(hints) == 0 {
		return ctx
	}
	return context.WithValue(ctx, languagesKey{}, slices.Clone(hints))
}

// Languages returns the hints set by WithLanguages.
func Languages(ctx context.Context) []string {
	hints, _ := ctx.Value(languagesKey{}).([]string)
	return hints
}
