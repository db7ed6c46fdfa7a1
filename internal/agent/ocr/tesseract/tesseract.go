// Package tesseract wraps gosseract. It is kept apart from package ocr so that
// only binaries that actually run Tesseract link against libtesseract.
package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"slices"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/feichai0017/tender-ingest/config"
	"github.com/feichai0017/tender-ingest/internal/agent/ocr"
	"github.com/feichai0017/tender-ingest/pkg/logger"
)

type Engine struct {
	languages     []string
	installed     []string
	minConfidence float64
	pipeline      ocr.Pipeline
	logger        logger.Logger
}

// NewEngine is New returning the ocr.Engine interface.
func NewEngine(cfg config.OCRConfig, log logger.Logger) (ocr.Engine, error) {
	e, err := New(cfg, log)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// New checks that every configured language pack is installed. A missing
// pack returns an error wrapping ocr.ErrUnavailable.
func New(cfg config.OCRConfig, log logger.Logger) (*Engine, error) {
	langs := cfg.Languages
	if len(langs) == 0 {
		langs = []string{"eng"}
	}
	installed, err := gosseract.GetAvailableLanguages()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ocr.ErrUnavailable, err)
	}
	for _, lang := range langs {
		if !slices.Contains(installed, lang) {
			return nil, fmt.Errorf("%w: language pack %q not installed", ocr.ErrUnavailable, lang)
		}
	}

	var pipeline ocr.Pipeline
	if cfg.Preprocess {
		pipeline = ocr.DefaultPipeline(ocr.DefaultPreprocessOptions())
	}
	log.Info("Tesseract engine ready",
		logger.String("version", gosseract.Version()),
		logger.Strings("languages", langs),
	)
	return &Engine{
		languages:     langs,
		installed:     installed,
		minConfidence: cfg.MinConfidence,
		pipeline:      pipeline,
		logger:        log,
	}, nil
}

func (e *Engine) Name() string { return "tesseract" }

func (e *Engine) Recognize(ctx context.Context, img image.Image) (ocr.Result, error) {
	if err := ctx.Err(); err != nil {
		return ocr.Result{}, err
	}
	processed, err := e.pipeline.Apply(img)
	if err != nil {
		return ocr.Result{}, fmt.Errorf("failed to preprocess image: %w", err)
	}

	// 每次识别创建新的 Tesseract 客户端
	client := gosseract.NewClient()
	defer client.Close()

	langs := ocr.PackNames(ocr.Languages(ctx), e.installed, e.languages)
	if err := client.SetLanguage(langs...); err != nil {
		return ocr.Result{}, fmt.Errorf("failed to set language: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
		return ocr.Result{}, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}

	buf := new(bytes.Buffer)
	if err := png.Encode(buf, processed); err != nil {
		return ocr.Result{}, fmt.Errorf("failed to encode image: %w", err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return ocr.Result{}, fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		if strings.Contains(err.Error(), "TessBaseAPI") {
			return ocr.Result{}, fmt.Errorf("%w: %v", ocr.ErrUnavailable, err)
		}
		return ocr.Result{}, fmt.Errorf("failed to get text: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		e.logger.Warn("Failed to get bounding boxes", logger.Error(err))
		return ocr.Result{Text: text}, nil
	}
	return ocr.Result{Text: text, Confidence: e.confidence(boxes)}, nil
}

// confidence averages the words at or above the configured floor.
func (e *Engine) confidence(boxes []gosseract.BoundingBox) float64 {
	var sum float64
	var n int
	for _, box := range boxes {
		if box.Confidence >= e.minConfidence {
			sum += box.Confidence
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
