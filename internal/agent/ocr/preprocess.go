package ocr

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// Preprocessor 图像预处理步骤
type Preprocessor interface {
	Process(img image.Image) (image.Image, error)
}

// PreprocessFunc adapts a function to Preprocessor.
type PreprocessFunc func(img image.Image) (image.Image, error)

func (f PreprocessFunc) Process(img image.Image) (image.Image, error) { return f(img) }

// Pipeline applies its steps in order.
type Pipeline []Preprocessor

func (p Pipeline) Apply(img image.Image) (image.Image, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}
	result := img
	for i, step := range p {
		next, err := step.Process(result)
		if err != nil {
			return nil, fmt.Errorf("preprocessing step %d failed: %w", i, err)
		}
		if next == nil {
			return nil, fmt.Errorf("preprocessing step %d returned nil image", i)
		}
		result = next
	}
	return result, nil
}

// PreprocessOptions tune DefaultPipeline.
type PreprocessOptions struct {
	MinWidth          int
	DenoiseStrength   float64
	Contrast          float64
	AdaptiveBlockSize int
	AdaptiveConstant  float64
	SharpenStrength   float64
}

func DefaultPreprocessOptions() PreprocessOptions {
	return PreprocessOptions{
		MinWidth:          1600,
		DenoiseStrength:   0.5,
		Contrast:          20,
		AdaptiveBlockSize: 15,
		AdaptiveConstant:  8,
		SharpenStrength:   0.5,
	}
}

// DefaultPipeline is tuned for scanned tender pages: upscale, grayscale,
// denoise, stretch contrast, binarize, sharpen.
func DefaultPipeline(opts PreprocessOptions) Pipeline {
	return Pipeline{
		Upscale(opts.MinWidth),
		Grayscale(),
		Denoise(opts.DenoiseStrength),
		Contrast(opts.Contrast),
		AdaptiveThreshold(opts.AdaptiveBlockSize, opts.AdaptiveConstant),
		Sharpen(opts.SharpenStrength),
	}
}

// Upscale enlarges images narrower than minWidth. Tesseract does poorly below
// roughly 300 DPI.
func Upscale(minWidth int) Preprocessor {
	return PreprocessFunc(func(img image.Image) (image.Image, error) {
		w := img.Bounds().Dx()
		if minWidth <= 0 || w == 0 || w >= minWidth {
			return img, nil
		}
		return imaging.Resize(img, minWidth, 0, imaging.Lanczos), nil
	})
}

func Grayscale() Preprocessor {
	return PreprocessFunc(func(img image.Image) (image.Image, error) {
		return imaging.Grayscale(img), nil
	})
}

// Denoise 高斯模糊降噪
func Denoise(sigma float64) Preprocessor {
	return PreprocessFunc(func(img image.Image) (image.Image, error) {
		if sigma <= 0 {
			return img, nil
		}
		return imaging.Blur(img, sigma), nil
	})
}

func Contrast(percent float64) Preprocessor {
	return PreprocessFunc(func(img image.Image) (image.Image, error) {
		return imaging.AdjustContrast(img, percent), nil
	})
}

func Sharpen(sigma float64) Preprocessor {
	return PreprocessFunc(func(img image.Image) (image.Image, error) {
		if sigma <= 0 {
			return img, nil
		}
		return imaging.Sharpen(img, sigma), nil
	})
}

// Binarize maps pixels above threshold to white and the rest to black.
func Binarize(threshold uint8) Preprocessor {
	return PreprocessFunc(func(img image.Image) (image.Image, error) {
		gray := toGray(img)
		b := gray.Bounds()
		out := image.NewGray(b)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				if gray.GrayAt(x, y).Y > threshold {
					out.SetGray(x, y, color.Gray{Y: 255})
				}
			}
		}
		return out, nil
	})
}

// AdaptiveThreshold 自适应阈值: a pixel turns black when it is darker than
// the mean of its blockSize neighbourhood minus constant. The local mean comes
// from a summed-area table so the cost does not grow with blockSize.
func AdaptiveThreshold(blockSize int, constant float64) Preprocessor {
	return PreprocessFunc(func(img image.Image) (image.Image, error) {
		if blockSize < 3 {
			return nil, fmt.Errorf("adaptive block size must be at least 3, got %d", blockSize)
		}
		gray := toGray(img)
		b := gray.Bounds()
		w, h := b.Dx(), b.Dy()

		integral := make([]int64, (w+1)*(h+1))
		for y := 0; y < h; y++ {
			var row int64
			for x := 0; x < w; x++ {
				row += int64(gray.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
				integral[(y+1)*(w+1)+x+1] = integral[y*(w+1)+x+1] + row
			}
		}

		half := blockSize / 2
		out := image.NewGray(b)
		for y := 0; y < h; y++ {
			y0, y1 := clamp(y-half, 0, h-1), clamp(y+half, 0, h-1)
			for x := 0; x < w; x++ {
				x0, x1 := clamp(x-half, 0, w-1), clamp(x+half, 0, w-1)
				sum := integral[(y1+1)*(w+1)+x1+1] - integral[y0*(w+1)+x1+1] -
					integral[(y1+1)*(w+1)+x0] + integral[y0*(w+1)+x0]
				count := int64((x1 - x0 + 1) * (y1 - y0 + 1))
				mean := float64(sum) / float64(count)
				pixel := float64(gray.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
				if pixel >= mean-constant {
					out.SetGray(b.Min.X+x, b.Min.Y+y, color.Gray{Y: 255})
				}
			}
		}
		return out, nil
	})
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	out := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(x, y, img.At(x, y))
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
