package pdf

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"sort"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	_ "golang.org/x/image/tiff"
)

// PageImage is one raster image taken from a page.
type PageImage struct {
	Page  int
	Image image.Image
}

// Rasterizer turns PDF pages into images for OCR.
type Rasterizer interface {
	Rasterize(ctx context.Context, data []byte) ([]PageImage, error)
}

// PdfcpuRasterizer pulls the embedded page images out with pdfcpu. Scanned
// tender PDFs usually carry one full-page image per page. Pages whose images
// use filters the Go decoders lack (CCITT G4, JBIG2) are drawn by the
// renderer instead.
type PdfcpuRasterizer struct {
	renderer Renderer
}

// NewPdfcpuRasterizer builds the rasterizer. A nil renderer leaves
// undecodable pages out.
func NewPdfcpuRasterizer(renderer Renderer) *PdfcpuRasterizer {
	return &PdfcpuRasterizer{renderer: renderer}
}

func (r *PdfcpuRasterizer) Rasterize(ctx context.Context, data []byte) ([]PageImage, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	images, err := extractImages(ctx, data, conf)
	if err != nil && r.renderer == nil {
		return nil, err
	}
	if r.renderer == nil {
		return images, nil
	}

	// nil means render everything: pdfcpu could not read the file or count it.
	var missing []int
	if err == nil {
		count, cerr := api.PageCount(bytes.NewReader(data), conf)
		if cerr == nil {
			missing = missingPages(images, count)
			if len(missing) == 0 {
				return images, nil
			}
		}
	}

	rendered, rerr := r.renderer.Render(ctx, data, missing)
	if rerr != nil {
		if len(images) > 0 {
			return images, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%v; %w", err, rerr)
		}
		return nil, rerr
	}
	images = append(images, rendered...)
	sort.SliceStable(images, func(i, j int) bool { return images[i].Page < images[j].Page })
	return images, nil
}

func extractImages(ctx context.Context, data []byte, conf *model.Configuration) ([]PageImage, error) {
	var images []PageImage
	err := api.ExtractImages(bytes.NewReader(data), nil, func(img model.Image, singleImgPerPage bool, maxPageDigits int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		decoded, _, err := image.Decode(img)
		if err != nil {
			return nil
		}
		images = append(images, PageImage{Page: img.PageNr, Image: decoded})
		return nil
	}, conf)
	if err != nil {
		return nil, fmt.Errorf("failed to extract page images: %w", err)
	}
	sort.SliceStable(images, func(i, j int) bool { return images[i].Page < images[j].Page })
	return images, nil
}

// missingPages lists the pages in 1..count without any decoded image.
func missingPages(images []PageImage, count int) []int {
	have := make(map[int]bool, len(images))
	for _, img := range images {
		have[img.Page] = true
	}
	var out []int
	for p := 1; p <= count; p++ {
		if !have[p] {
			out = append(out, p)
		}
	}
	return out
}
