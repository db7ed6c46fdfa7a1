package pdf

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/feichai0017/tender-ingest/config"
	"github.com/feichai0017/tender-ingest/pkg/logger"
)

// ErrRendererMissing means the page renderer binary could not be found.
var ErrRendererMissing = errors.New("pdf page renderer not installed")

// Renderer draws whole PDF pages. An empty pages slice means every page.
type Renderer interface {
	Render(ctx context.Context, data []byte, pages []int) ([]PageImage, error)
}

// PopplerRenderer runs pdftoppm in a scoped temp dir:
//
//	pdftoppm -r <dpi> -gray -png [-f first -l last] input.pdf <out>/page
type PopplerRenderer struct {
	path    string
	dpi     int
	timeout time.Duration
	tempDir string
	logger  logger.Logger
}

func NewPopplerRenderer(cfg config.RenderConfig, log logger.Logger) *PopplerRenderer {
	r := &PopplerRenderer{
		path:    cfg.PdftoppmPath,
		dpi:     cfg.DPI,
		timeout: cfg.Timeout,
		tempDir: cfg.TempDir,
		logger:  log,
	}
	if r.path == "" {
		r.path = "pdftoppm"
	}
	if r.dpi <= 0 {
		r.dpi = 300
	}
	if r.timeout <= 0 {
		r.timeout = 60 * time.Second
	}
	if r.logger == nil {
		r.logger = logger.NewNop()
	}
	return r
}

var pageFile = regexp.MustCompile(`^page-0*(\d+)\.png$`)

func (r *PopplerRenderer) Render(ctx context.Context, data []byte, pages []int) ([]PageImage, error) {
	bin, err := exec.LookPath(r.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRendererMissing, r.path, err)
	}

	work, err := os.MkdirTemp(r.tempDir, "pdf-render-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(work)

	input := filepath.Join(work, "input.pdf")
	if err := os.WriteFile(input, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to stage pdf: %w", err)
	}

	args := []string{"-r", strconv.Itoa(r.dpi), "-gray", "-png"}
	if len(pages) > 0 {
		args = append(args, "-f", strconv.Itoa(slices.Min(pages)), "-l", strconv.Itoa(slices.Max(pages)))
	}
	args = append(args, input, filepath.Join(work, "page"))

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.WaitDelay = time.Second
	out, runErr := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("page renderer timed out after %s", r.timeout)
	}
	if runErr != nil {
		return nil, fmt.Errorf("page renderer failed: %w: %s", runErr, strings.TrimSpace(string(out)))
	}

	images, err := readPages(work, pages)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("Rendered pdf pages",
		logger.Int("pages", len(images)),
		logger.Duration("elapsed", time.Since(start)),
	)
	return images, nil
}

// readPages decodes page-N.png files, keeping only the wanted pages when a
// range was rendered to cover gaps.
func readPages(dir string, wanted []int) ([]PageImage, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read renderer output: %w", err)
	}
	var images []PageImage
	for _, e := range entries {
		m := pageFile.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		page, _ := strconv.Atoi(m[1])
		if len(wanted) > 0 && !slices.Contains(wanted, page) {
			continue
		}
		img, err := decodeFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to decode rendered page %d: %w", page, err)
		}
		images = append(images, PageImage{Page: page, Image: img})
	}
	if len(images) == 0 {
		return nil, errors.New("page renderer produced no pages")
	}
	sort.Slice(images, func(i, j int) bool { return images[i].Page < images[j].Page })
	return images, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}
