package cad

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/feichai0017/tender-ingest/config"
	"github.com/feichai0017/tender-ingest/pkg/logger"
)

// ErrConverterMissing means the converter binary could not be found.
var ErrConverterMissing = errors.New("cad converter not installed")

// Converter turns a proprietary drawing into DXF bytes.
type Converter interface {
	Convert(ctx context.Context, name string, data []byte) ([]byte, error)
}

// ODAConverter runs the ODA File Converter command line in a scoped temp dir:
//
//	ODAFileConverter <in_dir> <out_dir> ACAD2018 DXF 0 1 *.DWG
type ODAConverter struct {
	path    string
	version string
	timeout time.Duration
	tempDir string
	logger  logger.Logger
}

func NewODAConverter(cfg config.CADConfig, log logger.Logger) *ODAConverter {
	c := &ODAConverter{
		path:    cfg.ConverterPath,
		version: cfg.TargetVersion,
		timeout: cfg.Timeout,
		tempDir: cfg.TempDir,
		logger:  log,
	}
	if c.version == "" {
		c.version = "ACAD2018"
	}
	if c.timeout <= 0 {
		c.timeout = 120 * time.Second
	}
	return c
}

func (c *ODAConverter) Convert(ctx context.Context, name string, data []byte) ([]byte, error) {
	bin, err := exec.LookPath(c.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConverterMissing, c.path, err)
	}

	work, err := os.MkdirTemp(c.tempDir, "cad-convert-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(work)

	inDir, outDir := filepath.Join(work, "in"), filepath.Join(work, "out")
	for _, dir := range []string{inDir, outDir} {
		if err := os.Mkdir(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(filepath.Join(inDir, "INPUT.DWG"), data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to stage drawing: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, bin, inDir, outDir, c.version, "DXF", "0", "1", "*.DWG")
	cmd.WaitDelay = time.Second
	out, runErr := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("converter timed out after %s", c.timeout)
	}
	if runErr != nil {
		return nil, fmt.Errorf("converter failed: %w: %s", runErr, strings.TrimSpace(string(out)))
	}

	dxf, err := findOutput(outDir)
	if err != nil {
		return nil, err
	}
	c.logger.Info("Converted drawing",
		logger.String("file", name),
		logger.String("version", c.version),
		logger.Duration("elapsed", time.Since(start)),
	)
	return dxf, nil
}

func findOutput(dir string) ([]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read converter output: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".dxf") {
			return os.ReadFile(filepath.Join(dir, e.Name()))
		}
	}
	return nil, errors.New("converter produced no dxf output")
}
