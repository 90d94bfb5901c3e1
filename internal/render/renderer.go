// Package render turns a PDF into one PNG per page.
//
// The production implementation shells out to poppler's pdftoppm, which
// keeps the module free of cgo PDF bindings at the cost of a runtime
// dependency on the poppler-utils package.
package render

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/disintegration/imaging"
)

// DefaultDPI is the render resolution used when none is configured.
// It matches what the OCR models need without producing huge files.
const DefaultDPI = 150

// Renderer produces page images for a PDF. Implementations return the
// image paths in page order.
type Renderer interface {
	RenderPDF(ctx context.Context, pdfPath, outDir string) ([]string, error)
}

// Config controls a PopplerRenderer.
type Config struct {
	// Pdftoppm is the binary to invoke. Defaults to "pdftoppm" on PATH.
	Pdftoppm string

	// DPI is the render resolution. Defaults to DefaultDPI.
	DPI int

	// MaxWidth, when positive, downscales pages wider than this many
	// pixels. Zero disables downscaling.
	MaxWidth int

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// PopplerRenderer renders PDFs with pdftoppm and optionally downscales
// the result.
type PopplerRenderer struct {
	runner   Runner
	pdftoppm string
	dpi      int
	maxWidth int
	logger   *slog.Logger
}

var _ Renderer = (*PopplerRenderer)(nil)

// NewPopplerRenderer creates a renderer with the given configuration.
func NewPopplerRenderer(cfg Config) *PopplerRenderer {
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = DefaultDPI
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &PopplerRenderer{
		runner:   execRunner{logger: cfg.Logger},
		pdftoppm: cfg.Pdftoppm,
		dpi:      cfg.DPI,
		maxWidth: cfg.MaxWidth,
		logger:   cfg.Logger,
	}
}

// RenderPDF renders every page of the PDF into outDir as
// page_001.png, page_002.png and so on, and returns the paths in page
// order.
func (r *PopplerRenderer) RenderPDF(ctx context.Context, pdfPath, outDir string) ([]string, error) {
	if _, err := os.Stat(pdfPath); err != nil {
		return nil, fmt.Errorf("pdf file not readable at %s: %w", pdfPath, err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}

	prefix := filepath.Join(outDir, "page")
	// pdftoppm -r <dpi> -png <in.pdf> <outDir>/page
	_, stderr, err := r.runner.Run(ctx, r.pdftoppm, "-r", strconv.Itoa(r.dpi), "-png", pdfPath, prefix)
	if err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %w: %s", err, truncate(string(stderr), 2<<10))
	}

	// pdftoppm pads page numbers to a uniform width, so a lexical sort
	// is page order.
	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if len(matches) == 0 {
		return nil, fmt.Errorf("pdftoppm produced no page images for %s", pdfPath)
	}

	paths := make([]string, len(matches))
	for i, m := range matches {
		stable := filepath.Join(outDir, fmt.Sprintf("page_%03d.png", i+1))
		if m != stable {
			if err := os.Rename(m, stable); err != nil {
				return nil, err
			}
		}
		if r.maxWidth > 0 {
			if err := downscale(stable, r.maxWidth); err != nil {
				return nil, fmt.Errorf("downscale %s: %w", stable, err)
			}
		}
		paths[i] = stable
	}

	r.logger.Info("rendered pdf pages", "pdf", pdfPath, "pages", len(paths), "dpi", r.dpi)
	return paths, nil
}

// downscale shrinks the image in place when it is wider than maxWidth,
// preserving the aspect ratio.
func downscale(path string, maxWidth int) error {
	src, err := imaging.Open(path)
	if err != nil {
		return err
	}
	if src.Bounds().Dx() <= maxWidth {
		return nil
	}
	resized := imaging.Resize(src, maxWidth, 0, imaging.Lanczos)
	return imaging.Save(resized, path)
}
