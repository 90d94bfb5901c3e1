package render

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeRunner pretends to be pdftoppm: it records the invocation and
// writes page files the way the real tool would.
type fakeRunner struct {
	called bool
	name   string
	args   []string
	pages  int
	width  int
	height int
	fail   error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.called = true
	f.name = name
	f.args = args
	if f.fail != nil {
		return nil, []byte("Syntax Error: couldn't read xref table"), f.fail
	}

	prefix := args[len(args)-1]
	for i := 1; i <= f.pages; i++ {
		path := fmt.Sprintf("%s-%d.png", prefix, i)
		if f.pages >= 10 {
			path = fmt.Sprintf("%s-%02d.png", prefix, i)
		}
		if err := writePNG(path, f.width, f.height); err != nil {
			return nil, nil, err
		}
	}
	return nil, nil, nil
}

func writePNG(path string, w, h int) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()
	return png.Encode(out, image.NewRGBA(image.Rect(0, 0, w, h)))
}

func newTestRenderer(t *testing.T, runner Runner, maxWidth int) (*PopplerRenderer, string, string) {
	t.Helper()

	dir := t.TempDir()
	pdf := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(pdf, []byte("%PDF-1.4 stub"), 0o644); err != nil {
		t.Fatalf("writing stub pdf failed: %v", err)
	}

	r := NewPopplerRenderer(Config{MaxWidth: maxWidth})
	r.runner = runner
	return r, pdf, filepath.Join(dir, "images")
}

func TestPopplerRenderer_RenderPDF(t *testing.T) {
	runner := &fakeRunner{pages: 3, width: 10, height: 10}
	r, pdf, outDir := newTestRenderer(t, runner, 0)

	paths, err := r.RenderPDF(context.Background(), pdf, outDir)
	if err != nil {
		t.Fatalf("RenderPDF failed: %v", err)
	}

	if len(paths) != 3 {
		t.Fatalf("expected 3 pages, got %d", len(paths))
	}
	for i, p := range paths {
		want := fmt.Sprintf("page_%03d.png", i+1)
		if filepath.Base(p) != want {
			t.Fatalf("expected stable name %q, got %q", want, filepath.Base(p))
		}
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("page file missing: %v", err)
		}
	}

	if runner.name != "pdftoppm" {
		t.Fatalf("expected pdftoppm invocation, got %q", runner.name)
	}
	wantArgs := []string{"-r", "150", "-png", pdf}
	for i, a := range wantArgs {
		if runner.args[i] != a {
			t.Fatalf("unexpected args: %v", runner.args)
		}
	}
}

func TestPopplerRenderer_ManyPagesKeepOrder(t *testing.T) {
	runner := &fakeRunner{pages: 12, width: 10, height: 10}
	r, pdf, outDir := newTestRenderer(t, runner, 0)

	paths, err := r.RenderPDF(context.Background(), pdf, outDir)
	if err != nil {
		t.Fatalf("RenderPDF failed: %v", err)
	}
	if len(paths) != 12 {
		t.Fatalf("expected 12 pages, got %d", len(paths))
	}
	if filepath.Base(paths[9]) != "page_010.png" {
		t.Fatalf("page order lost: %v", paths)
	}
}

func TestPopplerRenderer_MissingPDF(t *testing.T) {
	runner := &fakeRunner{pages: 1}
	r := NewPopplerRenderer(Config{})
	r.runner = runner

	_, err := r.RenderPDF(context.Background(), "/does/not/exist.pdf", t.TempDir())
	if err == nil {
		t.Fatalf("expected error for missing pdf")
	}
	if runner.called {
		t.Fatalf("pdftoppm must not run for a missing pdf")
	}
}

func TestPopplerRenderer_CommandFailure(t *testing.T) {
	runner := &fakeRunner{fail: fmt.Errorf("exit status 1")}
	r, pdf, outDir := newTestRenderer(t, runner, 0)

	_, err := r.RenderPDF(context.Background(), pdf, outDir)
	if err == nil {
		t.Fatalf("expected error when pdftoppm fails")
	}
	if !strings.Contains(err.Error(), "xref table") {
		t.Fatalf("expected stderr in error, got: %v", err)
	}
}

func TestPopplerRenderer_NoPagesRendered(t *testing.T) {
	runner := &fakeRunner{pages: 0}
	r, pdf, outDir := newTestRenderer(t, runner, 0)

	_, err := r.RenderPDF(context.Background(), pdf, outDir)
	if err == nil || !strings.Contains(err.Error(), "no page images") {
		t.Fatalf("expected no-pages error, got: %v", err)
	}
}

func TestPopplerRenderer_DownscalesWidePages(t *testing.T) {
	runner := &fakeRunner{pages: 1, width: 100, height: 40}
	r, pdf, outDir := newTestRenderer(t, runner, 50)

	paths, err := r.RenderPDF(context.Background(), pdf, outDir)
	if err != nil {
		t.Fatalf("RenderPDF failed: %v", err)
	}

	f, err := os.Open(paths[0])
	if err != nil {
		t.Fatalf("opening page failed: %v", err)
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		t.Fatalf("decoding page failed: %v", err)
	}
	if cfg.Width != 50 || cfg.Height != 20 {
		t.Fatalf("expected 50x20 after downscale, got %dx%d", cfg.Width, cfg.Height)
	}
}

func TestPopplerRenderer_NarrowPagesUntouched(t *testing.T) {
	runner := &fakeRunner{pages: 1, width: 30, height: 40}
	r, pdf, outDir := newTestRenderer(t, runner, 50)

	paths, err := r.RenderPDF(context.Background(), pdf, outDir)
	if err != nil {
		t.Fatalf("RenderPDF failed: %v", err)
	}

	f, err := os.Open(paths[0])
	if err != nil {
		t.Fatalf("opening page failed: %v", err)
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		t.Fatalf("decoding page failed: %v", err)
	}
	if cfg.Width != 30 || cfg.Height != 40 {
		t.Fatalf("expected untouched 30x40, got %dx%d", cfg.Width, cfg.Height)
	}
}
