// Package docproc implements the pdf_processing pipeline: render the
// PDF to page images, recognize every page into markdown, translate it
// to Chinese, analyze it, and persist the combined output.
//
// The package owns the step bodies and their artifact layout inside the
// task staging directory:
//
//	images/page_NNN.png    rendered pages
//	images/manifest.txt    ordered page list, the to_images artifact
//	ocr/page_NNN.md        per-page recognition results
//	original.md            combined Japanese markdown
//	translated.md          Chinese translation
//	report.md              analysis report
package docproc

import (
	"context"
	"log/slog"

	"github.com/wengzhiwen/runjplib-pipeline/internal/archive"
	"github.com/wengzhiwen/runjplib-pipeline/internal/render"
	"github.com/wengzhiwen/runjplib-pipeline/pkg/api"
)

// Artifact names under the staging directory.
const (
	manifestArtifact   = "images/manifest.txt"
	originalArtifact   = "original.md"
	translatedArtifact = "translated.md"
	reportArtifact     = "report.md"
)

// LanguageModel is the slice of the LLM client the pipeline needs.
type LanguageModel interface {
	RecognizePage(ctx context.Context, imagePath string) (string, error)
	RecognizePageDegraded(ctx context.Context, imagePath string) (string, error)
	Translate(ctx context.Context, markdown string) (string, error)
	Analyze(ctx context.Context, markdown string) (string, error)
}

// Converter binds the pdf_processing steps to their collaborators.
type Converter struct {
	renderer render.Renderer
	model    LanguageModel
	archive  archive.Archive
	logger   *slog.Logger
}

// NewConverter wires a converter. All three collaborators are required;
// the logger defaults to slog.Default.
func NewConverter(renderer render.Renderer, model LanguageModel, arch archive.Archive, logger *slog.Logger) *Converter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{
		renderer: renderer,
		model:    model,
		archive:  arch,
		logger:   logger,
	}
}

// Pipeline returns the pdf_processing definition with every step bound.
func (c *Converter) Pipeline() api.PipelineDefinition {
	return api.PipelineDefinition{
		Type: api.TypePDFProcessing,
		Steps: []api.StepDefinition{
			{Name: api.StepToImages, Run: c.stepToImages},
			{Name: api.StepOCR, Run: c.stepOCR},
			{Name: api.StepTranslate, Run: c.stepTranslate},
			{Name: api.StepAnalyze, Run: c.stepAnalyze},
			{Name: api.StepPersistOutput, Run: c.stepPersistOutput},
		},
	}
}
