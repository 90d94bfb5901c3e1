package docproc

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/wengzhiwen/runjplib-pipeline/internal/archive"
	"github.com/wengzhiwen/runjplib-pipeline/internal/llm"
	"github.com/wengzhiwen/runjplib-pipeline/pkg/api"
)

// stepToImages renders the source PDF into the staging directory and
// records the ordered page list as the step's artifact.
func (c *Converter) stepToImages(ctx context.Context, exec *api.Execution) error {
	pdfPath := exec.Task.Params.String("pdf_path")
	if pdfPath == "" {
		return fmt.Errorf("task params missing pdf_path")
	}

	exec.Logf("rendering pdf: %s", pdfPath)
	exec.NotifyWaiting()

	paths, err := c.renderer.RenderPDF(ctx, pdfPath, exec.Path("images"))
	if err != nil {
		return err
	}

	rels := make([]string, len(paths))
	for i, p := range paths {
		rel, err := filepath.Rel(exec.Dir, p)
		if err != nil {
			return err
		}
		rels[i] = rel
	}
	if err := exec.PutArtifact(manifestArtifact, strings.Join(rels, "\n")); err != nil {
		return err
	}

	exec.Logf("rendered %d pages", len(paths))
	return nil
}

// stepOCR recognizes every page into markdown. A page that fails the
// full two-pass recognition is retried once in degraded single-pass
// mode; a page that still fails becomes a warning. Blank pages are
// skipped. The step fails only when nothing at all was recognized.
func (c *Converter) stepOCR(ctx context.Context, exec *api.Execution) error {
	manifest, err := exec.Artifact(manifestArtifact)
	if err != nil {
		return err
	}
	pages := splitManifest(manifest)
	if len(pages) == 0 {
		return fmt.Errorf("page manifest is empty")
	}

	exec.Logf("recognizing %d pages", len(pages))
	exec.NotifyWaiting()

	var contents []string
	blank, failed := 0, 0
	for i, rel := range pages {
		imgPath := exec.Path(rel)
		c.logger.Debug("recognizing page", "task_id", exec.Task.ID, "page", i+1, "image", imgPath)

		md, err := c.model.RecognizePage(ctx, imgPath)
		if err != nil {
			exec.Warnf("page %d recognition failed, retrying in degraded mode: %v", i+1, err)
			md, err = c.model.RecognizePageDegraded(ctx, imgPath)
		}
		if err != nil {
			exec.Warnf("page %d failed after degraded retry: %v", i+1, err)
			failed++
			continue
		}
		if md == llm.EmptyPage {
			exec.Logf("page %d is blank, skipped", i+1)
			blank++
			continue
		}

		if err := exec.PutArtifact(fmt.Sprintf("ocr/page_%03d.md", i+1), md); err != nil {
			return err
		}
		contents = append(contents, md)
	}

	if len(contents) == 0 {
		return fmt.Errorf("no recognizable content in %d pages (%d blank, %d failed)", len(pages), blank, failed)
	}
	if err := exec.PutArtifact(originalArtifact, strings.Join(contents, "\n\n")); err != nil {
		return err
	}

	if failed > 0 {
		exec.Warnf("recognition finished with %d of %d pages failed", failed, len(pages))
	}
	exec.Logf("ocr complete: %d pages recognized, %d blank, %d failed", len(contents), blank, failed)
	return nil
}

// stepTranslate turns the combined Japanese markdown into Chinese.
func (c *Converter) stepTranslate(ctx context.Context, exec *api.Execution) error {
	original, err := exec.Artifact(originalArtifact)
	if err != nil {
		return err
	}
	if strings.TrimSpace(original) == "" {
		return fmt.Errorf("original markdown is empty")
	}

	exec.Logf("translating document (%d chars)", len(original))
	exec.NotifyWaiting()

	translated, err := c.model.Translate(ctx, original)
	if err != nil {
		return err
	}
	if err := exec.PutArtifact(translatedArtifact, translated); err != nil {
		return err
	}

	exec.Logf("translation complete (%d chars)", len(translated))
	return nil
}

// stepAnalyze produces the admissions report from the translation.
func (c *Converter) stepAnalyze(ctx context.Context, exec *api.Execution) error {
	translated, err := exec.Artifact(translatedArtifact)
	if err != nil {
		return err
	}
	if strings.TrimSpace(translated) == "" {
		return fmt.Errorf("translated markdown is empty")
	}

	exec.Logf("analyzing document")
	exec.NotifyWaiting()

	report, err := c.model.Analyze(ctx, translated)
	if err != nil {
		return err
	}
	if err := exec.PutArtifact(reportArtifact, report); err != nil {
		return err
	}

	exec.Logf("analysis complete")
	return nil
}

// stepPersistOutput archives the source PDF and the three markdown
// documents as one content record.
func (c *Converter) stepPersistOutput(ctx context.Context, exec *api.Execution) error {
	original, err := exec.Artifact(originalArtifact)
	if err != nil {
		return err
	}
	translated, err := exec.Artifact(translatedArtifact)
	if err != nil {
		return err
	}
	report, err := exec.Artifact(reportArtifact)
	if err != nil {
		return err
	}

	pdfPath := exec.Task.Params.String("pdf_path")
	if pdfPath == "" {
		return fmt.Errorf("task params missing pdf_path")
	}
	universityName := exec.Task.Params.String("university_name")
	if universityName == "" {
		universityName = strings.TrimSuffix(filepath.Base(pdfPath), filepath.Ext(pdfPath))
	}

	nameZH := extractChineseName(report)
	if nameZH == "" {
		exec.Warnf("no university name found in report, falling back to %q", universityName)
		nameZH = universityName
	}

	exec.Logf("saving output for %s", universityName)
	exec.NotifyWaiting()

	rec, err := c.archive.SaveResult(ctx, pdfPath, archive.Result{
		TaskID:           exec.Task.ID,
		UniversityName:   universityName,
		UniversityNameZH: nameZH,
		OriginalMD:       original,
		TranslatedMD:     translated,
		ReportMD:         report,
	})
	if err != nil {
		return err
	}

	exec.Logf("output saved: content %s, pdf %s", rec.ContentID, rec.PDFFileID)
	return nil
}

// splitManifest parses the page manifest into relative paths.
func splitManifest(manifest string) []string {
	var pages []string
	for _, line := range strings.Split(manifest, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			pages = append(pages, line)
		}
	}
	return pages
}

// extractChineseName pulls the Simplified Chinese university name out
// of the analysis report. The report ends with labeled name lines; both
// full-width and ASCII colons appear in the wild.
func extractChineseName(report string) string {
	for _, line := range strings.Split(report, "\n") {
		line = strings.TrimSpace(line)
		rest, ok := strings.CutPrefix(line, "大学中文名称")
		if !ok {
			continue
		}
		rest = strings.TrimLeft(rest, "：: ")
		if rest != "" {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}
