// Package archive stores the pipeline's final products: the source PDF
// and the three markdown documents derived from it, bundled into one
// content record per processed document.
package archive

import (
	"context"
	"fmt"
	"time"
)

// Result carries everything the pipeline produced for one document.
type Result struct {
	TaskID           string
	UniversityName   string // as submitted with the task
	UniversityNameZH string // extracted from the analysis report
	OriginalMD       string
	TranslatedMD     string
	ReportMD         string
}

// Record identifies where the output landed.
type Record struct {
	ContentID string
	PDFFileID string
}

// Archive persists a pipeline result. SaveResult is atomic per field
// but not across the PDF blob and the content record; a crash between
// the two leaves an orphaned blob, which retention never touches and
// operators clean manually.
type Archive interface {
	SaveResult(ctx context.Context, pdfPath string, res Result) (*Record, error)
}

// validate rejects incomplete results before anything is written.
func (r Result) validate() error {
	if r.OriginalMD == "" || r.TranslatedMD == "" || r.ReportMD == "" {
		return fmt.Errorf("incomplete pipeline result for task %s", r.TaskID)
	}
	return nil
}

// archiveFilename names the stored PDF the way operators expect to
// find it.
func archiveFilename(universityName string, now time.Time) string {
	return fmt.Sprintf("%s_%s.pdf", universityName, now.Format("20060102"))
}
