package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// FSArchive writes results to a directory tree, one subdirectory per
// task. It backs local runs and tests where no MongoDB is around.
type FSArchive struct {
	root string
}

var _ Archive = (*FSArchive)(nil)

// NewFSArchive creates an archive rooted at dir, creating it if needed.
func NewFSArchive(dir string) (*FSArchive, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FSArchive{root: dir}, nil
}

func (a *FSArchive) SaveResult(ctx context.Context, pdfPath string, res Result) (*Record, error) {
	if err := res.validate(); err != nil {
		return nil, err
	}

	dir := filepath.Join(a.root, res.TaskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	files := map[string]string{
		"original.md":   res.OriginalMD,
		"translated.md": res.TranslatedMD,
		"report.md":     res.ReportMD,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			return nil, err
		}
	}

	pdfDst := filepath.Join(dir, archiveFilename(res.UniversityName, time.Now()))
	if err := copyFile(pdfPath, pdfDst); err != nil {
		return nil, fmt.Errorf("archive pdf: %w", err)
	}

	return &Record{ContentID: dir, PDFFileID: pdfDst}, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
