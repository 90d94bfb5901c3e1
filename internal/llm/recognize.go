package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"time"
)

// EmptyPage is what the models return for a blank or meaningless page.
// Callers skip such pages instead of treating them as failures.
const EmptyPage = "EMPTY_PAGE"

const ocrExtractPrompt = `You are a professional OCR specialist. Extract every piece of text
and every table from the image, as accurately as possible.

Rules:
1. Output only the actual text in the image, no explanations or commentary.
2. Keep the original Japanese text, do not translate.
3. Preserve the original structure, especially tables (use markdown table
   syntax; count leading empty header cells as columns).
4. Ignore purely graphical content such as logos, maps and watermarks.
5. Ignore page headers and footers, but keep page numbers printed in the
   body, exactly as printed.
6. If the page is blank or contains nothing meaningful, return exactly: EMPTY_PAGE`

const ocrFormatPrompt = `You are a text formatting specialist. Reorganize the OCR text you are
given into clean markdown, checking it against the attached page image.

Rules:
1. Do not rewrite the OCR result unless it contains an obvious
   recognition error. Add no commentary and no summaries.
2. Keep the original Japanese text, do not translate.
3. Reproduce tables faithfully, including merged cells, exactly as in
   the image.
4. Keep page numbers from the body; headers, footers and graphical
   content stay omitted.
5. Shorten dot leaders in tables of contents to six dots.
6. Keep URLs as plain text, not markdown links.
7. If the page is blank or contains nothing meaningful, return exactly: EMPTY_PAGE
8. The result is saved directly as a .md file, so never wrap it in
   code fences.
Follow markdown syntax strictly: blank lines around tables, lists and
headings, and single spaces where the syntax requires them.`

const ocrDegradedPrompt = `You are a professional OCR specialist. Transcribe all text and tables
from the image directly into clean markdown in a single pass.

Rules:
1. Output only the transcription, no commentary.
2. Keep the original Japanese text, do not translate.
3. Use markdown table syntax for tables and keep the original structure.
4. Ignore logos, maps, watermarks, headers and footers; keep body page
   numbers.
5. If the page is blank or contains nothing meaningful, return exactly: EMPTY_PAGE
6. Never wrap the result in code fences.`

// RecognizePage runs the full two-pass recognition for one page image:
// a vision extraction pass, then a formatting pass that sees the image
// again. It returns markdown, or EmptyPage for a blank page.
func (c *Client) RecognizePage(ctx context.Context, imagePath string) (string, error) {
	start := time.Now()
	image, err := imageDataURI(imagePath)
	if err != nil {
		return "", err
	}

	extracted, err := c.complete(ctx, c.cfg.OCRModel, []chatMessage{
		{Role: "system", Content: ocrExtractPrompt},
		{Role: "user", Content: []contentPart{
			{Type: "text", Text: "Recognize all text in this image, preserving the original formatting."},
			{Type: "image_url", ImageURL: &imageRef{URL: image}},
		}},
	})
	if err != nil {
		c.logger.Error("llm.ocr.extract_failed", "image", imagePath, "error", err)
		return "", fmt.Errorf("ocr extraction: %w", err)
	}
	if extracted == "" {
		return "", fmt.Errorf("ocr extraction returned no text for %s", imagePath)
	}
	if extracted == EmptyPage {
		c.logger.Info("llm.ocr.empty_page", "image", imagePath)
		return EmptyPage, nil
	}

	formatted, err := c.complete(ctx, c.cfg.OCRModel, []chatMessage{
		{Role: "system", Content: ocrFormatPrompt},
		{Role: "user", Content: []contentPart{
			{Type: "text", Text: "Reorganize the following OCR text into markdown:\n\n" + extracted},
			{Type: "image_url", ImageURL: &imageRef{URL: image}},
		}},
	})
	if err != nil {
		c.logger.Error("llm.ocr.format_failed", "image", imagePath, "error", err)
		return "", fmt.Errorf("ocr formatting: %w", err)
	}

	c.logger.Info("llm.ocr.ok", "image", imagePath, "elapsed_ms", time.Since(start).Milliseconds())
	return stripFences(formatted), nil
}

// RecognizePageDegraded is the single-pass fallback used to retry a
// page after the full recognition failed. It trades formatting quality
// for a single round trip.
func (c *Client) RecognizePageDegraded(ctx context.Context, imagePath string) (string, error) {
	start := time.Now()
	image, err := imageDataURI(imagePath)
	if err != nil {
		return "", err
	}

	out, err := c.complete(ctx, c.cfg.OCRModel, []chatMessage{
		{Role: "system", Content: ocrDegradedPrompt},
		{Role: "user", Content: []contentPart{
			{Type: "text", Text: "Transcribe this image into markdown."},
			{Type: "image_url", ImageURL: &imageRef{URL: image}},
		}},
	})
	if err != nil {
		c.logger.Error("llm.ocr.degraded_failed", "image", imagePath, "error", err)
		return "", fmt.Errorf("degraded ocr: %w", err)
	}
	if out == "" {
		return "", fmt.Errorf("degraded ocr returned no text for %s", imagePath)
	}

	c.logger.Info("llm.ocr.degraded_ok", "image", imagePath, "elapsed_ms", time.Since(start).Milliseconds())
	if out == EmptyPage {
		return EmptyPage, nil
	}
	return stripFences(out), nil
}

func imageDataURI(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read page image: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data), nil
}
