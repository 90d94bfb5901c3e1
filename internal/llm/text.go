package llm

import (
	"context"
	"fmt"
	"time"
)

const translatePrompt = `You are a professional Japanese-to-Chinese translator. Translate the
Japanese markdown you are given into Simplified Chinese.

Rules:
1. Keep the markdown structure identical: headings, lists, tables and
   paragraphs must match the original exactly.
2. Translate accurately and naturally, with correct technical terms.
3. Add no commentary; return only the translation.
4. For faculty and major names that resist translation, convert kanji
   to Chinese characters and kana to English, and translate the same
   name the same way throughout the document.
5. Keep standardized exam names (EJU, TOEFL, TOEIC and similar) as
   their English abbreviations.
6. Translate the complete text with nothing omitted or summarized.
7. The result is saved directly as a .md file, so never wrap it in
   code fences.`

// Translate turns Japanese markdown into Simplified Chinese markdown,
// preserving the document structure.
func (c *Client) Translate(ctx context.Context, markdown string) (string, error) {
	start := time.Now()

	system := translatePrompt
	if c.cfg.TranslateTerms != "" {
		system += "\n\nGlossary guidance:\n" + c.cfg.TranslateTerms
	}

	out, err := c.complete(ctx, c.cfg.TextModel, []chatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: "Translate the following Japanese markdown into Simplified Chinese:\n\n" + markdown},
	})
	if err != nil {
		c.logger.Error("llm.translate.failed", "chars", len(markdown), "error", err)
		return "", fmt.Errorf("translate: %w", err)
	}

	c.logger.Info("llm.translate.ok", "chars_in", len(markdown), "chars_out", len(out),
		"elapsed_ms", time.Since(start).Milliseconds())
	return stripFences(out), nil
}

const analyzePromptBase = `You are a rigorous specialist in study-abroad admissions for Japan.
Analyze the markdown document and answer the configured questions about
it, one by one, in order, in Simplified Chinese.

Rules:
1. Answer strictly from the document; never guess. If something cannot
   be determined, say so explicitly instead of skipping the question.
2. Quote the relevant original passage after each answer.
3. Answer for international undergraduate applicants only; exclude
   tracks that do not apply to them. Note that some schools admit
   international students without using the words for it, for example
   by accepting EJU scores or applicants educated abroad.
4. Return only the report body, with no document paths and no
   pleasantries.

Finish the report with exactly four lines identifying the university:
大学中文名称：[Simplified Chinese full name]
大学中文简称：[Simplified Chinese short name]
大学日文名称：[Japanese full name]
大学日文简称：[Japanese short name]`

// Analyze produces the admissions analysis report for translated
// markdown. The report ends with the four university name lines the
// output step parses.
func (c *Client) Analyze(ctx context.Context, markdown string) (string, error) {
	start := time.Now()

	system := analyzePromptBase
	if c.cfg.AnalysisQuestions != "" {
		system += "\n\nThe questions to answer:\n" + c.cfg.AnalysisQuestions
	}
	if c.cfg.TranslateTerms != "" {
		system += "\n\nGlossary guidance:\n" + c.cfg.TranslateTerms
	}

	out, err := c.complete(ctx, c.cfg.TextModel, []chatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: "Analyze the following markdown document:\n\n" + markdown},
	})
	if err != nil {
		c.logger.Error("llm.analyze.failed", "chars", len(markdown), "error", err)
		return "", fmt.Errorf("analyze: %w", err)
	}

	c.logger.Info("llm.analyze.ok", "chars_in", len(markdown), "chars_out", len(out),
		"elapsed_ms", time.Since(start).Milliseconds())
	return stripFences(out), nil
}
