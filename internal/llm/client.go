// Package llm talks to an OpenAI-compatible chat completions API. The
// pipeline uses it for three jobs: vision OCR of page images,
// Japanese-to-Chinese translation, and the admissions analysis report.
//
// Pointing BaseURL at any compatible server (a local inference gateway
// included) is supported; only the /chat/completions surface is used.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// Config for the chat completions client.
type Config struct {
	APIKey      string        // if empty, falls back to env OPENAI_API_KEY
	BaseURL     string        // default https://api.openai.com/v1
	OCRModel    string        // vision-capable model for page recognition
	TextModel   string        // model for translation and analysis
	Temperature float32       // 0..2
	Timeout     time.Duration // http client timeout, generous for long documents

	// TranslateTerms is appended to the translation and analysis
	// prompts as domain glossary guidance. Optional.
	TranslateTerms string

	// AnalysisQuestions is the question list the analysis step answers.
	// Optional; the report degrades to a plain summary without it.
	AnalysisQuestions string

	Logger *slog.Logger
}

// Client is a thin HTTP client over chat/completions.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// NewClient applies defaults and returns a ready client.
func NewClient(cfg Config) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.OCRModel == "" {
		cfg.OCRModel = "gpt-4o-mini"
	}
	if cfg.TextModel == "" {
		cfg.TextModel = "gpt-4o"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: cfg.Logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string, or []contentPart for vision
}

type contentPart struct {
	Type     string    `json:"type"` // "text" or "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *imageRef `json:"image_url,omitempty"`
}

type imageRef struct {
	URL string `json:"url"`
}

// complete posts one chat request and returns the first choice's
// content, trimmed.
func (c *Client) complete(ctx context.Context, model string, messages []chatMessage) (string, error) {
	body := map[string]any{
		"model":       model,
		"temperature": c.cfg.Temperature,
		"messages":    messages,
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, err := c.post(ctx, endpoint, body)
	if err != nil {
		return "", err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(cc.Choices) == 0 {
		return "", fmt.Errorf("no choices in chat response")
	}
	return strings.TrimSpace(cc.Choices[0].Message.Content), nil
}

func (c *Client) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat http error: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("chat response body close error", "error", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(resp.Body)
		return nil, fmt.Errorf("chat status %d: %s", resp.StatusCode, buf.String())
	}

	return io.ReadAll(resp.Body)
}

// stripFences removes markdown code-fence wrappers that models add
// despite being told not to. The result is saved directly as .md files.
func stripFences(s string) string {
	for _, fence := range []string{"``` Markdown", "``` markdown", "```Markdown", "```markdown", "```"} {
		s = strings.ReplaceAll(s, fence, "")
	}
	return strings.TrimSpace(s)
}
