package pipeline

import (
	"testing"
	"time"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_TASKS", "4")
	t.Setenv("TASK_WORKDIR", "/srv/pipeline/work")
	t.Setenv("TASK_RETENTION_DAYS", "3")
	t.Setenv("OCR_DPI", "200")
	t.Setenv("LLM_BASE_URL", "http://localhost:11434/v1")
	t.Setenv("LLM_API_KEY", "test-key")
	t.Setenv("LLM_MODEL", "qwen-text")
	t.Setenv("LLM_VISION_MODEL", "qwen-vl")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg := ConfigFromEnv()

	if cfg.MaxConcurrent != 4 {
		t.Fatalf("MaxConcurrent = %d, want 4", cfg.MaxConcurrent)
	}
	if cfg.WorkDir != "/srv/pipeline/work" {
		t.Fatalf("WorkDir = %q", cfg.WorkDir)
	}
	if cfg.RetentionDays != 3 {
		t.Fatalf("RetentionDays = %d, want 3", cfg.RetentionDays)
	}
	if cfg.PDF.DPI != 200 {
		t.Fatalf("PDF.DPI = %d, want 200", cfg.PDF.DPI)
	}
	if cfg.PDF.LLMBaseURL != "http://localhost:11434/v1" {
		t.Fatalf("PDF.LLMBaseURL = %q", cfg.PDF.LLMBaseURL)
	}
	if cfg.PDF.LLMVisionModel != "qwen-vl" {
		t.Fatalf("PDF.LLMVisionModel = %q", cfg.PDF.LLMVisionModel)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Fatalf("RedisAddr = %q", cfg.RedisAddr)
	}
}

func TestConfigFromEnv_BadIntFallsBack(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_TASKS", "many")

	cfg := ConfigFromEnv()
	if cfg.MaxConcurrent != 1 {
		t.Fatalf("MaxConcurrent = %d, want default 1", cfg.MaxConcurrent)
	}
}

func TestConfigRetentionMapping(t *testing.T) {
	cases := []struct {
		days int
		want time.Duration
	}{
		{days: 0, want: 0},
		{days: 3, want: 72 * time.Hour},
		{days: -1, want: -1},
	}
	for _, tc := range cases {
		if got := (Config{RetentionDays: tc.days}).retention(); got != tc.want {
			t.Fatalf("retention(%d) = %v, want %v", tc.days, got, tc.want)
		}
	}
}

func TestConfigWorkDirDefault(t *testing.T) {
	if (Config{}).workDir() == "" {
		t.Fatal("default work dir must not be empty")
	}
	if got := (Config{WorkDir: "/tmp/custom"}).workDir(); got != "/tmp/custom" {
		t.Fatalf("workDir = %q, want /tmp/custom", got)
	}
}
