package pipeline

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds the operational settings of a Bundle. The zero value is
// usable; ConfigFromEnv fills the fields that have environment
// counterparts and everything else is set in code.
type Config struct {
	// WorkDir is the root for per-task staging directories. Defaults
	// to a runjplib-pipeline directory under the system temp dir.
	WorkDir string

	// MaxConcurrent caps simultaneously running tasks; default 1.
	MaxConcurrent int

	// RetentionDays is how many days completed and failed tasks are
	// kept before cleanup. Zero means the 7-day default; negative
	// disables cleanup.
	RetentionDays int

	// PDF configures the bundled pdf_processing pipeline. Only read by
	// RegisterPDFPipeline.
	PDF PDFConfig

	// Connection strings for the examples and operators; the bundle
	// constructors themselves take already-open handles.
	MongoURI    string
	PostgresDSN string
	RedisAddr   string

	// Observer receives lifecycle events alongside the bundle's own
	// observers. Optional.
	Observer Observer

	// StatusCache, when set, mirrors task status and queue gauges into
	// Redis so dashboards can poll without touching the store.
	StatusCache *redis.Client

	// CachePrefix namespaces the Redis mirror keys; default "runjplib:".
	CachePrefix string

	Logger *slog.Logger
}

// PDFConfig holds the settings of the bundled PDF pipeline.
type PDFConfig struct {
	// Pdftoppm is the poppler binary used for page rendering. Defaults
	// to "pdftoppm" on PATH.
	Pdftoppm string

	// DPI is the page render resolution; default 150.
	DPI int

	// MaxWidth downscales rendered pages wider than this many pixels.
	// Zero disables downscaling.
	MaxWidth int

	LLMBaseURL     string
	LLMAPIKey      string
	LLMModel       string // translation and analysis
	LLMVisionModel string // page recognition

	// TranslateTerms is an optional domain glossary appended to the
	// translation and analysis prompts.
	TranslateTerms string

	// AnalysisQuestions is the question list the analysis report
	// answers. Optional.
	AnalysisQuestions string

	// ArchiveDir is where finished documents land when the bundle has
	// no MongoDB archive. Defaults to an archive directory under the
	// bundle's work dir.
	ArchiveDir string
}

// ConfigFromEnv loads configuration from environment variables.
func ConfigFromEnv() Config {
	return Config{
		WorkDir:       getEnv("TASK_WORKDIR", ""),
		MaxConcurrent: getEnvAsInt("MAX_CONCURRENT_TASKS", 1),
		RetentionDays: getEnvAsInt("TASK_RETENTION_DAYS", 0),
		PDF: PDFConfig{
			Pdftoppm:          getEnv("PDFTOPPM_BIN", ""),
			DPI:               getEnvAsInt("OCR_DPI", 0),
			MaxWidth:          getEnvAsInt("OCR_MAX_WIDTH", 0),
			LLMBaseURL:        getEnv("LLM_BASE_URL", ""),
			LLMAPIKey:         getEnv("LLM_API_KEY", ""),
			LLMModel:          getEnv("LLM_MODEL", ""),
			LLMVisionModel:    getEnv("LLM_VISION_MODEL", ""),
			TranslateTerms:    getEnv("TRANSLATE_TERMS", ""),
			AnalysisQuestions: getEnv("ANALYSIS_QUESTIONS", ""),
			ArchiveDir:        getEnv("ARCHIVE_DIR", ""),
		},
		MongoURI:    getEnv("MONGODB_URI", ""),
		PostgresDSN: getEnv("DATABASE_URL", ""),
		RedisAddr:   getEnv("REDIS_ADDR", ""),
		CachePrefix: getEnv("REDIS_CACHE_PREFIX", ""),
	}
}

func (c Config) workDir() string {
	if c.WorkDir != "" {
		return c.WorkDir
	}
	return filepath.Join(os.TempDir(), "runjplib-pipeline")
}

func (c Config) retention() time.Duration {
	if c.RetentionDays < 0 {
		return -1
	}
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
