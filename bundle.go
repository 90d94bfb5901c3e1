package pipeline

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"

	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/wengzhiwen/runjplib-pipeline/internal/archive"
	"github.com/wengzhiwen/runjplib-pipeline/internal/cache"
	"github.com/wengzhiwen/runjplib-pipeline/internal/docproc"
	"github.com/wengzhiwen/runjplib-pipeline/internal/llm"
	"github.com/wengzhiwen/runjplib-pipeline/internal/render"
	"github.com/wengzhiwen/runjplib-pipeline/internal/runner"
	"github.com/wengzhiwen/runjplib-pipeline/internal/scheduler"
	"github.com/wengzhiwen/runjplib-pipeline/internal/store"
)

// Bundle wires a task store, the pipeline registry, the runner and the
// scheduler into one ready-to-start orchestrator. Register pipelines
// first, then Start; tasks submitted before Start sit pending and are
// picked up by the startup sweep.
type Bundle struct {
	// Orchestrator is the task API: submissions, queries, restarts.
	Orchestrator Orchestrator

	sched    *scheduler.Scheduler
	registry *runner.Registry
	workDir  string
	logger   *slog.Logger

	// Set only for Mongo bundles; RegisterPDFPipeline archives into it.
	mongoDB *mongo.Database
}

func newBundle(st store.TaskStore, cfg Config, mongoDB *mongo.Database) (*Bundle, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workDir := cfg.workDir()
	registry := runner.NewRegistry()

	obs := cfg.Observer
	if cfg.StatusCache != nil {
		mirror, err := cache.New(cache.Config{
			Client: cfg.StatusCache,
			Prefix: cfg.CachePrefix,
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		if obs != nil {
			obs = NewCompositeObserver(obs, mirror)
		} else {
			obs = mirror
		}
	}

	run, err := runner.New(runner.Config{
		Store:    st,
		Registry: registry,
		WorkDir:  workDir,
		Observer: obs,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	sched, err := scheduler.New(scheduler.Config{
		Store:         st,
		Runner:        run,
		Registry:      registry,
		MaxConcurrent: cfg.MaxConcurrent,
		Retention:     cfg.retention(),
		Observer:      obs,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	return &Bundle{
		Orchestrator: sched,
		sched:        sched,
		registry:     registry,
		workDir:      workDir,
		logger:       logger,
		mongoDB:      mongoDB,
	}, nil
}

// NewMemoryBundle returns a bundle backed entirely by an in-memory
// store. Nothing survives a restart; best for tests and development.
func NewMemoryBundle(cfg Config) (*Bundle, error) {
	return newBundle(store.NewMemoryStore(), cfg, nil)
}

// NewSQLiteBundle returns a bundle that persists tasks in the given
// SQLite database, for single-binary deployments that want
// crash-durable tasks. The caller imports the driver:
//
//	import _ "modernc.org/sqlite"
//
//	db, _ := sql.Open("sqlite", "file:tasks.db?_journal=WAL")
//	bundle, err := pipeline.NewSQLiteBundle(db, pipeline.ConfigFromEnv())
func NewSQLiteBundle(db *sql.DB, cfg Config) (*Bundle, error) {
	st, err := store.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	return newBundle(st, cfg, nil)
}

// NewPostgresBundle returns a bundle that persists tasks in
// PostgreSQL. Open db with a registered driver, typically
//
//	import _ "github.com/jackc/pgx/v5/stdlib"
func NewPostgresBundle(db *sql.DB, cfg Config) (*Bundle, error) {
	st, err := store.NewPostgresStore(db)
	if err != nil {
		return nil, err
	}
	return newBundle(st, cfg, nil)
}

// NewMongoBundle returns a bundle that persists tasks in MongoDB.
// Tasks live in the named database; when the PDF pipeline is
// registered its archive lands in the same database, GridFS for the
// PDFs and a collection for the extracted documents.
func NewMongoBundle(client *mongo.Client, dbName string, cfg Config) (*Bundle, error) {
	st := store.NewMongoStore(client, dbName, "")
	return newBundle(st, cfg, client.Database(dbName))
}

// Register adds a pipeline definition to the bundle's registry. Tasks
// of the definition's type are accepted once it is registered.
func (b *Bundle) Register(def PipelineDefinition) error {
	return b.registry.Register(def)
}

// RegisterPDFPipeline registers the bundled pdf_processing pipeline:
// render the PDF to page images, recognize them with a vision model,
// translate, analyze, and archive the results. Mongo bundles archive
// into their database; the rest write to cfg.ArchiveDir.
func (b *Bundle) RegisterPDFPipeline(cfg PDFConfig) error {
	renderer := render.NewPopplerRenderer(render.Config{
		Pdftoppm: cfg.Pdftoppm,
		DPI:      cfg.DPI,
		MaxWidth: cfg.MaxWidth,
		Logger:   b.logger,
	})
	model := llm.NewClient(llm.Config{
		APIKey:            cfg.LLMAPIKey,
		BaseURL:           cfg.LLMBaseURL,
		OCRModel:          cfg.LLMVisionModel,
		TextModel:         cfg.LLMModel,
		TranslateTerms:    cfg.TranslateTerms,
		AnalysisQuestions: cfg.AnalysisQuestions,
		Logger:            b.logger,
	})

	var arch archive.Archive
	if b.mongoDB != nil {
		arch = archive.NewMongoArchive(b.mongoDB, "")
	} else {
		dir := cfg.ArchiveDir
		if dir == "" {
			dir = filepath.Join(b.workDir, "archive")
		}
		fs, err := archive.NewFSArchive(dir)
		if err != nil {
			return err
		}
		arch = fs
	}

	conv := docproc.NewConverter(renderer, model, arch, b.logger)
	return b.Register(conv.Pipeline())
}

// Start launches the scheduler: the startup sweep requeues pending
// tasks and marks orphans interrupted, then workers begin draining the
// queue.
func (b *Bundle) Start(ctx context.Context) error {
	return b.sched.Start(ctx)
}

// Stop shuts the scheduler down, waiting for running tasks to finish.
// The context bounds the wait.
func (b *Bundle) Stop(ctx context.Context) error {
	return b.sched.Stop(ctx)
}
