// Package pipeline provides a lightweight, embeddable job-pipeline
// orchestrator for Go backend services.
//
// It runs long multi-step jobs (minutes to hours per job) with bounded
// concurrency, durable progress, and restart-from-step recovery. The
// package grew out of a document site that turns Japanese university
// admission-guideline PDFs into translated, analyzed markdown, and it
// ships that pipeline ready to register, but the orchestrator itself is
// generic: any ordered sequence of steps over named artifacts can run
// on it.
//
// # Core Concepts
//
// The programming model is intentionally small:
//
//  1. Bundle
//  2. Orchestrator
//  3. PipelineBuilder
//  4. StepFunc
//  5. Observer
//
// # Bundle
//
// A Bundle wires the task store, the pipeline registry, the runner and
// the scheduler for one backend and exposes Start and Stop. Backends:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - PostgreSQL
//   - MongoDB
//
// With a durable backend, tasks survive process restarts: on Start the
// scheduler requeues pending tasks and marks tasks owned by dead
// processes as interrupted, so operators can restart them from the
// step they were on.
//
// # Orchestrator
//
// The Orchestrator is the task API. It creates tasks, reports their
// status, progress and logs, restarts finished tasks from a chosen
// step, and exposes the queue depth. Submissions beyond the
// concurrency ceiling queue in FIFO order; nothing is dropped.
//
// # PipelineBuilder
//
// PipelineBuilder is the declarative way to define a pipeline:
//
//	pipeline.NewPipeline("report_export").
//	    Step("collect", collectRows).
//	    Step("render", renderReport).
//	    MustRegister(bundle)
//
// Step order in the definition is execution order, and the step names
// are the restart points.
//
// # StepFunc
//
// A StepFunc is the executable unit of a pipeline:
//
//	type StepFunc func(ctx context.Context, exec *Execution) error
//
// Steps read prior artifacts from the Execution, do their work, and
// stage their own artifacts back. Staged artifacts are what make
// restarts cheap: a task restarted from step three reads steps one and
// two's outputs from disk instead of recomputing them. A step that
// returns an error fails the whole task; recovery is a manual restart,
// not an automatic retry.
//
// # Observer
//
// Observers receive task and step lifecycle events. The package ships
// a logging observer, a composite, simple counters, and a Redis status
// mirror so dashboards can poll task state without touching the store.
//
// # Summary
//
// Bundles assemble the system, the Orchestrator runs and inspects
// tasks, PipelineBuilder defines what a task type does, StepFuncs hold
// the business logic, and Observers watch it happen. For runnable
// programs, see the /examples directory.
package pipeline
