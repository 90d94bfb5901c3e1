// Package api contains the core building blocks of the pipeline
// orchestrator: the task record and its lifecycle states, pipeline
// definitions, the execution context handed to step functions, and the
// Observer interface used for logging and metrics.
//
// Most users interact with the higher-level pipeline package, which
// re-exports selected types and helpers from this package. The api
// package is intended for custom integrations, alternative pipeline
// types, or contributors extending the orchestrator itself.
//
// # Tasks
//
// A Task is one unit of work: a single run of a typed step sequence. Its
// Status moves from pending through processing to completed or failed,
// with interrupted reserved for tasks whose owning process died. The
// task record, including its append-only log, lives in a TaskStore and
// is the authoritative account of what happened.
//
// # Pipelines
//
// A PipelineDefinition describes a task type as a closed, ordered list
// of StepDefinitions. Each step's handler is bound when the definition
// is built, so there is no name-based dispatch at execution time, and
// restart validation is a plain membership check against the step list.
//
// Step handlers receive an Execution: a snapshot of the task, a
// task-scoped staging directory, and accessors for the artifacts earlier
// steps produced. Handlers are expected to be idempotent with respect to
// their declared inputs, because a restart may re-run them against the
// same upstream artifacts.
//
// # Observability
//
// The Observer interface receives task and step lifecycle events plus
// queue-depth changes. Ready-made implementations cover structured
// logging (LoggingObserver), in-memory counters (BasicMetrics), fan-out
// (CompositeObserver), and silence (NoopObserver).
package api
