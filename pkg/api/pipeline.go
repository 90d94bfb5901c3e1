package api

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// StepFunc is the executable body of one pipeline step. It reads prior
// artifacts from the Execution, performs the step's external work, and
// writes its own artifacts back before returning.
//
// A nil error marks the step done; any error fails the whole task.
type StepFunc func(ctx context.Context, exec *Execution) error

// StepDefinition binds a step name to its handler. Handlers are bound
// when the definition is built, so dispatch never goes through a name
// lookup at execution time.
type StepDefinition struct {
	Name Step
	Run  StepFunc
}

// PipelineDefinition describes one task type as an ordered, closed
// sequence of steps. Steps execute strictly in declared order.
type PipelineDefinition struct {
	Type  string
	Steps []StepDefinition
}

// Validate checks that the definition is usable: a type tag, at least
// one step, unique non-empty step names, and a handler for every step.
func (d PipelineDefinition) Validate() error {
	if d.Type == "" {
		return errors.New("pipeline definition has empty type")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("pipeline %q has no steps", d.Type)
	}
	seen := make(map[Step]struct{}, len(d.Steps))
	for i, s := range d.Steps {
		if s.Name == "" {
			return fmt.Errorf("pipeline %q: step %d has empty name", d.Type, i)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("pipeline %q: duplicate step %q", d.Type, s.Name)
		}
		seen[s.Name] = struct{}{}
		if s.Run == nil {
			return fmt.Errorf("pipeline %q: step %q has nil handler", d.Type, s.Name)
		}
	}
	return nil
}

// StepIndex returns the position of step s in the definition, or -1 if
// s is not one of its steps. Restart validation is exactly this
// membership check.
func (d PipelineDefinition) StepIndex(s Step) int {
	for i, def := range d.Steps {
		if def.Name == s {
			return i
		}
	}
	return -1
}

// StepNames returns the ordered step names.
func (d PipelineDefinition) StepNames() []Step {
	names := make([]Step, len(d.Steps))
	for i, s := range d.Steps {
		names[i] = s.Name
	}
	return names
}

// ExecutionHooks carries the callbacks the runner wires into an
// Execution. Both hooks are optional; nil hooks are no-ops.
type ExecutionHooks struct {
	// Log appends an entry to the task's persistent log.
	Log func(level LogLevel, msg string)

	// Notify tells the scheduler the worker is about to block on a slow
	// external call, so it may opportunistically drain the queue.
	Notify func()
}

// Execution is the per-run context handed to step functions. It carries
// a snapshot of the task, the task-scoped staging directory, and the
// artifacts produced so far.
//
// An Execution is used by a single worker goroutine; it is not safe for
// concurrent use.
type Execution struct {
	// Task is a snapshot of the task record at run start. Step bodies
	// read Params from it; they must not write task state directly.
	Task *Task

	// Dir is the task's staging directory. Steps persist artifacts
	// under it so a restart can pick up where the last run stopped.
	Dir string

	hooks     ExecutionHooks
	artifacts map[string]string
}

// NewExecution builds an Execution rooted at dir for the given task.
// The directory must already exist.
func NewExecution(task *Task, dir string, hooks ExecutionHooks) *Execution {
	return &Execution{
		Task:      task,
		Dir:       dir,
		hooks:     hooks,
		artifacts: make(map[string]string),
	}
}

// Path returns a path inside the staging directory.
func (x *Execution) Path(elem ...string) string {
	return filepath.Join(append([]string{x.Dir}, elem...)...)
}

// PutArtifact durably stores a named artifact: it is written to the
// staging directory (overwriting any previous version) and kept in
// memory for cheap access by later steps.
func (x *Execution) PutArtifact(name, content string) error {
	path := x.Path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("stage artifact %q: %w", name, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("stage artifact %q: %w", name, err)
	}
	x.artifacts[name] = content
	return nil
}

// Artifact returns a named artifact produced by an earlier step. The
// in-memory copy is preferred; if this run never produced the artifact
// (a restart skipped the producing step), the staged file is read
// instead. When neither exists the error says so explicitly, and the
// calling step is expected to fail the task with it.
func (x *Execution) Artifact(name string) (string, error) {
	if content, ok := x.artifacts[name]; ok {
		return content, nil
	}
	path := x.Path(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("artifact %q unavailable: not produced in this run and no staged copy at %s", name, path)
		}
		return "", fmt.Errorf("read staged artifact %q: %w", name, err)
	}
	content := string(data)
	x.artifacts[name] = content
	return content, nil
}

// Logf appends an info-level entry to the task log.
func (x *Execution) Logf(format string, args ...any) {
	x.log(LogInfo, format, args...)
}

// Warnf appends a warning-level entry to the task log. Per-unit
// sub-failures that do not fail the step are recorded with it.
func (x *Execution) Warnf(format string, args ...any) {
	x.log(LogWarning, format, args...)
}

// Errorf appends an error-level entry to the task log.
func (x *Execution) Errorf(format string, args ...any) {
	x.log(LogError, format, args...)
}

func (x *Execution) log(level LogLevel, format string, args ...any) {
	if x.hooks.Log == nil {
		return
	}
	x.hooks.Log(level, fmt.Sprintf(format, args...))
}

// NotifyWaiting signals the scheduler that this worker is about to
// block on a slow external call. It is a cooperative hint, never a
// guarantee that another task starts.
func (x *Execution) NotifyWaiting() {
	if x.hooks.Notify != nil {
		x.hooks.Notify()
	}
}
