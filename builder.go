package pipeline

import (
	"fmt"

	"github.com/wengzhiwen/runjplib-pipeline/pkg/api"
)

// PipelineBuilder provides a fluent API for defining task pipelines:
//
//	def := pipeline.NewPipeline("report_export").
//	    Step("collect", collectRows).
//	    Step("render", renderReport).
//	    Step("upload", uploadReport).
//	    Definition()
//
//	if err := bundle.Register(def); err != nil {
//	    log.Fatal(err)
//	}
//
// Steps run strictly in the declared order; the step names double as
// the restart points exposed by RestartFromStep.
type PipelineBuilder struct {
	def api.PipelineDefinition
}

// NewPipeline creates a builder for the given task type.
func NewPipeline(taskType string) *PipelineBuilder {
	return &PipelineBuilder{
		def: api.PipelineDefinition{
			Type:  taskType,
			Steps: make([]api.StepDefinition, 0),
		},
	}
}

// Type returns the task type the builder defines.
func (b *PipelineBuilder) Type() string {
	return b.def.Type
}

// Definition returns the underlying PipelineDefinition.
func (b *PipelineBuilder) Definition() PipelineDefinition {
	return b.def
}

// Step appends a step to the pipeline.
func (b *PipelineBuilder) Step(name Step, fn StepFunc) *PipelineBuilder {
	if name == "" {
		panic("pipeline: step name must not be empty")
	}
	if fn == nil {
		panic(fmt.Sprintf("pipeline: step %q has nil function", name))
	}

	b.def.Steps = append(b.def.Steps, api.StepDefinition{
		Name: name,
		Run:  fn,
	})
	return b
}

// Register registers the built pipeline with the given bundle.
func (b *PipelineBuilder) Register(bundle *Bundle) error {
	return bundle.Register(b.def)
}

// MustRegister is like Register but panics on error. Useful for
// initialization in main().
func (b *PipelineBuilder) MustRegister(bundle *Bundle) {
	if err := b.Register(bundle); err != nil {
		panic(err)
	}
}
