package runner

import (
	"fmt"
	"sync"

	"github.com/wengzhiwen/runjplib-pipeline/pkg/api"
)

// Registry holds the pipeline definitions the runner can execute, one
// per task type.
type Registry struct {
	mu     sync.RWMutex
	byType map[string]api.PipelineDefinition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byType: make(map[string]api.PipelineDefinition),
	}
}

// Register adds a definition. The definition must validate, and its
// type must not already be registered.
func (r *Registry) Register(def api.PipelineDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byType[def.Type]; exists {
		return fmt.Errorf("pipeline %q already registered", def.Type)
	}
	r.byType[def.Type] = def
	return nil
}

// Get returns the definition registered for the task type.
func (r *Registry) Get(taskType string) (api.PipelineDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.byType[taskType]
	if !ok {
		return api.PipelineDefinition{}, fmt.Errorf("no pipeline registered for task type %q", taskType)
	}
	return def, nil
}

// Types returns the registered task types, in no particular order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byType))
	for t := range r.byType {
		out = append(out, t)
	}
	return out
}
