package pipeline

import (
	"context"
	"testing"
)

func noopStep(ctx context.Context, exec *Execution) error { return nil }

func TestPipelineBuilder_BuildAndRegister(t *testing.T) {
	b := NewPipeline("builder-sample").
		Step("first", noopStep).
		Step("second", noopStep).
		Step("third", noopStep)

	if b.Type() != "builder-sample" {
		t.Fatalf("type = %q, want builder-sample", b.Type())
	}

	def := b.Definition()
	if err := def.Validate(); err != nil {
		t.Fatalf("definition invalid: %v", err)
	}
	want := []Step{"first", "second", "third"}
	got := def.StepNames()
	if len(got) != len(want) {
		t.Fatalf("got %d steps, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("step %d = %q, want %q", i, got[i], want[i])
		}
	}

	bundle, err := NewMemoryBundle(Config{WorkDir: t.TempDir()})
	if err != nil {
		t.Fatalf("bundle: %v", err)
	}
	if err := b.Register(bundle); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := b.Register(bundle); err == nil {
		t.Fatal("second register of the same type should fail")
	}
}

func TestPipelineBuilder_PanicsOnBadSteps(t *testing.T) {
	assertPanics := func(name string, fn func()) {
		defer func() {
			if recover() == nil {
				t.Fatalf("%s: expected panic", name)
			}
		}()
		fn()
	}

	assertPanics("empty name", func() {
		NewPipeline("x").Step("", noopStep)
	})
	assertPanics("nil func", func() {
		NewPipeline("x").Step("ok", nil)
	})
}
