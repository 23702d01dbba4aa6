package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/flowmesh/core"
)

func TestKind_String(t *testing.T) {
	assert.Equal(t, "task", KindTask.String())
	assert.Equal(t, "route", KindRoute.String())
	assert.Equal(t, "parallel", KindParallel.String())
	assert.Equal(t, "loop", KindLoop.String())
	assert.Equal(t, "repeat", KindRepeat.String())
	assert.Equal(t, "unknown", Kind(99).String())
}

func TestNewTask_Defaults(t *testing.T) {
	step := NewTask("t", newEchoAgent("a"), "do {{input}}")

	require.Equal(t, KindTask, step.Kind)
	require.NotNil(t, step.Task)
	assert.Equal(t, 2, step.Task.MaxRetries)
	assert.Nil(t, step.Task.Guardrail)
	assert.Empty(t, step.Task.OutputVariable)
	assert.NoError(t, step.validate())
}

func TestNewParallel_WorkerDefaults(t *testing.T) {
	sub := []*Step{NewTask("t", newEchoAgent("a"), "x")}

	step := NewParallel("p", sub)
	assert.Equal(t, DefaultMaxWorkers, step.Parallel.MaxWorkers)

	step = NewParallel("p", sub, func(o *ParallelOptions) { o.MaxWorkers = -1 })
	assert.Equal(t, DefaultMaxWorkers, step.Parallel.MaxWorkers)

	step = NewParallel("p", sub, func(o *ParallelOptions) { o.MaxWorkers = 8 })
	assert.Equal(t, 8, step.Parallel.MaxWorkers)
}

func TestNewRepeat_Defaults(t *testing.T) {
	inner := NewTask("t", newEchoAgent("a"), "x")
	step := NewRepeat("r", inner, "done")

	assert.Equal(t, 3, step.Repeat.MaxIterations)
	assert.NoError(t, step.validate())
}

func TestValidate_TaskErrors(t *testing.T) {
	var cfgErr *core.ConfigError

	step := NewTask("t", nil, "x")
	err := step.validate()
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Error(), "without agent")

	step = NewTask("t", newEchoAgent("a"), "x", func(o *TaskOptions) { o.MaxRetries = -1 })
	require.ErrorAs(t, step.validate(), &cfgErr)
}

func TestValidate_LoopBodyForms(t *testing.T) {
	inner := NewTask("t", newEchoAgent("a"), "{{item}}")

	// Exactly one of step / steps.
	assert.NoError(t, NewLoop("l", "items", WithLoopStep(inner)).validate())
	assert.NoError(t, NewLoop("l", "items", WithLoopSteps(inner)).validate())

	var cfgErr *core.ConfigError
	both := NewLoop("l", "items", WithLoopStep(inner), WithLoopSteps(inner))
	require.ErrorAs(t, both.validate(), &cfgErr)
	assert.Contains(t, cfgErr.Error(), "both step and steps")

	neither := NewLoop("l", "items")
	require.ErrorAs(t, neither.validate(), &cfgErr)

	noOver := NewLoop("l", "", WithLoopStep(inner))
	require.ErrorAs(t, noOver.validate(), &cfgErr)
}

func TestValidate_RouteErrors(t *testing.T) {
	var cfgErr *core.ConfigError

	empty := NewRoute("r", nil)
	require.ErrorAs(t, empty.validate(), &cfgErr)

	// Invalid steps inside a branch surface with the branch label.
	bad := NewRoute("r", map[string][]*Step{
		"x": {NewTask("t", nil, "a")},
	})
	err := bad.validate()
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Error(), `branch "x"`)
}

func TestValidate_RepeatErrors(t *testing.T) {
	var cfgErr *core.ConfigError
	inner := NewTask("t", newEchoAgent("a"), "x")

	noUntil := NewRepeat("r", inner, "")
	require.ErrorAs(t, noUntil.validate(), &cfgErr)

	noBudget := NewRepeat("r", inner, "done", func(o *RepeatOptions) { o.MaxIterations = 0 })
	require.ErrorAs(t, noBudget.validate(), &cfgErr)

	noStep := NewRepeat("r", nil, "done")
	require.ErrorAs(t, noStep.validate(), &cfgErr)
}
