package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/flowmesh/core"
)

// fakeAgent is a scriptable test agent that records every input it was
// invoked with.
type fakeAgent struct {
	name string
	fn   func(ctx context.Context, input string) (string, error)

	mu    sync.Mutex
	calls []string
}

func newFakeAgent(name string, fn func(ctx context.Context, input string) (string, error)) *fakeAgent {
	return &fakeAgent{name: name, fn: fn}
}

// newEchoAgent returns an agent that echoes its input unchanged.
func newEchoAgent(name string) *fakeAgent {
	return newFakeAgent(name, func(_ context.Context, input string) (string, error) {
		return input, nil
	})
}

// newPrefixAgent returns an agent producing prefix+input.
func newPrefixAgent(name, prefix string) *fakeAgent {
	return newFakeAgent(name, func(_ context.Context, input string) (string, error) {
		return prefix + input, nil
	})
}

func (a *fakeAgent) Name() string { return a.name }

func (a *fakeAgent) Invoke(ctx context.Context, input string) (string, error) {
	a.mu.Lock()
	a.calls = append(a.calls, input)
	a.mu.Unlock()
	return a.fn(ctx, input)
}

func (a *fakeAgent) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.calls))
	copy(out, a.calls)
	return out
}

// callLog records step invocations across agents to assert ordering.
type callLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *callLog) add(entry string) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.entries))
	copy(out, l.entries)
	return out
}

func mustRun(t *testing.T, steps []*Step, optFns ...func(o *Options)) *Result {
	t.Helper()
	wf, err := New("test", steps, optFns...)
	require.NoError(t, err)
	result, err := wf.Start(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, result.Status)
	return result
}

func withVariables(vars map[string]any) func(o *Options) {
	return func(o *Options) { o.Variables = vars }
}

func TestTask_ChainsPreviousOutput(t *testing.T) {
	f1 := newPrefixAgent("f1", "1:")
	f2 := newPrefixAgent("f2", "2:")

	wf, err := New("test", []*Step{
		NewTask("first", f1, "{{input}}"),
		NewTask("second", f2, "{{previous_output}}"),
	})
	require.NoError(t, err)

	result, err := wf.Start(context.Background(), "x")
	require.NoError(t, err)

	assert.Equal(t, "2:1:x", result.FinalOutput)
	assert.Equal(t, []string{"x"}, f1.Calls())
	assert.Equal(t, []string{"1:x"}, f2.Calls())
}

func TestTask_OutputVariable(t *testing.T) {
	a := newPrefixAgent("a", "out:")

	result := mustRun(t, []*Step{
		NewTask("t", a, "{{topic}}", func(o *TaskOptions) { o.OutputVariable = "draft" }),
	}, withVariables(map[string]any{"topic": "go"}))

	assert.Equal(t, "out:go", result.Variables["draft"])
	assert.Equal(t, "out:go", result.FinalOutput)
}

func TestTask_UnresolvedPlaceholderRendersEmpty(t *testing.T) {
	a := newEchoAgent("a")

	mustRun(t, []*Step{NewTask("t", a, "before[{{nope}}]after")})

	assert.Equal(t, []string{"before[]after"}, a.Calls())
}

func TestTask_GuardrailRetriesThenSucceeds(t *testing.T) {
	var attempts atomic.Int32
	a := newFakeAgent("a", func(_ context.Context, _ string) (string, error) {
		return fmt.Sprintf("attempt-%d", attempts.Add(1)), nil
	})
	guard := func(output string) error {
		if output != "attempt-3" {
			return errors.New("not good enough")
		}
		return nil
	}

	result := mustRun(t, []*Step{
		NewTask("t", a, "go", func(o *TaskOptions) {
			o.Guardrail = guard
			o.MaxRetries = 2
		}),
	})

	assert.Equal(t, "attempt-3", result.FinalOutput)
	assert.Len(t, a.Calls(), 3)
}

func TestTask_GuardrailExhausted(t *testing.T) {
	a := newEchoAgent("a")
	guard := func(string) error { return errors.New("always rejected") }

	wf, err := New("test", []*Step{
		NewTask("t", a, "go", func(o *TaskOptions) {
			o.Guardrail = guard
			o.MaxRetries = 1
		}),
	})
	require.NoError(t, err)

	result, err := wf.Start(context.Background(), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrGuardrailExhausted)

	var stepErr *core.StepExecutionError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "t", stepErr.Step)

	// Initial attempt plus one retry.
	assert.Len(t, a.Calls(), 2)
	require.NotNil(t, result)
	assert.Equal(t, StatusFailed, result.Status)
}

func TestTask_AgentErrorFailsRun(t *testing.T) {
	boom := errors.New("model unavailable")
	a := newFakeAgent("a", func(_ context.Context, _ string) (string, error) {
		return "", boom
	})

	wf, err := New("test", []*Step{NewTask("t", a, "go")})
	require.NoError(t, err)

	result, err := wf.Start(context.Background(), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Empty(t, result.FinalOutput)
	require.Len(t, result.History, 1)
	assert.Error(t, result.History[0].Err)
}

func TestLoop_SequentialOrderAndChaining(t *testing.T) {
	log := &callLog{}
	f1 := newFakeAgent("f1", func(_ context.Context, input string) (string, error) {
		log.add("f1:" + input)
		return "1:" + input, nil
	})
	f2 := newFakeAgent("f2", func(_ context.Context, input string) (string, error) {
		log.add("f2:" + input)
		return "2:" + input, nil
	})

	result := mustRun(t, []*Step{
		NewLoop("fanout", "items",
			WithLoopSteps(
				NewTask("first", f1, "{{item}}"),
				NewTask("second", f2, "{{previous_output}}"),
			),
			func(o *LoopOptions) { o.OutputVariable = "results" },
		),
	}, withVariables(map[string]any{"items": []string{"a", "b"}}))

	// Sequential loops finish iteration i completely before iteration i+1.
	assert.Equal(t, []string{"f1:a", "f2:1:a", "f1:b", "f2:1:b"}, log.snapshot())
	assert.Equal(t, []string{"2:1:a", "2:1:b"}, result.Variables["results"])
}

func TestLoop_ParallelChainingIsPerIteration(t *testing.T) {
	f1 := newPrefixAgent("f1", "1:")
	f2 := newPrefixAgent("f2", "2:")

	result := mustRun(t, []*Step{
		NewLoop("fanout", "items",
			WithLoopSteps(
				NewTask("first", f1, "{{item}}"),
				NewTask("second", f2, "{{previous_output}}"),
			),
			func(o *LoopOptions) {
				o.Parallel = true
				o.OutputVariable = "results"
			},
		),
	}, withVariables(map[string]any{"items": []string{"a", "b", "c"}}))

	// Every second-step input is the same iteration's first-step output,
	// never a sibling's.
	for _, call := range f2.Calls() {
		assert.Contains(t, []string{"1:a", "1:b", "1:c"}, call)
	}
	assert.Equal(t, []string{"2:1:a", "2:1:b", "2:1:c"}, result.Variables["results"])
}

func TestLoop_ParallelItemIsolation(t *testing.T) {
	a := newEchoAgent("a")

	mustRun(t, []*Step{
		NewLoop("l", "items",
			WithLoopStep(NewTask("t", a, "{{item}}@{{loop_index}}")),
			func(o *LoopOptions) { o.Parallel = true },
		),
	}, withVariables(map[string]any{"items": []string{"a", "b", "c"}}))

	calls := a.Calls()
	sort.Strings(calls)
	assert.Equal(t, []string{"a@0", "b@1", "c@2"}, calls)
}

func TestLoop_ItemFieldAccess(t *testing.T) {
	a := newEchoAgent("a")
	items := []map[string]any{
		{"title": "first", "url": "u1"},
		{"title": "second", "url": "u2"},
	}

	result := mustRun(t, []*Step{
		NewLoop("l", "articles",
			WithLoopStep(NewTask("t", a, "{{item.title}}")),
			func(o *LoopOptions) {
				o.Parallel = true
				o.OutputVariable = "titles"
			},
		),
	}, withVariables(map[string]any{"articles": items}))

	calls := a.Calls()
	sort.Strings(calls)
	assert.Equal(t, []string{"first", "second"}, calls)
	assert.Equal(t, []string{"first", "second"}, result.Variables["titles"])
}

func TestLoop_ParallelMergeIsDeclarationOrder(t *testing.T) {
	// The first element finishes last; the merged output order must still
	// follow element order.
	a := newFakeAgent("a", func(_ context.Context, input string) (string, error) {
		if input == "a" {
			time.Sleep(50 * time.Millisecond)
		}
		return "done:" + input, nil
	})

	result := mustRun(t, []*Step{
		NewLoop("l", "items",
			WithLoopStep(NewTask("t", a, "{{item}}")),
			func(o *LoopOptions) {
				o.Parallel = true
				o.OutputVariable = "out"
			},
		),
	}, withVariables(map[string]any{"items": []string{"a", "b", "c"}}))

	assert.Equal(t, []string{"done:a", "done:b", "done:c"}, result.Variables["out"])

	// History holds iteration records in element order too.
	var outputs []string
	for _, rec := range result.History {
		if rec.Step == "t" {
			outputs = append(outputs, rec.Output)
		}
	}
	assert.Equal(t, []string{"done:a", "done:b", "done:c"}, outputs)
}

func TestLoop_MissingVariableSkips(t *testing.T) {
	a := newEchoAgent("a")

	result := mustRun(t, []*Step{
		NewLoop("l", "absent",
			WithLoopStep(NewTask("t", a, "{{item}}")),
			func(o *LoopOptions) { o.OutputVariable = "out" },
		),
	})

	assert.Empty(t, a.Calls())
	assert.Equal(t, []string{}, result.Variables["out"])
}

func TestLoop_NonSequenceFails(t *testing.T) {
	a := newEchoAgent("a")

	wf, err := New("test", []*Step{
		NewLoop("l", "items", WithLoopStep(NewTask("t", a, "{{item}}"))),
	}, withVariables(map[string]any{"items": 42}))
	require.NoError(t, err)

	result, err := wf.Start(context.Background(), "")
	require.Error(t, err)

	var stepErr *core.StepExecutionError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "l", stepErr.Step)
	assert.Equal(t, StatusFailed, result.Status)
}

func TestLoop_SequentialFailureKeepsPartialHistory(t *testing.T) {
	a := newFakeAgent("a", func(_ context.Context, input string) (string, error) {
		if input == "b" {
			return "", errors.New("boom")
		}
		return "ok:" + input, nil
	})

	wf, err := New("test", []*Step{
		NewLoop("l", "items", WithLoopStep(NewTask("t", a, "{{item}}"))),
	}, withVariables(map[string]any{"items": []string{"a", "b", "c"}}))
	require.NoError(t, err)

	result, err := wf.Start(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, StatusFailed, result.Status)

	// Iteration "c" never ran; the history holds the first iteration's
	// success and the second's failure.
	assert.Equal(t, []string{"a", "b"}, a.Calls())
	var succeeded, failed int
	for _, rec := range result.History {
		if rec.Step != "t" {
			continue
		}
		if rec.Err != nil {
			failed++
		} else {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, failed)
}

func TestParallel_DeclarationOrderMerge(t *testing.T) {
	slow := newFakeAgent("slow", func(_ context.Context, _ string) (string, error) {
		time.Sleep(40 * time.Millisecond)
		return "slow-result", nil
	})
	fast := newFakeAgent("fast", func(_ context.Context, _ string) (string, error) {
		return "fast-result", nil
	})

	result := mustRun(t, []*Step{
		NewParallel("p", []*Step{
			NewTask("s1", slow, "go"),
			NewTask("s2", fast, "go"),
		}, func(o *ParallelOptions) { o.OutputVariable = "out" }),
	})

	assert.Equal(t, []string{"slow-result", "fast-result"}, result.Variables["out"])
	assert.Equal(t, "slow-result\n\nfast-result", result.FinalOutput)
}

func TestParallel_BestEffortOnFailure(t *testing.T) {
	ok := newFakeAgent("ok", func(_ context.Context, _ string) (string, error) {
		return "fine", nil
	})
	bad := newFakeAgent("bad", func(_ context.Context, _ string) (string, error) {
		return "", errors.New("branch failed")
	})
	after := newEchoAgent("after")

	result := mustRun(t, []*Step{
		NewParallel("p", []*Step{
			NewTask("good", ok, "go"),
			NewTask("broken", bad, "go"),
		}, func(o *ParallelOptions) { o.OutputVariable = "out" }),
		NewTask("next", after, "{{previous_output}}"),
	})

	// The run continues; the failed slot is empty, the block record carries
	// the branch error.
	assert.Equal(t, []string{"fine", ""}, result.Variables["out"])
	assert.Equal(t, []string{"fine"}, after.Calls())

	var blockRec *StepRecord
	for i := range result.History {
		if result.History[i].Step == "p" {
			blockRec = &result.History[i]
		}
	}
	require.NotNil(t, blockRec)
	assert.Error(t, blockRec.Err)
}

func TestParallel_FailFast(t *testing.T) {
	ok := newFakeAgent("ok", func(_ context.Context, _ string) (string, error) {
		return "fine", nil
	})
	bad := newFakeAgent("bad", func(_ context.Context, _ string) (string, error) {
		return "", errors.New("branch failed")
	})

	wf, err := New("test", []*Step{
		NewParallel("p", []*Step{
			NewTask("good", ok, "go"),
			NewTask("broken", bad, "go"),
		}, func(o *ParallelOptions) { o.FailFast = true }),
	})
	require.NoError(t, err)

	result, err := wf.Start(context.Background(), "")
	require.Error(t, err)

	var stepErr *core.StepExecutionError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "p", stepErr.Step)
	assert.Equal(t, StatusFailed, result.Status)
}

func TestParallel_RespectsWorkerBound(t *testing.T) {
	var active, peak atomic.Int32
	busy := func(_ context.Context, _ string) (string, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		return "ok", nil
	}

	steps := make([]*Step, 6)
	for i := range steps {
		steps[i] = NewTask(fmt.Sprintf("s%d", i), newFakeAgent("a", busy), "go")
	}

	mustRun(t, []*Step{
		NewParallel("p", steps, func(o *ParallelOptions) { o.MaxWorkers = 2 }),
	})

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestParallel_SiblingIsolation(t *testing.T) {
	w1 := newFakeAgent("w1", func(_ context.Context, _ string) (string, error) {
		return "one", nil
	})
	w2 := newFakeAgent("w2", func(_ context.Context, input string) (string, error) {
		return "saw:" + input, nil
	})

	result := mustRun(t, []*Step{
		NewParallel("p", []*Step{
			NewTask("a", w1, "go", func(o *TaskOptions) { o.OutputVariable = "branch_var" }),
			// A sibling must not observe the other branch's writes; at
			// fan-out time neither branch_var nor a previous output exists.
			NewTask("b", w2, "[{{branch_var}}][{{previous_output}}]"),
		}),
	})

	assert.Equal(t, []string{"[][]"}, w2.Calls())
	// Branch variable writes stay inside the branch clone.
	assert.NotContains(t, result.Variables, "branch_var")
}

func TestRoute_NestedSelectsBranchPerIteration(t *testing.T) {
	classify := newFakeAgent("classify", func(_ context.Context, input string) (string, error) {
		if input == "bug" {
			return "Technical ", nil // match is trimmed and case-insensitive
		}
		return "billing", nil
	})
	tech := newPrefixAgent("tech", "tech:")
	bill := newPrefixAgent("bill", "bill:")

	result := mustRun(t, []*Step{
		NewLoop("triage", "tickets",
			WithLoopSteps(
				NewTask("classify", classify, "{{item}}"),
				NewRoute("dispatch", map[string][]*Step{
					"technical": {NewTask("handle-tech", tech, "{{item}}")},
					"billing":   {NewTask("handle-bill", bill, "{{item}}")},
				}),
			),
			func(o *LoopOptions) { o.OutputVariable = "handled" },
		),
	}, withVariables(map[string]any{"tickets": []string{"bug", "invoice"}}))

	assert.Equal(t, []string{"bug"}, tech.Calls())
	assert.Equal(t, []string{"invoice"}, bill.Calls())
	assert.Equal(t, []string{"tech:bug", "bill:invoice"}, result.Variables["handled"])
}

func TestRepeat_ConvergesEarly(t *testing.T) {
	var n atomic.Int32
	a := newFakeAgent("a", func(_ context.Context, _ string) (string, error) {
		if n.Add(1) < 3 {
			return "still refining", nil
		}
		return "all checks pass: DONE", nil
	})

	result := mustRun(t, []*Step{
		NewRepeat("refine", NewTask("t", a, "{{previous_output}}"), "done",
			func(o *RepeatOptions) { o.MaxIterations = 5 }),
	})

	assert.Len(t, a.Calls(), 3)
	assert.Equal(t, "all checks pass: DONE", result.FinalOutput)

	rec := result.History[len(result.History)-1]
	assert.Equal(t, KindRepeat, rec.Kind)
	assert.True(t, rec.Converged)
	assert.Equal(t, 3, rec.Iterations)
}

func TestRepeat_ExhaustionIsNotAnError(t *testing.T) {
	a := newFakeAgent("a", func(_ context.Context, _ string) (string, error) {
		return "still not there", nil
	})

	result := mustRun(t, []*Step{
		NewRepeat("refine", NewTask("t", a, "go"), "approved",
			func(o *RepeatOptions) { o.MaxIterations = 3 }),
	})

	assert.Len(t, a.Calls(), 3)
	assert.Equal(t, "still not there", result.FinalOutput)

	rec := result.History[len(result.History)-1]
	assert.False(t, rec.Converged)
	assert.Equal(t, 3, rec.Iterations)
}
