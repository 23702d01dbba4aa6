package workflow

import "time"

// ExecutionContext is the mutable state visible to steps during one
// workflow run or one loop iteration: named variables, the previous step's
// output, the active iteration scope and the ordered history of step
// outputs.
//
// The top-level context persists across sequential steps. Loop iterations
// and parallel branches receive a Clone that is discarded after the unit's
// results are merged; an iteration context never outlives its iteration.
// No locking is required because all mutation happens on the orchestrating
// goroutine; concurrent units only ever touch their own clone.
type ExecutionContext struct {
	// Variables holds the workflow-level variable map. Keys set via a
	// step's output_variable land here.
	Variables map[string]any

	// PreviousResult is the textual output of the most recently completed
	// step, chained into the next step's template scope as
	// previous_output.
	PreviousResult string

	// Item and LoopIndex form the iteration scope inside a Loop. HasItem
	// distinguishes "no iteration scope" from a nil element.
	Item      any
	LoopIndex int
	HasItem   bool

	// History records every executed step's output in completion order
	// for sequential paths and declaration order after concurrent merges.
	History []StepRecord
}

// StepRecord captures the outcome of one executed step for the run history.
type StepRecord struct {
	Step     string
	Kind     Kind
	Output   string
	Err      error
	Duration time.Duration

	// Iterations and Converged are populated by Repeat steps only.
	Iterations int
	Converged  bool
}

// NewExecutionContext builds a context seeded with a copy of the given
// variables.
func NewExecutionContext(variables map[string]any) *ExecutionContext {
	vars := make(map[string]any, len(variables))
	for k, v := range variables {
		vars[k] = v
	}
	return &ExecutionContext{Variables: vars}
}

// Clone returns an isolated copy for a loop iteration or parallel branch.
// The variable map is copied one level deep. Sharing the values is safe
// because concurrent units never mutate them in place; they write results
// into their own slot that the orchestrator merges after the join.
func (ec *ExecutionContext) Clone() *ExecutionContext {
	vars := make(map[string]any, len(ec.Variables))
	for k, v := range ec.Variables {
		vars[k] = v
	}
	history := make([]StepRecord, len(ec.History))
	copy(history, ec.History)
	return &ExecutionContext{
		Variables:      vars,
		PreviousResult: ec.PreviousResult,
		Item:           ec.Item,
		LoopIndex:      ec.LoopIndex,
		HasItem:        ec.HasItem,
		History:        history,
	}
}

// Snapshot is a read-only copy of the context handed to lifecycle
// callbacks. Mutating a snapshot never affects the live run.
type Snapshot struct {
	Variables      map[string]any
	PreviousResult string
	History        []StepRecord
}

// Snapshot returns a point-in-time copy safe to hand outside the engine.
func (ec *ExecutionContext) Snapshot() Snapshot {
	vars := make(map[string]any, len(ec.Variables))
	for k, v := range ec.Variables {
		vars[k] = v
	}
	history := make([]StepRecord, len(ec.History))
	copy(history, ec.History)
	return Snapshot{Variables: vars, PreviousResult: ec.PreviousResult, History: history}
}

// record appends a step outcome to the run history.
func (ec *ExecutionContext) record(rec StepRecord) {
	ec.History = append(ec.History, rec)
}
