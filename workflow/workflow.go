package workflow

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/internal/util"
	"github.com/hupe1980/flowmesh/logging"
)

// Status is the run state machine: Ready → Running → {Completed, Failed}.
type Status string

const (
	// StatusReady means the workflow has been constructed but not started.
	StatusReady Status = "ready"
	// StatusRunning means a run is in progress.
	StatusRunning Status = "running"
	// StatusCompleted means the run finished every step successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means a step on the sequential path failed; the result
	// preserves the partial history up to the failure point.
	StatusFailed Status = "failed"
)

// Config carries workflow-level flags. The engine acts on Verbose; the
// remaining flags are parsed from declarative documents (with their
// aliases) and carried for the host application.
type Config struct {
	Planning      bool
	Reasoning     bool
	Verbose       bool
	AutoCompact   bool
	ToolOutputMax int
	MemoryConfig  map[string]any
}

// Options configures workflow construction.
type Options struct {
	Description string
	Variables   map[string]any
	Config      Config
	Callbacks   *CallbackManager
	Logger      logging.Logger
}

// Workflow is a static, immutable step graph with its initial variables and
// config. Build it once, programmatically via New or declaratively via the
// parser package, and execute it with Start. A Workflow instance runs one
// execution at a time.
type Workflow struct {
	name        string
	description string
	steps       []*Step
	variables   map[string]any
	config      Config
	callbacks   *CallbackManager
	logger      logging.Logger

	running atomic.Bool
}

// New constructs and validates a Workflow. Structural problems (a loop with
// both or neither of step/steps, a task without an agent, an empty route)
// surface here as ConfigErrors, before any execution.
func New(name string, steps []*Step, optFns ...func(o *Options)) (*Workflow, error) {
	opts := Options{
		Variables: map[string]any{},
		Logger:    logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	if len(steps) == 0 {
		return nil, core.NewConfigError(name, "workflow has no steps")
	}
	if err := validateSteps(steps); err != nil {
		return nil, err
	}

	return &Workflow{
		name:        name,
		description: opts.Description,
		steps:       steps,
		variables:   opts.Variables,
		config:      opts.Config,
		callbacks:   opts.Callbacks,
		logger:      opts.Logger,
	}, nil
}

// Name returns the workflow name.
func (w *Workflow) Name() string { return w.name }

// Description returns the workflow description.
func (w *Workflow) Description() string { return w.description }

// Config returns the workflow-level config flags.
func (w *Workflow) Config() Config { return w.config }

// Result aggregates the outcome of one run.
type Result struct {
	RunID       string
	Status      Status
	Variables   map[string]any
	History     []StepRecord
	FinalOutput string
	Duration    time.Duration
}

// Start executes the workflow to completion or first sequential failure.
// The initial input seeds both the "input" variable and previous_output, so
// the first step may reference either. On failure the returned Result is
// non-nil with Status Failed and the partial history preserved, alongside
// the step error.
func (w *Workflow) Start(ctx context.Context, input string) (*Result, error) {
	if !w.running.CompareAndSwap(false, true) {
		return nil, core.ErrWorkflowRunning
	}
	defer w.running.Store(false)

	runID := util.NewID()
	logger := w.logger
	start := time.Now()

	ec := NewExecutionContext(w.variables)
	ec.Variables["input"] = input
	ec.PreviousResult = input

	exec := &executor{logger: logger}

	logger.Info("workflow run started", "workflow", w.name, "run_id", runID, "steps", len(w.steps))
	w.dispatchCallback(ctx, &CallbackContext{Workflow: w.name, RunID: runID, Type: CallbackWorkflowStart, Status: StatusRunning, Snapshot: ec.Snapshot()})

	// The cursor is a queue over the top-level step list. A Route jump
	// splices the selected branch in front of the remaining steps, so the
	// main sequence resumes once the branch is exhausted.
	queue := make([]*Step, len(w.steps))
	copy(queue, w.steps)

	var runErr error
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]

		if s.Kind == KindRoute {
			branch, label, err := exec.selectBranch(s, ec)
			ec.record(StepRecord{Step: s.Name, Kind: KindRoute, Output: label, Err: err})
			w.notifyStep(ctx, runID, ec)
			if err != nil {
				runErr = err
				break
			}
			if branch != nil {
				spliced := make([]*Step, 0, len(branch)+len(queue))
				spliced = append(spliced, branch...)
				queue = append(spliced, queue...)
			}
			continue
		}

		err := exec.executeStep(ctx, s, ec)
		w.notifyStep(ctx, runID, ec)
		if err != nil {
			runErr = err
			break
		}
	}

	result := &Result{
		RunID:       runID,
		Status:      StatusCompleted,
		Variables:   ec.Variables,
		History:     ec.History,
		FinalOutput: ec.PreviousResult,
		Duration:    time.Since(start),
	}
	if runErr != nil {
		result.Status = StatusFailed
		result.FinalOutput = ""
	}

	w.dispatchCallback(ctx, &CallbackContext{Workflow: w.name, RunID: runID, Type: CallbackWorkflowComplete, Status: result.Status, Snapshot: ec.Snapshot()})
	logger.Info("workflow run finished", "workflow", w.name, "run_id", runID, "status", string(result.Status), "duration", result.Duration)

	if runErr != nil {
		return result, runErr
	}
	return result, nil
}

// notifyStep dispatches the step-complete callback with the most recent
// history record and logs it when verbose.
func (w *Workflow) notifyStep(ctx context.Context, runID string, ec *ExecutionContext) {
	if len(ec.History) == 0 {
		return
	}
	rec := ec.History[len(ec.History)-1]
	if w.config.Verbose {
		w.logger.Info("step completed", "step", rec.Step, "kind", rec.Kind.String(), "duration", rec.Duration)
	}
	w.dispatchCallback(ctx, &CallbackContext{Workflow: w.name, RunID: runID, Type: CallbackStepComplete, Status: StatusRunning, Step: &rec, Snapshot: ec.Snapshot()})
}

func (w *Workflow) dispatchCallback(ctx context.Context, cc *CallbackContext) {
	if w.callbacks == nil {
		return
	}
	if err := w.callbacks.dispatch(ctx, cc); err != nil {
		w.logger.Warn("lifecycle callback failed", "type", string(cc.Type), "error", err.Error())
	}
}
