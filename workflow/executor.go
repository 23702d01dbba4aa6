package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/logging"
)

// executor dispatches steps against an execution context. It owns no state
// of its own beyond the logger; all mutation happens through the context it
// is handed, so one executor serves a whole run including its concurrent
// phases (each of which operates on an isolated clone).
type executor struct {
	logger logging.Logger
}

// executeStep dispatches over the step kind. The switch is exhaustive over
// the closed Kind set; the default arm only fires for a corrupted Step that
// bypassed construction-time validation.
func (e *executor) executeStep(ctx context.Context, s *Step, ec *ExecutionContext) error {
	switch s.Kind {
	case KindTask:
		return e.executeTask(ctx, s, ec)
	case KindRoute:
		return e.executeRoute(ctx, s, ec)
	case KindParallel:
		return e.executeParallel(ctx, s, ec)
	case KindLoop:
		return e.executeLoop(ctx, s, ec)
	case KindRepeat:
		return e.executeRepeat(ctx, s, ec)
	default:
		return core.NewConfigError(s.Name, "unknown step kind %d", s.Kind)
	}
}

// runSequence executes steps in order against the same context, chaining
// previous_output, stopping at the first failure.
func (e *executor) runSequence(ctx context.Context, steps []*Step, ec *ExecutionContext) error {
	for _, s := range steps {
		if err := e.executeStep(ctx, s, ec); err != nil {
			return err
		}
	}
	return nil
}

// executeTask renders the action template, invokes the bound agent and runs
// the guardrail retry loop. On success previous_output and the configured
// output variable are updated.
func (e *executor) executeTask(ctx context.Context, s *Step, ec *ExecutionContext) error {
	t := s.Task
	start := time.Now()

	rendered, missing := t.Action.Resolve(ec)
	for _, name := range missing {
		e.logger.Warn("unresolved template placeholder", "step", s.Name, "placeholder", name)
	}

	var (
		output  string
		execErr error
	)
	for attempt := 0; ; attempt++ {
		out, err := t.Agent.Invoke(ctx, rendered)
		if err != nil {
			execErr = fmt.Errorf("agent %s: %w", t.Agent.Name(), err)
			break
		}
		output = out

		if t.Guardrail == nil {
			break
		}
		gErr := t.Guardrail(output)
		if gErr == nil {
			break
		}
		e.logger.Warn("guardrail rejected output", "step", s.Name, "attempt", attempt+1, "reason", gErr.Error())
		if attempt >= t.MaxRetries {
			execErr = fmt.Errorf("%w after %d attempts: %v", core.ErrGuardrailExhausted, attempt+1, gErr)
			break
		}
	}

	if execErr != nil {
		stepErr := core.NewStepExecutionError(s.Name, execErr)
		ec.record(StepRecord{Step: s.Name, Kind: KindTask, Err: stepErr, Duration: time.Since(start)})
		return stepErr
	}

	ec.record(StepRecord{Step: s.Name, Kind: KindTask, Output: output, Duration: time.Since(start)})
	ec.PreviousResult = output
	if t.OutputVariable != "" {
		ec.Variables[t.OutputVariable] = output
	}
	return nil
}

// selectBranch resolves the route label (the previous step's output,
// trimmed and lowercased) against the branch map. A nil branch with nil
// error means pass-through.
func (e *executor) selectBranch(s *Step, ec *ExecutionContext) ([]*Step, string, error) {
	label := strings.ToLower(strings.TrimSpace(ec.PreviousResult))
	for key, branch := range s.Route.Branches {
		if strings.ToLower(strings.TrimSpace(key)) == label {
			return branch, label, nil
		}
	}
	if s.Route.Default != nil {
		return s.Route.Default, label, nil
	}
	if s.Route.Strict {
		return nil, label, core.NewStepExecutionError(s.Name, fmt.Errorf("no branch matches label %q and no default configured", label))
	}
	e.logger.Debug("route label unmatched, passing through", "step", s.Name, "label", label)
	return nil, label, nil
}

// executeRoute handles a Route that appears nested inside a loop body or
// branch: the selected branch runs inline in the current context. Top-level
// routes are spliced into the runner's cursor instead (see run.execute).
func (e *executor) executeRoute(ctx context.Context, s *Step, ec *ExecutionContext) error {
	branch, label, err := e.selectBranch(s, ec)
	if err != nil {
		ec.record(StepRecord{Step: s.Name, Kind: KindRoute, Output: label, Err: err})
		return err
	}
	ec.record(StepRecord{Step: s.Name, Kind: KindRoute, Output: label})
	if branch == nil {
		return nil
	}
	return e.runSequence(ctx, branch, ec)
}

// executeParallel fans the sub-steps out onto a bounded worker pool. Each
// unit runs against a clone taken at fan-out time, so siblings never
// observe each other's writes. After the join, results merge back into the
// single-writer orchestrating goroutine in declaration order regardless of
// completion order. A failing unit leaves its error in its slot; the block
// itself only fails when FailFast is configured.
func (e *executor) executeParallel(ctx context.Context, s *Step, ec *ExecutionContext) error {
	p := s.Parallel
	start := time.Now()
	n := len(p.Steps)

	clones := make([]*ExecutionContext, n)
	errs := make([]error, n)
	for i := range p.Steps {
		clone := ec.Clone()
		clone.History = nil
		clones[i] = clone
	}

	sem := make(chan struct{}, p.MaxWorkers)
	var wg sync.WaitGroup
	for i, sub := range p.Steps {
		wg.Add(1)
		go func(i int, sub *Step) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			errs[i] = e.executeStep(ctx, sub, clones[i])
		}(i, sub)
	}
	wg.Wait()

	// Merge on the orchestrating goroutine, declaration order.
	outputs := make([]string, n)
	var firstErr error
	for i := range p.Steps {
		ec.History = append(ec.History, clones[i].History...)
		if errs[i] != nil {
			if firstErr == nil {
				firstErr = errs[i]
			}
			continue
		}
		outputs[i] = clones[i].PreviousResult
	}

	if firstErr != nil && p.FailFast {
		stepErr := core.NewStepExecutionError(s.Name, firstErr)
		ec.record(StepRecord{Step: s.Name, Kind: KindParallel, Err: stepErr, Duration: time.Since(start)})
		return stepErr
	}

	joined := joinNonEmpty(outputs)
	ec.record(StepRecord{Step: s.Name, Kind: KindParallel, Output: joined, Err: firstErr, Duration: time.Since(start)})
	ec.PreviousResult = joined
	if p.OutputVariable != "" {
		ec.Variables[p.OutputVariable] = outputs
	}
	return nil
}

// executeLoop iterates the collection held by the over variable. Every
// element gets a cloned context carrying item and loop_index. Nested steps
// chain previous_output sequentially within their own iteration only.
// Sequential loops abort the run on the first failing iteration; parallel
// loops are best-effort like Parallel blocks.
func (e *executor) executeLoop(ctx context.Context, s *Step, ec *ExecutionContext) error {
	l := s.Loop
	start := time.Now()

	items, err := sequenceOf(ec.Variables[l.Over])
	if err != nil {
		stepErr := core.NewStepExecutionError(s.Name, fmt.Errorf("variable %q: %w", l.Over, err))
		ec.record(StepRecord{Step: s.Name, Kind: KindLoop, Err: stepErr, Duration: time.Since(start)})
		return stepErr
	}
	if items == nil {
		e.logger.Warn("loop variable missing or empty, skipping", "step", s.Name, "over", l.Over)
	}

	n := len(items)
	clones := make([]*ExecutionContext, n)
	errs := make([]error, n)
	for i, item := range items {
		clone := ec.Clone()
		clone.History = nil
		clone.Item = item
		clone.LoopIndex = i
		clone.HasItem = true
		clones[i] = clone
	}

	body := func(iterCtx *ExecutionContext) error {
		if l.Step != nil {
			return e.executeStep(ctx, l.Step, iterCtx)
		}
		return e.runSequence(ctx, l.Steps, iterCtx)
	}

	if !l.Parallel {
		for i := 0; i < n; i++ {
			if errs[i] = body(clones[i]); errs[i] != nil {
				// Merge completed iterations plus the failing one so the
				// partial history survives, then abort the run.
				e.mergeIterations(s, ec, clones[:i+1], errs[:i+1], nil, start)
				return errs[i]
			}
		}
	} else {
		sem := make(chan struct{}, l.MaxWorkers)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				errs[i] = body(clones[i])
			}(i)
		}
		wg.Wait()
	}

	outputs := make([]string, n)
	e.mergeIterations(s, ec, clones, errs, outputs, start)
	ec.PreviousResult = joinNonEmpty(outputs)
	if l.OutputVariable != "" {
		ec.Variables[l.OutputVariable] = outputs
	}
	return nil
}

// mergeIterations folds iteration clones back into the parent context in
// original iteration order. outputs may be nil when the caller is merging a
// partial (aborted) loop and only cares about history.
func (e *executor) mergeIterations(s *Step, ec *ExecutionContext, clones []*ExecutionContext, errs []error, outputs []string, start time.Time) {
	var firstErr error
	for i := range clones {
		ec.History = append(ec.History, clones[i].History...)
		if errs[i] != nil {
			if firstErr == nil {
				firstErr = errs[i]
			}
			continue
		}
		if outputs != nil {
			outputs[i] = clones[i].PreviousResult
		}
	}
	ec.record(StepRecord{Step: s.Name, Kind: KindLoop, Output: joinNonEmpty(outputs), Err: firstErr, Duration: time.Since(start)})
}

// executeRepeat re-executes the wrapped step until its output contains the
// until keyword (case-insensitive) or the iteration budget is spent.
// Exhaustion without convergence is not an error; the last output is
// retained and the record carries converged=false.
func (e *executor) executeRepeat(ctx context.Context, s *Step, ec *ExecutionContext) error {
	r := s.Repeat
	start := time.Now()
	needle := strings.ToLower(r.Until)

	var (
		output    string
		converged bool
		iters     int
	)
	for i := 0; i < r.MaxIterations; i++ {
		iters++
		if err := e.executeStep(ctx, r.Step, ec); err != nil {
			ec.record(StepRecord{Step: s.Name, Kind: KindRepeat, Err: err, Iterations: iters, Duration: time.Since(start)})
			return err
		}
		output = ec.PreviousResult
		if strings.Contains(strings.ToLower(output), needle) {
			converged = true
			break
		}
	}
	if !converged {
		e.logger.Info("repeat exhausted without convergence", "step", s.Name, "iterations", iters)
	}

	ec.record(StepRecord{Step: s.Name, Kind: KindRepeat, Output: output, Iterations: iters, Converged: converged, Duration: time.Since(start)})
	ec.PreviousResult = output
	return nil
}

// sequenceOf normalizes a loop collection to []any. A missing value yields
// nil (skip, not an error); a non-sequence value is an error.
func sequenceOf(v any) ([]any, error) {
	switch items := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return items, nil
	case []string:
		out := make([]any, len(items))
		for i, s := range items {
			out[i] = s
		}
		return out, nil
	case []map[string]any:
		out := make([]any, len(items))
		for i, m := range items {
			out[i] = m
		}
		return out, nil
	default:
		return nil, fmt.Errorf("not an ordered sequence (got %T)", v)
	}
}

// joinNonEmpty joins successful slot outputs, skipping empty slots left by
// failed units.
func joinNonEmpty(outputs []string) string {
	parts := make([]string, 0, len(outputs))
	for _, o := range outputs {
		if o != "" {
			parts = append(parts, o)
		}
	}
	return strings.Join(parts, "\n\n")
}
