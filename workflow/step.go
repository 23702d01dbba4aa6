package workflow

import (
	"github.com/hupe1980/flowmesh/core"
)

// Kind discriminates the closed set of step variants. The executor
// dispatches over it with an exhaustive switch so adding a variant is a
// compile-time visible change, not an open class hierarchy.
type Kind int

const (
	// KindTask is a single agent invocation.
	KindTask Kind = iota
	// KindRoute is a conditional branch over the previous step's output.
	KindRoute
	// KindParallel is a concurrent fan-out over sub-steps.
	KindParallel
	// KindLoop iterates a collection, one isolated context per element.
	KindLoop
	// KindRepeat re-executes a wrapped step until a convergence predicate
	// matches or the iteration budget is spent.
	KindRepeat
)

// String returns the step kind label used in logs and history.
func (k Kind) String() string {
	switch k {
	case KindTask:
		return "task"
	case KindRoute:
		return "route"
	case KindParallel:
		return "parallel"
	case KindLoop:
		return "loop"
	case KindRepeat:
		return "repeat"
	default:
		return "unknown"
	}
}

// DefaultMaxWorkers bounds the worker pool for Parallel blocks and parallel
// Loops when no explicit max_workers is configured.
const DefaultMaxWorkers = 4

// Step is one schedulable unit of workflow execution: a tagged union with
// exactly one variant payload set, matching its Kind. Steps are immutable
// after construction; validation happens in the constructors and again when
// a Workflow is assembled.
type Step struct {
	Name string
	Kind Kind

	Task     *TaskStep
	Route    *RouteStep
	Parallel *ParallelStep
	Loop     *LoopStep
	Repeat   *RepeatStep
}

// TaskStep invokes a single agent with a rendered action template. An
// optional guardrail may reject the output, triggering re-invocation up to
// MaxRetries additional attempts.
type TaskStep struct {
	Agent          core.Agent
	Action         *Template
	Guardrail      core.Guardrail
	MaxRetries     int
	OutputVariable string
}

// RouteStep selects one branch step list based on the previous step's
// output (trimmed, case-insensitive). An unmatched label falls back to the
// Default branch; without one the route is a pass-through no-op unless
// Strict is set, in which case it fails the step.
type RouteStep struct {
	Branches map[string][]*Step
	Default  []*Step
	Strict   bool
}

// ParallelStep fans its sub-steps out onto a bounded worker pool. Each
// sub-step runs against an isolated context clone; results merge back in
// declaration order. A failing sub-step does not cancel its siblings unless
// FailFast is set.
type ParallelStep struct {
	Steps          []*Step
	MaxWorkers     int
	OutputVariable string
	FailFast       bool
}

// LoopStep iterates the ordered collection held by the Over variable.
// Exactly one of Step or Steps must be set: a nested step list executes
// sequentially within each iteration, chaining previous_output inside the
// iteration only. Iterations run sequentially unless Parallel is set.
type LoopStep struct {
	Over           string
	Step           *Step
	Steps          []*Step
	Parallel       bool
	MaxWorkers     int
	OutputVariable string
}

// RepeatStep re-executes the wrapped step until its output contains Until
// (case-insensitive) or MaxIterations is reached. Exhausting the budget is
// recorded as converged=false, never as an error.
type RepeatStep struct {
	Step          *Step
	Until         string
	MaxIterations int
}

// TaskOptions configures NewTask.
type TaskOptions struct {
	Guardrail      core.Guardrail
	MaxRetries     int
	OutputVariable string
}

// NewTask builds a Task step invoking agent with the given action template.
// Defaults: 2 guardrail retries, no guardrail, no output variable.
func NewTask(name string, agent core.Agent, action string, optFns ...func(o *TaskOptions)) *Step {
	opts := TaskOptions{MaxRetries: 2}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Step{
		Name: name,
		Kind: KindTask,
		Task: &TaskStep{
			Agent:          agent,
			Action:         CompileTemplate(action),
			Guardrail:      opts.Guardrail,
			MaxRetries:     opts.MaxRetries,
			OutputVariable: opts.OutputVariable,
		},
	}
}

// RouteOptions configures NewRoute.
type RouteOptions struct {
	Default []*Step
	Strict  bool
}

// NewRoute builds a Route step branching on the previous step's output.
func NewRoute(name string, branches map[string][]*Step, optFns ...func(o *RouteOptions)) *Step {
	opts := RouteOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Step{
		Name:  name,
		Kind:  KindRoute,
		Route: &RouteStep{Branches: branches, Default: opts.Default, Strict: opts.Strict},
	}
}

// ParallelOptions configures NewParallel.
type ParallelOptions struct {
	MaxWorkers     int
	OutputVariable string
	FailFast       bool
}

// NewParallel builds a Parallel step fanning out over the given sub-steps.
func NewParallel(name string, steps []*Step, optFns ...func(o *ParallelOptions)) *Step {
	opts := ParallelOptions{MaxWorkers: DefaultMaxWorkers}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = DefaultMaxWorkers
	}
	return &Step{
		Name: name,
		Kind: KindParallel,
		Parallel: &ParallelStep{
			Steps:          steps,
			MaxWorkers:     opts.MaxWorkers,
			OutputVariable: opts.OutputVariable,
			FailFast:       opts.FailFast,
		},
	}
}

// LoopOptions configures NewLoop. Exactly one of Step or Steps must be set.
type LoopOptions struct {
	Step           *Step
	Steps          []*Step
	Parallel       bool
	MaxWorkers     int
	OutputVariable string
}

// WithLoopStep sets the single step executed per iteration.
func WithLoopStep(step *Step) func(o *LoopOptions) {
	return func(o *LoopOptions) { o.Step = step }
}

// WithLoopSteps sets the step list executed sequentially per iteration.
func WithLoopSteps(steps ...*Step) func(o *LoopOptions) {
	return func(o *LoopOptions) { o.Steps = steps }
}

// NewLoop builds a Loop step iterating the collection held by the over
// variable.
func NewLoop(name, over string, optFns ...func(o *LoopOptions)) *Step {
	opts := LoopOptions{MaxWorkers: DefaultMaxWorkers}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = DefaultMaxWorkers
	}
	return &Step{
		Name: name,
		Kind: KindLoop,
		Loop: &LoopStep{
			Over:           over,
			Step:           opts.Step,
			Steps:          opts.Steps,
			Parallel:       opts.Parallel,
			MaxWorkers:     opts.MaxWorkers,
			OutputVariable: opts.OutputVariable,
		},
	}
}

// RepeatOptions configures NewRepeat.
type RepeatOptions struct {
	MaxIterations int
}

// NewRepeat builds a Repeat step wrapping the given step with a
// convergence check. Default iteration budget is 3.
func NewRepeat(name string, step *Step, until string, optFns ...func(o *RepeatOptions)) *Step {
	opts := RepeatOptions{MaxIterations: 3}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Step{
		Name:   name,
		Kind:   KindRepeat,
		Repeat: &RepeatStep{Step: step, Until: until, MaxIterations: opts.MaxIterations},
	}
}

// validate checks the step's structural invariants recursively. Errors are
// ConfigErrors raised before any execution.
func (s *Step) validate() error {
	if s == nil {
		return core.NewConfigError("", "nil step")
	}
	switch s.Kind {
	case KindTask:
		if s.Task == nil {
			return core.NewConfigError(s.Name, "task step without task payload")
		}
		if s.Task.Agent == nil {
			return core.NewConfigError(s.Name, "task step without agent")
		}
		if s.Task.Action == nil {
			return core.NewConfigError(s.Name, "task step without action")
		}
		if s.Task.MaxRetries < 0 {
			return core.NewConfigError(s.Name, "negative max_retries")
		}
	case KindRoute:
		if s.Route == nil {
			return core.NewConfigError(s.Name, "route step without route payload")
		}
		if len(s.Route.Branches) == 0 {
			return core.NewConfigError(s.Name, "route step without branches")
		}
		for label, branch := range s.Route.Branches {
			if err := validateSteps(branch); err != nil {
				return core.NewConfigError(s.Name, "branch %q: %v", label, err)
			}
		}
		if err := validateSteps(s.Route.Default); err != nil {
			return core.NewConfigError(s.Name, "default branch: %v", err)
		}
	case KindParallel:
		if s.Parallel == nil {
			return core.NewConfigError(s.Name, "parallel step without parallel payload")
		}
		if len(s.Parallel.Steps) == 0 {
			return core.NewConfigError(s.Name, "parallel step without sub-steps")
		}
		return validateSteps(s.Parallel.Steps)
	case KindLoop:
		if s.Loop == nil {
			return core.NewConfigError(s.Name, "loop step without loop payload")
		}
		if s.Loop.Over == "" {
			return core.NewConfigError(s.Name, "loop step without over variable")
		}
		if s.Loop.Step != nil && len(s.Loop.Steps) > 0 {
			return core.NewConfigError(s.Name, "loop step with both step and steps")
		}
		if s.Loop.Step == nil && len(s.Loop.Steps) == 0 {
			return core.NewConfigError(s.Name, "loop step with neither step nor steps")
		}
		if s.Loop.Step != nil {
			return s.Loop.Step.validate()
		}
		return validateSteps(s.Loop.Steps)
	case KindRepeat:
		if s.Repeat == nil {
			return core.NewConfigError(s.Name, "repeat step without repeat payload")
		}
		if s.Repeat.Step == nil {
			return core.NewConfigError(s.Name, "repeat step without wrapped step")
		}
		if s.Repeat.Until == "" {
			return core.NewConfigError(s.Name, "repeat step without until predicate")
		}
		if s.Repeat.MaxIterations <= 0 {
			return core.NewConfigError(s.Name, "repeat step needs a positive max_iterations")
		}
		return s.Repeat.Step.validate()
	default:
		return core.NewConfigError(s.Name, "unknown step kind %d", s.Kind)
	}
	return nil
}

func validateSteps(steps []*Step) error {
	for _, s := range steps {
		if err := s.validate(); err != nil {
			return err
		}
	}
	return nil
}
