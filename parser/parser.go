package parser

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/logging"
	"github.com/hupe1980/flowmesh/workflow"
)

// CallbackFunc is the host-side shape of a named lifecycle callback.
type CallbackFunc func(ctx context.Context, cc *workflow.CallbackContext) error

// Options supplies the host collaborators a document may reference by name.
// The parser contains no logic keyed to specific names; it only performs
// lookups.
type Options struct {
	// AgentFactory builds agents from the document's agent specs.
	// Required when the document declares agents.
	AgentFactory core.AgentFactory

	// Guardrails maps guardrail names referenced by task steps to
	// validation functions.
	Guardrails map[string]core.Guardrail

	// Callbacks maps callback names referenced in the callbacks section
	// to functions.
	Callbacks map[string]CallbackFunc

	// VariableOverrides are merged over the document's variables after
	// parsing, e.g. from CLI --var flags.
	VariableOverrides map[string]any

	// Logger is handed to the constructed workflow.
	Logger logging.Logger
}

// document mirrors the top-level YAML shape.
type document struct {
	Name        string                    `yaml:"name"`
	Description string                    `yaml:"description"`
	Workflow    workflowConfig            `yaml:"workflow"`
	Variables   map[string]any            `yaml:"variables"`
	Agents      map[string]core.AgentSpec `yaml:"agents"`
	Steps       []stepNode                `yaml:"steps"`
	Callbacks   map[string]string         `yaml:"callbacks"`
}

// workflowConfig carries the config flags with their declarative aliases:
// context.enabled maps to the internal auto_compact flag and
// max_tool_output_tokens to the internal tool_output_max bound.
type workflowConfig struct {
	Planning     bool           `yaml:"planning"`
	Reasoning    bool           `yaml:"reasoning"`
	Verbose      bool           `yaml:"verbose"`
	MemoryConfig map[string]any `yaml:"memory_config"`
	Context      struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"context"`
	MaxToolOutputTokens int `yaml:"max_tool_output_tokens"`
}

// stepNode is the union of every step shape a document may contain. Which
// variant it is follows from the keys present, checked in buildStep.
type stepNode struct {
	Name           string `yaml:"name"`
	Agent          string `yaml:"agent"`
	Action         string `yaml:"action"`
	Guardrail      string `yaml:"guardrail"`
	MaxRetries     *int   `yaml:"max_retries"`
	OutputVariable string `yaml:"output_variable"`
	MaxWorkers     int    `yaml:"max_workers"`

	Route    map[string][]stepNode `yaml:"route"`
	Parallel []stepNode            `yaml:"parallel"`
	Loop     *loopNode             `yaml:"loop"`
	// Steps is the sibling-position loop body: `steps:` beside `loop:`
	// parses to the identical payload as `loop.steps`.
	Steps  []stepNode  `yaml:"steps"`
	Repeat *repeatNode `yaml:"repeat"`
}

type loopNode struct {
	Over           string     `yaml:"over"`
	Parallel       bool       `yaml:"parallel"`
	MaxWorkers     int        `yaml:"max_workers"`
	Step           *stepNode  `yaml:"step"`
	Steps          []stepNode `yaml:"steps"`
	OutputVariable string     `yaml:"output_variable"`
}

type repeatNode struct {
	Until         string `yaml:"until"`
	MaxIterations int    `yaml:"max_iterations"`
}

// parser holds resolved collaborators for one Parse call.
type parser struct {
	opts   Options
	agents map[string]core.Agent
}

// Parse builds a Workflow from YAML bytes. All structural problems surface
// as ConfigErrors here or in workflow.New, before any execution.
func Parse(data []byte, optFns ...func(o *Options)) (*workflow.Workflow, error) {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, core.NewConfigError("", "malformed document: %v", err)
	}
	if doc.Name == "" {
		return nil, core.NewConfigError("name", "workflow name is required")
	}

	p := &parser{opts: opts, agents: map[string]core.Agent{}}

	if len(doc.Agents) > 0 {
		if opts.AgentFactory == nil {
			return nil, core.NewConfigError("agents", "document declares agents but no agent factory was supplied")
		}
		for id, spec := range doc.Agents {
			a, err := opts.AgentFactory.BuildAgent(id, spec)
			if err != nil {
				return nil, core.NewConfigError("agents."+id, "agent construction failed: %v", err)
			}
			p.agents[id] = a
		}
	}

	steps, err := p.buildSteps(doc.Steps, "steps")
	if err != nil {
		return nil, err
	}

	callbacks, err := p.buildCallbacks(doc.Callbacks)
	if err != nil {
		return nil, err
	}

	variables := doc.Variables
	if len(opts.VariableOverrides) > 0 {
		if variables == nil {
			variables = map[string]any{}
		}
		for k, v := range opts.VariableOverrides {
			variables[k] = v
		}
	}

	return workflow.New(doc.Name, steps, func(o *workflow.Options) {
		o.Description = doc.Description
		o.Variables = variables
		o.Config = workflow.Config{
			Planning:      doc.Workflow.Planning,
			Reasoning:     doc.Workflow.Reasoning,
			Verbose:       doc.Workflow.Verbose,
			AutoCompact:   doc.Workflow.Context.Enabled,
			ToolOutputMax: doc.Workflow.MaxToolOutputTokens,
			MemoryConfig:  doc.Workflow.MemoryConfig,
		}
		o.Callbacks = callbacks
		o.Logger = opts.Logger
	})
}

// ParseFile reads and parses a workflow document from disk.
func ParseFile(path string, optFns ...func(o *Options)) (*workflow.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow document: %w", err)
	}
	return Parse(data, optFns...)
}

func (p *parser) buildSteps(nodes []stepNode, path string) ([]*workflow.Step, error) {
	steps := make([]*workflow.Step, 0, len(nodes))
	for i, node := range nodes {
		s, err := p.buildStep(node, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, nil
}

// buildStep recursively constructs one step from its node. A repeat block
// decorates whatever step the remaining keys describe.
func (p *parser) buildStep(node stepNode, path string) (*workflow.Step, error) {
	if node.Repeat != nil {
		rep := *node.Repeat
		inner := node
		inner.Repeat = nil
		wrapped, err := p.buildStep(inner, path)
		if err != nil {
			return nil, err
		}
		if rep.Until == "" {
			return nil, core.NewConfigError(path+".repeat", "until predicate is required")
		}
		name := node.Name
		if name == "" {
			name = wrapped.Name
		}
		return workflow.NewRepeat(name, wrapped, rep.Until, func(o *workflow.RepeatOptions) {
			if rep.MaxIterations > 0 {
				o.MaxIterations = rep.MaxIterations
			}
		}), nil
	}

	switch {
	case node.Loop != nil:
		return p.buildLoop(node, path)
	case node.Route != nil:
		return p.buildRoute(node, path)
	case len(node.Parallel) > 0:
		return p.buildParallel(node, path)
	case node.Agent != "":
		return p.buildTask(node, path)
	default:
		return nil, core.NewConfigError(path, "step is none of task/route/parallel/loop/repeat")
	}
}

func (p *parser) buildTask(node stepNode, path string) (*workflow.Step, error) {
	a, ok := p.agents[node.Agent]
	if !ok {
		return nil, core.NewConfigError(path+".agent", "unknown agent %q", node.Agent)
	}
	if node.Action == "" {
		return nil, core.NewConfigError(path+".action", "task step requires an action")
	}

	var guardrail core.Guardrail
	if node.Guardrail != "" {
		guardrail, ok = p.opts.Guardrails[node.Guardrail]
		if !ok {
			return nil, core.NewConfigError(path+".guardrail", "unknown guardrail %q", node.Guardrail)
		}
	}

	name := node.Name
	if name == "" {
		name = node.Agent
	}
	return workflow.NewTask(name, a, node.Action, func(o *workflow.TaskOptions) {
		o.Guardrail = guardrail
		o.OutputVariable = node.OutputVariable
		if node.MaxRetries != nil {
			o.MaxRetries = *node.MaxRetries
		}
	}), nil
}

func (p *parser) buildRoute(node stepNode, path string) (*workflow.Step, error) {
	branches := make(map[string][]*workflow.Step, len(node.Route))
	var defaultBranch []*workflow.Step
	for label, branchNodes := range node.Route {
		branch, err := p.buildSteps(branchNodes, fmt.Sprintf("%s.route.%s", path, label))
		if err != nil {
			return nil, err
		}
		if label == "default" {
			defaultBranch = branch
			continue
		}
		branches[label] = branch
	}
	if len(branches) == 0 {
		return nil, core.NewConfigError(path+".route", "route needs at least one non-default branch")
	}

	name := node.Name
	if name == "" {
		name = "route"
	}
	return workflow.NewRoute(name, branches, func(o *workflow.RouteOptions) {
		o.Default = defaultBranch
	}), nil
}

func (p *parser) buildParallel(node stepNode, path string) (*workflow.Step, error) {
	subSteps, err := p.buildSteps(node.Parallel, path+".parallel")
	if err != nil {
		return nil, err
	}
	name := node.Name
	if name == "" {
		name = "parallel"
	}
	return workflow.NewParallel(name, subSteps, func(o *workflow.ParallelOptions) {
		if node.MaxWorkers > 0 {
			o.MaxWorkers = node.MaxWorkers
		}
		o.OutputVariable = node.OutputVariable
	}), nil
}

// buildLoop accepts the loop body in nested position (loop.steps or
// loop.step) or sibling position (steps: or agent:/action: beside loop:).
// All forms produce the identical Loop payload.
func (p *parser) buildLoop(node stepNode, path string) (*workflow.Step, error) {
	l := node.Loop
	if l.Over == "" {
		return nil, core.NewConfigError(path+".loop.over", "loop requires an over variable")
	}

	bodyForms := 0
	if l.Step != nil {
		bodyForms++
	}
	if len(l.Steps) > 0 {
		bodyForms++
	}
	if len(node.Steps) > 0 {
		bodyForms++
	}
	if node.Agent != "" {
		bodyForms++
	}
	if bodyForms == 0 {
		return nil, core.NewConfigError(path+".loop", "loop has no body: one of step, steps or a sibling agent/steps is required")
	}
	if bodyForms > 1 {
		return nil, core.NewConfigError(path+".loop", "loop body declared more than once")
	}

	var bodyOpt func(o *workflow.LoopOptions)
	switch {
	case l.Step != nil:
		s, err := p.buildStep(*l.Step, path+".loop.step")
		if err != nil {
			return nil, err
		}
		bodyOpt = workflow.WithLoopStep(s)
	case len(l.Steps) > 0:
		steps, err := p.buildSteps(l.Steps, path+".loop.steps")
		if err != nil {
			return nil, err
		}
		bodyOpt = workflow.WithLoopSteps(steps...)
	case len(node.Steps) > 0:
		steps, err := p.buildSteps(node.Steps, path+".steps")
		if err != nil {
			return nil, err
		}
		bodyOpt = workflow.WithLoopSteps(steps...)
	default:
		task := node
		task.Loop = nil
		s, err := p.buildTask(task, path)
		if err != nil {
			return nil, err
		}
		bodyOpt = workflow.WithLoopStep(s)
	}

	name := node.Name
	if name == "" {
		name = "loop"
	}
	return workflow.NewLoop(name, l.Over, bodyOpt, func(o *workflow.LoopOptions) {
		o.Parallel = l.Parallel
		if l.MaxWorkers > 0 {
			o.MaxWorkers = l.MaxWorkers
		}
		o.OutputVariable = l.OutputVariable
	}), nil
}

// buildCallbacks resolves the callbacks section (lifecycle event → hook
// name) against the host registry.
func (p *parser) buildCallbacks(entries map[string]string) (*workflow.CallbackManager, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	cm := workflow.NewCallbackManager()
	for event, hookName := range entries {
		var cbType workflow.CallbackType
		switch event {
		case string(workflow.CallbackWorkflowStart):
			cbType = workflow.CallbackWorkflowStart
		case string(workflow.CallbackStepComplete):
			cbType = workflow.CallbackStepComplete
		case string(workflow.CallbackWorkflowComplete):
			cbType = workflow.CallbackWorkflowComplete
		default:
			return nil, core.NewConfigError("callbacks."+event, "unknown lifecycle event")
		}
		fn, ok := p.opts.Callbacks[hookName]
		if !ok {
			return nil, core.NewConfigError("callbacks."+event, "unknown callback %q", hookName)
		}
		cm.Register(workflow.NewFunctionCallback(cbType, fn))
	}
	return cm, nil
}
