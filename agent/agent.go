package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/model"
)

// ModelAgentOptions configures a ModelAgent instance.
type ModelAgentOptions struct {
	// Instruction becomes the system prompt for every invocation.
	Instruction string
}

// ModelAgent is a core.Agent backed by a language model. The workflow
// engine hands it the rendered action text; the instruction rides along as
// the system prompt.
type ModelAgent struct {
	name        string
	llm         model.Model
	instruction string
}

// NewModelAgent creates a model-backed agent. The default instruction
// introduces the agent by name, matching the parser's spec-driven agents.
func NewModelAgent(name string, llm model.Model, optFns ...func(o *ModelAgentOptions)) *ModelAgent {
	opts := ModelAgentOptions{
		Instruction: fmt.Sprintf("You are %s, a helpful AI assistant.", name),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &ModelAgent{name: name, llm: llm, instruction: opts.Instruction}
}

// Name implements core.Agent.
func (a *ModelAgent) Name() string { return a.name }

// Instruction returns the system prompt used for invocations.
func (a *ModelAgent) Instruction() string { return a.instruction }

// Invoke implements core.Agent with a single blocking generation call.
func (a *ModelAgent) Invoke(ctx context.Context, input string) (string, error) {
	resp, err := a.llm.Generate(ctx, &model.Request{System: a.instruction, Input: input})
	if err != nil {
		return "", fmt.Errorf("model %s: %w", a.llm.Info().Name, err)
	}
	return resp.Text, nil
}

// FuncAgent wraps a plain function as a core.Agent. Useful for tests,
// deterministic pipeline stages and programmatic workflows.
type FuncAgent struct {
	name string
	fn   func(ctx context.Context, input string) (string, error)
}

// NewFuncAgent creates a function-backed agent.
func NewFuncAgent(name string, fn func(ctx context.Context, input string) (string, error)) *FuncAgent {
	return &FuncAgent{name: name, fn: fn}
}

// Name implements core.Agent.
func (a *FuncAgent) Name() string { return a.name }

// Invoke implements core.Agent.
func (a *FuncAgent) Invoke(ctx context.Context, input string) (string, error) {
	return a.fn(ctx, input)
}

// instructionFromSpec composes a system prompt from the declarative spec
// fields, skipping whatever is absent.
func instructionFromSpec(id string, spec core.AgentSpec) string {
	var parts []string
	if spec.Role != "" {
		parts = append(parts, fmt.Sprintf("You are %s.", spec.Role))
	} else {
		parts = append(parts, fmt.Sprintf("You are %s, a helpful AI assistant.", id))
	}
	if spec.Goal != "" {
		parts = append(parts, fmt.Sprintf("Your goal: %s", spec.Goal))
	}
	if spec.Instructions != "" {
		parts = append(parts, spec.Instructions)
	}
	return strings.Join(parts, " ")
}
