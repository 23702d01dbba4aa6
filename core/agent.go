package core

import "context"

// Agent is the text-producing collaborator a workflow task invokes. The
// engine renders the task's action template and hands the result to Invoke;
// whatever Invoke returns becomes the step output.
//
// Implementations must be safe for concurrent use when the same instance
// backs multiple parallel branches, and should respect ctx cancellation
// since Invoke is the engine's only blocking point.
type Agent interface {
	// Name returns the human-readable agent identifier used in logs and
	// step history.
	Name() string

	// Invoke processes the rendered input text and returns the produced
	// output text.
	Invoke(ctx context.Context, input string) (string, error)
}

// Guardrail validates a task output before it is accepted. Returning an
// error rejects the output and triggers a bounded re-invocation of the
// agent; the error text is surfaced as the rejection reason.
type Guardrail func(output string) error

// AgentSpec is the declarative description of an agent as it appears in a
// workflow document. The engine never constructs agents from specs itself;
// they are handed to a host-supplied AgentFactory.
type AgentSpec struct {
	Role         string         `yaml:"role"`
	Goal         string         `yaml:"goal"`
	Instructions string         `yaml:"instructions"`
	LLM          string         `yaml:"llm"`
	Tools        []string       `yaml:"tools"`
	Extra        map[string]any `yaml:",inline"`
}

// AgentFactory turns declarative agent specs into Agent instances. The
// agent package ships a default implementation backed by the model
// adapters; hosts can supply their own.
type AgentFactory interface {
	BuildAgent(id string, spec AgentSpec) (Agent, error)
}
