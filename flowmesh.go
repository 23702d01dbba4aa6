// Package flowmesh provides a high-level façade over the workflow engine
// and the declarative parser, enabling rapid construction of multi-step
// agent workflows. Most applications interact with this package by:
//  1. Loading a declarative workflow via LoadFile/LoadBytes (or building
//     one programmatically with the workflow package)
//  2. Registering guardrails and lifecycle callbacks by name
//  3. Starting the run via Workflow.Start
//
// The façade wires the default spec-driven agent factory and a structured
// logger; all defaults are safe for local development and testing.
package flowmesh

import (
	"github.com/hupe1980/flowmesh/agent"
	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/logging"
	"github.com/hupe1980/flowmesh/parser"
	"github.com/hupe1980/flowmesh/workflow"
)

// Options configures document loading.
type Options struct {
	// AgentFactory builds agents from the document's specs. Defaults to
	// the model-adapter-backed agent.Factory.
	AgentFactory core.AgentFactory

	// Guardrails and Callbacks are the host registries for names
	// referenced in the document.
	Guardrails map[string]core.Guardrail
	Callbacks  map[string]parser.CallbackFunc

	// Variables are merged over the document's initial variables.
	Variables map[string]any

	// Logger defaults to NoOp, matching the engine's own default.
	Logger logging.Logger
}

// LoadBytes parses a declarative workflow document with the default agent
// factory unless overridden.
func LoadBytes(data []byte, optFns ...func(o *Options)) (*workflow.Workflow, error) {
	opts := Options{
		AgentFactory: agent.NewFactory(),
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return parser.Parse(data, func(o *parser.Options) {
		o.AgentFactory = opts.AgentFactory
		o.Guardrails = opts.Guardrails
		o.Callbacks = opts.Callbacks
		o.VariableOverrides = opts.Variables
		o.Logger = opts.Logger
	})
}

// LoadFile parses a declarative workflow document from disk.
func LoadFile(path string, optFns ...func(o *Options)) (*workflow.Workflow, error) {
	opts := Options{
		AgentFactory: agent.NewFactory(),
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return parser.ParseFile(path, func(o *parser.Options) {
		o.AgentFactory = opts.AgentFactory
		o.Guardrails = opts.Guardrails
		o.Callbacks = opts.Callbacks
		o.VariableOverrides = opts.Variables
		o.Logger = opts.Logger
	})
}
