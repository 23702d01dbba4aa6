package agent

import (
	"strings"
	"sync"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/model"
	"github.com/hupe1980/flowmesh/model/anthropic"
	"github.com/hupe1980/flowmesh/model/openai"
)

// ModelBuilder turns an llm spec string ("provider/model-id") into a
// model.Model instance.
type ModelBuilder func(provider, modelID string) (model.Model, error)

// FactoryOptions configures a Factory.
type FactoryOptions struct {
	// ModelBuilder overrides provider resolution, e.g. to inject
	// pre-configured clients or a mock in tests.
	ModelBuilder ModelBuilder
}

// Factory is the default core.AgentFactory: it builds ModelAgents from
// declarative specs, resolving the provider from the llm string
// ("openai/gpt-4o-mini", "anthropic/claude-3-5-sonnet-20241022"). An empty
// or "mock" llm yields a deterministic MockModel, which keeps documents
// runnable without API keys. Models are cached per llm string so agents
// sharing a spec share a client.
type Factory struct {
	mu      sync.Mutex
	models  map[string]model.Model
	builder ModelBuilder
}

// NewFactory creates a Factory with the default provider resolution.
func NewFactory(optFns ...func(o *FactoryOptions)) *Factory {
	opts := FactoryOptions{ModelBuilder: buildModel}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Factory{models: map[string]model.Model{}, builder: opts.ModelBuilder}
}

// BuildAgent implements core.AgentFactory.
func (f *Factory) BuildAgent(id string, spec core.AgentSpec) (core.Agent, error) {
	llm, err := f.modelFor(spec.LLM)
	if err != nil {
		return nil, err
	}
	return NewModelAgent(id, llm, func(o *ModelAgentOptions) {
		o.Instruction = instructionFromSpec(id, spec)
	}), nil
}

func (f *Factory) modelFor(llm string) (model.Model, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.models[llm]; ok {
		return m, nil
	}

	provider, modelID := splitLLM(llm)
	m, err := f.builder(provider, modelID)
	if err != nil {
		return nil, err
	}
	f.models[llm] = m
	return m, nil
}

// splitLLM splits "provider/model-id"; a bare name defaults to openai.
func splitLLM(llm string) (provider, modelID string) {
	if llm == "" {
		return "mock", ""
	}
	if i := strings.IndexByte(llm, '/'); i >= 0 {
		return strings.ToLower(llm[:i]), llm[i+1:]
	}
	if strings.EqualFold(llm, "mock") {
		return "mock", ""
	}
	return "openai", llm
}

func buildModel(provider, modelID string) (model.Model, error) {
	switch provider {
	case "mock":
		return model.NewMockModel("mock"), nil
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			if modelID != "" {
				o.Model = anthropicsdk.Model(modelID)
			}
		}), nil
	default:
		return openai.NewModel(func(o *openai.Options) {
			if modelID != "" {
				o.Model = modelID
			}
		}), nil
	}
}
