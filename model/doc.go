// Package model defines the synchronous text-generation interface backing
// FlowMesh agents, together with a deterministic MockModel for tests and
// examples. Provider adapters live in the anthropic and openai subpackages.
package model
