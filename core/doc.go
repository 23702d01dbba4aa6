// Package core defines the fundamental contracts shared across FlowMesh:
// the Agent collaborator interface consumed by the workflow engine, the
// Guardrail validation hook, and the error taxonomy raised at construction
// and execution time. It deliberately has no dependencies on the engine
// itself so hosts can implement agents without importing workflow machinery.
package core
