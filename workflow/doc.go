// Package workflow implements the FlowMesh execution engine: a declarative,
// multi-step coordinator that drives agent invocations through ordered
// sequences of steps which may branch (Route), fan out (Parallel), iterate
// over collections (Loop) and retry until converged (Repeat).
//
// A Workflow is a static, immutable step graph built once via New (or the
// parser package) and executed with Start. Each run owns a single mutable
// ExecutionContext; concurrent constructs (Parallel blocks and parallel
// Loops) hand every unit an isolated clone taken at fan-out time and merge
// results back on the orchestrating goroutine in declaration order, so the
// shared variable map is never concurrently mutated.
package workflow
