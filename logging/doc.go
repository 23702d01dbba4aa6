// Package logging provides a tiny abstraction over slog so downstream code
// can depend on a minimal interface (Logger) while allowing users to plug
// any structured logger. It also offers a richer FlowLogger with contextual
// helpers (workflow, run, component) and domain specific logging helpers
// for steps, model calls and whole workflow runs.
package logging
