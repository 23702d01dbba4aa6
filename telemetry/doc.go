// Package telemetry packages prometheus instrumentation as workflow
// lifecycle callbacks. The engine itself stays telemetry-free; hosts that
// want metrics register the callbacks returned by Metrics and expose the
// registry however they serve /metrics.
package telemetry
