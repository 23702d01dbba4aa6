package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hupe1980/flowmesh/workflow"
)

// Metrics bundles the prometheus collectors for workflow runs and steps.
type Metrics struct {
	runsTotal    *prometheus.CounterVec
	stepsTotal   *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
}

// NewMetrics registers the collectors with reg (use
// prometheus.DefaultRegisterer for the default registry).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowmesh",
			Name:      "workflow_runs_total",
			Help:      "Completed workflow runs by terminal status.",
		}, []string{"workflow", "status"}),
		stepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowmesh",
			Name:      "steps_total",
			Help:      "Executed workflow steps by kind and outcome.",
		}, []string{"workflow", "kind", "outcome"}),
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flowmesh",
			Name:      "step_duration_seconds",
			Help:      "Step execution latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"workflow", "kind"}),
	}
}

// Callbacks returns the lifecycle hooks feeding the collectors; register
// them on the workflow's CallbackManager.
func (m *Metrics) Callbacks() []workflow.Callback {
	stepComplete := workflow.NewFunctionCallback(workflow.CallbackStepComplete,
		func(_ context.Context, cc *workflow.CallbackContext) error {
			if cc.Step == nil {
				return nil
			}
			outcome := "success"
			if cc.Step.Err != nil {
				outcome = "error"
			}
			m.stepsTotal.WithLabelValues(cc.Workflow, cc.Step.Kind.String(), outcome).Inc()
			m.stepDuration.WithLabelValues(cc.Workflow, cc.Step.Kind.String()).Observe(cc.Step.Duration.Seconds())
			return nil
		})

	workflowComplete := workflow.NewFunctionCallback(workflow.CallbackWorkflowComplete,
		func(_ context.Context, cc *workflow.CallbackContext) error {
			m.runsTotal.WithLabelValues(cc.Workflow, string(cc.Status)).Inc()
			return nil
		})

	return []workflow.Callback{stepComplete, workflowComplete}
}

// Register is a convenience that attaches all metric callbacks to cm.
func (m *Metrics) Register(cm *workflow.CallbackManager) {
	for _, cb := range m.Callbacks() {
		cm.Register(cb)
	}
}
