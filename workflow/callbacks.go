package workflow

import "context"

// CallbackType identifies the lifecycle points where hooks fire during a
// run. Callbacks observe execution through read-only context snapshots;
// they cannot mutate run state.
type CallbackType string

const (
	// CallbackWorkflowStart fires once before the first step executes.
	CallbackWorkflowStart CallbackType = "on_workflow_start"

	// CallbackStepComplete fires after every top-level step finishes,
	// successfully or not.
	CallbackStepComplete CallbackType = "on_step_complete"

	// CallbackWorkflowComplete fires once after the run reaches a
	// terminal state, with the final snapshot.
	CallbackWorkflowComplete CallbackType = "on_workflow_complete"
)

// CallbackContext carries the information handed to a callback: run
// identity, the step record that triggered it (nil for workflow-level
// events) and a read-only snapshot of the execution context.
type CallbackContext struct {
	Workflow string
	RunID    string
	Type     CallbackType
	Status   Status
	Step     *StepRecord
	Snapshot Snapshot
}

// Callback is a lifecycle hook. Implementations should be fast (hooks run
// synchronously on the orchestrating goroutine) and must not retain the
// snapshot's maps beyond the call if they mutate them.
type Callback interface {
	// Type returns the lifecycle point this callback handles.
	Type() CallbackType

	// Execute performs the hook. Errors are logged by the runner and do
	// not affect the run: callbacks are observers, not gates.
	Execute(ctx context.Context, cc *CallbackContext) error
}

// FunctionCallback wraps a plain function as a Callback.
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, cc *CallbackContext) error
}

// NewFunctionCallback creates a function-based callback for the given
// lifecycle point.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, cc *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{callbackType: callbackType, fn: fn}
}

// Type returns the lifecycle point this callback handles.
func (c *FunctionCallback) Type() CallbackType { return c.callbackType }

// Execute calls the wrapped function.
func (c *FunctionCallback) Execute(ctx context.Context, cc *CallbackContext) error {
	return c.fn(ctx, cc)
}

// CallbackManager routes lifecycle events to registered callbacks in
// registration order. Registration is not goroutine-safe; register
// everything before Start. Dispatch only ever happens on the orchestrating
// goroutine.
type CallbackManager struct {
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{callbacks: make(map[CallbackType][]Callback)}
}

// Register adds a callback for its declared lifecycle point.
func (cm *CallbackManager) Register(cb Callback) {
	cm.callbacks[cb.Type()] = append(cm.callbacks[cb.Type()], cb)
}

// dispatch runs every callback registered for the event, collecting the
// first error for the caller to log. Later callbacks still run.
func (cm *CallbackManager) dispatch(ctx context.Context, cc *CallbackContext) error {
	if cm == nil {
		return nil
	}
	var first error
	for _, cb := range cm.callbacks[cc.Type] {
		if err := cb.Execute(ctx, cc); err != nil && first == nil {
			first = err
		}
	}
	return first
}
