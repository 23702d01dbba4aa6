package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompileTemplate_NoMarkers(t *testing.T) {
	tmpl := CompileTemplate("plain text, no placeholders")

	out, missing := tmpl.Resolve(NewExecutionContext(nil))
	assert.Equal(t, "plain text, no placeholders", out)
	assert.Empty(t, missing)
}

func TestTemplate_VariableLookup(t *testing.T) {
	ec := NewExecutionContext(map[string]any{"topic": "storage engines", "depth": 3})
	tmpl := CompileTemplate("Research {{topic}} at depth {{depth}}.")

	out, missing := tmpl.Resolve(ec)
	assert.Equal(t, "Research storage engines at depth 3.", out)
	assert.Empty(t, missing)
}

func TestTemplate_DottedPath(t *testing.T) {
	ec := NewExecutionContext(map[string]any{
		"config": map[string]any{"mode": "fast", "limits": map[string]any{"max": "10"}},
	})

	out, missing := CompileTemplate("{{config.mode}}/{{config.limits.max}}").Resolve(ec)
	assert.Equal(t, "fast/10", out)
	assert.Empty(t, missing)
}

func TestTemplate_IterationScopeShadowsVariables(t *testing.T) {
	ec := NewExecutionContext(map[string]any{"item": "workflow-level"})
	ec.Item = "iteration-level"
	ec.HasItem = true
	ec.LoopIndex = 2

	out, missing := CompileTemplate("{{item}}@{{loop_index}}").Resolve(ec)
	assert.Equal(t, "iteration-level@2", out)
	assert.Empty(t, missing)
}

func TestTemplate_ItemFields(t *testing.T) {
	ec := NewExecutionContext(nil)
	ec.Item = map[string]any{"title": "Go patterns", "year": 2024}
	ec.HasItem = true

	out, missing := CompileTemplate("{{item.title}} ({{item.year}})").Resolve(ec)
	assert.Equal(t, "Go patterns (2024)", out)
	assert.Empty(t, missing)
}

func TestTemplate_PreviousOutput(t *testing.T) {
	ec := NewExecutionContext(nil)
	ec.PreviousResult = "earlier output"

	out, _ := CompileTemplate("Refine: {{previous_output}}").Resolve(ec)
	assert.Equal(t, "Refine: earlier output", out)

	out, _ = CompileTemplate("Refine: {{previous_result}}").Resolve(ec)
	assert.Equal(t, "Refine: earlier output", out)
}

func TestTemplate_VariablesShadowReservedNames(t *testing.T) {
	ec := NewExecutionContext(map[string]any{"previous_output": "var-value"})
	ec.PreviousResult = "reserved-value"

	out, missing := CompileTemplate("{{previous_output}}").Resolve(ec)
	assert.Equal(t, "var-value", out)
	assert.Empty(t, missing)

	// Without a variable of that name the reserved binding still applies.
	out, _ = CompileTemplate("{{previous_result}}").Resolve(ec)
	assert.Equal(t, "reserved-value", out)
}

func TestTemplate_ItemVariableOutsideIterationScope(t *testing.T) {
	// item and loop_index are only reserved inside a loop body; elsewhere
	// they are ordinary workflow variables.
	ec := NewExecutionContext(map[string]any{"item": "from-vars", "loop_index": 7})

	out, missing := CompileTemplate("{{item}}/{{loop_index}}").Resolve(ec)
	assert.Equal(t, "from-vars/7", out)
	assert.Empty(t, missing)
}

func TestTemplate_UnresolvedNamesAreEmptyAndReported(t *testing.T) {
	ec := NewExecutionContext(map[string]any{"known": "v"})

	out, missing := CompileTemplate("[{{known}}][{{unknown}}][{{item.title}}]").Resolve(ec)
	assert.Equal(t, "[v][][]", out)
	assert.Equal(t, []string{"unknown", "item.title"}, missing)
}

func TestTemplate_MalformedMarkersStayLiteral(t *testing.T) {
	ec := NewExecutionContext(map[string]any{"a": "x"})

	out, missing := CompileTemplate("{{a}} and {{unterminated").Resolve(ec)
	assert.Equal(t, "x and {{unterminated", out)
	assert.Empty(t, missing)
}

func TestTemplate_ResolveIsRepeatable(t *testing.T) {
	// Tokens are parsed once; Resolve must be a pure substitution that can
	// run many times against different contexts.
	tmpl := CompileTemplate("{{item}}")

	for _, want := range []string{"a", "b", "c"} {
		ec := NewExecutionContext(nil)
		ec.Item = want
		ec.HasItem = true
		out, _ := tmpl.Resolve(ec)
		assert.Equal(t, want, out)
	}
	assert.Equal(t, "{{item}}", tmpl.Raw())
}
