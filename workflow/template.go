package workflow

import (
	"fmt"
	"strconv"
	"strings"
)

// Template is a compiled action template. Placeholders of the form
// {{name}} or {{name.field}} are tokenized exactly once at compile time;
// Resolve performs a pure string join against a context, never a re-parse.
type Template struct {
	raw      string
	segments []segment
}

// segment is either a literal run (ref empty) or a placeholder reference.
type segment struct {
	literal string
	ref     string
}

// CompileTemplate tokenizes the template text. Compilation is total:
// malformed or unterminated markers are kept as literal text.
func CompileTemplate(text string) *Template {
	t := &Template{raw: text}
	if !strings.Contains(text, "{{") { // fast path: no template markers
		t.segments = []segment{{literal: text}}
		return t
	}

	rest := text
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			break
		}
		end := strings.Index(rest[open:], "}}")
		if end < 0 {
			break
		}
		ref := strings.TrimSpace(rest[open+2 : open+end])
		if ref == "" {
			// Empty placeholder stays literal.
			t.segments = append(t.segments, segment{literal: rest[:open+end+2]})
			rest = rest[open+end+2:]
			continue
		}
		if open > 0 {
			t.segments = append(t.segments, segment{literal: rest[:open]})
		}
		t.segments = append(t.segments, segment{ref: ref})
		rest = rest[open+end+2:]
	}
	if rest != "" {
		t.segments = append(t.segments, segment{literal: rest})
	}
	return t
}

// Raw returns the original template text.
func (t *Template) Raw() string { return t.raw }

// Resolve renders the template against the given context. It is pure: the
// rendered string is returned together with the list of placeholder names
// that did not resolve (substituted as empty strings); the caller decides
// how to report them.
//
// Lookup order per placeholder: the active iteration scope (item,
// item.<field>, loop_index), then workflow variables (with dotted descent
// into mapping values), then the reserved previous_output / previous_result
// names.
func (t *Template) Resolve(ec *ExecutionContext) (string, []string) {
	var (
		b       strings.Builder
		missing []string
	)
	for _, seg := range t.segments {
		if seg.ref == "" {
			b.WriteString(seg.literal)
			continue
		}
		val, ok := lookup(seg.ref, ec)
		if !ok {
			missing = append(missing, seg.ref)
			continue
		}
		b.WriteString(val)
	}
	return b.String(), missing
}

// lookup resolves a single dotted placeholder path against the context.
// The active iteration scope wins inside a loop body; otherwise workflow
// variables are consulted before the reserved previous_output names, so a
// variable may shadow them.
func lookup(ref string, ec *ExecutionContext) (string, bool) {
	parts := strings.Split(ref, ".")
	head := parts[0]

	if ec.HasItem {
		switch head {
		case "item":
			return descend(ec.Item, parts[1:])
		case "loop_index":
			if len(parts) > 1 {
				return "", false
			}
			return strconv.Itoa(ec.LoopIndex), true
		}
	}

	if v, ok := ec.Variables[head]; ok {
		return descend(v, parts[1:])
	}

	switch head {
	case "previous_output", "previous_result":
		if len(parts) > 1 {
			return "", false
		}
		return ec.PreviousResult, true
	}
	return "", false
}

// descend walks the remaining dotted path into mapping values.
func descend(v any, path []string) (string, bool) {
	for _, key := range path {
		switch m := v.(type) {
		case map[string]any:
			inner, ok := m[key]
			if !ok {
				return "", false
			}
			v = inner
		case map[string]string:
			inner, ok := m[key]
			if !ok {
				return "", false
			}
			v = inner
		default:
			return "", false
		}
	}
	return stringify(v), true
}

// stringify renders a resolved value for substitution.
func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
