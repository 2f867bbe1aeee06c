package path

import (
	"context"
	"slices"
	"strings"

	"github.com/PaesslerAG/gval"
)

// Form is the notation a path was written in.
type Form uint8

const (
	// FormDotted is the plain dot-separated form, e.g. "quote.lines[0].total".
	FormDotted Form = iota

	// FormPointer is the JSON-pointer-like form, e.g. "#/quote/lines/0/total".
	FormPointer

	// FormExpression is an arbitrary JSONPath expression, e.g. "$.quote.lines[?(@.total > 10)]".
	FormExpression
)

func (f Form) String() string {
	switch f {
	case FormPointer:
		return "pointer"
	case FormExpression:
		return "expression"
	default:
		return "dotted"
	}
}

// Path is an immutable parsed lookup path. The first segment names a scope
// alias, the remaining segments address properties, keys or indices below it.
type Path struct {
	raw      string
	form     Form
	segments []string
	eval     gval.Evaluable
}

// Original returns the path exactly as it was written.
func (p *Path) Original() string { return p.raw }

func (p *Path) String() string { return p.raw }

// Form returns the notation the path was written in.
func (p *Path) Form() Form { return p.form }

// Segments returns a copy of the parsed segments. Expression paths have none.
func (p *Path) Segments() []string { return slices.Clone(p.segments) }

// Root returns the alias segment.
func (p *Path) Root() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[0]
}

// Rest returns the segments below the alias.
func (p *Path) Rest() []string {
	if len(p.segments) < 2 {
		return nil
	}
	return slices.Clone(p.segments[1:])
}

// IsSimple reports whether the path is a plain segment chain rather than an
// arbitrary expression.
func (p *Path) IsSimple() bool { return p.form != FormExpression }

// CanIdentifyAncestors reports whether ParentPath and FinalChild are defined.
func (p *Path) CanIdentifyAncestors() bool {
	return p.IsSimple() && len(p.segments) > 1
}

// ParentPath returns the path of the parent, written in the same form.
func (p *Path) ParentPath() (string, bool) {
	if !p.CanIdentifyAncestors() {
		return "", false
	}
	return render(p.form, p.segments[:len(p.segments)-1]), true
}

// FinalChild returns the last segment.
func (p *Path) FinalChild() (string, bool) {
	if !p.CanIdentifyAncestors() {
		return "", false
	}
	return p.segments[len(p.segments)-1], true
}

// Child returns the path extended by one segment.
func (p *Path) Child(segment string) (*Path, error) {
	if !p.IsSimple() {
		return nil, syntaxError(p.raw, segment, "cannot extend an expression path")
	}
	return Parse(render(p.form, append(slices.Clone(p.segments), segment)))
}

// Equal reports whether both paths address the same segments.
// Dotted and pointer forms of the same chain are equal.
func (p *Path) Equal(o *Path) bool {
	if p == nil || o == nil {
		return p == o
	}
	if !p.IsSimple() || !o.IsSimple() {
		return p.raw == o.raw
	}
	return slices.Equal(p.segments, o.segments)
}

// evaluate runs an expression path against data.
func (p *Path) evaluate(ctx context.Context, data any) (any, error) {
	return p.eval(ctx, data)
}

func render(form Form, segments []string) string {
	if form == FormPointer {
		return pointerPrefix + strings.Join(segments, "/")
	}
	var b strings.Builder
	for i, s := range segments {
		switch {
		case i > 0 && isIndex(s):
			b.WriteString("[" + s + "]")
		case i > 0:
			b.WriteString("." + s)
		default:
			b.WriteString(s)
		}
	}
	return b.String()
}
