package path

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/openfroyo/automation/pkg/engine"
)

func TestParse_FormsAreEquivalent(t *testing.T) {
	tests := []struct {
		pointer string
		dotted  string
		want    []string
	}{
		{"#/a/b", "a.b", []string{"a", "b"}},
		{"#/trigger/quote/total", "trigger.quote.total", []string{"trigger", "quote", "total"}},
		{"#/quote/lines/0/amount", "quote.lines[0].amount", []string{"quote", "lines", "0", "amount"}},
		{"#/quote/lines/0/amount", "quote.lines.0.amount", []string{"quote", "lines", "0", "amount"}},
		{"#/m/x_1/y2", "m.x_1.y2", []string{"m", "x_1", "y2"}},
	}

	for _, tt := range tests {
		t.Run(tt.dotted, func(t *testing.T) {
			p1, err := Parse(tt.pointer)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.pointer, err)
			}
			p2, err := Parse(tt.dotted)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.dotted, err)
			}
			if !reflect.DeepEqual(p1.Segments(), tt.want) {
				t.Errorf("pointer segments = %v, want %v", p1.Segments(), tt.want)
			}
			if !reflect.DeepEqual(p2.Segments(), tt.want) {
				t.Errorf("dotted segments = %v, want %v", p2.Segments(), tt.want)
			}
			if !p1.Equal(p2) {
				t.Error("Expected forms to be equal")
			}
		})
	}
}

func TestParse_SyntaxErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"uppercase alias", "A.b"},
		{"uppercase segment", "a.B"},
		{"uppercase pointer segment", "#/a/Simple/x"},
		{"empty dotted segment", "a..b"},
		{"trailing dot", "a.b."},
		{"empty pointer segment", "#/a//b"},
		{"pointer without slash", "#a/b"},
		{"disallowed characters", "a.b-c"},
		{"space", "a.b c"},
		{"unbalanced open bracket", "a.items[0"},
		{"unbalanced close bracket", "a.items0]"},
		{"nested bracket", "a.items[[0]]"},
		{"non numeric index", "a.items[x]"},
		{"index as alias", "#/0/a"},
		{"leading underscore", "a._b"},
		{"bad jsonpath", "$.a[?(@.x >"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.raw)
			if err == nil {
				t.Fatalf("Parse(%q) expected error", tt.raw)
			}
			if !errors.Is(err, engine.ErrPathSyntax) {
				t.Errorf("Parse(%q) code = %s, want %s", tt.raw, engine.Code(err), engine.ErrCodePathSyntax)
			}
			var e *engine.EngineError
			if errors.As(err, &e) && e.Details[engine.DiagPath] != tt.raw {
				t.Errorf("Expected offending path in details, got %v", e.Details[engine.DiagPath])
			}
		})
	}
}

func TestParse_SyntaxErrorReasons(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"a.Simple", "must be camelCase"},
		{"a.Élan", "must be camelCase"},
		{"a.élan", "disallowed characters"},
		{"a.b-c", "disallowed characters"},
	}

	for _, tt := range tests {
		_, err := Parse(tt.raw)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("Parse(%q) error = %v, want it to mention %q", tt.raw, err, tt.want)
		}
	}
}

func TestParse_ExpressionFilters(t *testing.T) {
	for _, raw := range []string{
		"$.rows[?(@.a > 1)]",
		"$.quote.lines[?(@.amount >= 10 && @.sku != \"x\")].sku",
		"$.quote.lines[*].total",
	} {
		p, err := Parse(raw)
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", raw, err)
		}
		if p.IsSimple() || p.CanIdentifyAncestors() {
			t.Errorf("Parse(%q) should be an expression path", raw)
		}
	}
}

func TestParse_Idempotent(t *testing.T) {
	for _, raw := range []string{"#/a/simple/x", "quote.lines[2].total", "a", "$.a.b"} {
		p1, err := Parse(raw)
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", raw, err)
		}
		p2, _ := Parse(raw)

		if !reflect.DeepEqual(p1.Segments(), p2.Segments()) {
			t.Errorf("%s: segments differ", raw)
		}
		if p1.CanIdentifyAncestors() != p2.CanIdentifyAncestors() {
			t.Errorf("%s: CanIdentifyAncestors differs", raw)
		}
		pp1, ok1 := p1.ParentPath()
		pp2, ok2 := p2.ParentPath()
		if pp1 != pp2 || ok1 != ok2 {
			t.Errorf("%s: ParentPath differs", raw)
		}
		fc1, _ := p1.FinalChild()
		fc2, _ := p2.FinalChild()
		if fc1 != fc2 {
			t.Errorf("%s: FinalChild differs", raw)
		}
	}
}

func TestPath_Ancestors(t *testing.T) {
	tests := []struct {
		raw       string
		canIdent  bool
		parent    string
		final     string
		simple    bool
		form      Form
		rootAlias string
	}{
		{"#/a/simple/x", true, "#/a/simple", "x", true, FormPointer, "a"},
		{"a.simple.x", true, "a.simple", "x", true, FormDotted, "a"},
		{"quote.lines[0]", true, "quote.lines", "0", true, FormDotted, "quote"},
		{"quote.lines[0].total", true, "quote.lines[0]", "total", true, FormDotted, "quote"},
		{"trigger", false, "", "", true, FormDotted, "trigger"},
		{"$.quote.lines[*].total", false, "", "", false, FormExpression, ""},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			p, err := Parse(tt.raw)
			if err != nil {
				t.Fatalf("Parse error: %v", err)
			}
			if p.Original() != tt.raw {
				t.Errorf("Original() = %q", p.Original())
			}
			if p.CanIdentifyAncestors() != tt.canIdent {
				t.Errorf("CanIdentifyAncestors() = %v, want %v", p.CanIdentifyAncestors(), tt.canIdent)
			}
			parent, _ := p.ParentPath()
			if parent != tt.parent {
				t.Errorf("ParentPath() = %q, want %q", parent, tt.parent)
			}
			final, _ := p.FinalChild()
			if final != tt.final {
				t.Errorf("FinalChild() = %q, want %q", final, tt.final)
			}
			if p.IsSimple() != tt.simple || p.Form() != tt.form {
				t.Errorf("IsSimple/Form = %v/%s", p.IsSimple(), p.Form())
			}
			if p.Root() != tt.rootAlias {
				t.Errorf("Root() = %q, want %q", p.Root(), tt.rootAlias)
			}
		})
	}
}

func TestPath_Child(t *testing.T) {
	p := MustParse("#/quote/lines")
	child, err := p.Child("total")
	if err != nil {
		t.Fatalf("Child error: %v", err)
	}
	if child.Original() != "#/quote/lines/total" {
		t.Errorf("Unexpected child %s", child)
	}
	if _, err := p.Child("Total"); !errors.Is(err, engine.ErrPathSyntax) {
		t.Errorf("Expected syntax error for uppercase child, got: %v", err)
	}
}
