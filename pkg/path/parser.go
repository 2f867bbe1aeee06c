package path

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PaesslerAG/gval"
	"github.com/PaesslerAG/jsonpath"

	"github.com/openfroyo/automation/pkg/engine"
)

const pointerPrefix = "#/"

var (
	identifierPattern = regexp.MustCompile(`^[a-z][A-Za-z0-9_]*$`)
	indexPattern      = regexp.MustCompile(`^[0-9]+$`)

	// expressionLanguage is JSONPath with full gval operators, so filters
	// such as [?(@.total > 10)] compile.
	expressionLanguage = gval.Full(jsonpath.PlaceholderExtension())
)

// Parse parses a lookup path. Three forms are accepted:
//
//	#/quote/lines/0/total    pointer form
//	quote.lines[0].total     dotted form, with optional bracket indices
//	$.quote.lines[*].total   JSONPath expression
//
// Pointer and dotted forms are segment-for-segment equivalent. Every
// property segment must be a camelCase identifier; a segment starting with
// an uppercase letter is a syntax error regardless of what the data holds.
func Parse(raw string) (*Path, error) {
	switch {
	case strings.TrimSpace(raw) == "":
		return nil, syntaxError(raw, "", "path is empty")
	case strings.HasPrefix(raw, "$"):
		return parseExpression(raw)
	case strings.HasPrefix(raw, pointerPrefix):
		segments := strings.Split(raw[len(pointerPrefix):], "/")
		if err := validateSegments(raw, segments); err != nil {
			return nil, err
		}
		return &Path{raw: raw, form: FormPointer, segments: segments}, nil
	case strings.HasPrefix(raw, "#"):
		return nil, syntaxError(raw, "", `pointer paths must start with "#/"`)
	default:
		segments, err := splitDotted(raw)
		if err != nil {
			return nil, err
		}
		if err := validateSegments(raw, segments); err != nil {
			return nil, err
		}
		return &Path{raw: raw, form: FormDotted, segments: segments}, nil
	}
}

// MustParse is like Parse but panics on error. It is meant for paths known
// at compile time.
func MustParse(raw string) *Path {
	p, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func parseExpression(raw string) (*Path, error) {
	eval, err := expressionLanguage.NewEvaluable(raw)
	if err != nil {
		syntaxErr := syntaxError(raw, "", "invalid JSONPath expression")
		syntaxErr.Err = err
		return nil, syntaxErr
	}
	return &Path{raw: raw, form: FormExpression, eval: eval}, nil
}

// splitDotted rewrites bracket indices as segments: a.b[0].c becomes a, b, 0, c.
func splitDotted(raw string) ([]string, error) {
	var b strings.Builder
	open := -1
	for i, r := range raw {
		switch r {
		case '[':
			if open >= 0 {
				return nil, syntaxError(raw, "", fmt.Sprintf("unbalanced bracket at offset %d", i))
			}
			open = i
			b.WriteByte('.')
		case ']':
			if open < 0 {
				return nil, syntaxError(raw, "", fmt.Sprintf("unbalanced bracket at offset %d", i))
			}
			if inner := raw[open+1 : i]; !indexPattern.MatchString(inner) {
				return nil, syntaxError(raw, inner, "bracket index must be a non-negative integer")
			}
			open = -1
		default:
			b.WriteRune(r)
		}
	}
	if open >= 0 {
		return nil, syntaxError(raw, "", fmt.Sprintf("unbalanced bracket at offset %d", open))
	}
	return strings.Split(b.String(), "."), nil
}

func validateSegments(raw string, segments []string) error {
	for i, seg := range segments {
		switch {
		case seg == "":
			return syntaxError(raw, seg, fmt.Sprintf("empty segment at position %d", i))
		case i > 0 && isIndex(seg):
			continue
		case identifierPattern.MatchString(seg):
			continue
		case startsUpper(seg):
			return syntaxError(raw, seg, fmt.Sprintf("segment %q must be camelCase", seg))
		case i == 0 && isIndex(seg):
			return syntaxError(raw, seg, "path must start with an alias")
		default:
			return syntaxError(raw, seg, fmt.Sprintf("segment %q contains disallowed characters", seg))
		}
	}
	return nil
}

func startsUpper(seg string) bool {
	r, _ := utf8.DecodeRuneInString(seg)
	return unicode.IsUpper(r)
}

func isIndex(seg string) bool {
	return indexPattern.MatchString(seg)
}

func syntaxError(raw, segment, reason string) *engine.EngineError {
	err := engine.NewConfigurationError(fmt.Sprintf("invalid path %q: %s", raw, reason), nil).
		WithCode(engine.ErrCodePathSyntax).
		WithTitle("Path syntax error").
		WithDetail(engine.DiagPath, raw)
	if segment != "" {
		err.WithDetail(engine.DiagSegment, segment)
	}
	return err
}
