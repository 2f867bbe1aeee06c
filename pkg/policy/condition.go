package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

// Conditions compiles Rego modules used as automation conditions.
type Conditions struct{}

// NewConditions creates a condition compiler.
func NewConditions() *Conditions {
	return &Conditions{}
}

// Condition is a prepared Rego query. It is safe for concurrent use.
type Condition struct {
	name  string
	query rego.PreparedEvalQuery
}

// Compile parses module and prepares query against it. When query is empty
// it defaults to "<package>.allow". Compilation is CPU-only.
func (c *Conditions) Compile(name, module, query string) (*Condition, error) {
	parsed, err := ast.ParseModule(name, module)
	if err != nil {
		return nil, fmt.Errorf("failed to parse condition %s: %w", name, err)
	}
	if query == "" {
		query = parsed.Package.Path.String() + ".allow"
	}

	prepared, err := rego.New(
		rego.ParsedModule(parsed),
		rego.Query(query),
	).PrepareForEval(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to prepare condition %s: %w", name, err)
	}

	return &Condition{name: name, query: prepared}, nil
}

// Name returns the name the condition was compiled with.
func (c *Condition) Name() string {
	return c.name
}

// Eval evaluates the query against input. defined is false when the query
// produced no result.
func (c *Condition) Eval(ctx context.Context, input interface{}) (value interface{}, defined bool, err error) {
	results, err := c.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, false, fmt.Errorf("condition %s evaluation failed: %w", c.name, err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, false, nil
	}
	return results[0].Expressions[0].Value, true, nil
}

// Allowed evaluates the condition as a boolean. An undefined result is false;
// a defined non-boolean result is an error.
func (c *Condition) Allowed(ctx context.Context, input interface{}) (bool, error) {
	v, defined, err := c.Eval(ctx, input)
	if err != nil || !defined {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("condition %s produced %T, want bool", c.name, v)
	}
	return b, nil
}
