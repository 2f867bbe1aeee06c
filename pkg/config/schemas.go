package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for validation. Schemas are stored as
// definitions compiled in the registry's context, so values validated
// against them must come from the same context.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a schema registry with the built-in automation
// schemas. A nil context gets a fresh one.
func NewSchemaRegistry(ctx *cue.Context) *SchemaRegistry {
	if ctx == nil {
		ctx = cuecontext.New()
	}
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}

	sr.registerBuiltInSchemas()

	return sr
}

// registerBuiltInSchemas registers all built-in schemas.
func (sr *SchemaRegistry) registerBuiltInSchemas() {
	for name, def := range map[string]string{
		"automation": "#Automation",
		"trigger":    "#Trigger",
		"action":     "#Action",
	} {
		if err := sr.RegisterSchema(name, builtinAutomationSchema, def); err != nil {
			panic(fmt.Sprintf("built-in schema %s: %v", name, err))
		}
	}
}

// Context returns the CUE context schemas are compiled in.
func (sr *SchemaRegistry) Context() *cue.Context {
	return sr.ctx
}

// RegisterSchema compiles source and registers the definition it names
// (e.g. "#Automation") under name. An empty definition registers the whole
// compiled value.
func (sr *SchemaRegistry) RegisterSchema(name, source, definition string) error {
	val := sr.ctx.CompileString(source, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	if definition != "" {
		val = val.LookupPath(cue.ParsePath(definition))
		if !val.Exists() {
			return fmt.Errorf("schema %s does not define %s", name, definition)
		}
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Unify unifies val with the named schema and requires a concrete result.
func (sr *SchemaRegistry) Unify(name string, val cue.Value) (cue.Value, error) {
	schema, ok := sr.GetSchema(name)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", name)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return unified, err
	}
	return unified, nil
}

// ValidateAgainstSchema validates Go data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	val := sr.ctx.Encode(data)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	if _, err := sr.Unify(schemaName, val); err != nil {
		return fmt.Errorf("validation failed against schema %s: %w", schemaName, err)
	}
	return nil
}

// ListSchemas returns the registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// builtinAutomationSchema describes automation documents. Provider
// configurations are left open; their shapes are checked when a release is
// compiled.
const builtinAutomationSchema = `
#Alias: =~"^[a-z][A-Za-z0-9_]*$"

#Provider: _

#Automation: {
	id:            string & =~"^[A-Za-z0-9][A-Za-z0-9_.-]*$"
	name?:         string
	description?:  string
	tenant?:       string
	triggerAlias?: #Alias
	variables?: {[#Alias]: #Provider}
	triggers?: [...#Trigger]
	actions?: [...#Action]
	labels?: {[string]: string}
}

#Trigger: {
	event:      string & !=""
	condition?: #Provider
}

#Action: {
	name:  string & !=""
	type:  string & !=""
	when?: #Provider
	parameters?: {[string]: #Provider}
}
`
