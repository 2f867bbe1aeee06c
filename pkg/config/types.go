package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// DefaultTriggerAlias is the scope alias the trigger payload is bound to
// when a document does not name one.
const DefaultTriggerAlias = "trigger"

// Document is one automation definition: triggers, variables and actions
// whose values are provider configurations.
type Document struct {
	// ID uniquely identifies the automation within a release.
	ID string `json:"id" validate:"required,automationid"`

	// Name is a human-readable label.
	Name string `json:"name,omitempty"`

	// Description is free text.
	Description string `json:"description,omitempty"`

	// Tenant restricts the automation to one tenant. Empty means any.
	Tenant string `json:"tenant,omitempty"`

	// TriggerAlias names the scope binding of the trigger payload.
	TriggerAlias string `json:"triggerAlias,omitempty" validate:"omitempty,alias"`

	// Variables maps aliases to provider configurations.
	Variables map[string]json.RawMessage `json:"variables,omitempty" validate:"dive,keys,alias,endkeys,required"`

	// Triggers lists the events that start the automation.
	Triggers []TriggerConfig `json:"triggers,omitempty" validate:"dive"`

	// Actions lists what the automation asks the caller to do.
	Actions []ActionConfig `json:"actions,omitempty" validate:"unique=Name,dive"`

	// Labels are arbitrary key/value metadata.
	Labels map[string]string `json:"labels,omitempty"`
}

// TriggerConfig binds an event name to an optional condition.
type TriggerConfig struct {
	Event     string          `json:"event" validate:"required"`
	Condition json.RawMessage `json:"condition,omitempty"`
}

// ActionConfig describes one action invocation.
type ActionConfig struct {
	Name       string                     `json:"name" validate:"required"`
	Type       string                     `json:"type" validate:"required"`
	When       json.RawMessage            `json:"when,omitempty"`
	Parameters map[string]json.RawMessage `json:"parameters,omitempty" validate:"dive,keys,required,endkeys,required"`
}

// Alias returns the trigger alias, defaulted.
func (d *Document) Alias() string {
	if d.TriggerAlias == "" {
		return DefaultTriggerAlias
	}
	return d.TriggerAlias
}

// VariableNames returns the variable aliases in sorted order.
func (d *Document) VariableNames() []string {
	names := make([]string, 0, len(d.Variables))
	for name := range d.Variables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Map returns the document as generic JSON data, the shape lint policies
// receive as input.automation.
func (d *Document) Map() (map[string]interface{}, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document %s: %w", d.ID, err)
	}

	var out map[string]interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document %s: %w", d.ID, err)
	}
	return out, nil
}

// ValidationError represents a problem found while loading documents.
type ValidationError struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Path     string `json:"path,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	loc := e.File
	if loc == "" {
		loc = "inline"
	}
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d:%d", loc, e.Line, e.Column)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", loc, e.Path, e.Message)
	}
	return fmt.Sprintf("%s: %s", loc, e.Message)
}

// ParsedDocuments is the result of loading one or more sources.
type ParsedDocuments struct {
	Documents   []Document        `json:"documents"`
	SourceFiles []string          `json:"sourceFiles"`
	ParsedAt    time.Time         `json:"parsedAt"`
	Errors      []ValidationError `json:"errors,omitempty"`
}

// HasErrors reports whether any source failed to load or validate.
func (p *ParsedDocuments) HasErrors() bool {
	return len(p.Errors) > 0
}

// Err folds the validation errors into a single error, or nil.
func (p *ParsedDocuments) Err() error {
	if !p.HasErrors() {
		return nil
	}
	if len(p.Errors) == 1 {
		return p.Errors[0]
	}
	return fmt.Errorf("%w (and %d more)", p.Errors[0], len(p.Errors)-1)
}

// Find returns the document with the given ID.
func (p *ParsedDocuments) Find(id string) (*Document, bool) {
	for i := range p.Documents {
		if p.Documents[i].ID == id {
			return &p.Documents[i], true
		}
	}
	return nil, false
}
