package engine

import (
	"errors"
	"fmt"
	"maps"
	"strings"
)

// ErrorClass separates authoring defects from failures observed while resolving.
type ErrorClass string

const (
	// ErrorClassConfiguration indicates a defect in the automation document itself.
	// Examples: unrecognized provider shape, invalid path syntax, missing collaborator.
	// These are raised while a release is compiled or built, before any trigger fires.
	ErrorClassConfiguration ErrorClass = "configuration"

	// ErrorClassResolution indicates a failure while resolving a provider for a run.
	// Examples: path not found, alias not bound, wrong value type obtained.
	ErrorClassResolution ErrorClass = "resolution"
)

// Stable error codes. These strings are part of the contract with the action layer.
const (
	ErrCodePathSyntax        = "automation.providers.path.syntax.error"
	ErrCodePathNotFound      = "automation.providers.path.not.found"
	ErrCodeDuplicateAlias    = "automation.providers.duplicate.expression.alias"
	ErrCodeInvalidInputData  = "automation.providers.invalid.input.data"
	ErrCodeInvalidValueType  = "automation.providers.invalid.value.type.obtained"
	ErrCodeParameterMissing  = "automation.providers.parameter.missing"
	ErrCodeUnrecognizedShape = "automation.providers.unrecognized.shape"
	ErrCodeDependencyMissing = "automation.providers.dependency.missing"
	ErrCodeCancelled         = "automation.providers.resolution.cancelled"
	ErrCodeVariableCycle     = "automation.providers.variable.cycle"
	ErrCodeUpstreamFailed    = "automation.providers.upstream.failed"
	ErrCodeEvaluationFailed  = "automation.providers.evaluation.failed"
)

// Sentinels for errors.Is matching. Only Class and Code take part in the comparison.
var (
	ErrPathSyntax        = &EngineError{Class: ErrorClassConfiguration, Code: ErrCodePathSyntax}
	ErrPathNotFound      = &EngineError{Class: ErrorClassResolution, Code: ErrCodePathNotFound}
	ErrDuplicateAlias    = &EngineError{Class: ErrorClassResolution, Code: ErrCodeDuplicateAlias}
	ErrInvalidInputData  = &EngineError{Class: ErrorClassResolution, Code: ErrCodeInvalidInputData}
	ErrInvalidValueType  = &EngineError{Class: ErrorClassResolution, Code: ErrCodeInvalidValueType}
	ErrParameterMissing  = &EngineError{Class: ErrorClassResolution, Code: ErrCodeParameterMissing}
	ErrUnrecognizedShape = &EngineError{Class: ErrorClassConfiguration, Code: ErrCodeUnrecognizedShape}
	ErrDependencyMissing = &EngineError{Class: ErrorClassConfiguration, Code: ErrCodeDependencyMissing}
	ErrCancelled         = &EngineError{Class: ErrorClassResolution, Code: ErrCodeCancelled}
	ErrVariableCycle     = &EngineError{Class: ErrorClassConfiguration, Code: ErrCodeVariableCycle}
	ErrUpstreamFailed    = &EngineError{Class: ErrorClassResolution, Code: ErrCodeUpstreamFailed}
	ErrEvaluationFailed  = &EngineError{Class: ErrorClassResolution, Code: ErrCodeEvaluationFailed}
)

// Frame is one layer of provider nesting recorded on an error as it propagates.
type Frame struct {
	// SchemaKey identifies the provider that was resolving.
	SchemaKey string `json:"schemaKey"`

	// Parameter is the parameter of that provider whose child failed.
	Parameter string `json:"parameter,omitempty"`
}

func (f Frame) String() string {
	if f.Parameter == "" {
		return f.SchemaKey
	}
	return f.SchemaKey + "." + f.Parameter
}

// EngineError is the structured failure raised by every layer of the engine.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Code is the stable dotted error code.
	Code string `json:"code,omitempty"`

	// Title is a short human-readable summary.
	Title string `json:"title,omitempty"`

	// Message is the human-readable detail.
	Message string `json:"message"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details carries diagnostic key/value pairs (path, alias, provider type, tenant).
	Details map[string]interface{} `json:"details,omitempty"`

	// Trace lists the provider layers the error passed through, innermost first.
	Trace []Frame `json:"trace,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var b strings.Builder
	b.WriteString("[")
	if e.Code != "" {
		b.WriteString(e.Code)
	} else {
		b.WriteString(string(e.Class))
	}
	b.WriteString("] ")
	b.WriteString(e.Message)
	if len(e.Trace) > 0 {
		fmt.Fprintf(&b, " (at %s)", e.Location())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// Location renders the trace outermost first, e.g. "mapList.select > objectPathLookupText".
func (e *EngineError) Location() string {
	parts := make([]string, 0, len(e.Trace))
	for i := len(e.Trace) - 1; i >= 0; i-- {
		parts = append(parts, e.Trace[i].String())
	}
	return strings.Join(parts, " > ")
}

// Clone returns a copy whose details and trace may be extended without
// affecting the receiver.
func (e *EngineError) Clone() *EngineError {
	c := *e
	c.Details = maps.Clone(e.Details)
	c.Trace = append([]Frame(nil), e.Trace...)
	return &c
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConfiguration,
		Message: message,
		Err:     err,
	}
}

// NewResolutionError creates a new resolution error.
func NewResolutionError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassResolution,
		Message: message,
		Err:     err,
	}
}

// WithCode sets the error code.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithTitle sets the short summary.
func (e *EngineError) WithTitle(title string) *EngineError {
	e.Title = title
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithDiagnostics copies every diagnostic entry into the error details.
// Entries already present on the error win.
func (e *EngineError) WithDiagnostics(d Diagnostics) *EngineError {
	for k, v := range d {
		if _, exists := e.Details[k]; exists {
			continue
		}
		e.WithDetail(k, v)
	}
	return e
}

// Annotate records that err passed through the provider identified by schemaKey
// while resolving parameter. The original error is never mutated. Errors that
// are not engine errors are wrapped as resolution errors first.
func Annotate(err error, schemaKey, parameter string) error {
	if err == nil {
		return nil
	}
	var e *EngineError
	if !errors.As(err, &e) {
		e = NewResolutionError("provider resolution failed", err)
	} else {
		e = e.Clone()
	}
	e.Trace = append(e.Trace, Frame{SchemaKey: schemaKey, Parameter: parameter})
	return e
}

// Code returns the error code carried by err, or "" when err is not an engine error.
func Code(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	return err != nil && Code(err) == code
}

// IsConfiguration returns true if the error is classified as a configuration error.
func IsConfiguration(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConfiguration
	}
	return false
}

// IsResolution returns true if the error is classified as a resolution error.
func IsResolution(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassResolution
	}
	return false
}

// IsNotFound reports whether err is a path not-found error, the only kind
// eligible for default-value fallback.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPathNotFound)
}
