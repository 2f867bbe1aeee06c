package policy

import (
	"time"
)

// Severity represents the severity level of a lint violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed but do not block a release.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the release from compiling.
	SeverityError Severity = "error"
)

// Blocking reports whether violations of this severity reject a release.
func (s Severity) Blocking() bool {
	return s == SeverityError
}

// Policy is a lint rule written in Rego. Its module must define a
// "deny" set under its package.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Violation is a single lint finding on an automation document.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Automation is the id of the offending automation.
	Automation string `json:"automation,omitempty"`

	// Location points into the document, e.g. "actions[1].parameters".
	Location string `json:"location,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Result is the outcome of linting a release.
type Result struct {
	// Allowed is false when at least one blocking violation was found.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists non-blocking findings.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluatedPolicies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// LintInput is the Rego input document for lint policies.
type LintInput struct {
	// Release identifies the release being compiled.
	Release string `json:"release"`

	// Automation is the JSON form of one automation document.
	Automation map[string]interface{} `json:"automation"`
}
