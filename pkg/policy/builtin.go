package policy

// GetBuiltinPolicies returns all built-in lint policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		automationNamingPolicy(),
		triggerPolicy(),
		actionNamesPolicy(),
		httpActionPolicy(),
	}
}

// automationNamingPolicy enforces automation id conventions.
func automationNamingPolicy() Policy {
	return Policy{
		Name:        "automation-naming",
		Description: "Automation ids are lowercase, alphanumeric with hyphens, 3 to 63 characters",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming", "conventions"},
		Rego: `package automation.lint.naming

import rego.v1

deny contains violation if {
	id := input.automation.id
	not regex.match("^[a-z0-9]([a-z0-9-]*[a-z0-9])?$", id)
	violation := {
		"message": sprintf("Automation id '%s' must contain only lowercase letters, numbers and inner hyphens", [id]),
		"location": "id",
	}
}

deny contains violation if {
	id := input.automation.id
	count(id) < 3
	violation := {
		"message": sprintf("Automation id '%s' must be at least 3 characters long", [id]),
		"location": "id",
	}
}

deny contains violation if {
	id := input.automation.id
	count(id) > 63
	violation := {
		"message": sprintf("Automation id '%s' must not exceed 63 characters", [id]),
		"location": "id",
	}
}`,
	}
}

// triggerPolicy flags automations that can never fire.
func triggerPolicy() Policy {
	return Policy{
		Name:        "automation-triggers",
		Description: "Automations should declare at least one trigger",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"triggers"},
		Rego: `package automation.lint.triggers

import rego.v1

deny contains violation if {
	count(object.get(input.automation, "triggers", [])) == 0
	violation := {
		"message": sprintf("Automation '%s' declares no triggers and can never fire", [input.automation.id]),
		"location": "triggers",
	}
}`,
	}
}

// actionNamesPolicy requires unique action names, which invocations are keyed by.
func actionNamesPolicy() Policy {
	return Policy{
		Name:        "action-names",
		Description: "Action names are unique within an automation",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"actions"},
		Rego: `package automation.lint.actions

import rego.v1

deny contains violation if {
	some i, j
	action := input.automation.actions[i]
	other := input.automation.actions[j]
	i < j
	action.name == other.name
	violation := {
		"message": sprintf("Action name '%s' is used more than once", [action.name]),
		"location": sprintf("actions[%d].name", [j]),
	}
}`,
	}
}

// httpActionPolicy requires a url parameter on http actions.
func httpActionPolicy() Policy {
	return Policy{
		Name:        "http-actions",
		Description: "Actions of type http declare a url parameter",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"actions", "http"},
		Rego: `package automation.lint.http

import rego.v1

deny contains violation if {
	some i
	action := input.automation.actions[i]
	action.type == "http"
	not action.parameters.url
	violation := {
		"message": sprintf("Action '%s' of type http has no url parameter", [action.name]),
		"location": sprintf("actions[%d].parameters", [i]),
	}
}`,
	}
}
