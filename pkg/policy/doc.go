// Package policy provides Open Policy Agent (OPA) integration for automation
// releases.
//
// It has two jobs. The Engine lints automation documents with Rego deny rules
// before a release is accepted, and Conditions compiles Rego modules that
// automations use as boolean conditions at run time.
//
// # Linting
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	result, err := eng.Lint(ctx, releaseID, automations)
//	if err != nil {
//	    return err
//	}
//	if !result.Allowed {
//	    for _, v := range result.Violations {
//	        fmt.Printf("%s: %s (%s)\n", v.Automation, v.Message, v.Policy)
//	    }
//	}
//
// Each automation is evaluated as input.automation with input.release set to
// the release id. Deny entries may be plain strings or objects carrying
// message, location and severity.
//
// # Built-in Policies
//
//  1. automation-naming - lowercase hyphenated ids
//  2. automation-triggers - automations without triggers (warning)
//  3. action-names - unique action names
//  4. http-actions - http actions declare a url
//
// Custom policies are loaded with LoadPolicies from .rego files or JSON
// policy definitions and replace built-ins of the same name.
//
// # Conditions
//
//	cond, err := policy.NewConditions().Compile("bigQuote", module, "")
//	ok, err := cond.Allowed(ctx, input)
//
// Conditions are prepared once and are safe for concurrent evaluation.
package policy
