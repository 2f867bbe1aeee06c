// Package config loads automation documents and runtime settings.
//
// # Overview
//
// An automation document names the events that trigger it, the variables it
// computes and the actions it asks its caller to perform. Every variable,
// trigger condition, action guard and action parameter is a provider
// configuration: plain JSON that pkg/providers decodes into a builder tree.
// This package only checks the document envelope; provider shapes are
// checked when a release is compiled.
//
// # Sources
//
// Documents are read from JSON or CUE files, or from directories holding
// them. A file holds either one document or an "automations" field with a
// list of documents or a struct keyed by automation ID:
//
//	automations: {
//		"quote-follow-up": {
//			triggers: [{event: "quote.created"}]
//			variables: total: objectPathLookupText: "trigger.total"
//		}
//	}
//
// # Validation
//
// Each document is unified with the built-in #Automation CUE definition,
// which rejects unknown fields, malformed aliases and empty event names, and
// then validated as a Document with go-playground/validator. Problems are
// reported as ValidationError values carrying file positions where CUE
// knows them.
//
// # Settings
//
// LoadSettings reads the YAML settings file used by the automation CLI:
// store location, runner pool size, HTTP and script limits, and the
// telemetry configuration.
//
// # Usage Example
//
//	loader := config.NewLoader()
//	parsed, err := loader.Load(ctx, []string{"automations/"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if parsed.HasErrors() {
//	    for _, e := range parsed.Errors {
//	        fmt.Println(e)
//	    }
//	}
package config
