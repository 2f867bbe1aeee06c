// Package providers implements the provider catalogue and the JSON shape
// decoder that turns provider documents into builder trees.
//
// A provider document is plain JSON. Scalars and null are literals, arrays
// are lists and objects are matched against a fixed table of shapes: an
// object must contain exactly one shape key, plus any companion keys that
// shape allows.
//
//	{"objectPathLookupText": "#/trigger/customerId", "defaultValue": "anonymous"}
//	{"mapList": {"list": {"objectPathLookupText": "quote.lines"}, "select": {"objectPathLookupText": "item.sku"}}}
//
// Decoding and building are deterministic and perform no I/O. Builders
// obtain collaborators such as the entity repository, the Starlark evaluator
// or the Rego condition compiler from an engine.DependencyContext, so that
// scripts and policies are compiled once, when the release is built.
//
// Resolution binds list items and let values in the engine.Scope. Explicit
// aliases must be unused; the default item alias is disambiguated as item,
// item1, item2 and so on for nested lists.
package providers
