// Package path parses and resolves the property paths used in automation
// documents.
//
// A path names a scope alias followed by the properties below it. Pointer
// form (#/quote/lines/0/total) and dotted form (quote.lines[0].total) are
// interchangeable. Segments must be camelCase: Parse rejects a segment that
// starts with an uppercase letter, and the Resolver rejects a segment whose
// casing differs from the property it would otherwise address. Both are
// reported as automation.providers.path.syntax.error so authors can tell a
// malformed path from one that simply found nothing
// (automation.providers.path.not.found).
//
// Paths starting with "$" are JSONPath expressions evaluated against the
// visible scope bindings. They cannot identify ancestors.
//
// The Resolver works in two modes. ResolveValue returns the value found.
// ResolveExpr returns an Expr, a small closed tree of Param, MemberAccess,
// KeyAccess, IndexAccess, Constant and Binary nodes, which callers evaluate
// later or Compile into closures, e.g. to filter list items.
package path
