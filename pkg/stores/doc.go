// Package stores provides the SQLite persistence layer of the automation
// engine: compiled release documents, the entities read by entity lookup
// providers, and the failures recorded by runs. Schema changes are applied
// with embedded golang-migrate migrations.
package stores
