// Package release compiles automation documents into releases and runs them.
//
// A Release holds the decoded provider builders of every automation, with
// variables ordered so each one resolves after the variables it references.
// Building a release against a DependencyContext yields a Program, which
// evaluates runs: it matches the trigger, resolves variables into the run
// scope and resolves each action's guard and parameters into an Invocation.
//
// The Runner evaluates batches of runs on a worker pool, and the Watcher
// recompiles a directory of documents whenever it changes.
package release
