// Package script runs sandboxed Starlark transforms for automation providers.
//
// Scripts are compiled once when a release is built and run once per
// resolution:
//
//	eval := script.NewEvaluator(script.DefaultConfig(), logger)
//	prog, err := eval.Compile("lineTotals", src, "result")
//	res, err := eval.Run(ctx, prog, input)
//
// A script reads its argument from the predeclared input and assigns its
// result to the output global. The json module and the struct constructor
// are also predeclared. Runs are bounded by a step budget and a timeout, and
// stop promptly when the caller's context is cancelled.
package script
