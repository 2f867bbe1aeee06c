// Package engine provides the core types of the automation resolution engine.
//
// # Overview
//
// Automations are authored as JSON documents. At release-compile time each
// provider-valued field is decoded into a Builder; building a release turns
// every Builder into a Provider. At run time a Provider is resolved against a
// ProviderContext (the run's root data and diagnostics) and a Scope (the
// aliases visible at that point of the evaluation):
//
//	JSON -> Builder[T] -> Build(DependencyContext) -> Provider[T] -> Resolve(ctx, ProviderContext, Scope) -> Data[T]
//
// # Scope
//
// A Scope is a stack of alias bindings. Push fails when the alias is already
// visible; PushWithGeneratedAlias binds the first free name of root, root1,
// root2, ... in ascending order. Bindings are released in LIFO order, usually
// with a deferred Unwind:
//
//	mark := scope.Mark()
//	defer scope.Unwind(mark)
//	if err := scope.Push("item", v, "mapList.itemAlias"); err != nil {
//	    return err
//	}
//
// Concurrent branches of one run resolve against their own Fork of the scope.
//
// # Data
//
// Data[T] distinguishes an absent value, an explicit null and a present value.
// IsEmpty further reports present values that are empty strings or collections.
//
// # Errors
//
// Every failure is an *EngineError carrying a stable dotted code, a class
// (configuration or resolution), diagnostic details and a trace of the
// provider layers it passed through. Parents call Annotate before returning a
// child's error. Only automation.providers.path.not.found is eligible for
// default-value fallback:
//
//	if engine.IsNotFound(err) && defaultValue != nil {
//	    return defaultValue.Resolve(ctx, pc, scope)
//	}
//
// # Variable ordering
//
// DAGBuilder orders automation variables so that a variable is bound only
// after the variables its provider references, and rejects cycles.
package engine
