package engine_test

import (
	"fmt"
	"log"

	"github.com/openfroyo/automation/pkg/engine"
)

// Example_variableOrdering orders automation variables so that each one is
// resolved after the variables its provider references.
func Example_variableOrdering() {
	nodes := []engine.Node{
		{ID: "greeting", DependsOn: []string{"customer", "total"}},
		{ID: "customer", DependsOn: []string{"order"}},
		{ID: "total", DependsOn: []string{"order"}},
		{ID: "order"},
	}

	graph, err := engine.NewDAGBuilder().BuildGraph(nodes)
	if err != nil {
		log.Fatalf("Failed to build DAG: %v", err)
	}

	for level, ids := range graph.Levels {
		fmt.Printf("level %d: %v\n", level, ids)
	}
	fmt.Println("order:", graph.Order())

	_, err = engine.NewDAGBuilder().BuildGraph([]engine.Node{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
	})
	fmt.Println("cycle:", engine.HasCode(err, engine.ErrCodeVariableCycle))
	// Output:
	// level 0: [order]
	// level 1: [customer total]
	// level 2: [greeting]
	// order: [order customer total greeting]
	// cycle: true
}
