package release

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/automation/pkg/engine"
	"github.com/openfroyo/automation/pkg/policy"
	"github.com/openfroyo/automation/pkg/script"
)

func newDeps() *engine.DependencyContext {
	return engine.NewDependencyContext().
		Register(engine.DependencyScripts, script.NewEvaluator(script.DefaultConfig(), zerolog.Nop())).
		Register(engine.DependencyConditions, policy.NewConditions())
}

func buildProgram(t *testing.T, content string) *Program {
	t.Helper()
	rel, err := NewCompiler(nil, nil, nil, zerolog.Nop()).Compile(context.Background(), "rel-test", parseDocs(t, content))
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}
	prog, err := rel.Build(newDeps())
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	return prog
}

func TestProgram_Evaluate(t *testing.T) {
	prog := buildProgram(t, quoteAutomation)

	tests := []struct {
		name        string
		input       RunInput
		wantStatus  string
		wantMatched bool
		wantEscal   bool
		wantName    string
	}{
		{
			name: "large quote",
			input: RunInput{Tenant: "acme", Event: "quote.created", Trigger: map[string]any{
				"total":    1500.0,
				"customer": map[string]any{"name": "Ada"},
			}},
			wantStatus:  StatusSucceeded,
			wantMatched: true,
			wantEscal:   true,
			wantName:    "Ada",
		},
		{
			name:        "small quote falls back to default customer",
			input:       RunInput{Tenant: "acme", Event: "quote.created", Trigger: map[string]any{"total": 500.0}},
			wantStatus:  StatusSucceeded,
			wantMatched: true,
			wantName:    "unknown",
		},
		{
			name:       "condition does not hold",
			input:      RunInput{Tenant: "acme", Event: "quote.created", Trigger: map[string]any{"total": 50.0}},
			wantStatus: StatusSkipped,
		},
		{
			name:       "other event",
			input:      RunInput{Tenant: "acme", Event: "quote.deleted", Trigger: map[string]any{"total": 1500.0}},
			wantStatus: StatusSkipped,
		},
		{
			name:       "other tenant",
			input:      RunInput{Tenant: "globex", Event: "quote.created", Trigger: map[string]any{"total": 1500.0}},
			wantStatus: StatusSkipped,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval, err := prog.Evaluate(context.Background(), "quote-follow-up", tt.input)
			if err != nil {
				t.Fatalf("Evaluate error: %v", err)
			}
			if eval.RunID == "" {
				t.Error("Expected a generated run ID")
			}
			if eval.Status != tt.wantStatus {
				t.Errorf("Expected status %s, got %s", tt.wantStatus, eval.Status)
			}
			if eval.Matched != tt.wantMatched {
				t.Errorf("Expected matched=%v, got %v", tt.wantMatched, eval.Matched)
			}
			if !tt.wantMatched {
				if len(eval.Invocations) != 0 {
					t.Errorf("Expected no invocations, got %+v", eval.Invocations)
				}
				return
			}

			if eval.Variables["large"] != tt.wantEscal {
				t.Errorf("Expected large=%v, got %v", tt.wantEscal, eval.Variables["large"])
			}
			if len(eval.Invocations) != 2 {
				t.Fatalf("Expected 2 invocations, got %d", len(eval.Invocations))
			}

			notify := eval.Invocations[0]
			if !notify.Enabled || notify.Type != "http" {
				t.Errorf("Unexpected notify invocation %+v", notify)
			}
			if notify.Parameters["url"] != "https://example.com/hook" {
				t.Errorf("Unexpected url %v", notify.Parameters["url"])
			}
			if notify.Parameters["customer"] != tt.wantName {
				t.Errorf("Expected customer %s, got %v", tt.wantName, notify.Parameters["customer"])
			}
			if eval.Counters["notifications"] != 1 {
				t.Errorf("Expected notifications counter 1, got %v", eval.Counters)
			}

			escalate := eval.Invocations[1]
			if escalate.Enabled != tt.wantEscal {
				t.Errorf("Expected escalate enabled=%v, got %v", tt.wantEscal, escalate.Enabled)
			}
			if !escalate.Enabled && escalate.Parameters != nil {
				t.Errorf("Expected no parameters for a disabled action, got %v", escalate.Parameters)
			}
		})
	}
}

func TestProgram_EvaluateFailure(t *testing.T) {
	prog := buildProgram(t, `{
		"id": "order-sync",
		"variables": {
			"sku": {"objectPathLookupText": "trigger.line.sku"}
		}
	}`)

	eval, err := prog.Evaluate(context.Background(), "order-sync", RunInput{RunID: "run-7", Trigger: map[string]any{}})
	if err == nil {
		t.Fatal("Expected an error for a missing path")
	}
	if !engine.IsNotFound(err) {
		t.Errorf("Expected a not-found error, got %v", err)
	}
	if eval == nil {
		t.Fatal("Expected an evaluation alongside the error")
	}
	if eval.Status != StatusFailed || eval.RunID != "run-7" {
		t.Errorf("Unexpected evaluation %+v", eval)
	}
	if len(eval.Failures) != 1 {
		t.Errorf("Expected 1 recorded failure, got %d", len(eval.Failures))
	}
}

func TestProgram_ManualRunWithoutTriggers(t *testing.T) {
	prog := buildProgram(t, `{
		"id": "greeter",
		"triggerAlias": "signup",
		"variables": {
			"greeting": {"concat": ["Hello ", {"objectPathLookupText": "signup.name"}]}
		}
	}`)

	eval, err := prog.Evaluate(context.Background(), "greeter", RunInput{Trigger: map[string]any{"name": "Ada"}})
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if !eval.Matched || eval.Event != "manual" {
		t.Errorf("Expected a manual match, got %+v", eval)
	}
	if eval.Variables["greeting"] != "Hello Ada" {
		t.Errorf("Expected greeting, got %v", eval.Variables["greeting"])
	}
}

func TestProgram_UnknownAutomation(t *testing.T) {
	prog := buildProgram(t, quoteAutomation)

	eval, err := prog.Evaluate(context.Background(), "missing", RunInput{})
	if err == nil || eval != nil {
		t.Fatalf("Expected an error and no evaluation, got %v, %v", eval, err)
	}
	if !engine.HasCode(err, engine.ErrCodeInvalidInputData) {
		t.Errorf("Unexpected error %v", err)
	}
}

func TestRelease_BuildMissingDependency(t *testing.T) {
	rel, err := NewCompiler(nil, nil, nil, zerolog.Nop()).Compile(context.Background(), "rel", parseDocs(t, `{
		"id": "customer-sync",
		"variables": {
			"customer": {"entityLookup": {"entityType": "customer", "entityId": "c-1"}}
		}
	}`))
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}

	_, err = rel.Build(engine.NewDependencyContext())
	if !engine.HasCode(err, engine.ErrCodeDependencyMissing) {
		t.Errorf("Expected %s, got %v", engine.ErrCodeDependencyMissing, err)
	}
}
