package release

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/automation/pkg/config"
	"github.com/openfroyo/automation/pkg/engine"
	"github.com/openfroyo/automation/pkg/policy"
)

const quoteAutomation = `{
	"id": "quote-follow-up",
	"tenant": "acme",
	"variables": {
		"large": {"compare": {"left": {"objectPathLookupText": "total"}, "operator": "greaterThanOrEqual", "right": 1000}},
		"total": {"objectPathLookupText": "trigger.total"},
		"customer": {"objectPathLookupText": "trigger.customer.name", "defaultValue": "unknown"}
	},
	"triggers": [{
		"event": "quote.created",
		"condition": {"compare": {"left": {"objectPathLookupText": "trigger.total"}, "operator": "greaterThan", "right": 100}}
	}],
	"actions": [
		{
			"name": "notify",
			"type": "http",
			"parameters": {
				"url": "https://example.com/hook",
				"customer": {"objectPathLookupText": "customer"},
				"calls": {"incrementCounter": "notifications"}
			}
		},
		{
			"name": "escalate",
			"type": "email",
			"when": {"objectPathLookupText": "large"},
			"parameters": {"to": "sales@example.com"}
		}
	]
}`

func parseDocs(t *testing.T, content string) []config.Document {
	t.Helper()
	parsed, err := config.NewLoader().ParseInline(context.Background(), "test.json", []byte(content))
	if err != nil {
		t.Fatalf("ParseInline error: %v", err)
	}
	if err := parsed.Err(); err != nil {
		t.Fatalf("document errors: %v", err)
	}
	return parsed.Documents
}

func document(t *testing.T, id string, variables map[string]string) config.Document {
	t.Helper()
	doc := config.Document{ID: id, Variables: make(map[string]json.RawMessage)}
	for alias, raw := range variables {
		doc.Variables[alias] = json.RawMessage(raw)
	}
	return doc
}

// memoryStore keeps release documents in memory.
type memoryStore struct {
	mu   sync.Mutex
	docs map[string][]config.Document
}

func newMemoryStore() *memoryStore {
	return &memoryStore{docs: make(map[string][]config.Document)}
}

func (m *memoryStore) SaveRelease(_ context.Context, id string, docs []config.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[id] = docs
	return nil
}

func (m *memoryStore) LoadRelease(_ context.Context, id string) ([]config.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs, ok := m.docs[id]
	if !ok {
		return nil, errors.New("release not found")
	}
	return docs, nil
}

func TestCompiler_OrdersVariables(t *testing.T) {
	c := NewCompiler(nil, nil, nil, zerolog.Nop())

	rel, err := c.Compile(context.Background(), "rel-1", parseDocs(t, quoteAutomation))
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}

	a, ok := rel.Automation("quote-follow-up")
	if !ok {
		t.Fatal("Expected automation quote-follow-up")
	}

	var order []string
	for _, v := range a.Variables {
		order = append(order, v.Alias)
	}
	want := "customer,total,large"
	if got := strings.Join(order, ","); got != want {
		t.Errorf("Expected order %s, got %s", want, got)
	}

	if len(a.Triggers) != 1 || a.Triggers[0].Condition == nil {
		t.Errorf("Expected one guarded trigger, got %+v", a.Triggers)
	}
	if len(a.Actions) != 2 || a.Actions[1].When == nil {
		t.Errorf("Expected two actions with a guard on the second, got %+v", a.Actions)
	}
	if a.TriggerAlias != config.DefaultTriggerAlias {
		t.Errorf("Expected trigger alias %q, got %q", config.DefaultTriggerAlias, a.TriggerAlias)
	}
}

func TestCompiler_Errors(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		docs     []config.Document
		wantCode string
	}{
		{
			name:     "missing release id",
			docs:     []config.Document{document(t, "alpha", nil)},
			wantCode: engine.ErrCodeInvalidInputData,
		},
		{
			name: "variable cycle",
			id:   "rel",
			docs: []config.Document{document(t, "alpha", map[string]string{
				"first":  `{"objectPathLookupText": "second.value"}`,
				"second": `{"objectPathLookupText": "first.value"}`,
			})},
			wantCode: engine.ErrCodeVariableCycle,
		},
		{
			name: "unrecognized provider",
			id:   "rel",
			docs: []config.Document{document(t, "alpha", map[string]string{
				"first": `{"unknownProvider": true}`,
			})},
			wantCode: engine.ErrCodeUnrecognizedShape,
		},
		{
			name: "variable shadows trigger alias",
			id:   "rel",
			docs: []config.Document{document(t, "alpha", map[string]string{
				"trigger": `"x"`,
			})},
			wantCode: engine.ErrCodeInvalidInputData,
		},
		{
			name:     "duplicate automation",
			id:       "rel",
			docs:     []config.Document{document(t, "alpha", nil), document(t, "alpha", nil)},
			wantCode: engine.ErrCodeInvalidInputData,
		},
	}

	c := NewCompiler(nil, nil, nil, zerolog.Nop())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Compile(context.Background(), tt.id, tt.docs)
			if err == nil {
				t.Fatal("Expected an error")
			}
			if !engine.HasCode(err, tt.wantCode) {
				t.Errorf("Expected code %s, got %v", tt.wantCode, err)
			}
			if !engine.IsConfiguration(err) {
				t.Errorf("Expected a configuration error, got %v", err)
			}
		})
	}
}

func TestCompiler_CycleNamesAutomation(t *testing.T) {
	c := NewCompiler(nil, nil, nil, zerolog.Nop())
	_, err := c.Compile(context.Background(), "rel", []config.Document{document(t, "alpha", map[string]string{
		"first":  `{"objectPathLookupText": "first.value"}`,
		"second": `"ok"`,
	})})

	var e *engine.EngineError
	if !errors.As(err, &e) {
		t.Fatalf("Expected an engine error, got %v", err)
	}
	if e.Details[engine.DiagAutomationID] != "alpha" {
		t.Errorf("Expected automation detail alpha, got %v", e.Details)
	}
}

func TestCompiler_Lint(t *testing.T) {
	policies, err := policy.NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}
	c := NewCompiler(policies, nil, nil, zerolog.Nop())

	t.Run("valid release passes", func(t *testing.T) {
		rel, err := c.Compile(context.Background(), "rel-ok", parseDocs(t, quoteAutomation))
		if err != nil {
			t.Fatalf("Compile error: %v", err)
		}
		if rel.Lint == nil || !rel.Lint.Allowed {
			t.Errorf("Expected lint to allow the release, got %+v", rel.Lint)
		}
	})

	t.Run("http action without url is rejected", func(t *testing.T) {
		doc := document(t, "webhook-sender", nil)
		doc.Triggers = []config.TriggerConfig{{Event: "quote.created"}}
		doc.Actions = []config.ActionConfig{{Name: "send", Type: "http"}}

		_, err := c.Compile(context.Background(), "rel-bad", []config.Document{doc})
		if err == nil {
			t.Fatal("Expected lint to reject the release")
		}
		if !engine.HasCode(err, engine.ErrCodeInvalidInputData) {
			t.Errorf("Expected code %s, got %v", engine.ErrCodeInvalidInputData, err)
		}
	})
}

func TestCompiler_PersistAndRestore(t *testing.T) {
	store := newMemoryStore()
	cache := NewCache()
	c := NewCompiler(nil, cache, store, zerolog.Nop())
	ctx := context.Background()

	if _, err := c.Compile(ctx, "rel-1", parseDocs(t, quoteAutomation)); err != nil {
		t.Fatalf("Compile error: %v", err)
	}
	if _, ok := cache.Get("rel-1"); !ok {
		t.Error("Expected release in cache")
	}

	cache.Delete("rel-1")
	rel, err := c.Restore(ctx, "rel-1")
	if err != nil {
		t.Fatalf("Restore error: %v", err)
	}
	if ids := rel.AutomationIDs(); len(ids) != 1 || ids[0] != "quote-follow-up" {
		t.Errorf("Unexpected automations %v", ids)
	}
	if current, ok := cache.Current(); !ok || current.ID != "rel-1" {
		t.Error("Expected restored release to be current")
	}

	if _, err := c.Restore(ctx, "missing"); err == nil {
		t.Error("Expected error restoring unknown release")
	}
}

func TestReferencedAliases(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "literal", raw: `"text"`, want: ""},
		{name: "path lookup", raw: `{"objectPathLookupText": "order.lines[0].sku"}`, want: "order"},
		{name: "property expression", raw: `{"propertyExpression": "customer.name"}`, want: "customer"},
		{name: "json path", raw: `{"jsonPath": "$.order.total"}`, want: "order"},
		{name: "scope-wide json path", raw: `{"jsonPath": "$..total"}`, want: ""},
		{
			name: "nested",
			raw:  `{"concat": [{"objectPathLookupText": "b.x"}, {"objectPathLookupText": "a.y"}, {"objectPathLookupText": "b.z"}]}`,
			want: "a,b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := referencedAliases(json.RawMessage(tt.raw))
			if err != nil {
				t.Fatalf("referencedAliases error: %v", err)
			}
			if strings.Join(got, ",") != tt.want {
				t.Errorf("Expected %q, got %v", tt.want, got)
			}
		})
	}
}

func TestCache(t *testing.T) {
	cache := NewCache()
	if _, ok := cache.Current(); ok {
		t.Error("Expected no current release in empty cache")
	}

	cache.Put(&Release{ID: "b"})
	cache.Put(&Release{ID: "a"})

	if current, _ := cache.Current(); current.ID != "a" {
		t.Errorf("Expected current a, got %s", current.ID)
	}
	if got := strings.Join(cache.IDs(), ","); got != "a,b" {
		t.Errorf("Expected ids a,b, got %s", got)
	}

	cache.Delete("a")
	if _, ok := cache.Current(); ok {
		t.Error("Expected no current release after deleting it")
	}
	if cache.Len() != 1 {
		t.Errorf("Expected 1 release, got %d", cache.Len())
	}
}
