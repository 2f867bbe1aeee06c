package config

import (
	"context"
	"testing"
)

func TestSchemaRegistry_RegisterAndGet(t *testing.T) {
	sr := NewSchemaRegistry(nil)

	customSchema := `
#Notification: {
	channel: "email" | "sms"
	to:      string
}
`

	if err := sr.RegisterSchema("notification", customSchema, "#Notification"); err != nil {
		t.Fatalf("failed to register schema: %v", err)
	}

	schema, ok := sr.GetSchema("notification")
	if !ok {
		t.Fatal("expected to find notification schema")
	}
	if schema.Err() != nil {
		t.Errorf("schema has errors: %v", schema.Err())
	}

	if err := sr.RegisterSchema("broken", `#X: {`, ""); err == nil {
		t.Error("expected compile error for broken schema")
	}
	if err := sr.RegisterSchema("missing", customSchema, "#Nope"); err == nil {
		t.Error("expected error for unknown definition")
	}
}

func TestSchemaRegistry_BuiltInSchemas(t *testing.T) {
	sr := NewSchemaRegistry(nil)

	names := sr.ListSchemas()
	want := []string{"action", "automation", "trigger"}
	if len(names) != len(want) {
		t.Fatalf("expected schemas %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("expected schema %s at %d, got %s", want[i], i, names[i])
		}
	}
}

func TestSchemaRegistry_ValidateAutomation(t *testing.T) {
	sr := NewSchemaRegistry(nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		data    map[string]interface{}
		wantErr bool
	}{
		{
			name: "valid automation",
			data: map[string]interface{}{
				"id":        "quote-follow-up",
				"variables": map[string]interface{}{"total": map[string]interface{}{"objectPathLookupText": "trigger.total"}},
				"actions":   []interface{}{map[string]interface{}{"name": "notify", "type": "http"}},
			},
		},
		{
			name:    "missing id",
			data:    map[string]interface{}{"name": "no id"},
			wantErr: true,
		},
		{
			name:    "bad id",
			data:    map[string]interface{}{"id": "has spaces"},
			wantErr: true,
		},
		{
			name: "variable alias casing",
			data: map[string]interface{}{
				"id":        "a",
				"variables": map[string]interface{}{"Total": 1},
			},
			wantErr: true,
		},
		{
			name:    "unknown field",
			data:    map[string]interface{}{"id": "a", "schedule": "daily"},
			wantErr: true,
		},
		{
			name: "action without type",
			data: map[string]interface{}{
				"id":      "a",
				"actions": []interface{}{map[string]interface{}{"name": "notify"}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sr.ValidateAgainstSchema(ctx, "automation", tt.data)

			if tt.wantErr {
				if err == nil {
					t.Error("expected validation error, got none")
				}
			} else {
				if err != nil {
					t.Errorf("unexpected validation error: %v", err)
				}
			}
		})
	}
}

func TestSchemaRegistry_UnknownSchema(t *testing.T) {
	sr := NewSchemaRegistry(nil)

	if err := sr.ValidateAgainstSchema(context.Background(), "nope", map[string]interface{}{}); err == nil {
		t.Error("expected error for unknown schema")
	}
}
