package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const quoteDocument = `{
	"id": "quote-follow-up",
	"variables": {
		"customer": {"objectPathLookupText": "trigger.customer.name", "defaultValue": "unknown"}
	},
	"triggers": [{"event": "quote.created"}],
	"actions": [{
		"name": "notify",
		"type": "http",
		"parameters": {
			"url": "https://example.com/hook",
			"customer": {"objectPathLookupText": "customer"}
		}
	}]
}`

func writeDocs(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand("test", "none", "today")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]string
		wantErr bool
		want    string
	}{
		{
			name:  "valid documents",
			files: map[string]string{"quote.json": quoteDocument},
			want:  "1 automation(s) valid",
		},
		{
			name:    "unknown provider shape",
			files:   map[string]string{"bad.json": `{"id": "bad-shape", "variables": {"x": {"nope": 1}}}`},
			wantErr: true,
			want:    "unrecognized",
		},
		{
			name:    "schema violation",
			files:   map[string]string{"bad.json": `{"id": "bad-type", "actions": [{"name": "a"}]}`},
			wantErr: true,
			want:    "error:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, "validate", writeDocs(t, tt.files))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error=%v, got %v (output %s)", tt.wantErr, err, out)
			}
			if !strings.Contains(strings.ToLower(out), strings.ToLower(tt.want)) {
				t.Errorf("Expected output to contain %q, got %s", tt.want, out)
			}
		})
	}
}

func TestResolveCommand(t *testing.T) {
	out, err := execute(t, "resolve",
		"--provider", `{"concat": ["Hello ", {"objectPathLookupText": "trigger.name"}]}`,
		"--data", `{"trigger": {"name": "Ada"}}`)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	var result resolveResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("invalid output %s: %v", out, err)
	}
	if result.State != "present" || result.Value != "Hello Ada" {
		t.Errorf("Unexpected result %+v", result)
	}
}

func TestResolveCommand_InvalidJSON(t *testing.T) {
	if _, err := execute(t, "resolve", "--provider", `{"literal":`); err == nil {
		t.Error("Expected an error for malformed provider JSON")
	}
}

func TestRunCommand(t *testing.T) {
	dir := writeDocs(t, map[string]string{"quote.json": quoteDocument})
	db := filepath.Join(t.TempDir(), "automation.db")

	out, err := execute(t, "run",
		"--release", dir,
		"--automation", "quote-follow-up",
		"--event", "quote.created",
		"--run-id", "run-1",
		"--db", db,
		"--trigger", `{"customer": {"name": "Ada"}}`)
	if err != nil {
		t.Fatalf("run failed: %v (output %s)", err, out)
	}

	var result struct {
		Evaluation struct {
			RunID       string `json:"runId"`
			Status      string `json:"status"`
			Invocations []struct {
				Name       string         `json:"name"`
				Enabled    bool           `json:"enabled"`
				Parameters map[string]any `json:"parameters"`
			} `json:"invocations"`
		} `json:"evaluation"`
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("invalid output %s: %v", out, err)
	}
	if result.Evaluation.RunID != "run-1" || result.Evaluation.Status != "succeeded" {
		t.Errorf("Unexpected evaluation %+v", result.Evaluation)
	}
	if len(result.Evaluation.Invocations) != 1 || result.Evaluation.Invocations[0].Parameters["customer"] != "Ada" {
		t.Errorf("Unexpected invocations %+v", result.Evaluation.Invocations)
	}
}

func TestRunCommand_Batch(t *testing.T) {
	dir := writeDocs(t, map[string]string{"quote.json": quoteDocument})

	out, err := execute(t, "run",
		"--release", dir,
		"--automation", "quote-follow-up",
		"--trigger", `[{"customer": {"name": "Ada"}}, {}]`)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	var results []runOutput
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("invalid output %s: %v", out, err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if results[1].Evaluation.Variables["customer"] != "unknown" {
		t.Errorf("Expected default customer, got %v", results[1].Evaluation.Variables)
	}
}

func TestReleaseCommands(t *testing.T) {
	dir := writeDocs(t, map[string]string{"quote.json": quoteDocument})
	db := filepath.Join(t.TempDir(), "automation.db")

	out, err := execute(t, "release", "save", dir, "--id", "rel-1", "--db", db)
	if err != nil {
		t.Fatalf("release save failed: %v", err)
	}
	if !strings.Contains(out, "saved release rel-1") {
		t.Errorf("Unexpected save output %s", out)
	}

	out, err = execute(t, "release", "list", "--db", db)
	if err != nil {
		t.Fatalf("release list failed: %v", err)
	}
	if !strings.Contains(out, "rel-1") {
		t.Errorf("Expected rel-1 in list, got %s", out)
	}

	out, err = execute(t, "release", "show", "rel-1", "--db", db)
	if err != nil {
		t.Fatalf("release show failed: %v", err)
	}
	if !strings.Contains(out, "quote-follow-up") {
		t.Errorf("Expected documents in show output, got %s", out)
	}

	if _, err := execute(t, "release", "show", "missing", "--db", db); err == nil {
		t.Error("Expected error for unknown release")
	}
}

func TestReadJSONArg(t *testing.T) {
	file := filepath.Join(t.TempDir(), "payload.json")
	if err := os.WriteFile(file, []byte(`{"a": 1}`), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		arg     string
		stdin   string
		want    string
		wantErr bool
	}{
		{arg: `{"a": 1}`, want: `{"a": 1}`},
		{arg: "@" + file, want: `{"a": 1}`},
		{arg: "-", stdin: `[1, 2]`, want: `[1, 2]`},
		{arg: "not json", wantErr: true},
		{arg: "@/does/not/exist", wantErr: true},
	}

	for _, tt := range tests {
		got, err := readJSONArg(tt.arg, strings.NewReader(tt.stdin))
		if (err != nil) != tt.wantErr {
			t.Errorf("readJSONArg(%q) error = %v, wantErr %v", tt.arg, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && string(got) != tt.want {
			t.Errorf("readJSONArg(%q) = %s, want %s", tt.arg, got, tt.want)
		}
	}
}
