package release

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/openfroyo/automation/pkg/config"
)

type reload struct {
	rel *Release
	err error
}

func waitReload(t *testing.T, ch <-chan reload) reload {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for reload")
		return reload{}
	}
}

func TestWatcher_Reload(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "quote.json"), []byte(quoteAutomation), 0o644); err != nil {
		t.Fatal(err)
	}

	cache := NewCache()
	w := NewWatcher(dir, config.NewLoader(), NewCompiler(nil, cache, nil, zerolog.Nop()), 0, zerolog.Nop())

	rel, err := w.Reload(context.Background())
	if err != nil {
		t.Fatalf("Reload error: %v", err)
	}
	if _, ok := rel.Automation("quote-follow-up"); !ok {
		t.Error("Expected quote-follow-up in reloaded release")
	}
	if current, ok := cache.Current(); !ok || current.ID != rel.ID {
		t.Error("Expected reloaded release to be current")
	}
}

func TestWatcher_Watch(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "quote.json"), []byte(quoteAutomation), 0o644); err != nil {
		t.Fatal(err)
	}

	reloads := make(chan reload, 4)
	w := NewWatcher(dir, config.NewLoader(), NewCompiler(nil, nil, nil, zerolog.Nop()), 50*time.Millisecond, zerolog.Nop())
	w.OnReload = func(rel *Release, err error) { reloads <- reload{rel, err} }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()

	first := waitReload(t, reloads)
	if first.err != nil {
		t.Fatalf("Initial reload error: %v", first.err)
	}
	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	second := `{"id": "renewal-reminder", "triggers": [{"event": "policy.renewed"}]}`
	if err := os.WriteFile(filepath.Join(dir, "renewal.json"), []byte(second), 0o644); err != nil {
		t.Fatal(err)
	}

	next := waitReload(t, reloads)
	if next.err != nil {
		t.Fatalf("Reload error: %v", next.err)
	}
	if ids := next.rel.AutomationIDs(); len(ids) != 2 {
		t.Errorf("Expected 2 automations after reload, got %v", ids)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch returned %v", err)
	}
}

func TestRelevant(t *testing.T) {
	tests := []struct {
		evt  fsnotify.Event
		want bool
	}{
		{fsnotify.Event{Name: "/d/a.cue", Op: fsnotify.Write}, true},
		{fsnotify.Event{Name: "/d/a.json", Op: fsnotify.Remove}, true},
		{fsnotify.Event{Name: "/d/a.json", Op: fsnotify.Chmod}, false},
		{fsnotify.Event{Name: "/d/.a.json.swp", Op: fsnotify.Write}, false},
		{fsnotify.Event{Name: "/d/readme.md", Op: fsnotify.Create}, false},
	}

	for _, tt := range tests {
		if got := relevant(tt.evt); got != tt.want {
			t.Errorf("relevant(%v) = %v, want %v", tt.evt, got, tt.want)
		}
	}
}
