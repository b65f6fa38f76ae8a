package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/garimto81/gfx-json/internal/domain"
	"github.com/garimto81/gfx-json/internal/registry"
)

func newTestWatcher(t *testing.T, dir string) *Watcher {
	t.Helper()
	state, err := NewStateStore(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("NewStateStore() error = %v", err)
	}
	t.Cleanup(func() { state.Close() })

	sources := func() []registry.Source {
		return []registry.Source{{ID: "GFX_PC_01", Path: dir, Enabled: true}}
	}
	return New(sources, state, "*.json", time.Hour)
}

func collectEvents(w *Watcher) []domain.FileEvent {
	var events []domain.FileEvent
	for {
		select {
		case ev := <-w.Events():
			events = append(events, ev)
		default:
			return events
		}
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestScanClassifiesCreatedAndModified(t *testing.T) {
	dir := t.TempDir()
	w := newTestWatcher(t, dir)
	ctx := context.Background()

	path := filepath.Join(dir, "export.json")
	writeFile(t, path, `{"ID": 1}`)

	w.ScanOnce(ctx)
	events := collectEvents(w)
	if len(events) != 1 {
		t.Fatalf("first scan emitted %d events, want 1", len(events))
	}
	if events[0].Kind != domain.EventCreated {
		t.Errorf("first sighting kind = %s, want created", events[0].Kind)
	}
	if events[0].SourceID != "GFX_PC_01" {
		t.Errorf("SourceID = %q", events[0].SourceID)
	}

	// Unchanged file produces nothing.
	w.ScanOnce(ctx)
	if events := collectEvents(w); len(events) != 0 {
		t.Fatalf("unchanged scan emitted %d events, want 0", len(events))
	}

	// Force a visible mtime change.
	writeFile(t, path, `{"ID": 1, "Hands": []}`)
	newTime := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, newTime, newTime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	w.ScanOnce(ctx)
	events = collectEvents(w)
	if len(events) != 1 {
		t.Fatalf("modified scan emitted %d events, want 1", len(events))
	}
	if events[0].Kind != domain.EventModified {
		t.Errorf("kind = %s, want modified", events[0].Kind)
	}
}

func TestScanIgnoresNonMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	w := newTestWatcher(t, dir)

	writeFile(t, filepath.Join(dir, "notes.txt"), "irrelevant")
	writeFile(t, filepath.Join(dir, "export.json.tmp"), "partial")
	writeFile(t, filepath.Join(dir, "export.json"), `{"ID": 1}`)

	w.ScanOnce(context.Background())
	events := collectEvents(w)
	if len(events) != 1 {
		t.Fatalf("scan emitted %d events, want 1", len(events))
	}
	if filepath.Base(events[0].Path) != "export.json" {
		t.Errorf("event path = %s", events[0].Path)
	}
}

func TestStateSurvivesStoreReopen(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(t.TempDir(), "state.db")
	path := filepath.Join(dir, "export.json")
	writeFile(t, path, `{"ID": 1}`)

	sources := func() []registry.Source {
		return []registry.Source{{ID: "GFX_PC_01", Path: dir, Enabled: true}}
	}

	state, err := NewStateStore(dbPath)
	if err != nil {
		t.Fatalf("NewStateStore() error = %v", err)
	}
	w := New(sources, state, "*.json", time.Hour)
	w.ScanOnce(context.Background())
	if events := collectEvents(w); len(events) != 1 {
		t.Fatalf("first scan emitted %d events, want 1", len(events))
	}
	if err := state.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// A fresh process must not re-announce the unchanged file.
	state2, err := NewStateStore(dbPath)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer state2.Close()

	w2 := New(sources, state2, "*.json", time.Hour)
	w2.ScanOnce(context.Background())
	if events := collectEvents(w2); len(events) != 0 {
		t.Fatalf("scan after reopen emitted %d events, want 0", len(events))
	}
}

func TestStateStoreRoundTrip(t *testing.T) {
	store, err := NewStateStore(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("NewStateStore() error = %v", err)
	}
	defer store.Close()

	if _, found, err := store.Get("src", "/nas/a.json"); err != nil || found {
		t.Fatalf("Get() on empty store = found %v, err %v", found, err)
	}

	want := FileState{ModTimeUnixNano: 1234567890, Size: 42}
	if err := store.Set("src", "/nas/a.json", want); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, found, err := store.Get("src", "/nas/a.json")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found {
		t.Fatal("Get() found = false after Set")
	}
	if got != want {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}

	// Same path under a different source is a different key.
	if _, found, _ := store.Get("other", "/nas/a.json"); found {
		t.Error("Get() with different source found the record")
	}

	if err := store.Delete("src", "/nas/a.json"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, found, _ := store.Get("src", "/nas/a.json"); found {
		t.Error("Get() found record after Delete")
	}
}

func TestAbandonedSendDoesNotCommitState(t *testing.T) {
	dir := t.TempDir()
	w := newTestWatcher(t, dir)

	path := filepath.Join(dir, "export.json")
	writeFile(t, path, `{"ID": 1}`)

	// Fill the event buffer so the scan's send blocks.
	for i := 0; i < cap(w.events); i++ {
		w.events <- domain.FileEvent{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.scan(ctx)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scan did not return after cancellation")
	}

	// The abandoned event must not have been marked observed.
	if _, known, err := w.state.Get("GFX_PC_01", path); err != nil || known {
		t.Fatalf("state committed for undelivered event: known=%v err=%v", known, err)
	}

	for len(w.events) > 0 {
		<-w.events
	}

	// The next cycle re-announces the file.
	w.ScanOnce(context.Background())
	events := collectEvents(w)
	if len(events) != 1 {
		t.Fatalf("scan after abandoned send emitted %d events, want 1", len(events))
	}
	if events[0].Kind != domain.EventCreated {
		t.Errorf("kind = %s, want created", events[0].Kind)
	}
}

func TestForgetReannouncesPath(t *testing.T) {
	dir := t.TempDir()
	w := newTestWatcher(t, dir)
	ctx := context.Background()

	path := filepath.Join(dir, "export.json")
	writeFile(t, path, `{"ID": 1}`)

	w.ScanOnce(ctx)
	if events := collectEvents(w); len(events) != 1 {
		t.Fatalf("first scan emitted %d events, want 1", len(events))
	}

	if err := w.Forget("GFX_PC_01", path); err != nil {
		t.Fatalf("Forget() error = %v", err)
	}

	w.ScanOnce(ctx)
	events := collectEvents(w)
	if len(events) != 1 {
		t.Fatalf("scan after Forget emitted %d events, want 1", len(events))
	}
	if events[0].Kind != domain.EventCreated {
		t.Errorf("kind = %s, want created", events[0].Kind)
	}
}

func TestStartStopStopsCleanly(t *testing.T) {
	dir := t.TempDir()
	w := newTestWatcher(t, dir)

	w.Start(context.Background())
	w.Stop()

	// Channel closes after the loop exits.
	select {
	case _, open := <-w.Events():
		if open {
			t.Error("Events() delivered an event after Stop on empty directory")
		}
	case <-time.After(time.Second):
		t.Error("Events() not closed after Stop")
	}
}
