package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func TestNewRequiresExistingFile(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing.json"), time.Millisecond)
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestBurstOfWritesEmitsSingleEvent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	writeFile(t, path, `{}`)

	w, err := New(path, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	// Editor-style burst: several writes inside one debounce window.
	for i := 0; i < 5; i++ {
		writeFile(t, path, `{"n":`+string(rune('0'+i))+`}`)
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case ev := <-w.Events():
		if ev.Path != w.Path() {
			t.Errorf("wrong path: %s", ev.Path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event after burst")
	}

	// The burst must have coalesced into exactly one event.
	select {
	case <-w.Events():
		t.Fatal("burst produced a second event")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestSeparatedWritesEmitSeparateEvents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	writeFile(t, path, `{}`)

	w, err := New(path, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	for i := 0; i < 2; i++ {
		writeFile(t, path, `{"gen":`+string(rune('0'+i))+`}`)
		select {
		case <-w.Events():
		case <-time.After(2 * time.Second):
			t.Fatalf("no event for write %d", i)
		}
	}
}

func TestIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	writeFile(t, path, `{}`)

	w, err := New(path, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	writeFile(t, filepath.Join(dir, "other.json"), `{}`)

	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event for sibling file: %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	writeFile(t, path, `{}`)

	w, err := New(path, time.Millisecond)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}
