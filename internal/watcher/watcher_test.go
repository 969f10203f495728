package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) add(p string) {
	r.mu.Lock()
	r.paths = append(r.paths, p)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestWatcher_DebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "doc.xml")
	other := filepath.Join(dir, "other.xml")
	rec := &recorder{}

	w := NewWatcher([]string{target}, rec.add, WithDebounce(100*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(target, []byte("<a/>"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(other, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return len(rec.snapshot()) >= 1 })
	time.Sleep(300 * time.Millisecond)
	got := rec.snapshot()
	if len(got) != 1 {
		t.Fatalf("callbacks = %v, want exactly one", got)
	}
	abs, _ := filepath.Abs(target)
	if got[0] != abs {
		t.Errorf("path = %s, want %s", got[0], abs)
	}
	select {
	case <-w.Wake():
	default:
		t.Error("expected a wake-up")
	}
}

func TestWatcher_SeesRenameIntoPlace(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "doc.xml")
	w := NewWatcher([]string{target}, nil, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	tmp := filepath.Join(dir, ".doc.xml.tmp")
	if err := os.WriteFile(tmp, []byte("<a/>"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, target); err != nil {
		t.Fatal(err)
	}
	select {
	case <-w.Wake():
	case <-time.After(3 * time.Second):
		t.Fatal("rename not observed")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w := NewWatcher([]string{filepath.Join(dir, "a.xml")}, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
}

func TestWatcher_Errors(t *testing.T) {
	if err := NewWatcher(nil, nil).Start(context.Background()); err == nil {
		t.Error("expected error with no files")
	}
	missing := filepath.Join(t.TempDir(), "nope", "a.xml")
	if err := NewWatcher([]string{missing}, nil).Start(context.Background()); err == nil {
		t.Error("expected error for missing directory")
	}
}
