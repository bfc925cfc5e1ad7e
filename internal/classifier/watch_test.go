package classifier

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type countingInvalidator struct {
	mu    sync.Mutex
	paths []string
}

func (c *countingInvalidator) Invalidate(path string) {
	c.mu.Lock()
	c.paths = append(c.paths, path)
	c.mu.Unlock()
}

func (c *countingInvalidator) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.paths)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestWatcher_InvalidatesOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.test.ts")
	if err := os.WriteFile(path, []byte("it(\"a\", () => {});"), 0644); err != nil {
		t.Fatal(err)
	}

	target := &countingInvalidator{}
	w, err := NewWatcher(dir, target, func(p string) bool {
		return strings.HasSuffix(p, ".test.ts")
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()
	w.SetDebounceDelay(20 * time.Millisecond)

	if err := os.WriteFile(path, []byte("it(\"b\", () => {});"), 0644); err != nil {
		t.Fatal(err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return target.count() >= 1 }) {
		t.Fatal("write was not delivered as an invalidation")
	}
}

func TestWatcher_IgnoresNonMatching(t *testing.T) {
	dir := t.TempDir()

	target := &countingInvalidator{}
	w, err := NewWatcher(dir, target, func(p string) bool {
		return strings.HasSuffix(p, ".test.ts")
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(dir, "notes.md"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(200 * time.Millisecond)
	if target.count() != 0 {
		t.Errorf("non-matching file triggered %d invalidations", target.count())
	}
}

func TestWatcher_CloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir, &countingInvalidator{}, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("first close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}
