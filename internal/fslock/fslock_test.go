package fslock_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/subgraph/citadel/internal/fslock"
)

func TestAcquireAndCloseRemovesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".realmslock")

	lock, err := fslock.Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := lock.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected %s to be removed after Close, stat err = %v", path, err)
	}
}

func TestTryAcquireFailsWhenHeld(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".realmslock")

	first, err := fslock.Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer first.Close()

	_, ok, err := fslock.TryAcquire(path)
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	if ok {
		t.Fatal("expected TryAcquire to fail while lock is held")
	}
}
