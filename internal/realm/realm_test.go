package realm_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/subgraph/citadel/internal/citadelcfg"
	"github.com/subgraph/citadel/internal/realm"
)

func testRoots(t *testing.T) citadelcfg.Roots {
	t.Helper()
	dir := t.TempDir()
	return citadelcfg.Roots{
		Storage: filepath.Join(dir, "storage"),
		Run:     filepath.Join(dir, "run"),
		Realms:  filepath.Join(dir, "realms"),
	}
}

func TestCreateOpenRoundTrip(t *testing.T) {
	roots := testRoots(t)
	cfg := realm.Config{RealmFSName: "default", Overlay: "tmpfs"}

	r, err := realm.Create("work", roots, cfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	reopened, err := realm.Open("work", roots)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := reopened.Config(); got != cfg {
		t.Fatalf("Config() = %+v, want %+v", got, cfg)
	}
	if r.Config() != cfg {
		t.Fatalf("original Config() = %+v, want %+v", r.Config(), cfg)
	}
}

func TestLockPreventsDelete(t *testing.T) {
	roots := testRoots(t)
	r, err := realm.Create("locked", roots, realm.Config{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.IsLocked() {
		t.Fatal("new realm should not be locked")
	}
	if err := r.SetLocked(true); err != nil {
		t.Fatalf("SetLocked(true): %v", err)
	}
	if !r.IsLocked() {
		t.Fatal("IsLocked() = false after SetLocked(true)")
	}
	if err := r.Delete(); err == nil {
		t.Fatal("Delete() on a locked realm should fail")
	}
	if err := r.SetLocked(false); err != nil {
		t.Fatalf("SetLocked(false): %v", err)
	}
	if err := r.Delete(); err != nil {
		t.Fatalf("Delete() after unlock: %v", err)
	}
}

func TestTouchUpdatesTimestamp(t *testing.T) {
	roots := testRoots(t)
	r, err := realm.Create("timed", roots, realm.Config{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	before := time.Now().Add(-time.Second)
	if err := r.Touch(); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if err := r.Touch(); err != nil {
		t.Fatalf("second Touch: %v", err)
	}
	info, err := os.Stat(filepath.Join(r.Dir(), ".tstamp"))
	if err != nil {
		t.Fatalf("stat .tstamp: %v", err)
	}
	if info.ModTime().Before(before) {
		t.Fatalf(".tstamp mtime %v is older than %v", info.ModTime(), before)
	}
}
