package resourceimage_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/subgraph/citadel/internal/resourceimage"
)

func writeManifest(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "manifest")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestParseManifestMixedEntries(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "# comment\netc/resolv.conf\nvar/lib/foo:var/lib/bar\n\n:\n")

	entries, err := resourceimage.ParseManifest(path)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2: %+v", len(entries), entries)
	}
	if entries[0].Src != "etc/resolv.conf" || entries[0].Dst != "etc/resolv.conf" {
		t.Fatalf("entry 0 = %+v", entries[0])
	}
	if entries[1].Src != "var/lib/foo" || entries[1].Dst != "var/lib/bar" {
		t.Fatalf("entry 1 = %+v", entries[1])
	}
}

func TestParseManifestMissingFileIsNotError(t *testing.T) {
	entries, err := resourceimage.ParseManifest(filepath.Join(t.TempDir(), "manifest"))
	if err != nil {
		t.Fatalf("ParseManifest on missing file: %v", err)
	}
	if entries != nil {
		t.Fatalf("expected nil entries, got %+v", entries)
	}
}
