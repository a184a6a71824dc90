package citadelcfg_test

import (
	"path/filepath"
	"testing"

	"github.com/subgraph/citadel/internal/citadelcfg"
)

func TestRootsDerivedPaths(t *testing.T) {
	r := citadelcfg.Roots{Storage: "/storage", Run: "/run/citadel", Realms: "/realms"}

	if got, want := r.RealmFSImagesDir(), "/storage/realms/realmfs-images"; got != want {
		t.Errorf("RealmFSImagesDir = %q, want %q", got, want)
	}
	if got, want := r.RealmDir("work"), "/storage/realms/realm-work"; got != want {
		t.Errorf("RealmDir = %q, want %q", got, want)
	}
	if got, want := r.RunCurrentRealmLink(), "/run/citadel/realms/current/current.realm"; got != want {
		t.Errorf("RunCurrentRealmLink = %q, want %q", got, want)
	}
}

func TestThemeSlugRoundTrip(t *testing.T) {
	tmp := t.TempDir()
	r := citadelcfg.Roots{Storage: tmp, Run: filepath.Join(tmp, "run"), Realms: filepath.Join(tmp, "realms")}

	if err := citadelcfg.SaveThemeSlug(r, "solarized-dark"); err != nil {
		t.Fatalf("SaveThemeSlug: %v", err)
	}

	cfg, err := citadelcfg.GlobalRealmConfig(r)
	if err != nil {
		t.Fatalf("GlobalRealmConfig: %v", err)
	}
	if cfg.ThemeSlug != "solarized-dark" {
		t.Fatalf("ThemeSlug = %q, want solarized-dark", cfg.ThemeSlug)
	}
}

func TestGlobalRealmConfigMissingFileIsEmpty(t *testing.T) {
	tmp := t.TempDir()
	r := citadelcfg.Roots{Storage: tmp, Run: tmp, Realms: tmp}
	cfg, err := citadelcfg.GlobalRealmConfig(r)
	if err != nil {
		t.Fatalf("GlobalRealmConfig: %v", err)
	}
	if cfg.ThemeSlug != "" {
		t.Fatalf("expected empty ThemeSlug, got %q", cfg.ThemeSlug)
	}
}
