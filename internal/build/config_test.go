package build_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/subgraph/citadel/internal/build"
	"github.com/subgraph/citadel/internal/header"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "build.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func writeSource(t *testing.T, dir string, size int64) string {
	t.Helper()
	path := filepath.Join(dir, "source.raw")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create source: %v", err)
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		t.Fatalf("truncate source: %v", err)
	}
	return path
}

func TestLoadConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, 4096)
	path := writeConfig(t, dir, `
image-type = "rootfs"
channel = "dev"
version = 7
source = "`+src+`"
`)

	cfg, err := build.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ImageType != header.ImageTypeRootfs || cfg.Channel != "dev" || cfg.Version != 7 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadConfigRejectsSchemaViolation(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
image-type = "not-a-real-type"
channel = "dev"
version = 1
source = "/nonexistent"
`)
	if _, err := build.LoadConfig(path); err == nil {
		t.Fatal("expected schema validation to reject an unknown image-type")
	}
}

func TestValidateRequiresKernelVersionForModules(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, 512)
	cfg := &build.Config{ImageType: header.ImageTypeModules, Channel: "dev", Version: 1, Source: src}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected modules image-type to require kernel-version")
	}
}

func TestValidateRequiresRealmFSName(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, 512)
	cfg := &build.Config{ImageType: header.ImageTypeRealmFS, Channel: "dev", Version: 1, Source: src}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected realmfs image-type to require realmfs-name")
	}
}

func TestValidateRejectsUnalignedSource(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, 513)
	cfg := &build.Config{ImageType: header.ImageTypeRootfs, Channel: "dev", Version: 1, Source: src}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected a source size not a multiple of 512 to be rejected")
	}
}

func TestOutputFileName(t *testing.T) {
	cfg := &build.Config{ImageType: header.ImageTypeRootfs, Channel: "stable", Version: 42}
	if got, want := cfg.OutputFileName(), "citadel-rootfs-stable-42.img"; got != want {
		t.Fatalf("OutputFileName() = %q, want %q", got, want)
	}
}
