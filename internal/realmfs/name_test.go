package realmfs_test

import (
	"testing"

	"github.com/subgraph/citadel/internal/realmfs"
)

func TestValidateNameAccepts(t *testing.T) {
	for _, name := range []string{"work", "dev-box", "a", "Realm-2"} {
		if err := realmfs.ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", name, err)
		}
	}
}

func TestValidateNameRejects(t *testing.T) {
	for _, name := range []string{"", "-leading-dash", "1starts-with-digit", "has space", "has_underscore"} {
		if err := realmfs.ValidateName(name); err == nil {
			t.Errorf("ValidateName(%q) = nil, want error", name)
		}
	}
}

func TestValidateNameRejectsOverlong(t *testing.T) {
	long := make([]byte, realmfs.MaxNameLength+1)
	for i := range long {
		long[i] = 'a'
	}
	if err := realmfs.ValidateName(string(long)); err == nil {
		t.Fatal("expected error for name exceeding MaxNameLength")
	}
}

func TestImageFileName(t *testing.T) {
	if got, want := realmfs.ImageFileName("work"), "work-realmfs.img"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
