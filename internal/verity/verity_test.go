package verity_test

import (
	"testing"

	"github.com/subgraph/citadel/internal/verity"
)

func TestRealmFSDeviceNameTruncatesTag(t *testing.T) {
	got := verity.RealmFSDeviceName("work", "abcdef0123456789")
	want := "verity-realmfs-work-abcdef01"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestRealmFSDeviceNameShortRoot(t *testing.T) {
	got := verity.RealmFSDeviceName("work", "abcd")
	want := "verity-realmfs-work-abcd"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestNewSaltIsHexAndNonEmpty(t *testing.T) {
	salt, err := verity.NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	if len(salt) != 64 {
		t.Fatalf("expected 64 hex chars (32 bytes), got %d", len(salt))
	}
}
