package realm_test

import (
	"testing"

	"github.com/subgraph/citadel/internal/realm"
)

func TestParseOverlayKind(t *testing.T) {
	cases := map[string]realm.OverlayKind{
		"":        realm.OverlayNone,
		"none":    realm.OverlayNone,
		"tmpfs":   realm.OverlayTmpFS,
		"storage": realm.OverlayStorage,
	}
	for in, want := range cases {
		got, err := realm.ParseOverlayKind(in)
		if err != nil {
			t.Fatalf("ParseOverlayKind(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseOverlayKind(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseOverlayKindRejectsUnknown(t *testing.T) {
	if _, err := realm.ParseOverlayKind("bogus"); err == nil {
		t.Fatal("expected an error for an unknown overlay kind")
	}
}

func TestBuildOverlayNoneIsBasePassthrough(t *testing.T) {
	roots := testRoots(t)
	r, err := realm.Create("plain", roots, realm.Config{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	o, err := r.BuildOverlay(realm.OverlayNone, "/some/base")
	if err != nil {
		t.Fatalf("BuildOverlay: %v", err)
	}
	if o.Mountpoint != "/some/base" {
		t.Fatalf("Mountpoint = %q, want /some/base", o.Mountpoint)
	}
	if err := r.TeardownOverlay(o); err != nil {
		t.Fatalf("TeardownOverlay of OverlayNone should be a no-op: %v", err)
	}
}
