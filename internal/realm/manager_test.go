package realm_test

import (
	"testing"

	"github.com/subgraph/citadel/internal/realm"
	"github.com/subgraph/citadel/internal/realmfs"
)

func TestTrackLookupUntrack(t *testing.T) {
	roots := testRoots(t)
	rm := realm.NewRealmManager(roots, realmfs.NewManager(roots, nil, 4))

	r, err := realm.Create("tracked", roots, realm.Config{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	rm.Track(r)

	got, ok := rm.Lookup("tracked")
	if !ok || got != r {
		t.Fatalf("Lookup(tracked) = %v, %v; want %v, true", got, ok, r)
	}
	if len(rm.List()) != 1 {
		t.Fatalf("List() = %d realms, want 1", len(rm.List()))
	}

	rm.Untrack("tracked")
	if _, ok := rm.Lookup("tracked"); ok {
		t.Fatal("Lookup(tracked) should fail after Untrack")
	}
}
