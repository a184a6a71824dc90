package realm

import (
	"testing"

	"github.com/subgraph/citadel/internal/citadelcfg"
	"github.com/subgraph/citadel/internal/realmfs"
)

func TestMountpointRefcounting(t *testing.T) {
	roots := citadelcfg.Roots{}
	rm := NewRealmManager(roots, realmfs.NewManager(roots, nil, 1))

	rm.acquireMountpoint("a", "/mp")
	rm.acquireMountpoint("b", "/mp")

	if active := rm.activeMountpoints(); !active["/mp"] {
		t.Fatal("expected /mp to be active after two acquires")
	}

	if _, last := rm.releaseMountpoint("a"); last {
		t.Fatal("releasing the first of two references should not report last")
	}
	if _, last := rm.releaseMountpoint("b"); !last {
		t.Fatal("releasing the final reference should report last")
	}
	if active := rm.activeMountpoints(); active["/mp"] {
		t.Fatal("expected /mp to be inactive once refcount reaches zero")
	}
}

func TestReleaseMountpointUnknownRealm(t *testing.T) {
	roots := citadelcfg.Roots{}
	rm := NewRealmManager(roots, realmfs.NewManager(roots, nil, 1))
	if mp, last := rm.releaseMountpoint("nope"); mp != "" || last {
		t.Fatalf("releaseMountpoint(unknown) = %q, %v; want \"\", false", mp, last)
	}
}
