package realmfs_test

import (
	"testing"

	"github.com/subgraph/citadel/internal/citadelcfg"
	"github.com/subgraph/citadel/internal/realmfs"
)

func TestAllocateAndReleaseBridge(t *testing.T) {
	m := realmfs.NewManager(citadelcfg.Roots{}, nil, 2)

	a, err := m.AllocateBridge()
	if err != nil {
		t.Fatalf("AllocateBridge: %v", err)
	}
	b, err := m.AllocateBridge()
	if err != nil {
		t.Fatalf("AllocateBridge: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct bridge names, got %q twice", a)
	}

	if _, err := m.AllocateBridge(); err == nil {
		t.Fatal("expected error once the pool is exhausted")
	}

	m.ReleaseBridge(a)
	if _, err := m.AllocateBridge(); err != nil {
		t.Fatalf("AllocateBridge after release: %v", err)
	}
}
