package partition_test

import (
	"testing"

	"github.com/subgraph/citadel/internal/header"
	"github.com/subgraph/citadel/internal/partition"
)

// Partition construction normally requires a real block device, so these
// tests exercise Choose/Enumerate's pure decision surface: an empty
// candidate set and the status/flag constants the ranking rule depends on.

func TestStatusConstantsAreDistinct(t *testing.T) {
	if header.StatusNew == header.StatusGood {
		t.Fatal("NEW and GOOD must be distinct status codes")
	}
}

func TestChooseEmptyCandidatesReturnsNil(t *testing.T) {
	if got := partition.Choose(nil, true); got != nil {
		t.Fatalf("expected nil winner for empty candidate set, got %v", got)
	}
}

func TestEnumerateMissingDirReturnsError(t *testing.T) {
	orig := partition.MapperDir
	partition.MapperDir = "/nonexistent/mapper/dir/for/test"
	defer func() { partition.MapperDir = orig }()

	if _, err := partition.Enumerate(); err == nil {
		t.Fatal("expected error when mapper directory does not exist")
	}
}
