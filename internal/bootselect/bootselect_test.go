package bootselect_test

import (
	"testing"

	"github.com/subgraph/citadel/internal/bootselect"
	"github.com/subgraph/citadel/internal/cmdline"
	"github.com/subgraph/citadel/internal/partition"
)

// Run needs real /dev/mapper/citadel-rootfs* devices, so these tests
// exercise the parts of the control flow that don't: over an empty mapper
// directory internal/partition.Enumerate returns no candidates, and Run
// reports that no partition won as an error rather than panicking.

func TestRunNoPartitionsIsError(t *testing.T) {
	orig := partition.MapperDir
	partition.MapperDir = t.TempDir()
	defer func() { partition.MapperDir = orig }()

	cl := cmdline.Parse("citadel.noverity citadel.nosignatures")
	if _, err := bootselect.Run(cl); err == nil {
		t.Fatal("expected an error when no rootfs partitions exist")
	}
}

func TestConfirmBootRequiresTryBoot(t *testing.T) {
	p := partition.Load("/nonexistent-device-for-test")
	if err := bootselect.ConfirmBoot(p); err == nil {
		t.Fatal("expected ConfirmBoot to refuse an uninitialised partition")
	}
}
