package blockio_test

import (
	"testing"
	"unsafe"

	"github.com/subgraph/citadel/internal/blockio"
)

func TestAlignedBufferAlignment(t *testing.T) {
	buf, err := blockio.AlignedBuffer(blockio.SectorSize * 8)
	if err != nil {
		t.Fatalf("AlignedBuffer: %v", err)
	}
	if len(buf) != blockio.SectorSize*8 {
		t.Fatalf("len = %d, want %d", len(buf), blockio.SectorSize*8)
	}
	if addr := uintptr(unsafe.Pointer(&buf[0])); addr%blockio.BlockSize != 0 {
		t.Fatalf("buffer address %#x is not %d-byte aligned", addr, blockio.BlockSize)
	}
}

func TestAlignedBufferRejectsUnalignedLength(t *testing.T) {
	if _, err := blockio.AlignedBuffer(100); err == nil {
		t.Fatal("expected alignment error for non-sector-multiple length")
	}
}
