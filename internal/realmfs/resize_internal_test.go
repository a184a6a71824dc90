package realmfs

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/subgraph/citadel/internal/citadelcfg"
	"github.com/subgraph/citadel/internal/header"
)

// writeFakeImage builds a file with a real header followed by a payload
// whose ext2-superblock-shaped region reports freeBlocksLow/high at the
// documented offsets, for exercising freeBlocks/AutoResizeSize without a
// real filesystem.
func writeFakeImage(t *testing.T, path string, nblocks uint32, freeBlocksCount uint64) {
	t.Helper()

	hdr := header.New()
	m := &header.MetaInfo{
		ImageType:   header.ImageTypeRealmFS,
		RealmFSName: "test",
		NBlocks:     nblocks,
	}
	if err := hdr.SetMetaInfo(m); err != nil {
		t.Fatalf("SetMetaInfo: %v", err)
	}

	payload := make([]byte, int64(nblocks)*header.BlockSize)
	sbOffset := superblockOffsetWithinPayload
	binary.LittleEndian.PutUint32(payload[sbOffset+sbFreeBlocksLowOffset:], uint32(freeBlocksCount))
	binary.LittleEndian.PutUint32(payload[sbOffset+sbFreeBlocksHighOffset:], uint32(freeBlocksCount>>32))

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if _, err := f.Write(hdr.Bytes()); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if _, err := f.Write(payload); err != nil {
		t.Fatalf("write payload: %v", err)
	}
}

func TestFreeBlocksReadsSuperblockFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test-realmfs.img")
	writeFakeImage(t, path, 4, 12345)

	r := &RealmFS{Name: "test", Path: path, Roots: citadelcfg.Roots{}}
	got, err := r.freeBlocks()
	if err != nil {
		t.Fatalf("freeBlocks: %v", err)
	}
	if got != 12345 {
		t.Fatalf("freeBlocks = %d, want 12345", got)
	}
}

func TestAutoResizeSizeBelowThreshold(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test-realmfs.img")
	writeFakeImage(t, path, 4, blocksPerGiB-1)

	r := &RealmFS{Name: "test", Path: path, Roots: citadelcfg.Roots{}}
	size, suggest, err := r.AutoResizeSize()
	if err != nil {
		t.Fatalf("AutoResizeSize: %v", err)
	}
	if !suggest {
		t.Fatal("expected a suggestion when free blocks are below 1 GiB")
	}
	wantBlocks := blocksPer4GiB
	if size != int64(wantBlocks)*header.BlockSize {
		t.Fatalf("size = %d, want %d", size, int64(wantBlocks)*header.BlockSize)
	}
}

func TestAutoResizeSizeAboveThreshold(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test-realmfs.img")
	writeFakeImage(t, path, 4, blocksPerGiB+1)

	r := &RealmFS{Name: "test", Path: path, Roots: citadelcfg.Roots{}}
	_, suggest, err := r.AutoResizeSize()
	if err != nil {
		t.Fatalf("AutoResizeSize: %v", err)
	}
	if suggest {
		t.Fatal("expected no suggestion when free blocks are at or above 1 GiB")
	}
}
