package realmfs

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/subgraph/citadel/internal/blockio"
	"github.com/subgraph/citadel/internal/header"
	"github.com/subgraph/citadel/internal/shell"
)

// MaxGrowStep is the largest single grow_by step permitted (spec
// §4.7.3: "Maximum single-step growth is 8 GiB").
const MaxGrowStep = 8 << 30

// GiB/FourGiB in 4096-byte blocks, used by the auto-resize policy.
const (
	blocksPerGiB  = (1 << 30) / header.BlockSize
	blocksPer4GiB = (4 << 30) / header.BlockSize
)

// GrowTo grows the RealmFS to exactly size bytes, no-op if already at
// least that large (spec §4.7.3 grow_to).
func (r *RealmFS) GrowTo(size int64) error {
	m, err := r.MetaInfo()
	if err != nil {
		return err
	}
	current := m.PayloadSize()
	if current >= size {
		return nil
	}
	return r.GrowBy(size - current)
}

// GrowBy grows the RealmFS by delta bytes, rounded up to a 4096-byte
// block boundary (spec §4.7.3 grow_by). Refuses on sealed images and on
// steps exceeding MaxGrowStep.
func (r *RealmFS) GrowBy(delta int64) error {
	if delta <= 0 {
		return fmt.Errorf("realmfs: %s: grow delta must be positive", r.Name)
	}
	if delta > MaxGrowStep {
		return fmt.Errorf("realmfs: %s: grow step %d exceeds maximum %d", r.Name, delta, MaxGrowStep)
	}
	m, err := r.MetaInfo()
	if err != nil {
		return err
	}
	if m.IsSealed() {
		return fmt.Errorf("realmfs: %s: cannot resize a sealed image, unseal first", r.Name)
	}

	addedBlocks := (delta + header.BlockSize - 1) / header.BlockSize
	newNBlocks := m.NBlocks + uint32(addedBlocks)
	newSize := int64(newNBlocks+1) * header.BlockSize

	if err := os.Truncate(r.Path, newSize); err != nil {
		return fmt.Errorf("realmfs: %s: grow file to %d bytes: %w", r.Name, newSize, err)
	}

	if loop, err := blockio.FindLoopByBackingFile(r.Path); err == nil && loop != nil {
		if _, err := shell.ExecCmd(fmt.Sprintf("losetup -c %s", shQuote(loop.Path)), true, nil); err != nil {
			return fmt.Errorf("realmfs: %s: refresh loop device size: %w", r.Name, err)
		}
		if _, err := shell.ExecCmd(fmt.Sprintf("resize2fs %s", shQuote(loop.Path)), true, nil); err != nil {
			return fmt.Errorf("realmfs: %s: resize2fs: %w", r.Name, err)
		}
	}

	owner := m.RealmFSOwner
	m.NBlocks = newNBlocks
	m.RealmFSOwner = owner
	if err := r.hdr.SetMetaInfo(m); err != nil {
		return err
	}
	return r.hdr.WriteFile(r.Path)
}

const (
	superblockOffsetWithinPayload = 1024
	sbFreeBlocksLowOffset         = 0x0C
	sbFreeBlocksHighOffset        = 0x158
)

// freeBlocks reads the ext2/3/4 superblock's free-block count: a
// 1024-byte block at file offset (header + 1024), with the low 32 bits
// at +0x0C and the high 32 bits at +0x158 (spec §4.7.3).
func (r *RealmFS) freeBlocks() (uint64, error) {
	f, err := os.Open(r.Path)
	if err != nil {
		return 0, fmt.Errorf("realmfs: %s: open for superblock read: %w", r.Name, err)
	}
	defer f.Close()

	buf := make([]byte, 1024)
	if _, err := f.ReadAt(buf, header.BlockSize+superblockOffsetWithinPayload); err != nil {
		return 0, fmt.Errorf("realmfs: %s: read superblock: %w", r.Name, err)
	}
	low := binary.LittleEndian.Uint32(buf[sbFreeBlocksLowOffset : sbFreeBlocksLowOffset+4])
	high := binary.LittleEndian.Uint32(buf[sbFreeBlocksHighOffset : sbFreeBlocksHighOffset+4])
	return uint64(high)<<32 | uint64(low), nil
}

// AutoResizeSize implements the auto-resize policy: if free blocks fall
// below 1 GiB worth, it returns the amount to grow by (in bytes): the
// smallest multiple of 4 GiB (in blocks) at or above the current
// free-block count (spec §4.7.3, §8 testable property).
func (r *RealmFS) AutoResizeSize() (int64, bool, error) {
	free, err := r.freeBlocks()
	if err != nil {
		return 0, false, err
	}
	if free >= blocksPerGiB {
		return 0, false, nil
	}
	suggestedBlocks := ((free + blocksPer4GiB - 1) / blocksPer4GiB) * blocksPer4GiB
	return int64(suggestedBlocks) * header.BlockSize, true, nil
}
