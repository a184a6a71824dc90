// Package verity wraps veritysetup to generate and verify dm-verity hash
// trees and to set up/tear down /dev/mapper verity devices (spec §4.2).
// Grounded on the teacher's internal/image/imagesign and imagesecure
// packages, which shell out to a security tool (sbsign) and check its
// success/failure the same way this package checks veritysetup.
package verity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/subgraph/citadel/internal/blockio"
	"github.com/subgraph/citadel/internal/header"
	"github.com/subgraph/citadel/internal/shell"
)

// HashTree is the result of generating a new dm-verity hash tree (spec
// §4.2 generate_initial_hashtree).
type HashTree struct {
	RootHash  string
	Salt      string
	RawOutput string
}

// RootDeviceName is the mapper device name used for the active rootfs
// partition (spec §4.2 "Device-name policy").
const RootDeviceName = "rootfs"

// RealmFSDeviceName returns the mapper device name for a sealed realmfs
// image: verity-realmfs-<name>-<8-hex-of-verity-root>, so that two distinct
// sealed versions may coexist (spec §4.2).
func RealmFSDeviceName(name, verityRoot string) string {
	tag := verityRoot
	if len(tag) > 8 {
		tag = tag[:8]
	}
	return fmt.Sprintf("verity-realmfs-%s-%s", name, tag)
}

// NewSalt generates a fresh 32-byte random verity salt, hex-encoded.
func NewSalt() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate verity salt: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// GenerateInitialHashTree runs `veritysetup format` over src, writing the
// hash tree to a separate out file, and parses the root hash and salt from
// its output (spec §4.2).
func GenerateInitialHashTree(src, out, salt string) (*HashTree, error) {
	args := fmt.Sprintf("veritysetup format %s %s", shQuote(src), shQuote(out))
	if salt != "" {
		args += fmt.Sprintf(" --salt=%s", salt)
	}
	rawOut, err := shell.ExecCmd(args, true, nil)
	if err != nil {
		return nil, fmt.Errorf("generate hash tree: %w", err)
	}
	return parseFormatOutput(rawOut)
}

// parseFormatOutput splits veritysetup format's "Key:    Value" lines on
// ": " to extract the root hash and salt (spec §4.2).
func parseFormatOutput(raw string) (*HashTree, error) {
	ht := &HashTree{RawOutput: raw}
	for _, line := range strings.Split(raw, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "Root hash":
			ht.RootHash = value
		case "Salt":
			ht.Salt = value
		}
	}
	if ht.RootHash == "" {
		return nil, fmt.Errorf("veritysetup format output did not contain a root hash: %s", raw)
	}
	return ht, nil
}

// GenerateImageHashTree generates a hash tree over the payload of a
// resource image that already has its 4096-byte header prepended, appending
// the tree to the image file (spec §4.2 generate_image_hashtree).
func GenerateImageHashTree(imagePath string, m *header.MetaInfo, salt string) (*HashTree, error) {
	expected := int64(m.NBlocks+1) * header.BlockSize
	info, err := os.Stat(imagePath)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", imagePath, err)
	}
	if info.Size() != expected {
		return nil, fmt.Errorf("image %s is %d bytes, expected exactly %d (header + payload, no hash tree yet)",
			imagePath, info.Size(), expected)
	}

	var ht *HashTree
	err = blockio.WithLoop(imagePath, header.BlockSize, false, func(loop *blockio.LoopDevice) error {
		generated, genErr := GenerateInitialHashTree(loop.Path, imagePath+".verity-tmp", salt)
		if genErr != nil {
			return genErr
		}
		ht = generated
		return nil
	})
	if err != nil {
		return nil, err
	}

	treeData, err := os.ReadFile(imagePath + ".verity-tmp")
	if err != nil {
		return nil, fmt.Errorf("read generated hash tree: %w", err)
	}
	defer os.Remove(imagePath + ".verity-tmp")

	f, err := os.OpenFile(imagePath, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s to append hash tree: %w", imagePath, err)
	}
	defer f.Close()
	if _, err := f.Write(treeData); err != nil {
		return nil, fmt.Errorf("append hash tree to %s: %w", imagePath, err)
	}
	return ht, nil
}

// Verify loop-mounts the payload and re-runs veritysetup's verify mode
// against metainfo's verity-root (spec §4.2 verify).
func Verify(imagePath string, m *header.MetaInfo) error {
	if !m.IsSealed() {
		return fmt.Errorf("image is not sealed, nothing to verify")
	}
	hashOffset := int64(m.NBlocks) * header.BlockSize
	return blockio.WithLoop(imagePath, header.BlockSize, true, func(loop *blockio.LoopDevice) error {
		cmd := fmt.Sprintf("veritysetup verify --hash-offset=%d %s %s %s %s",
			hashOffset, shQuote(loop.Path), shQuote(loop.Path), m.VerityRoot, saltArg(m.VeritySalt))
		if _, err := shell.ExecCmd(cmd, true, nil); err != nil {
			return fmt.Errorf("verity verification failed: %w", err)
		}
		return nil
	})
}

func saltArg(salt string) string {
	if salt == "" {
		return ""
	}
	return "--salt=" + salt
}

// SetupImageDevice creates a verity device for a header-prefixed image
// file: src's byte 0 is the 4096-byte ImageHeader, its payload starts at
// header.BlockSize, and the hash tree generated by GenerateImageHashTree
// lives immediately after the payload. SetupDevice's hash-offset of
// nblocks*4096 only lands on that hash tree when measured from the start
// of the payload, so this loop-mounts src at header.BlockSize first and
// points SetupDevice at the loop device for both the data- and
// hash-device arguments, then detaches the loop once veritysetup has
// opened the mapping (spec §4.2 setup_device; mirrors the original's
// with_loopdev/setup_image_device pairing). Used for RealmFS images and
// resource images; rootfs partitions call SetupDevice directly since
// their header sits at the end of the device, not the front.
func SetupImageDevice(name, src string, nblocks uint32, rootHash string) (string, error) {
	var devicePath string
	err := blockio.WithLoop(src, header.BlockSize, true, func(loop *blockio.LoopDevice) error {
		dp, err := SetupDevice(name, loop.Path, nblocks, rootHash)
		devicePath = dp
		return err
	})
	if err != nil {
		return "", err
	}
	return devicePath, nil
}

// SetupDevice creates /dev/mapper/<name> for src with the hash tree stored
// at hashOffset = nblocks*4096 within src, reusing an existing device with
// the same name if one is already active (spec §4.2 setup_device, "Tie-break").
// src must already be aligned so that its payload starts at byte 0 — a raw
// rootfs partition, or a loop device obtained from SetupImageDevice.
func SetupDevice(name, src string, nblocks uint32, rootHash string) (string, error) {
	mapperPath := "/dev/mapper/" + name
	if _, err := os.Stat(mapperPath); err == nil {
		return mapperPath, nil
	}
	hashOffset := int64(nblocks) * header.BlockSize
	cmd := fmt.Sprintf("veritysetup open %s %s %s %s --hash-offset=%d",
		shQuote(src), shQuote(name), shQuote(src), rootHash, hashOffset)
	if _, err := shell.ExecCmd(cmd, true, nil); err != nil {
		return "", fmt.Errorf("set up verity device %s: %w", name, err)
	}
	return mapperPath, nil
}

// CloseDevice tears down /dev/mapper/<name> (spec §4.2 close_device).
func CloseDevice(name string) error {
	if _, err := shell.ExecCmd(fmt.Sprintf("veritysetup close %s", shQuote(name)), true, nil); err != nil {
		return fmt.Errorf("close verity device %s: %w", name, err)
	}
	return nil
}

func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
