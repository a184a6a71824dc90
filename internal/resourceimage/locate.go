// Package resourceimage locates, stages, decompresses and mounts
// resource images (rootfs/extra/modules/kernel), and applies their
// manifest-driven bind mounts (spec §4.5).
package resourceimage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/subgraph/citadel/internal/citadelcfg"
	"github.com/subgraph/citadel/internal/cmdline"
	"github.com/subgraph/citadel/internal/shell"
)

// EFISystemPartitionGUID is the GPT partition type GUID scanned for when
// resource images must be fetched from the boot media (spec §4.5).
const EFISystemPartitionGUID = "c12a7328-f81f-11d2-ba4b-00a0c93ec93b"

// BootMountpoint is where an EFI system partition is mounted to look for
// staged images.
const BootMountpoint = "/boot"

// LocateMode captures the boot-mode flags that change where an image is
// searched for (spec §4.5 step 1 vs step 2).
type LocateMode struct {
	Install  bool
	Live     bool
	Recovery bool
}

// ModeFromCmdline reads install/live/recovery from the kernel command
// line singleton.
func ModeFromCmdline(cl *cmdline.CmdLine) LocateMode {
	return LocateMode{
		Install:  cl.InstallMode(),
		Live:     cl.LiveMode(),
		Recovery: cl.RecoveryMode(),
	}
}

func (m LocateMode) needsBootMediaScan() bool {
	return m.Install || m.Live || m.Recovery
}

// Located describes where a resource image was found and whether it
// arrived compressed at the container level (a ".xz" sibling rather
// than the DATA_COMPRESSED header flag).
type Located struct {
	Path       string
	Compressed bool
}

// Locate implements the spec §4.5 search procedure: the storage path
// first (unless a boot mode forces scanning boot media), then every EFI
// system partition mounted read-only under /boot.
func Locate(name string, roots citadelcfg.Roots, mode LocateMode) (Located, error) {
	if !mode.needsBootMediaScan() {
		candidate := filepath.Join(roots.ResourceImagesDir(), name+".img")
		if _, err := os.Stat(candidate); err == nil {
			return Located{Path: candidate}, nil
		}
	}

	partitions, err := scanEFIPartitions()
	if err != nil {
		return Located{}, fmt.Errorf("resourceimage: scan EFI system partitions: %w", err)
	}
	for _, dev := range partitions {
		found, ok, err := tryBootPartition(dev, name)
		if err != nil {
			continue
		}
		if ok {
			return found, nil
		}
	}
	return Located{}, fmt.Errorf("resourceimage: %q not found in storage or on any boot media", name)
}

func tryBootPartition(devicePath, name string) (Located, bool, error) {
	if err := mountReadOnly(devicePath, BootMountpoint); err != nil {
		return Located{}, false, err
	}
	plain := filepath.Join(BootMountpoint, "images", name+".img")
	if _, err := os.Stat(plain); err == nil {
		return Located{Path: plain}, true, nil
	}
	xzPath := plain + ".xz"
	if _, err := os.Stat(xzPath); err == nil {
		return Located{Path: xzPath, Compressed: true}, true, nil
	}
	return Located{}, false, nil
}

func mountReadOnly(devicePath, mountpoint string) error {
	if err := os.MkdirAll(mountpoint, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", mountpoint, err)
	}
	if _, err := shell.ExecCmd(fmt.Sprintf("mount -o ro %s %s", shQuote(devicePath), shQuote(mountpoint)), true, nil); err != nil {
		return fmt.Errorf("mount %s at %s: %w", devicePath, mountpoint, err)
	}
	return nil
}

// scanEFIPartitions lists block devices whose GPT partition type matches
// EFISystemPartitionGUID, via blkid.
func scanEFIPartitions() ([]string, error) {
	out, err := shell.ExecCmdSilent(fmt.Sprintf("blkid -t PARTTYPE=%s -o device", EFISystemPartitionGUID), true, nil)
	if err != nil {
		// blkid returns non-zero when nothing matches; that is not fatal.
		return nil, nil
	}
	var devices []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			devices = append(devices, line)
		}
	}
	return devices, nil
}

func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
