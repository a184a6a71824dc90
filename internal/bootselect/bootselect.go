// Package bootselect drives the boot-time control flow described in spec
// §2 and §4.6: enumerate every citadel-rootfs* partition, demote stale
// TRY_BOOT partitions to FAILED, verify signatures and metainfo (marking
// BAD_SIG/BAD_META on failure), rank the survivors, and construct
// /dev/mapper/rootfs for the winner — a dm-verity device by default, or a
// loop-backed linear mapping under citadel.noverity.
//
// Grounded on internal/partition (this package is a thin driver over its
// enumerate/status/ranking logic) and the teacher's cmd/os-image-composer
// RunE/flag-resolution shape, reused by cmd/citadel-mount.
package bootselect

import (
	"fmt"
	"os"

	"github.com/subgraph/citadel/internal/blockio"
	"github.com/subgraph/citadel/internal/cmdline"
	"github.com/subgraph/citadel/internal/header"
	"github.com/subgraph/citadel/internal/keyring"
	"github.com/subgraph/citadel/internal/logger"
	"github.com/subgraph/citadel/internal/partition"
	"github.com/subgraph/citadel/internal/shell"
	"github.com/subgraph/citadel/internal/verity"
)

var log = logger.Logger()

// Result is the outcome of a successful boot selection: the winning
// partition, its metainfo, and the activated device path handed off as
// the kernel's root device.
type Result struct {
	Partition  *partition.Partition
	MetaInfo   *header.MetaInfo
	DevicePath string
}

// Run performs the full boot-time sequence (spec §2, §4.6) and returns
// the winner with /dev/mapper/rootfs already constructed.
func Run(cl *cmdline.CmdLine) (*Result, error) {
	parts, err := partition.Enumerate()
	if err != nil {
		return nil, fmt.Errorf("bootselect: enumerate partitions: %w", err)
	}
	if err := partition.BootScan(parts); err != nil {
		return nil, fmt.Errorf("bootselect: boot scan: %w", err)
	}

	signaturesEnabled := !cl.NoSignatures()
	verifyAll(parts, signaturesEnabled)

	winner := partition.Choose(parts, signaturesEnabled)
	if winner == nil {
		return nil, fmt.Errorf("bootselect: no bootable partition found among %d candidates", len(parts))
	}
	m, err := winner.MetaInfo()
	if err != nil {
		return nil, fmt.Errorf("bootselect: read metainfo of winning partition %s: %w", winner.Name, err)
	}

	if winner.IsNew() {
		if err := winner.WriteStatus(header.StatusTryBoot); err != nil {
			return nil, fmt.Errorf("bootselect: transition %s to TRY_BOOT: %w", winner.Name, err)
		}
	}
	log.Infof("bootselect: selected %s (channel=%s version=%d status=%s)",
		winner.Name, m.Channel, m.Version, winner.Header().Status().Label())

	var devicePath string
	if cl.NoVerity() {
		devicePath, err = setupNoVerity(winner, m)
	} else {
		devicePath, err = setupVerity(winner, m)
	}
	if err != nil {
		return nil, err
	}

	return &Result{Partition: winner, MetaInfo: m, DevicePath: devicePath}, nil
}

// verifyAll runs the per-partition signature/metainfo checks that mark
// BAD_SIG/BAD_META (spec §4.6, §7). Failures here are never fatal to the
// whole selector: they exclude the partition from ranking instead.
func verifyAll(parts []*partition.Partition, signaturesEnabled bool) {
	for _, p := range parts {
		if !p.IsInitialized() {
			continue
		}
		mi, err := p.MetaInfo()
		if err != nil {
			log.Warnf("bootselect: %s: metainfo parse failed, marking BAD_META: %v", p.Name, err)
			if werr := p.WriteStatus(header.StatusBadMeta); werr != nil {
				log.Warnf("bootselect: %s: write BAD_META status: %v", p.Name, werr)
			}
			continue
		}
		if !signaturesEnabled {
			continue
		}
		pk, err := keyring.ResolveChannelPublicKey(mi.Channel)
		if err != nil {
			log.Warnf("bootselect: %s: no public key for channel %q, marking BAD_SIG: %v", p.Name, mi.Channel, err)
			if werr := p.WriteStatus(header.StatusBadSig); werr != nil {
				log.Warnf("bootselect: %s: write BAD_SIG status: %v", p.Name, werr)
			}
			continue
		}
		ok, err := p.Header().VerifySignature(pk)
		if err != nil || !ok {
			log.Warnf("bootselect: %s: signature verification failed, marking BAD_SIG", p.Name)
			if werr := p.WriteStatus(header.StatusBadSig); werr != nil {
				log.Warnf("bootselect: %s: write BAD_SIG status: %v", p.Name, werr)
			}
		}
	}
}

// setupVerity constructs /dev/mapper/rootfs as a dm-verity device over
// the winning partition, using its trailing header's verity-root (spec
// §4.2 device-name policy: rootfs partitions use the fixed name "rootfs").
func setupVerity(p *partition.Partition, m *header.MetaInfo) (string, error) {
	if !m.IsSealed() {
		return "", fmt.Errorf("bootselect: %s: partition is not sealed, cannot set up verity without --noverity", p.Name)
	}
	return verity.SetupDevice(verity.RootDeviceName, p.DevicePath, m.NBlocks, m.VerityRoot)
}

// setupNoVerity attaches a loop device over the partition's payload and
// builds a linear dm mapping named "rootfs" over it, so /dev/mapper/rootfs
// exists consistently whether or not verity is in play (spec §2: "opens a
// loop device for a linear mapping (noverity mode)").
func setupNoVerity(p *partition.Partition, m *header.MetaInfo) (string, error) {
	mapperPath := "/dev/mapper/" + verity.RootDeviceName
	if _, err := os.Stat(mapperPath); err == nil {
		return mapperPath, nil
	}

	loop, err := blockio.AttachLoop(p.DevicePath, 0, false)
	if err != nil {
		return "", fmt.Errorf("bootselect: %s: attach loop for noverity boot: %w", p.Name, err)
	}
	sectors := m.PayloadSize() / header.SectorSize
	table := fmt.Sprintf("0 %d linear %s 0", sectors, loop.Path)
	if _, err := shell.ExecCmd(fmt.Sprintf("dmsetup create %s --table %s",
		verity.RootDeviceName, shQuote(table)), true, nil); err != nil {
		_ = loop.Detach()
		return "", fmt.Errorf("bootselect: %s: create linear rootfs mapping: %w", p.Name, err)
	}
	return mapperPath, nil
}

// ConfirmBoot flips a partition from TRY_BOOT to GOOD once user space has
// confirmed the boot succeeded (spec §4.6 status state machine).
func ConfirmBoot(p *partition.Partition) error {
	if !p.IsInitialized() || p.Header().Status() != header.StatusTryBoot {
		return fmt.Errorf("bootselect: %s: not in TRY_BOOT, nothing to confirm", p.Name)
	}
	return p.WriteStatus(header.StatusGood)
}

// Close tears down /dev/mapper/rootfs, whichever mode constructed it.
func Close() error {
	mapperPath := "/dev/mapper/" + verity.RootDeviceName
	if _, err := os.Stat(mapperPath); err != nil {
		return nil
	}
	if _, err := shell.ExecCmd(fmt.Sprintf("dmsetup remove %s", verity.RootDeviceName), true, nil); err != nil {
		return fmt.Errorf("bootselect: remove %s: %w", mapperPath, err)
	}
	return nil
}

func shQuote(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '\'')
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'', '\\', '\'', '\'')
			continue
		}
		out = append(out, s[i])
	}
	out = append(out, '\'')
	return string(out)
}
