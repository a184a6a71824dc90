// Package partition implements A/B rootfs partition enumeration, status
// transitions, and the boot-time ranking rule used to pick which
// partition to hand off to the kernel (spec §4.6).
package partition

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/moby/sys/mountinfo"

	"github.com/subgraph/citadel/internal/blockio"
	"github.com/subgraph/citadel/internal/header"
	"github.com/subgraph/citadel/internal/keyring"
)

// MapperDir is the directory scanned for citadel-rootfs* devices.
var MapperDir = "/dev/mapper"

// NamePrefix is the filename prefix every rootfs partition device carries.
const NamePrefix = "citadel-rootfs"

// Partition represents one /dev/mapper/citadel-rootfs* device.
type Partition struct {
	Name       string
	DevicePath string

	hdr     *header.ImageHeader
	loadErr error
}

// Enumerate lists every citadel-rootfs* device under MapperDir and loads
// its header. An unreadable or invalid header marks the partition
// uninitialised but it is still returned, per spec.
func Enumerate() ([]*Partition, error) {
	entries, err := os.ReadDir(MapperDir)
	if err != nil {
		return nil, fmt.Errorf("partition: read %s: %w", MapperDir, err)
	}
	var out []*Partition
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), NamePrefix) {
			continue
		}
		out = append(out, Load(filepath.Join(MapperDir, e.Name())))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Load reads the header from devicePath, constructing a Partition even
// if the header turns out to be uninitialised or corrupt.
func Load(devicePath string) *Partition {
	p := &Partition{Name: filepath.Base(devicePath), DevicePath: devicePath}
	dev, err := blockio.OpenBlockDevice(devicePath, false)
	if err != nil {
		p.loadErr = err
		return p
	}
	defer dev.Close()
	hdr, err := header.FromPartition(dev)
	if err != nil {
		p.loadErr = err
		return p
	}
	p.hdr = hdr
	return p
}

// IsInitialized reports whether the partition's header carries the SGOS
// magic.
func (p *Partition) IsInitialized() bool {
	return p.hdr != nil && p.hdr.IsMagicValid()
}

// IsMounted reports whether DevicePath appears as a mount source in
// /proc/mounts.
func (p *Partition) IsMounted() bool {
	mounts, err := mountinfo.GetMounts(func(i *mountinfo.Info) (skip, stop bool) {
		return i.Source != p.DevicePath, false
	})
	return err == nil && len(mounts) > 0
}

// Header returns the partition's image header, or nil if it could not be
// loaded.
func (p *Partition) Header() *header.ImageHeader {
	return p.hdr
}

// MetaInfo returns the partition's parsed metainfo.
func (p *Partition) MetaInfo() (*header.MetaInfo, error) {
	if !p.IsInitialized() {
		return nil, fmt.Errorf("partition: %s is not initialized", p.Name)
	}
	return p.hdr.MetaInfo()
}

// IsNew reports whether the partition's status is NEW.
func (p *Partition) IsNew() bool {
	return p.IsInitialized() && p.hdr.Status() == header.StatusNew
}

// IsGood reports whether the partition's status is GOOD.
func (p *Partition) IsGood() bool {
	return p.IsInitialized() && p.hdr.Status() == header.StatusGood
}

// IsPreferred reports whether the PREFER_BOOT flag is set.
func (p *Partition) IsPreferred() bool {
	return p.IsInitialized() && p.hdr.Flags().Has(header.FlagPreferBoot)
}

// WriteStatus updates the header's status byte and persists it to the
// device's last 8 sectors.
func (p *Partition) WriteStatus(s header.Status) error {
	if !p.IsInitialized() {
		return fmt.Errorf("partition: %s is not initialized, cannot write status", p.Name)
	}
	p.hdr.SetStatus(s)
	dev, err := blockio.OpenBlockDevice(p.DevicePath, true)
	if err != nil {
		return err
	}
	defer dev.Close()
	return p.hdr.WritePartition(dev)
}

// BootScan demotes any partition observed at TRY_BOOT to FAILED: the
// previous boot attempt never confirmed (spec §4.6).
func BootScan(partitions []*Partition) error {
	for _, p := range partitions {
		if p.IsInitialized() && p.hdr.Status() == header.StatusTryBoot {
			if err := p.WriteStatus(header.StatusFailed); err != nil {
				return fmt.Errorf("partition: demote %s from TRY_BOOT to FAILED: %w", p.Name, err)
			}
		}
	}
	return nil
}

// Bootable reports whether p may be considered for boot, per spec §4.6:
// initialised, status in {NEW, GOOD} (or additionally BAD_SIG when
// signatures are disabled), and (if signatures are enabled) a public key
// is resolvable for its channel.
func (p *Partition) Bootable(signaturesEnabled bool) bool {
	if !p.IsInitialized() {
		return false
	}
	status := p.hdr.Status()
	statusOK := status == header.StatusNew || status == header.StatusGood
	if !signaturesEnabled && status == header.StatusBadSig {
		statusOK = true
	}
	if !statusOK {
		return false
	}
	if signaturesEnabled {
		mi, err := p.MetaInfo()
		if err != nil {
			return false
		}
		if _, err := keyring.ResolveChannelPublicKey(mi.Channel); err != nil {
			return false
		}
	}
	return true
}

// Choose ranks the bootable partitions among candidates and returns the
// winner, or nil if none are bootable (spec §4.6 ranking rule).
func Choose(candidates []*Partition, signaturesEnabled bool) *Partition {
	var best *Partition
	var bestMeta *header.MetaInfo
	for _, p := range candidates {
		if !p.Bootable(signaturesEnabled) {
			continue
		}
		meta, err := p.MetaInfo()
		if err != nil {
			continue
		}
		if best == nil {
			best, bestMeta = p, meta
			continue
		}
		if wins(p, meta, best, bestMeta) {
			best, bestMeta = p, meta
		}
	}
	return best
}

// wins reports whether candidate beats current under the fold described
// in spec §4.6: PREFER_BOOT wins unconditionally; else higher version
// wins if channels match; else NEW beats GOOD; else current is retained.
func wins(candidate *Partition, candMeta *header.MetaInfo, current *Partition, curMeta *header.MetaInfo) bool {
	candPreferred := candidate.IsPreferred()
	curPreferred := current.IsPreferred()
	if candPreferred != curPreferred {
		return candPreferred
	}
	if candPreferred && curPreferred {
		return false // first-seen wins among preferred
	}
	if candMeta.Channel == curMeta.Channel && candMeta.Version != curMeta.Version {
		return candMeta.Version > curMeta.Version
	}
	candIsNew := candidate.IsNew()
	curIsNew := current.IsNew()
	if candIsNew != curIsNew {
		return candIsNew
	}
	return false
}
