package realmfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/subgraph/citadel/internal/blockio"
	"github.com/subgraph/citadel/internal/header"
	"github.com/subgraph/citadel/internal/shell"
	"github.com/subgraph/citadel/internal/verity"
)

// Activation is the tagged sum None | Verity | Loop (spec §3.3, §9
// "activation state machine").
type Activation interface {
	// Mountpoints lists every directory this activation mounted, in the
	// order they should be unmounted.
	Mountpoints() []string
}

// ActivationNone means the RealmFS is not currently activated.
type ActivationNone struct{}

func (ActivationNone) Mountpoints() []string { return nil }

// ActivationVerity is a sealed RealmFS's single read-only mountpoint.
type ActivationVerity struct {
	Mountpoint string
	Device     string
}

func (a ActivationVerity) Mountpoints() []string { return []string{a.Mountpoint} }

// ActivationLoop is an unsealed RealmFS's read-only/read-write
// mountpoint pair sharing one loop device (spec §4.7.4).
type ActivationLoop struct {
	ROMountpoint string
	RWMountpoint string
	Device       string
}

func (a ActivationLoop) Mountpoints() []string {
	return []string{a.ROMountpoint, a.RWMountpoint}
}

func (r *RealmFS) mountpointDir() string {
	return r.Roots.RunRealmFSMountpointsDir()
}

func (r *RealmFS) verityTag(rootHash string) string {
	if len(rootHash) > 8 {
		return rootHash[:8]
	}
	return rootHash
}

func (r *RealmFS) mountpointPath(tag string) string {
	return filepath.Join(r.mountpointDir(), fmt.Sprintf("realmfs-%s-%s.mountpoint", r.Name, tag))
}

// Load reconstructs activation state from disk/system at startup: it
// probes /dev/mapper for the sealed tag, searches /proc/mounts for a
// loop backing this RealmFS's file, and checks which mountpoint
// directories exist (spec §4.7.4 "load").
func (r *RealmFS) Load() (Activation, error) {
	m, err := r.MetaInfo()
	if err != nil {
		return nil, err
	}

	if m.IsSealed() {
		tag := r.verityTag(m.VerityRoot)
		deviceName := verity.RealmFSDeviceName(r.Name, m.VerityRoot)
		devicePath := "/dev/mapper/" + deviceName
		mp := r.mountpointPath(tag)
		if _, err := os.Stat(devicePath); err == nil {
			if _, err := os.Stat(mp); err == nil {
				return ActivationVerity{Mountpoint: mp, Device: devicePath}, nil
			}
		}
		return ActivationNone{}, nil
	}

	loop, err := blockio.FindLoopByBackingFile(r.Path)
	if err != nil {
		return nil, err
	}
	if loop == nil {
		return ActivationNone{}, nil
	}
	ro := r.mountpointPath("ro")
	rw := r.mountpointPath("rw")
	if _, err := os.Stat(ro); err != nil {
		return ActivationNone{}, nil
	}
	if _, err := os.Stat(rw); err != nil {
		return ActivationNone{}, nil
	}
	return ActivationLoop{ROMountpoint: ro, RWMountpoint: rw, Device: loop.Path}, nil
}

// Activate attaches and mounts the RealmFS, reusing an existing
// activation if one is already present (spec §4.7.4).
func (r *RealmFS) Activate() (Activation, error) {
	current, err := r.Load()
	if err != nil {
		return nil, err
	}
	if _, isNone := current.(ActivationNone); !isNone {
		return current, nil
	}

	m, err := r.MetaInfo()
	if err != nil {
		return nil, err
	}
	if m.IsSealed() {
		return r.activateSealed(m)
	}
	return r.activateUnsealed(m)
}

func (r *RealmFS) activateSealed(m *header.MetaInfo) (Activation, error) {
	if !r.hdr.Flags().Has(header.FlagHashTree) {
		salt := m.VeritySalt
		if salt == "" {
			var err error
			salt, err = verity.NewSalt()
			if err != nil {
				return nil, err
			}
		}
		if _, err := verity.GenerateImageHashTree(r.Path, m, salt); err != nil {
			return nil, fmt.Errorf("realmfs: %s: generate hash tree lazily: %w", r.Name, err)
		}
		r.hdr.SetFlag(header.FlagHashTree, true)
		if err := r.hdr.WriteFile(r.Path); err != nil {
			return nil, err
		}
	}

	deviceName := verity.RealmFSDeviceName(r.Name, m.VerityRoot)
	devicePath, err := verity.SetupImageDevice(deviceName, r.Path, m.NBlocks, m.VerityRoot)
	if err != nil {
		return nil, fmt.Errorf("realmfs: %s: setup verity device: %w", r.Name, err)
	}

	mp := r.mountpointPath(r.verityTag(m.VerityRoot))
	if err := os.MkdirAll(mp, 0o755); err != nil {
		return nil, fmt.Errorf("realmfs: mkdir %s: %w", mp, err)
	}
	if _, err := shell.ExecCmd(fmt.Sprintf("mount -o ro %s %s", shQuote(devicePath), shQuote(mp)), true, nil); err != nil {
		return nil, fmt.Errorf("realmfs: %s: mount verity device: %w", r.Name, err)
	}
	return ActivationVerity{Mountpoint: mp, Device: devicePath}, nil
}

func (r *RealmFS) activateUnsealed(m *header.MetaInfo) (Activation, error) {
	loop, err := blockio.AttachLoop(r.Path, header.BlockSize, false)
	if err != nil {
		return nil, fmt.Errorf("realmfs: %s: attach loop: %w", r.Name, err)
	}

	ro := r.mountpointPath("ro")
	rw := r.mountpointPath("rw")
	if err := os.MkdirAll(ro, 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(rw, 0o755); err != nil {
		return nil, err
	}

	if _, err := shell.ExecCmd(fmt.Sprintf("mount %s %s", shQuote(loop.Path), shQuote(rw)), true, nil); err != nil {
		return nil, fmt.Errorf("realmfs: %s: mount rw: %w", r.Name, err)
	}
	if _, err := shell.ExecCmd(fmt.Sprintf("mount --bind %s %s", shQuote(rw), shQuote(ro)), true, nil); err != nil {
		return nil, fmt.Errorf("realmfs: %s: bind-mount ro: %w", r.Name, err)
	}
	if _, err := shell.ExecCmd(fmt.Sprintf("mount -o remount,ro,bind %s", shQuote(ro)), true, nil); err != nil {
		return nil, fmt.Errorf("realmfs: %s: remount ro read-only: %w", r.Name, err)
	}

	return ActivationLoop{ROMountpoint: ro, RWMountpoint: rw, Device: loop.Path}, nil
}

// IsInUse reports whether any of act's mountpoints appears in
// activeSet, the set of mountpoints currently recorded by live realms
// (spec §4.7.4 is_in_use).
func IsInUse(act Activation, activeSet map[string]bool) bool {
	for _, mp := range act.Mountpoints() {
		if activeSet[mp] {
			return true
		}
	}
	return false
}

// Deactivate unmounts and tears down act, refusing if any of its
// mountpoints is in activeSet (spec §4.7.4 deactivate).
func (r *RealmFS) Deactivate(activeSet map[string]bool) error {
	act, err := r.Load()
	if err != nil {
		return err
	}
	if _, isNone := act.(ActivationNone); isNone {
		return nil
	}
	if IsInUse(act, activeSet) {
		return fmt.Errorf("realmfs: %s: activation is in use, refusing to deactivate", r.Name)
	}

	switch a := act.(type) {
	case ActivationVerity:
		if err := unmountAndRemove(a.Mountpoint); err != nil {
			return err
		}
		deviceName := strings.TrimPrefix(a.Device, "/dev/mapper/")
		return verity.CloseDevice(deviceName)
	case ActivationLoop:
		if err := unmountBind(a.ROMountpoint); err != nil {
			return err
		}
		if err := unmountAndRemove(a.ROMountpoint); err != nil {
			return err
		}
		if err := unmountAndRemove(a.RWMountpoint); err != nil {
			return err
		}
		loop := &blockio.LoopDevice{Path: a.Device}
		return loop.Detach()
	default:
		return fmt.Errorf("realmfs: %s: unknown activation kind", r.Name)
	}
}

func unmountBind(path string) error {
	_, err := shell.ExecCmd(fmt.Sprintf("umount -l %s", shQuote(path)), true, nil)
	return err
}

func unmountAndRemove(path string) error {
	if _, err := shell.ExecCmd(fmt.Sprintf("umount %s", shQuote(path)), true, nil); err != nil {
		return fmt.Errorf("unmount %s: %w", path, err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove mountpoint dir %s: %w", path, err)
	}
	return nil
}
