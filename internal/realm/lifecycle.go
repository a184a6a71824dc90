package realm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/subgraph/citadel/internal/cmdline"
	"github.com/subgraph/citadel/internal/realmfs"
)

// Start constructs the realm's rootfs (spec §4.8): resolve the named
// RealmFS (forking from default on miss unless the kernel's `sealed`
// flag forbids it), activate it, choose rw/ro as the overlay base,
// build the configured overlay, and publish the rootfs/mountpoint/home
// symlinks under the realm's run directory.
func (r *Realm) Start(rm *RealmManager) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rfs != nil {
		return fmt.Errorf("realm: %s: already started", r.Name)
	}

	rfs, err := r.resolveRealmFS(rm)
	if err != nil {
		return err
	}

	act, err := rfs.Activate()
	if err != nil {
		return fmt.Errorf("realm: %s: activate realmfs: %w", r.Name, err)
	}

	base, mountpointForRefcount, err := r.chooseBase(rfs, act)
	if err != nil {
		return err
	}

	kind, err := ParseOverlayKind(r.config.Overlay)
	if err != nil {
		return err
	}
	overlay, err := r.BuildOverlay(kind, base)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(r.RunDir(), 0o755); err != nil {
		return fmt.Errorf("realm: %s: mkdir run dir: %w", r.Name, err)
	}
	if err := symlinkReplace(overlay.Mountpoint, filepath.Join(r.RunDir(), "rootfs")); err != nil {
		return err
	}
	if err := symlinkReplace(base, filepath.Join(r.RunDir(), "realmfs-mountpoint")); err != nil {
		return err
	}
	if err := symlinkReplace(filepath.Join(base, "home"), filepath.Join(r.RunDir(), "home")); err != nil {
		return err
	}

	rm.acquireMountpoint(r.Name, mountpointForRefcount)

	r.rfs = rfs
	r.overlay = overlay
	r.rootfs = overlay.Mountpoint
	r.realmfsMP = base
	return nil
}

// resolveRealmFS opens the realm's configured RealmFS, forking an
// unsealed copy of the default RealmFS when it doesn't yet exist,
// unless the kernel command line's `sealed` flag forbids that.
func (r *Realm) resolveRealmFS(rm *RealmManager) (*realmfs.RealmFS, error) {
	name := r.config.RealmFSName
	if name == "" {
		name = "default"
	}

	rfs, err := rm.FS.Open(name)
	if err == nil {
		return rfs, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("realm: %s: open realmfs %s: %w", r.Name, name, err)
	}
	if cmdline.Current().Sealed() {
		return nil, fmt.Errorf("realm: %s: realmfs %s missing and forking is forbidden (sealed)", r.Name, name)
	}

	def, err := rm.FS.Open("default")
	if err != nil {
		return nil, fmt.Errorf("realm: %s: open default realmfs: %w", r.Name, err)
	}
	if _, err := def.ForkUnsealed(name); err != nil {
		return nil, fmt.Errorf("realm: %s: fork realmfs %s from default: %w", r.Name, name, err)
	}
	return rm.FS.Open(name)
}

// chooseBase picks rw if this realm owns an unsealed RealmFS's write
// mountpoint, else ro (spec §4.8 step 3). It also returns the
// mountpoint to key refcounting on: the rw mountpoint when writable,
// else the single read-only mountpoint.
func (r *Realm) chooseBase(rfs *realmfs.RealmFS, act realmfs.Activation) (base string, refKey string, err error) {
	owner, err := rfs.Owner()
	if err != nil {
		return "", "", fmt.Errorf("realm: %s: read realmfs owner: %w", r.Name, err)
	}
	switch a := act.(type) {
	case realmfs.ActivationLoop:
		if owner == r.Name {
			return a.RWMountpoint, a.RWMountpoint, nil
		}
		return a.ROMountpoint, a.ROMountpoint, nil
	case realmfs.ActivationVerity:
		return a.Mountpoint, a.Mountpoint, nil
	default:
		return "", "", fmt.Errorf("realm: %s: realmfs is not activated", r.Name)
	}
}

func symlinkReplace(target, link string) error {
	if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("realm: remove stale symlink %s: %w", link, err)
	}
	if err := os.Symlink(target, link); err != nil {
		return fmt.Errorf("realm: symlink %s -> %s: %w", link, target, err)
	}
	return nil
}

// Stop reverses Start: tears down the overlay, removes the run
// symlinks, and releases the RealmFS mountpoint reference, deactivating
// the RealmFS once no realm references it any longer (spec §4.8).
func (r *Realm) Stop(rm *RealmManager) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rfs == nil {
		return nil
	}

	if err := r.TeardownOverlay(r.overlay); err != nil {
		return err
	}
	for _, link := range []string{"rootfs", "realmfs-mountpoint", "home"} {
		if err := os.Remove(filepath.Join(r.RunDir(), link)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("realm: %s: remove symlink %s: %w", r.Name, link, err)
		}
	}

	if _, last := rm.releaseMountpoint(r.Name); last {
		if err := r.rfs.Deactivate(rm.activeMountpoints()); err != nil {
			return fmt.Errorf("realm: %s: deactivate realmfs: %w", r.Name, err)
		}
	}

	r.rfs = nil
	r.overlay = nil
	r.rootfs = ""
	r.realmfsMP = ""
	return nil
}
