package realm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/subgraph/citadel/internal/shell"
)

// OverlayKind is the three-variant tag spec §9 requires: code that
// constructs an overlay dispatches on the variant and the variant only.
type OverlayKind int

const (
	OverlayNone OverlayKind = iota
	OverlayTmpFS
	OverlayStorage
)

// ParseOverlayKind maps a realm config's overlay string to its tag.
func ParseOverlayKind(s string) (OverlayKind, error) {
	switch s {
	case "", "none":
		return OverlayNone, nil
	case "tmpfs":
		return OverlayTmpFS, nil
	case "storage":
		return OverlayStorage, nil
	default:
		return OverlayNone, fmt.Errorf("realm: unknown overlay kind %q", s)
	}
}

// Overlay is a constructed overlayfs mount: lowerdir=base,
// upperdir/workdir under a per-realm scratch area, mounted at
// Mountpoint (spec §4.8 step 4).
type Overlay struct {
	Kind       OverlayKind
	Mountpoint string
	upperdir   string
	workdir    string
	subvolume  string // btrfs subvolume path, OverlayStorage only
}

// BuildOverlay constructs the overlay (or passes base through directly
// for OverlayNone) for realm r layered on top of base.
func (r *Realm) BuildOverlay(kind OverlayKind, base string) (*Overlay, error) {
	switch kind {
	case OverlayNone:
		return &Overlay{Kind: OverlayNone, Mountpoint: base}, nil
	case OverlayTmpFS:
		return r.buildTmpFSOverlay(base)
	case OverlayStorage:
		return r.buildStorageOverlay(base)
	default:
		return nil, fmt.Errorf("realm: %s: unknown overlay kind %d", r.Name, kind)
	}
}

func (r *Realm) scratchRunDir() string {
	return filepath.Join(r.RunDir(), "overlay")
}

func (r *Realm) buildTmpFSOverlay(base string) (*Overlay, error) {
	scratch := r.scratchRunDir()
	upper := filepath.Join(scratch, "upper")
	work := filepath.Join(scratch, "work")
	mountpoint := filepath.Join(scratch, "merged")
	for _, d := range []string{upper, work, mountpoint} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("realm: %s: mkdir %s: %w", r.Name, d, err)
		}
	}
	if err := mountOverlay(base, upper, work, mountpoint); err != nil {
		return nil, err
	}
	return &Overlay{Kind: OverlayTmpFS, Mountpoint: mountpoint, upperdir: upper, workdir: work}, nil
}

func (r *Realm) buildStorageOverlay(base string) (*Overlay, error) {
	subvolume := filepath.Join(r.Dir(), "overlay")
	if _, err := shell.ExecCmd(fmt.Sprintf("btrfs subvolume create %s", shQuote(subvolume)), true, nil); err != nil {
		return nil, fmt.Errorf("realm: %s: create btrfs subvolume: %w", r.Name, err)
	}
	upper := filepath.Join(subvolume, "upper")
	work := filepath.Join(subvolume, "work")
	mountpoint := filepath.Join(r.RunDir(), "overlay-merged")
	for _, d := range []string{upper, work, mountpoint} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("realm: %s: mkdir %s: %w", r.Name, d, err)
		}
	}
	if err := mountOverlay(base, upper, work, mountpoint); err != nil {
		return nil, err
	}
	return &Overlay{Kind: OverlayStorage, Mountpoint: mountpoint, upperdir: upper, workdir: work, subvolume: subvolume}, nil
}

func mountOverlay(lower, upper, work, mountpoint string) error {
	cmd := fmt.Sprintf("mount -t overlay overlay -o lowerdir=%s,upperdir=%s,workdir=%s %s",
		shQuote(lower), shQuote(upper), shQuote(work), shQuote(mountpoint))
	if _, err := shell.ExecCmd(cmd, true, nil); err != nil {
		return fmt.Errorf("mount overlay at %s: %w", mountpoint, err)
	}
	return nil
}

// Teardown unmounts and removes the overlay's scratch state. OverlayNone
// is a no-op since its mountpoint is the base directly.
func (r *Realm) TeardownOverlay(o *Overlay) error {
	if o == nil || o.Kind == OverlayNone {
		return nil
	}
	if _, err := shell.ExecCmd(fmt.Sprintf("umount %s", shQuote(o.Mountpoint)), true, nil); err != nil {
		return fmt.Errorf("realm: %s: unmount overlay: %w", r.Name, err)
	}
	if err := os.RemoveAll(o.Mountpoint); err != nil {
		return fmt.Errorf("realm: %s: remove overlay mountpoint: %w", r.Name, err)
	}
	if o.Kind == OverlayStorage {
		if _, err := shell.ExecCmd(fmt.Sprintf("btrfs subvolume delete %s", shQuote(o.subvolume)), true, nil); err != nil {
			return fmt.Errorf("realm: %s: delete btrfs subvolume: %w", r.Name, err)
		}
	} else {
		if err := os.RemoveAll(r.scratchRunDir()); err != nil {
			return fmt.Errorf("realm: %s: remove overlay scratch dir: %w", r.Name, err)
		}
	}
	return nil
}

func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
