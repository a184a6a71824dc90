package blockio

import (
	"fmt"
	"strings"

	"github.com/moby/sys/mountinfo"
	"github.com/subgraph/citadel/internal/shell"
)

// LoopDevice represents an attached Linux loop device (spec §4.1).
type LoopDevice struct {
	Path       string
	BackingPath string
	Offset     int64
	ReadOnly   bool
}

// AttachLoop attaches path to the next free loop node via losetup,
// optionally with a byte offset and read-only flag.
func AttachLoop(path string, offset int64, readOnly bool) (*LoopDevice, error) {
	var b strings.Builder
	b.WriteString("losetup -f --show")
	if offset > 0 {
		fmt.Fprintf(&b, " --offset %d", offset)
	}
	if readOnly {
		b.WriteString(" --read-only")
	}
	fmt.Fprintf(&b, " %s", shellQuote(path))

	out, err := shell.ExecCmd(b.String(), true, nil)
	if err != nil {
		return nil, fmt.Errorf("attach loop device for %s: %w", path, err)
	}
	dev := strings.TrimSpace(out)
	if dev == "" {
		return nil, fmt.Errorf("losetup did not report a device path for %s", path)
	}
	return &LoopDevice{Path: dev, BackingPath: path, Offset: offset, ReadOnly: readOnly}, nil
}

// Detach tears down the loop device via losetup -d.
func (l *LoopDevice) Detach() error {
	if _, err := shell.ExecCmd(fmt.Sprintf("losetup -d %s", shellQuote(l.Path)), true, nil); err != nil {
		return fmt.Errorf("detach loop device %s: %w", l.Path, err)
	}
	return nil
}

// WithLoop acquires a loop device for path, runs f with it, and guarantees
// detachment on every exit path (spec §4.1). Errors from f take precedence
// over a detach failure, but the detach error is still surfaced when f
// succeeded.
func WithLoop(path string, offset int64, readOnly bool, f func(*LoopDevice) error) (err error) {
	loop, err := AttachLoop(path, offset, readOnly)
	if err != nil {
		return err
	}
	defer func() {
		if derr := loop.Detach(); derr != nil {
			if err == nil {
				err = derr
			} else {
				err = fmt.Errorf("%w (additionally, detach failed: %v)", err, derr)
			}
		}
	}()
	return f(loop)
}

// FindLoopByBackingFile scans /proc/mounts via mountinfo for an already
// attached loop device backed by path, enabling re-acquisition across
// process restarts (spec §4.1).
func FindLoopByBackingFile(path string) (*LoopDevice, error) {
	entries, err := mountinfo.GetMounts(func(i *mountinfo.Info) (skip, stop bool) {
		return !strings.HasPrefix(i.Source, "/dev/loop"), false
	})
	if err != nil {
		return nil, fmt.Errorf("scan /proc/mounts for loop device: %w", err)
	}

	for _, e := range entries {
		backing, offset, ok := loopBackingFile(e.Source)
		if !ok || backing != path {
			continue
		}
		return &LoopDevice{Path: e.Source, BackingPath: backing, Offset: offset, ReadOnly: isReadOnlyMount(e)}, nil
	}
	return nil, nil
}

// loopBackingFile queries losetup for the file and offset backing a
// /dev/loopN device.
func loopBackingFile(loopPath string) (backing string, offset int64, ok bool) {
	out, err := shell.ExecCmdSilent(fmt.Sprintf("losetup -O BACK-FILE,OFFSET --noheadings %s", shellQuote(loopPath)), false, nil)
	if err != nil {
		return "", 0, false
	}
	fields := strings.Fields(strings.TrimSpace(out))
	if len(fields) < 1 {
		return "", 0, false
	}
	backing = fields[0]
	if len(fields) >= 2 {
		fmt.Sscanf(fields[1], "%d", &offset)
	}
	return backing, offset, true
}

func isReadOnlyMount(i *mountinfo.Info) bool {
	for _, opt := range strings.Split(i.Options, ",") {
		if strings.TrimSpace(opt) == "ro" {
			return true
		}
	}
	return false
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
