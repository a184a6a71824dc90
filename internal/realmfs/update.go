package realmfs

import (
	"fmt"
	"os"

	"github.com/subgraph/citadel/internal/header"
	"github.com/subgraph/citadel/internal/keyring"
	"github.com/subgraph/citadel/internal/shell"
)

// UpdateSession is a writable working copy opened by Update, along with
// the network bridge allocated for the systemd-nspawn shell run against
// it (spec §4.7.5).
type UpdateSession struct {
	Source       *RealmFS
	WorkingCopy  *RealmFS
	sealedSource bool
	bridge       string
}

// Update opens a writable working copy of r: a reflink copy activated
// as an unsealed loop pair if r is sealed, or r itself (activated) if
// it is already unsealed (spec §4.7.5).
func (r *RealmFS) Update() (*UpdateSession, error) {
	sess := &UpdateSession{Source: r}

	if r.IsSealed() {
		if _, err := shell.ExecCmd(fmt.Sprintf("cp --reflink=auto %s %s", shQuote(r.Path), shQuote(r.updatePath())), false, nil); err != nil {
			return nil, fmt.Errorf("realmfs: %s: copy to update working file: %w", r.Name, err)
		}
		wcHdr, err := header.FromFile(r.updatePath())
		if err != nil {
			os.Remove(r.updatePath())
			return nil, err
		}
		wc := &RealmFS{Name: r.Name, Path: r.updatePath(), Roots: r.Roots, hdr: wcHdr, mgr: r.mgr}
		if err := wc.Unseal(); err != nil {
			os.Remove(r.updatePath())
			return nil, err
		}
		sess.WorkingCopy = wc
		sess.sealedSource = true
	} else {
		sess.WorkingCopy = r
	}

	if _, err := sess.WorkingCopy.Activate(); err != nil {
		sess.cleanupWorkingFile()
		return nil, fmt.Errorf("realmfs: %s: activate update working copy: %w", r.Name, err)
	}

	if r.mgr != nil {
		bridge, err := r.mgr.AllocateBridge()
		if err != nil {
			sess.teardownActivation()
			sess.cleanupWorkingFile()
			return nil, err
		}
		sess.bridge = bridge
	}

	return sess, nil
}

// Shell spawns a systemd-nspawn shell against the session's rw
// mountpoint with its allocated bridge, returning when the interactive
// session exits (spec §4.7.5).
func (s *UpdateSession) Shell() error {
	act, err := s.WorkingCopy.Load()
	if err != nil {
		return err
	}
	loopAct, ok := act.(ActivationLoop)
	if !ok {
		return fmt.Errorf("realmfs: %s: update session has no rw mountpoint to shell into", s.WorkingCopy.Name)
	}

	cmd := fmt.Sprintf("systemd-nspawn --directory=%s", shQuote(loopAct.RWMountpoint))
	if s.bridge != "" {
		cmd += fmt.Sprintf(" --network-bridge=%s", shQuote(s.bridge))
	}
	_, err = shell.ExecCmdWithStream(cmd, true, nil)
	return err
}

// ApplyUpdate applies the session's changes. For a sealed source it
// re-seals the working copy under the original name, rotates the original
// into a numbered backup chain of depth 2, and renames the working copy
// into place (spec §4.7.5). For an unsealed source the working copy is the
// image itself, already in place, so no rotation or rename happens.
func (s *UpdateSession) ApplyUpdate(kr keyring.KernelKeyring) error {
	if err := s.WorkingCopy.Deactivate(nil); err != nil {
		return fmt.Errorf("realmfs: %s: deactivate working copy before apply: %w", s.Source.Name, err)
	}

	if s.sealedSource {
		if err := s.WorkingCopy.Seal(s.Source.Name, kr); err != nil {
			return fmt.Errorf("realmfs: %s: re-seal working copy: %w", s.Source.Name, err)
		}
	}

	if s.sealedSource {
		if err := rotateBackupChain(s.Source.Path); err != nil {
			return err
		}
		if err := os.Rename(s.WorkingCopy.Path, s.Source.Path); err != nil {
			return fmt.Errorf("realmfs: %s: rename working copy into place: %w", s.Source.Name, err)
		}
	}

	s.releaseBridge()
	return nil
}

// rotateBackupChain keeps a depth-2 backup chain: path.old.1 is
// discarded, path.old becomes path.old.1, and path becomes path.old
// (spec §4.7.5, backup chain depth 2).
func rotateBackupChain(path string) error {
	old := path + ".old"
	old1 := path + ".old.1"

	if _, err := os.Stat(old1); err == nil {
		if err := os.Remove(old1); err != nil {
			return fmt.Errorf("realmfs: remove stale backup %s: %w", old1, err)
		}
	}
	if _, err := os.Stat(old); err == nil {
		if err := os.Rename(old, old1); err != nil {
			return fmt.Errorf("realmfs: rotate %s to %s: %w", old, old1, err)
		}
	}
	if err := os.Rename(path, old); err != nil {
		return fmt.Errorf("realmfs: rotate %s to %s: %w", path, old, err)
	}
	return nil
}

// Cleanup discards the update session: deactivates the working copy,
// removes it if it was a separate file, and frees the bridge allocation
// (spec §4.7.5 cleanup).
func (s *UpdateSession) Cleanup() error {
	s.teardownActivation()
	s.cleanupWorkingFile()
	s.releaseBridge()
	return nil
}

func (s *UpdateSession) teardownActivation() {
	_ = s.WorkingCopy.Deactivate(nil)
}

func (s *UpdateSession) cleanupWorkingFile() {
	if s.sealedSource {
		os.Remove(s.WorkingCopy.Path)
	}
}

func (s *UpdateSession) releaseBridge() {
	if s.bridge != "" && s.Source.mgr != nil {
		s.Source.mgr.ReleaseBridge(s.bridge)
		s.bridge = ""
	}
}
