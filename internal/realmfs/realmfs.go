package realmfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/subgraph/citadel/internal/citadelcfg"
	"github.com/subgraph/citadel/internal/header"
	"github.com/subgraph/citadel/internal/keyring"
	"github.com/subgraph/citadel/internal/logger"
	"github.com/subgraph/citadel/internal/shell"
	"github.com/subgraph/citadel/internal/verity"
)

var log = logger.Logger()

// RealmFS owns a name and path and a shared ImageHeader; all externally
// observable state (sealed-ness, activation, sealing-key availability)
// is recomputed from disk/system on demand (spec §4.7).
type RealmFS struct {
	Name  string
	Path  string
	Roots citadelcfg.Roots

	hdr *header.ImageHeader

	mgr *Manager
}

// Open loads name's RealmFS image and its header.
func Open(name string, roots citadelcfg.Roots) (*RealmFS, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	path := filepath.Join(roots.RealmFSImagesDir(), ImageFileName(name))
	hdr, err := header.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("realmfs: open %s: %w", path, err)
	}
	return &RealmFS{Name: name, Path: path, Roots: roots, hdr: hdr}, nil
}

// reload re-reads the header if the backing file changed since the last
// access (spec §4.4 reload_if_stale, applied throughout §4.7).
func (r *RealmFS) reload() error {
	_, err := r.hdr.ReloadIfStale(r.Path)
	return err
}

// MetaInfo returns the RealmFS's current metainfo.
func (r *RealmFS) MetaInfo() (*header.MetaInfo, error) {
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r.hdr.MetaInfo()
}

// IsSealed reports whether the RealmFS's metainfo carries a non-empty
// verity-root (spec §3.3).
func (r *RealmFS) IsSealed() bool {
	m, err := r.MetaInfo()
	return err == nil && m.IsSealed()
}

// Owner returns the realmfs-owner field, the name of the realm holding
// exclusive rw access to an unsealed RealmFS (spec §3.2, §4.7.4).
func (r *RealmFS) Owner() (string, error) {
	m, err := r.MetaInfo()
	if err != nil {
		return "", err
	}
	return m.RealmFSOwner, nil
}

// SetOwner rewrites realmfs-owner, refusing if the rw mountpoint is
// currently in use (spec §4.7.4: "attempts to change the owner while
// the rw mountpoint is in use fail").
func (r *RealmFS) SetOwner(owner string, activeSet map[string]bool) error {
	act, err := r.Load()
	if err != nil {
		return err
	}
	if loop, ok := act.(ActivationLoop); ok && activeSet[loop.RWMountpoint] {
		return fmt.Errorf("realmfs: %s: rw mountpoint is in use, cannot change owner", r.Name)
	}
	m, err := r.MetaInfo()
	if err != nil {
		return err
	}
	m.RealmFSOwner = owner
	if err := r.hdr.SetMetaInfo(m); err != nil {
		return err
	}
	return r.hdr.WriteFile(r.Path)
}

// sealingCopyPath and update working-copy sibling suffixes (spec §4.7.1,
// §4.7.5).
func (r *RealmFS) sealingCopyPath() string { return r.Path + ".sealing" }
func (r *RealmFS) oldPath() string         { return r.Path + ".old" }
func (r *RealmFS) updatePath() string      { return r.Path + ".update" }

// Unseal rewrites metainfo removing channel/verity-salt/verity-root,
// keeping nblocks and realmfs-name; truncates off any appended hash
// tree and clears HASH_TREE; zeroes the signature slot (spec §4.7.1).
// Refused if the RealmFS is currently activated.
func (r *RealmFS) Unseal() error {
	act, err := r.Load()
	if err != nil {
		return err
	}
	if _, isNone := act.(ActivationNone); !isNone {
		return fmt.Errorf("realmfs: %s: cannot unseal while activated", r.Name)
	}

	m, err := r.MetaInfo()
	if err != nil {
		return err
	}
	m.Channel = ""
	m.VeritySalt = ""
	m.VerityRoot = ""
	if err := r.hdr.SetMetaInfo(m); err != nil {
		return err
	}
	if r.hdr.Flags().Has(header.FlagHashTree) {
		if err := os.Truncate(r.Path, int64(m.NBlocks+1)*header.BlockSize); err != nil {
			return fmt.Errorf("realmfs: truncate %s: %w", r.Path, err)
		}
		r.hdr.SetFlag(header.FlagHashTree, false)
	}
	if err := r.hdr.SetSignature(make([]byte, 64)); err != nil {
		return err
	}
	return r.hdr.WriteFile(r.Path)
}

// Seal signs the RealmFS into a sealed, dm-verity protected image (no
// encryption is applied), atomically replacing the original (spec
// §4.7.1). newName, if non-empty, renames the RealmFS identity as part of
// sealing (used by `citadel-realmfs seal --as` and by ApplyUpdate).
func (r *RealmFS) Seal(newName string, kr keyring.KernelKeyring) error {
	if r.IsSealed() {
		return fmt.Errorf("realmfs: %s: already sealed", r.Name)
	}
	act, err := r.Load()
	if err != nil {
		return err
	}
	if _, isNone := act.(ActivationNone); !isNone {
		return fmt.Errorf("realmfs: %s: cannot seal while activated", r.Name)
	}
	sealPriv, _, err := keyring.UserSealingKey(kr)
	if err != nil {
		return fmt.Errorf("realmfs: %s: no sealing keys: %w", r.Name, err)
	}

	sealing := r.sealingCopyPath()
	if _, err := os.Stat(sealing); err == nil {
		log.Warnf("realmfs: %s: removing stale sealing copy %s", r.Name, sealing)
		if err := os.Remove(sealing); err != nil {
			return fmt.Errorf("realmfs: remove stale sealing copy: %w", err)
		}
	}

	ok := false
	defer func() {
		if !ok {
			os.Remove(sealing)
		}
	}()

	if _, err := shell.ExecCmd(fmt.Sprintf("cp --reflink=auto %s %s", shQuote(r.Path), shQuote(sealing)), false, nil); err != nil {
		return fmt.Errorf("realmfs: %s: copy to sealing file: %w", r.Name, err)
	}

	m, err := r.MetaInfo()
	if err != nil {
		return err
	}
	salt, err := verity.NewSalt()
	if err != nil {
		return err
	}
	ht, err := verity.GenerateImageHashTree(sealing, m, salt)
	if err != nil {
		return fmt.Errorf("realmfs: %s: generate hash tree: %w", r.Name, err)
	}

	name := r.Name
	if newName != "" {
		name = newName
	}
	sealedMeta := &header.MetaInfo{
		ImageType:   header.ImageTypeRealmFS,
		RealmFSName: name,
		Channel:     keyring.UserKeyName,
		VeritySalt:  ht.Salt,
		VerityRoot:  ht.RootHash,
		NBlocks:     m.NBlocks,
	}
	sealedHdr, err := header.FromFile(sealing)
	if err != nil {
		return err
	}
	if err := sealedHdr.SetMetaInfo(sealedMeta); err != nil {
		return err
	}
	sig := sealPriv.Sign(sealedHdr.MetainfoBytes())
	if err := sealedHdr.SetSignature(sig); err != nil {
		return err
	}
	sealedHdr.SetFlag(header.FlagHashTree, true)
	if err := sealedHdr.WriteFile(sealing); err != nil {
		return err
	}

	if err := os.Rename(r.Path, r.oldPath()); err != nil {
		return fmt.Errorf("realmfs: %s: rename original to .old: %w", r.Name, err)
	}
	if err := os.Rename(sealing, r.Path); err != nil {
		return fmt.Errorf("realmfs: %s: rename sealing copy into place: %w", r.Name, err)
	}
	ok = true

	r.Name = name
	hdr, err := header.FromFile(r.Path)
	if err != nil {
		return err
	}
	r.hdr = hdr
	return nil
}

func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
