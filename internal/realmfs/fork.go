package realmfs

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/subgraph/citadel/internal/citadelcfg"
	"github.com/subgraph/citadel/internal/header"
	"github.com/subgraph/citadel/internal/keyring"
	"github.com/subgraph/citadel/internal/shell"
)

// Fork produces a sealed sibling <newName>-realmfs.img by copying this
// RealmFS and re-signing its metainfo under the new name, preserving
// verity-salt/verity-root (spec §4.7.2).
func (r *RealmFS) Fork(newName string, kr keyring.KernelKeyring) (*RealmFS, error) {
	if !r.IsSealed() {
		return nil, fmt.Errorf("realmfs: %s: fork requires a sealed source (use ForkUnsealed)", r.Name)
	}
	dest, err := r.copyTo(newName)
	if err != nil {
		return nil, err
	}

	priv, _, err := keyring.UserSealingKey(kr)
	if err != nil {
		os.Remove(dest)
		return nil, fmt.Errorf("realmfs: %s: fork: no sealing keys: %w", r.Name, err)
	}

	m, err := r.MetaInfo()
	if err != nil {
		os.Remove(dest)
		return nil, err
	}
	forkedHdr, err := header.FromFile(dest)
	if err != nil {
		os.Remove(dest)
		return nil, err
	}
	forkedMeta := &header.MetaInfo{
		ImageType:   header.ImageTypeRealmFS,
		RealmFSName: newName,
		Channel:     keyring.UserKeyName,
		VeritySalt:  m.VeritySalt,
		VerityRoot:  m.VerityRoot,
		NBlocks:     m.NBlocks,
	}
	if err := forkedHdr.SetMetaInfo(forkedMeta); err != nil {
		os.Remove(dest)
		return nil, err
	}
	sig := priv.Sign(forkedHdr.MetainfoBytes())
	if err := forkedHdr.SetSignature(sig); err != nil {
		os.Remove(dest)
		return nil, err
	}
	forkedHdr.SetFlag(header.FlagHashTree, r.hdr.Flags().Has(header.FlagHashTree))
	if err := forkedHdr.WriteFile(dest); err != nil {
		os.Remove(dest)
		return nil, err
	}

	return &RealmFS{Name: newName, Path: dest, Roots: r.Roots, hdr: forkedHdr}, nil
}

// ForkUnsealed produces an unsealed sibling by copying this RealmFS and
// unsealing the copy (spec §4.7.2).
func (r *RealmFS) ForkUnsealed(newName string) (*RealmFS, error) {
	dest, err := r.copyTo(newName)
	if err != nil {
		return nil, err
	}
	forkedHdr, err := header.FromFile(dest)
	if err != nil {
		os.Remove(dest)
		return nil, err
	}
	forked := &RealmFS{Name: newName, Path: dest, Roots: r.Roots, hdr: forkedHdr}
	if err := forked.Unseal(); err != nil {
		os.Remove(dest)
		return nil, err
	}
	return forked, nil
}

// copyTo validates newName's uniqueness and reflink-copies r's image to
// its canonical path.
func (r *RealmFS) copyTo(newName string) (string, error) {
	if err := ValidateName(newName); err != nil {
		return "", err
	}
	dest := filepath.Join(r.Roots.RealmFSImagesDir(), ImageFileName(newName))
	if _, err := os.Stat(dest); err == nil {
		return "", fmt.Errorf("realmfs: %s: a RealmFS named %q already exists", r.Name, newName)
	}
	if _, err := shell.ExecCmd(fmt.Sprintf("cp --reflink=auto %s %s", shQuote(r.Path), shQuote(dest)), false, nil); err != nil {
		return "", fmt.Errorf("realmfs: %s: fork copy to %s: %w", r.Name, dest, err)
	}
	return dest, nil
}

// ListNames enumerates every RealmFS name present under roots' image
// directory.
func ListNames(roots citadelcfg.Roots) ([]string, error) {
	entries, err := os.ReadDir(roots.RealmFSImagesDir())
	if err != nil {
		return nil, fmt.Errorf("realmfs: list %s: %w", roots.RealmFSImagesDir(), err)
	}
	const suffix = "-realmfs.img"
	var names []string
	for _, e := range entries {
		if len(e.Name()) > len(suffix) && e.Name()[len(e.Name())-len(suffix):] == suffix {
			names = append(names, e.Name()[:len(e.Name())-len(suffix)])
		}
	}
	return names, nil
}
