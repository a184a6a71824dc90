package header

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
)

// MetaInfo is the TOML document embedded in an ImageHeader (spec §3.2).
type MetaInfo struct {
	ImageType     string `toml:"image-type"`
	Channel       string `toml:"channel,omitempty"`
	KernelVersion string `toml:"kernel-version,omitempty"`
	KernelID      string `toml:"kernel-id,omitempty"`
	RealmFSName   string `toml:"realmfs-name,omitempty"`
	RealmFSOwner  string `toml:"realmfs-owner,omitempty"`
	Version       uint32 `toml:"version"`
	Timestamp     string `toml:"timestamp,omitempty"`
	NBlocks       uint32 `toml:"nblocks"`
	ShaSum        string `toml:"shasum,omitempty"`
	VeritySalt    string `toml:"verity-salt,omitempty"`
	VerityRoot    string `toml:"verity-root,omitempty"`
}

// Valid image-type values (spec §3.2, §6).
const (
	ImageTypeRootfs  = "rootfs"
	ImageTypeExtra   = "extra"
	ImageTypeModules = "modules"
	ImageTypeKernel  = "kernel"
	ImageTypeRealmFS = "realmfs"
)

// IsSealed reports whether the metainfo describes a dm-verity sealed image:
// a non-empty verity-root (spec §3.2 invariants, §3.3).
func (m *MetaInfo) IsSealed() bool {
	return m.VerityRoot != ""
}

// PayloadSize is nblocks * 4096, the size of the payload before any
// appended hash tree (spec §3.2 invariant).
func (m *MetaInfo) PayloadSize() int64 {
	return int64(m.NBlocks) * BlockSize
}

// Validate checks the structural invariants spec §3.2 and §6 require.
func (m *MetaInfo) Validate() error {
	switch m.ImageType {
	case ImageTypeRootfs, ImageTypeExtra, ImageTypeModules, ImageTypeKernel, ImageTypeRealmFS:
	default:
		return fmt.Errorf("invalid image-type %q", m.ImageType)
	}
	if m.ImageType == ImageTypeRealmFS && m.RealmFSName == "" {
		return fmt.Errorf("realmfs-name is required when image-type is realmfs")
	}
	if m.ImageType == ImageTypeModules && m.KernelVersion == "" {
		return fmt.Errorf("kernel-version is required when image-type is modules")
	}
	if m.NBlocks == 0 {
		return fmt.Errorf("nblocks must be > 0")
	}
	if (m.VeritySalt == "") != (m.VerityRoot == "") {
		return fmt.Errorf("verity-salt and verity-root must both be set or both be empty")
	}
	return nil
}

// ParseMetaInfo decodes the raw TOML metainfo bytes.
func ParseMetaInfo(data []byte) (*MetaInfo, error) {
	var m MetaInfo
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse metainfo: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid metainfo: %w", err)
	}
	return &m, nil
}

// Encode serializes the metainfo back to TOML bytes.
func (m *MetaInfo) Encode() ([]byte, error) {
	data, err := toml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metainfo: %w", err)
	}
	return data, nil
}
