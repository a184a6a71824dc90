package resourceimage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/subgraph/citadel/internal/blockio"
	"github.com/subgraph/citadel/internal/citadelcfg"
	"github.com/subgraph/citadel/internal/cmdline"
	"github.com/subgraph/citadel/internal/header"
	"github.com/subgraph/citadel/internal/keyring"
	"github.com/subgraph/citadel/internal/shell"
	"github.com/subgraph/citadel/internal/verity"
)

// MountConfig gathers what Mount needs to mount one staged resource
// image (spec §4.5 mount(config)).
type MountConfig struct {
	Name      string
	ImagePath string
	Roots     citadelcfg.Roots
}

// Mount mounts a staged resource image according to the noverity/verity
// kernel command-line flags, returning the realized mountpoint (spec
// §4.5).
func Mount(cfg MountConfig, cl *cmdline.CmdLine) (string, error) {
	mountpoint := filepath.Join(cfg.Roots.RunImagesDir(), cfg.Name+".mountpoint")
	if err := os.MkdirAll(mountpoint, 0o755); err != nil {
		return "", fmt.Errorf("resourceimage: mkdir %s: %w", mountpoint, err)
	}

	if cl.NoVerity() {
		return mountNoVerity(cfg.ImagePath, mountpoint)
	}
	return mountVerity(cfg, cl, mountpoint)
}

func mountNoVerity(imagePath, mountpoint string) (string, error) {
	loop, err := blockio.AttachLoop(imagePath, header.BlockSize, true)
	if err != nil {
		return "", fmt.Errorf("resourceimage: attach loop for %s: %w", imagePath, err)
	}
	if _, err := shell.ExecCmd(fmt.Sprintf("mount -o ro %s %s", shQuote(loop.Path), shQuote(mountpoint)), true, nil); err != nil {
		_ = loop.Detach()
		return "", fmt.Errorf("resourceimage: mount %s: %w", loop.Path, err)
	}
	return mountpoint, nil
}

func mountVerity(cfg MountConfig, cl *cmdline.CmdLine, mountpoint string) (string, error) {
	hdr, err := header.FromFile(cfg.ImagePath)
	if err != nil {
		return "", fmt.Errorf("resourceimage: load header from %s: %w", cfg.ImagePath, err)
	}
	m, err := hdr.MetaInfo()
	if err != nil {
		return "", fmt.Errorf("resourceimage: parse metainfo for %s: %w", cfg.ImagePath, err)
	}

	if !cl.NoSignatures() {
		pk, err := keyring.ResolveChannelPublicKey(m.Channel)
		if err != nil {
			return "", fmt.Errorf("resourceimage: resolve public key for channel %q: %w", m.Channel, err)
		}
		ok, err := hdr.VerifySignature(pk)
		if err != nil {
			return "", fmt.Errorf("resourceimage: verify signature of %s: %w", cfg.ImagePath, err)
		}
		if !ok {
			return "", fmt.Errorf("resourceimage: signature verification failed for %s", cfg.ImagePath)
		}
	}

	if !hdr.Flags().Has(header.FlagHashTree) {
		if _, err := verity.GenerateImageHashTree(cfg.ImagePath, m, m.VeritySalt); err != nil {
			return "", fmt.Errorf("resourceimage: regenerate hash tree for %s: %w", cfg.ImagePath, err)
		}
		hdr.SetFlag(header.FlagHashTree, true)
		if err := hdr.WriteFile(cfg.ImagePath); err != nil {
			return "", fmt.Errorf("resourceimage: persist HASH_TREE flag for %s: %w", cfg.ImagePath, err)
		}
	}

	deviceName := "verity-" + cfg.Name
	devicePath, err := verity.SetupImageDevice(deviceName, cfg.ImagePath, m.NBlocks, m.VerityRoot)
	if err != nil {
		return "", fmt.Errorf("resourceimage: set up verity device for %s: %w", cfg.ImagePath, err)
	}
	if _, err := shell.ExecCmd(fmt.Sprintf("mount -o ro %s %s", shQuote(devicePath), shQuote(mountpoint)), true, nil); err != nil {
		_ = verity.CloseDevice(deviceName)
		return "", fmt.Errorf("resourceimage: mount %s: %w", devicePath, err)
	}
	return mountpoint, nil
}
