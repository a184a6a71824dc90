package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/subgraph/citadel/internal/header"
	"github.com/subgraph/citadel/internal/keyring"
	"github.com/subgraph/citadel/internal/logger"
)

var signSeedHex string

func createSignCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign [flags] IMAGE_FILE",
		Short: "sign a resource image's metainfo with a channel signing key",
		Long: `Sign computes a detached Ed25519 signature over the image's
metainfo bytes and writes it into the header's signature slot (spec
§3.1, §4.4 set_signature). The "dev" channel always signs with the
embedded development keypair; any other channel requires --seed-hex.`,
		Args: cobra.ExactArgs(1),
		RunE: executeSign,
	}
	cmd.Flags().StringVar(&signSeedHex, "seed-hex", "", "hex-encoded 32-byte Ed25519 seed for the signing key (required unless the image's channel is \"dev\")")
	return cmd
}

func executeSign(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	path := args[0]

	hdr, err := header.FromFile(path)
	if err != nil {
		return fmt.Errorf("sign: load header from %s: %v", path, err)
	}
	m, err := hdr.MetaInfo()
	if err != nil {
		return fmt.Errorf("sign: parse metainfo of %s: %v", path, err)
	}

	var priv keyring.PrivateKey
	if m.Channel == keyring.DevChannelName {
		priv, _ = keyring.DevKeyPair()
	} else {
		if signSeedHex == "" {
			return fmt.Errorf("sign: image channel %q is not %q, --seed-hex is required", m.Channel, keyring.DevChannelName)
		}
		seed, err := hex.DecodeString(signSeedHex)
		if err != nil {
			return fmt.Errorf("sign: decode --seed-hex: %v", err)
		}
		priv, _, err = keyring.NewKeyPairFromSeed(seed)
		if err != nil {
			return fmt.Errorf("sign: derive keypair from seed: %v", err)
		}
	}

	sig := priv.Sign(hdr.MetainfoBytes())
	if err := hdr.SetSignature(sig); err != nil {
		return fmt.Errorf("sign: set signature: %v", err)
	}
	if err := hdr.WriteFile(path); err != nil {
		return fmt.Errorf("sign: write header to %s: %v", path, err)
	}

	log.Infof("sign: %s signed for channel %q", path, m.Channel)
	fmt.Fprintf(cmd.OutOrStdout(), "signed %s (channel=%s)\n", path, m.Channel)
	return nil
}
