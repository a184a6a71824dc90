package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/subgraph/citadel/internal/header"
	"github.com/subgraph/citadel/internal/keyring"
)

var verifyFormat string = "text"

// verifyResult is the structured view printed by verify (spec §3.1:
// signature covers the metainfo bytes, verified against the channel's
// public key).
type verifyResult struct {
	Path    string `json:"path" toml:"path"`
	Channel string `json:"channel" toml:"channel"`
	Signed  bool   `json:"signed" toml:"signed"`
	Valid   bool   `json:"valid" toml:"valid"`
}

func createVerifyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify [flags] IMAGE_FILE",
		Short: "verify a resource image's signature against its channel's public key",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return validateFormat(verifyFormat)
		},
		RunE: executeVerify,
	}
	cmd.Flags().StringVar(&verifyFormat, "format", "text", "output format: text, json, toml")
	return cmd
}

func executeVerify(cmd *cobra.Command, args []string) error {
	path := args[0]
	hdr, err := header.FromFile(path)
	if err != nil {
		return fmt.Errorf("verify: load header from %s: %v", path, err)
	}
	m, err := hdr.MetaInfo()
	if err != nil {
		return fmt.Errorf("verify: parse metainfo of %s: %v", path, err)
	}

	res := &verifyResult{Path: path, Channel: m.Channel, Signed: hdr.IsSigned()}
	if res.Signed {
		pk, err := keyring.ResolveChannelPublicKey(m.Channel)
		if err != nil {
			return fmt.Errorf("verify: resolve public key for channel %q: %v", m.Channel, err)
		}
		valid, err := hdr.VerifySignature(pk)
		if err != nil {
			return fmt.Errorf("verify: %v", err)
		}
		res.Valid = valid
	}

	if err := writeStructured(cmd.OutOrStdout(), verifyFormat, false, res, func(w io.Writer) error {
		return printVerifyText(w, res)
	}); err != nil {
		return err
	}
	if !res.Valid {
		return fmt.Errorf("verify: %s failed signature verification", path)
	}
	return nil
}

func printVerifyText(w io.Writer, res *verifyResult) error {
	if _, err := fmt.Fprintf(w, "path:    %s\n", res.Path); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "channel: %s\n", res.Channel); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "signed:  %v\n", res.Signed); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "valid:   %v\n", res.Valid)
	return err
}
