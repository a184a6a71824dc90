package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/subgraph/citadel/internal/header"
)

var (
	inspectFormat string = "text"
	inspectPretty bool
)

// inspectResult is the structured view of a header printed by inspect
// (spec §4.4: magic, status, flags, signed-ness, metainfo).
type inspectResult struct {
	Path       string           `json:"path" toml:"path"`
	MagicValid bool             `json:"magic-valid" toml:"magic-valid"`
	Status     string           `json:"status,omitempty" toml:"status,omitempty"`
	Flags      []string         `json:"flags,omitempty" toml:"flags,omitempty"`
	Signed     bool             `json:"signed" toml:"signed"`
	MetaInfo   *header.MetaInfo `json:"metainfo,omitempty" toml:"metainfo,omitempty"`
}

func createInspectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect [flags] IMAGE_FILE",
		Short: "inspect a resource image's header and metainfo",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return validateFormat(inspectFormat)
		},
		RunE: executeInspect,
	}
	cmd.Flags().StringVar(&inspectFormat, "format", "text", "output format: text, json, toml")
	cmd.Flags().BoolVar(&inspectPretty, "pretty", false, "pretty-print JSON output")
	return cmd
}

func executeInspect(cmd *cobra.Command, args []string) error {
	path := args[0]
	hdr, err := header.FromFile(path)
	if err != nil {
		return fmt.Errorf("inspect: load header from %s: %v", path, err)
	}

	res := &inspectResult{Path: path, MagicValid: hdr.IsMagicValid(), Signed: hdr.IsSigned()}
	if res.MagicValid {
		res.Status = hdr.Status().Label()
		res.Flags = flagLabels(hdr.Flags())
		if m, err := hdr.MetaInfo(); err == nil {
			res.MetaInfo = m
		}
	}

	return writeStructured(cmd.OutOrStdout(), inspectFormat, inspectPretty, res, func(w io.Writer) error {
		return printInspectText(w, res)
	})
}

func flagLabels(f header.Flags) []string {
	var out []string
	if f.Has(header.FlagPreferBoot) {
		out = append(out, "prefer-boot")
	}
	if f.Has(header.FlagHashTree) {
		out = append(out, "hash-tree")
	}
	if f.Has(header.FlagDataCompressed) {
		out = append(out, "data-compressed")
	}
	return out
}

func printInspectText(w io.Writer, res *inspectResult) error {
	if _, err := fmt.Fprintf(w, "path:        %s\n", res.Path); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "magic-valid: %v\n", res.MagicValid); err != nil {
		return err
	}
	if !res.MagicValid {
		return nil
	}
	if _, err := fmt.Fprintf(w, "status:      %s\n", res.Status); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "flags:       %v\n", res.Flags); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "signed:      %v\n", res.Signed); err != nil {
		return err
	}
	if res.MetaInfo == nil {
		return nil
	}
	m := res.MetaInfo
	fmt.Fprintf(w, "image-type:  %s\n", m.ImageType)
	fmt.Fprintf(w, "channel:     %s\n", m.Channel)
	fmt.Fprintf(w, "version:     %d\n", m.Version)
	fmt.Fprintf(w, "nblocks:     %d\n", m.NBlocks)
	fmt.Fprintf(w, "sealed:      %v\n", m.IsSealed())
	if m.IsSealed() {
		fmt.Fprintf(w, "verity-root: %s\n", m.VerityRoot)
	}
	return nil
}
