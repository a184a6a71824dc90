package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/subgraph/citadel/internal/keyring"
)

var sealAsName string

func createSealCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seal REALMFS_NAME",
		Short: "seal an unsealed RealmFS image, generating its verity hash tree and signature",
		Args:  cobra.ExactArgs(1),
		RunE:  executeSeal,
	}
	cmd.Flags().StringVar(&sealAsName, "as", "", "name to seal the image under, if different from its current name")
	return cmd
}

func executeSeal(cmd *cobra.Command, args []string) error {
	name := args[0]
	mgr := newManager()
	rfs, err := mgr.Open(name)
	if err != nil {
		return fmt.Errorf("seal: open %s: %v", name, err)
	}
	if err := rfs.Seal(sealAsName, keyring.DefaultKernelKeyring); err != nil {
		return fmt.Errorf("seal: %v", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sealed %s\n", name)
	return nil
}

func createUnsealCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unseal REALMFS_NAME",
		Short: "unseal a sealed RealmFS image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			mgr := newManager()
			rfs, err := mgr.Open(name)
			if err != nil {
				return fmt.Errorf("unseal: open %s: %v", name, err)
			}
			if err := rfs.Unseal(); err != nil {
				return fmt.Errorf("unseal: %v", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unsealed %s\n", name)
			return nil
		},
	}
}
