package main

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/subgraph/citadel/internal/build"
	"github.com/subgraph/citadel/internal/citadelcfg"
	"github.com/subgraph/citadel/internal/display"
	"github.com/subgraph/citadel/internal/keyring"
	"github.com/subgraph/citadel/internal/logger"
)

var (
	buildWorkDir     string
	buildSeedHex     string
	buildQuiet       bool
	buildInteractive bool
)

func createBuildCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build [flags] BUILD_CONFIG",
		Short: "run the build pipeline against a TOML build-config",
		Long: `Build loads and schema-validates a build-config document,
then runs the copy/pad/hash-tree/sign pipeline (spec §4.9) against its
source payload, emitting the finished image into --work-dir.`,
		Args: cobra.ExactArgs(1),
		RunE: executeBuild,
	}
	cmd.Flags().StringVar(&buildWorkDir, "work-dir", "", "directory to build and emit the image into (default: images-build under the run root)")
	cmd.Flags().StringVar(&buildSeedHex, "seed-hex", "", "hex-encoded 32-byte Ed25519 seed used to sign non-dev channels")
	cmd.Flags().BoolVar(&buildQuiet, "quiet", false, "suppress the progress bar")
	cmd.Flags().BoolVar(&buildInteractive, "interactive", false, "show a confirmation screen with the computed verity root before emitting")
	return cmd
}

func executeBuild(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	configPath := args[0]

	cfg, err := build.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("build: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("build: %v", err)
	}

	workDir := buildWorkDir
	if workDir == "" {
		roots := citadelcfg.DefaultRoots()
		workDir = roots.RunImagesDir() + "-build"
	}

	var signing *build.SigningKey
	if buildSeedHex != "" {
		seed, err := hex.DecodeString(buildSeedHex)
		if err != nil {
			return fmt.Errorf("build: decode --seed-hex: %v", err)
		}
		priv, _, err := keyring.NewKeyPairFromSeed(seed)
		if err != nil {
			return fmt.Errorf("build: derive signing key: %v", err)
		}
		signing = &build.SigningKey{Channel: cfg.Channel, Private: priv}
	}

	var bar *progressbar.ProgressBar
	done := make(chan struct{})
	if !buildQuiet {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionSetWidth(30),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetDescription(fmt.Sprintf("building %s", cfg.OutputFileName())),
		)
		go func() {
			ticker := time.NewTicker(100 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					bar.Add(1)
				}
			}
		}()
	}

	result, err := build.Build(cfg, workDir, signing)
	if !buildQuiet {
		close(done)
		bar.Finish()
	}
	if err != nil {
		return fmt.Errorf("build: %v", err)
	}

	if buildInteractive {
		if err := confirmBuildResult(result); err != nil {
			return fmt.Errorf("build: %v", err)
		}
	}

	log.Infof("build: wrote %s (verity-root=%s)", result.ImagePath, result.MetaInfo.VerityRoot)
	display.PrintBuildSummary(workDir, cfg.ImageType)
	return nil
}

func createValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [flags] BUILD_CONFIG",
		Short: "schema-validate a build-config without running the pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := build.LoadConfig(args[0])
			if err != nil {
				return fmt.Errorf("validate: %v", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("validate: %v", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (image-type=%s channel=%s version=%d)\n",
				args[0], cfg.ImageType, cfg.Channel, cfg.Version)
			return nil
		},
	}
}
