package main

import (
	"fmt"
	"os"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/subgraph/citadel/internal/build"
	"github.com/subgraph/citadel/internal/header"
)

// confirmBuildResult shows a small modal with the computed verity root
// and signing status and blocks until the operator accepts or rejects
// it; on rejection the built image file is removed. Grounded on the
// teacher's texture-ui primitives (tview/tcell) used
// by cmd/live-installer for its confirmation screens; this is the only
// UI surface citadel-mkimage carries — no navigation bar, no multi-page
// flow.
func confirmBuildResult(result *build.Result) error {
	app := tview.NewApplication()
	accepted := false

	signed := false
	if hdr, err := header.FromFile(result.ImagePath); err == nil {
		signed = hdr.IsSigned()
	}

	text := fmt.Sprintf(
		"Image:       %s\nChannel:     %s\nVersion:     %d\nVerity root: %s\nSigned:      %v\n\nEmit this image?",
		result.ImagePath, result.MetaInfo.Channel, result.MetaInfo.Version,
		result.MetaInfo.VerityRoot, signed)

	modal := tview.NewModal().
		SetText(text).
		AddButtons([]string{"Emit", "Abort"}).
		SetDoneFunc(func(idx int, label string) {
			accepted = idx == 0
			app.Stop()
		})
	modal.SetBackgroundColor(tcell.ColorBlack)

	if err := app.SetRoot(modal, true).SetFocus(modal).Run(); err != nil {
		return fmt.Errorf("confirmation screen: %w", err)
	}
	if !accepted {
		if err := os.Remove(result.ImagePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("build aborted at confirmation screen; remove %s: %w", result.ImagePath, err)
		}
		return fmt.Errorf("build aborted at confirmation screen")
	}
	return nil
}
