// Package display formats human-facing summaries printed by the cmd/*
// CLIs. Grounded on the teacher's internal/utils/display package, which
// prints a boxed "artifacts produced" summary after a build completes.
package display

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/subgraph/citadel/internal/logger"
)

// PrintBuildSummary displays every regular file in imageBuildDir after a
// build-pipeline run: the emitted .img, the sibling hash-tree reference
// file (spec §4.9 step 4, "tree is retained as an external file"), and
// any other file left there, such as the working payload copy.
func PrintBuildSummary(imageBuildDir, imageType string) {
	log := logger.Logger()

	entries, err := os.ReadDir(imageBuildDir)
	if err != nil {
		log.Warnf("unable to read image build directory %s: %v", imageBuildDir, err)
		return
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		files = append(files, e.Name())
	}

	if len(files) == 0 {
		log.Warn("no artifacts found in build directory")
		return
	}

	log.Info("")
	log.Info("==================== IMAGE BUILD COMPLETE ====================")
	log.Infof("  Image Type: %s", imageType)
	log.Info("  Artifacts:")
	for _, name := range files {
		full := filepath.Join(imageBuildDir, name)
		size := "unknown"
		if fi, err := os.Stat(full); err == nil {
			size = humanSize(fi.Size())
		}
		log.Infof("    - %s (%s)", name, size)
	}
	log.Info("===============================================================")
	log.Info("")
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
