package resourceimage

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/subgraph/citadel/internal/logger"
	"github.com/subgraph/citadel/internal/shell"
)

var log = logger.Logger()

// ManifestEntry is one bind-mount directive from an image's manifest
// file (spec §4.5): either "path" (same path in image and sysroot) or
// "src:dst".
type ManifestEntry struct {
	Src string
	Dst string
}

// ParseManifest reads path (the image root's "manifest" file) and
// returns its bind-mount entries. Malformed lines are logged and
// skipped, not fatal, per spec.
func ParseManifest(path string) ([]ManifestEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("resourceimage: open manifest %s: %w", path, err)
	}
	defer f.Close()

	var entries []ManifestEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entry, err := parseManifestLine(line)
		if err != nil {
			log.Warnf("resourceimage: skipping bad manifest line %q in %s: %v", line, path, err)
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("resourceimage: read manifest %s: %w", path, err)
	}
	return entries, nil
}

func parseManifestLine(line string) (ManifestEntry, error) {
	if src, dst, ok := strings.Cut(line, ":"); ok {
		src, dst = strings.TrimSpace(src), strings.TrimSpace(dst)
		if src == "" || dst == "" {
			return ManifestEntry{}, fmt.Errorf("both src and dst must be non-empty")
		}
		return ManifestEntry{Src: src, Dst: dst}, nil
	}
	if line == "" {
		return ManifestEntry{}, fmt.Errorf("empty path")
	}
	return ManifestEntry{Src: line, Dst: line}, nil
}

// ApplyManifest reads imageRoot/manifest, if present, and bind-mounts
// each entry's src (relative to imageRoot) onto dst (relative to
// sysroot).
func ApplyManifest(imageRoot, sysroot string) error {
	entries, err := ParseManifest(filepath.Join(imageRoot, "manifest"))
	if err != nil {
		return err
	}
	for _, e := range entries {
		src := filepath.Join(imageRoot, e.Src)
		dst := filepath.Join(sysroot, e.Dst)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			log.Warnf("resourceimage: skipping manifest entry %s: mkdir %s: %v", e.Src, dst, err)
			continue
		}
		if _, err := shell.ExecCmd(fmt.Sprintf("mount --bind %s %s", shQuote(src), shQuote(dst)), true, nil); err != nil {
			log.Warnf("resourceimage: bind mount %s -> %s failed: %v", src, dst, err)
			continue
		}
	}
	return nil
}
