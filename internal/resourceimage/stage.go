package resourceimage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ulikunitz/xz"

	"github.com/subgraph/citadel/internal/citadelcfg"
	"github.com/subgraph/citadel/internal/header"
)

// StageCapBytes is the 4 GiB tmpfs cap for /run/citadel/images (spec §4.5,
// §6).
const StageCapBytes = 4 << 30

// Stage copies found to roots' run-images directory, decompressing a
// ".xz" container sibling if present, and returns the staged plain
// image path (spec §4.5 step 2).
func Stage(found Located, name string, roots citadelcfg.Roots) (string, error) {
	dir := roots.RunImagesDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("resourceimage: mkdir %s: %w", dir, err)
	}
	dest := filepath.Join(dir, name+".img")

	if err := checkCap(found.Path, dir); err != nil {
		return "", err
	}

	if found.Compressed {
		if err := decompressXZFile(found.Path, dest); err != nil {
			return "", fmt.Errorf("resourceimage: decompress %s: %w", found.Path, err)
		}
		return dest, nil
	}
	if err := copyFile(found.Path, dest); err != nil {
		return "", fmt.Errorf("resourceimage: copy %s to %s: %w", found.Path, dest, err)
	}
	return dest, nil
}

// DecompressPayloadInPlace handles the header's DATA_COMPRESSED flag:
// the payload (everything after the 4096-byte header) is itself an xz
// stream. It is extracted, decompressed, and the image is rewritten as
// header (flag cleared) followed by the plain payload (spec §4.5 step
// 2, "header-preserving").
func DecompressPayloadInPlace(imagePath string) error {
	hdr, err := header.FromFile(imagePath)
	if err != nil {
		return fmt.Errorf("resourceimage: load header from %s: %w", imagePath, err)
	}
	if !hdr.Flags().Has(header.FlagDataCompressed) {
		return nil
	}

	tmpXZ := imagePath + ".payload.xz.tmp"
	tmpPlain := imagePath + ".payload.plain.tmp"
	defer os.Remove(tmpXZ)
	defer os.Remove(tmpPlain)

	if err := extractPayload(imagePath, tmpXZ); err != nil {
		return fmt.Errorf("resourceimage: extract compressed payload: %w", err)
	}
	if err := decompressXZFile(tmpXZ, tmpPlain); err != nil {
		return fmt.Errorf("resourceimage: decompress payload: %w", err)
	}

	hdr.SetFlag(header.FlagDataCompressed, false)
	return rewriteImage(imagePath, hdr, tmpPlain)
}

func extractPayload(imagePath, outPath string) error {
	in, err := os.Open(imagePath)
	if err != nil {
		return err
	}
	defer in.Close()
	if _, err := in.Seek(header.BlockSize, io.SeekStart); err != nil {
		return err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func rewriteImage(imagePath string, hdr *header.ImageHeader, plainPayloadPath string) error {
	tmpOut := imagePath + ".rewrite.tmp"
	out, err := os.Create(tmpOut)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := out.Write(hdr.Bytes()); err != nil {
		return err
	}
	payload, err := os.Open(plainPayloadPath)
	if err != nil {
		return err
	}
	defer payload.Close()
	if _, err := io.Copy(out, payload); err != nil {
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmpOut, imagePath)
}

func decompressXZFile(srcPath, dstPath string) error {
	in, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer in.Close()

	r, err := xz.NewReader(in)
	if err != nil {
		return fmt.Errorf("open xz stream: %w", err)
	}
	out, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, r); err != nil {
		return err
	}
	return out.Close()
}

func copyFile(srcPath, dstPath string) error {
	in, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

func checkCap(srcPath, dir string) error {
	info, err := os.Stat(srcPath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", srcPath, err)
	}
	used, err := dirSize(dir)
	if err != nil {
		return nil // best-effort: do not fail staging if usage cannot be computed.
	}
	if used+info.Size() > StageCapBytes {
		return fmt.Errorf("resourceimage: staging %s would exceed the %d byte tmpfs cap on %s", srcPath, StageCapBytes, dir)
	}
	return nil
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
