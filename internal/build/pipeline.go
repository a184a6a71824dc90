package build

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ulikunitz/xz"

	"github.com/subgraph/citadel/internal/blockio"
	"github.com/subgraph/citadel/internal/header"
	"github.com/subgraph/citadel/internal/keyring"
	"github.com/subgraph/citadel/internal/logger"
	"github.com/subgraph/citadel/internal/verity"
)

var log = logger.Logger()

// Result is what Build produces: the emitted image, its metainfo, and
// the sibling hash-tree file retained for reference (spec §4.9 step 4).
type Result struct {
	ImagePath    string
	HashTreePath string
	MetaInfo     *header.MetaInfo
}

// SigningKey is an optional non-dev channel signing key; when nil and
// the config's channel is not "dev", the emitted image is left unsigned
// (spec §4.9 step 7 only mandates signing for the dev channel inline;
// production channels are signed by a key the builder supplies here).
type SigningKey struct {
	Channel string
	Private keyring.PrivateKey
}

// Build runs the sequential pipeline described in spec §4.9: copy, pad,
// prepend the header block, generate a verity hash tree for its root
// hash/salt, sha256 the padded payload, optionally compress, compose and
// sign the header, and emit cfg.OutputFileName() into workDir. Grounded on
// the teacher's internal/image/rawmaker.BuildRawImage sequential
// step/cleanup shape.
func Build(cfg *Config, workDir string, signing *SigningKey) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("build: mkdir workdir %s: %w", workDir, err)
	}

	// Step 1: copy source payload into the workdir.
	payloadPath := filepath.Join(workDir, "payload")
	if err := copyFile(cfg.Source, payloadPath); err != nil {
		return nil, fmt.Errorf("build: copy source: %w", err)
	}

	// Step 2: pad to a 4096-byte boundary, rejecting inputs unaligned
	// to the 512-byte sector size.
	nblocks, err := padTo4096(payloadPath)
	if err != nil {
		return nil, fmt.Errorf("build: pad payload: %w", err)
	}
	log.Infof("build: %s padded to %d blocks (%d bytes)", cfg.Source, nblocks, int64(nblocks)*header.BlockSize)

	// Step 3: prepend an empty header block, producing the working image.
	imagePath := filepath.Join(workDir, "image")
	if err := prependHeaderBlock(payloadPath, imagePath); err != nil {
		return nil, fmt.Errorf("build: prepend header block: %w", err)
	}

	// Step 4: generate the verity hash tree over the payload (offset
	// 4096), kept as an external sibling file for reference, not
	// embedded in the emitted image (the HASH_TREE flag is regenerated
	// lazily by internal/resourceimage.Mount instead).
	salt, err := verity.NewSalt()
	if err != nil {
		return nil, fmt.Errorf("build: generate verity salt: %w", err)
	}
	hashTreePath := imagePath + ".hashtree"
	ht, err := generateExternalHashTree(imagePath, hashTreePath, salt)
	if err != nil {
		return nil, fmt.Errorf("build: generate hash tree: %w", err)
	}

	// Step 5: sha256 of the padded payload, pre-compression.
	shasum, err := sha256File(payloadPath)
	if err != nil {
		return nil, fmt.Errorf("build: sha256 payload: %w", err)
	}

	// Step 6: compress the payload in place if requested.
	flags := header.Flags(0)
	if cfg.Compress {
		if err := compressPayload(imagePath); err != nil {
			return nil, fmt.Errorf("build: compress payload: %w", err)
		}
		flags |= header.FlagDataCompressed
	}

	timestamp := cfg.Timestamp
	if timestamp == "" {
		timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	// Step 7: compose the header's metainfo and sign it.
	m := &header.MetaInfo{
		ImageType:     cfg.ImageType,
		Channel:       cfg.Channel,
		KernelVersion: cfg.KernelVersion,
		KernelID:      cfg.KernelID,
		RealmFSName:   cfg.RealmFSName,
		Version:       cfg.Version,
		Timestamp:     timestamp,
		NBlocks:       nblocks,
		ShaSum:        shasum,
		VeritySalt:    ht.Salt,
		VerityRoot:    ht.RootHash,
	}

	hdr, err := header.FromFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("build: load working header: %w", err)
	}
	if err := hdr.SetMetaInfo(m); err != nil {
		return nil, fmt.Errorf("build: set metainfo: %w", err)
	}
	hdr.SetFlag(header.FlagDataCompressed, flags.Has(header.FlagDataCompressed))

	sig, err := signMetainfo(hdr, cfg.Channel, signing)
	if err != nil {
		return nil, err
	}
	if sig != nil {
		if err := hdr.SetSignature(sig); err != nil {
			return nil, fmt.Errorf("build: set signature: %w", err)
		}
	}
	if err := hdr.WriteFile(imagePath); err != nil {
		return nil, fmt.Errorf("build: write header: %w", err)
	}

	// Step 8: emit the final image under its canonical output name.
	outPath := filepath.Join(workDir, cfg.OutputFileName())
	if imagePath != outPath {
		if err := os.Rename(imagePath, outPath); err != nil {
			return nil, fmt.Errorf("build: rename image to %s: %w", outPath, err)
		}
	}

	log.Infof("build: emitted %s (channel=%s version=%d nblocks=%d signed=%v)",
		outPath, cfg.Channel, cfg.Version, nblocks, sig != nil)

	return &Result{ImagePath: outPath, HashTreePath: hashTreePath, MetaInfo: m}, nil
}

// signMetainfo signs hdr's metainfo bytes with the dev channel's
// embedded keypair when cfg's channel is "dev" (spec §4.9 step 7),
// or with the caller-supplied signing key for a matching channel.
// Returns nil, nil when no signing key applies — the image is emitted
// unsigned.
func signMetainfo(hdr *header.ImageHeader, channel string, signing *SigningKey) ([]byte, error) {
	if channel == keyring.DevChannelName {
		priv, _ := keyring.DevKeyPair()
		return priv.Sign(hdr.MetainfoBytes()), nil
	}
	if signing != nil && signing.Channel == channel {
		return signing.Private.Sign(hdr.MetainfoBytes()), nil
	}
	return nil, nil
}

// padTo4096 pads path up to the next 4096-byte boundary in place,
// rejecting a size that is not already a multiple of 512 (spec §4.9
// step 2), and returns the resulting block count.
func padTo4096(path string) (uint32, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	size := info.Size()
	if size%header.SectorSize != 0 {
		return 0, fmt.Errorf("payload size %d is not a multiple of the %d-byte sector size", size, header.SectorSize)
	}
	padded := (size + header.BlockSize - 1) / header.BlockSize * header.BlockSize
	if padded == size {
		return uint32(size / header.BlockSize), nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	if err := f.Truncate(padded); err != nil {
		return 0, err
	}
	return uint32(padded / header.BlockSize), nil
}

// prependHeaderBlock writes a 4096-byte zero header block followed by
// payload's contents to dstPath (spec §4.9 step 3, "dd-sparse-shifting
// the payload up by one block").
func prependHeaderBlock(payloadPath, dstPath string) error {
	out, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer out.Close()

	var zero [header.BlockSize]byte
	if _, err := out.Write(zero[:]); err != nil {
		return err
	}
	in, err := os.Open(payloadPath)
	if err != nil {
		return err
	}
	defer in.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// generateExternalHashTree loop-mounts imagePath's payload (offset 4096)
// and runs veritysetup format against it, leaving the generated tree at
// treePath without touching imagePath (spec §4.9 step 4).
func generateExternalHashTree(imagePath, treePath, salt string) (*verity.HashTree, error) {
	var ht *verity.HashTree
	err := blockio.WithLoop(imagePath, header.BlockSize, false, func(loop *blockio.LoopDevice) error {
		generated, err := verity.GenerateInitialHashTree(loop.Path, treePath, salt)
		if err != nil {
			return err
		}
		ht = generated
		return nil
	})
	return ht, err
}

// compressPayload replaces imagePath's payload (everything after the
// 4096-byte header) with its xz-compressed form in place (spec §4.9
// step 6, "Compress payload (xz -T0)"), using the pure-Go xz codec
// rather than shelling out (spec SPEC_FULL DOMAIN STACK).
func compressPayload(imagePath string) error {
	tmpXZ := imagePath + ".xz.tmp"
	defer os.Remove(tmpXZ)

	in, err := os.Open(imagePath)
	if err != nil {
		return err
	}
	if _, err := in.Seek(header.BlockSize, io.SeekStart); err != nil {
		in.Close()
		return err
	}
	out, err := os.Create(tmpXZ)
	if err != nil {
		in.Close()
		return err
	}
	w, err := xz.NewWriter(out)
	if err != nil {
		in.Close()
		out.Close()
		return fmt.Errorf("open xz writer: %w", err)
	}
	if _, err := io.Copy(w, in); err != nil {
		in.Close()
		w.Close()
		out.Close()
		return err
	}
	in.Close()
	if err := w.Close(); err != nil {
		out.Close()
		return fmt.Errorf("close xz writer: %w", err)
	}
	if err := out.Close(); err != nil {
		return err
	}

	return rewritePayload(imagePath, tmpXZ)
}

// rewritePayload replaces imagePath's payload region with the contents
// of newPayloadPath, keeping the existing 4096-byte header block intact.
func rewritePayload(imagePath, newPayloadPath string) error {
	var headerBuf [header.BlockSize]byte
	orig, err := os.Open(imagePath)
	if err != nil {
		return err
	}
	if _, err := io.ReadFull(orig, headerBuf[:]); err != nil {
		orig.Close()
		return err
	}
	orig.Close()

	tmp := imagePath + ".rewrite.tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := out.Write(headerBuf[:]); err != nil {
		out.Close()
		return err
	}
	payload, err := os.Open(newPayloadPath)
	if err != nil {
		out.Close()
		return err
	}
	if _, err := io.Copy(out, payload); err != nil {
		payload.Close()
		out.Close()
		return err
	}
	payload.Close()
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, imagePath)
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
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
