package build

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/subgraph/citadel/internal/header"
	"github.com/subgraph/citadel/internal/keyring"
)

func TestPadTo4096RoundsUpAndCountsBlocks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload")
	if err := os.WriteFile(path, make([]byte, 5*header.SectorSize), 0o644); err != nil {
		t.Fatalf("write payload: %v", err)
	}

	nblocks, err := padTo4096(path)
	if err != nil {
		t.Fatalf("padTo4096: %v", err)
	}
	if nblocks != 1 {
		t.Fatalf("nblocks = %d, want 1", nblocks)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != header.BlockSize {
		t.Fatalf("padded size = %d, want %d", info.Size(), header.BlockSize)
	}
}

func TestPadTo4096NoopWhenAlreadyAligned(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload")
	if err := os.WriteFile(path, make([]byte, 2*header.BlockSize), 0o644); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	nblocks, err := padTo4096(path)
	if err != nil {
		t.Fatalf("padTo4096: %v", err)
	}
	if nblocks != 2 {
		t.Fatalf("nblocks = %d, want 2", nblocks)
	}
}

func TestPadTo4096RejectsUnalignedSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload")
	if err := os.WriteFile(path, make([]byte, 513), 0o644); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	if _, err := padTo4096(path); err == nil {
		t.Fatal("expected a 513-byte payload to be rejected")
	}
}

func TestPrependHeaderBlock(t *testing.T) {
	dir := t.TempDir()
	payload := filepath.Join(dir, "payload")
	content := []byte("payload-bytes")
	if err := os.WriteFile(payload, content, 0o644); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	dst := filepath.Join(dir, "image")
	if err := prependHeaderBlock(payload, dst); err != nil {
		t.Fatalf("prependHeaderBlock: %v", err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read image: %v", err)
	}
	if len(got) != header.BlockSize+len(content) {
		t.Fatalf("image size = %d, want %d", len(got), header.BlockSize+len(content))
	}
	for _, b := range got[:header.BlockSize] {
		if b != 0 {
			t.Fatal("expected the prepended header block to be all zero")
		}
	}
	if string(got[header.BlockSize:]) != string(content) {
		t.Fatal("payload bytes were not preserved after the header block")
	}
}

func TestSha256File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	sum, err := sha256File(path)
	if err != nil {
		t.Fatalf("sha256File: %v", err)
	}
	// sha256("hello")
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if sum != want {
		t.Fatalf("sha256File = %s, want %s", sum, want)
	}
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	if err := os.WriteFile(src, []byte("data"), 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}
	if err := copyFile(src, dst); err != nil {
		t.Fatalf("copyFile: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read dst: %v", err)
	}
	if string(got) != "data" {
		t.Fatalf("copied content = %q, want %q", got, "data")
	}
}

func TestSignMetainfoDevChannelAlwaysSigns(t *testing.T) {
	h := header.New()
	m := &header.MetaInfo{ImageType: header.ImageTypeRootfs, Version: 1, NBlocks: 1}
	if err := h.SetMetaInfo(m); err != nil {
		t.Fatalf("SetMetaInfo: %v", err)
	}
	sig, err := signMetainfo(h, keyring.DevChannelName, nil)
	if err != nil {
		t.Fatalf("signMetainfo: %v", err)
	}
	if len(sig) != 64 {
		t.Fatalf("signature len = %d, want 64", len(sig))
	}
	if err := h.SetSignature(sig); err != nil {
		t.Fatalf("SetSignature: %v", err)
	}
	_, pub := keyring.DevKeyPair()
	ok, err := h.VerifySignature(signerAdapter{pub})
	if err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
	if !ok {
		t.Fatal("expected the dev-channel signature to verify against the embedded dev public key")
	}
}

func TestSignMetainfoUnknownChannelWithoutKeyIsUnsigned(t *testing.T) {
	h := header.New()
	m := &header.MetaInfo{ImageType: header.ImageTypeRootfs, Version: 1, NBlocks: 1}
	if err := h.SetMetaInfo(m); err != nil {
		t.Fatalf("SetMetaInfo: %v", err)
	}
	sig, err := signMetainfo(h, "stable", nil)
	if err != nil {
		t.Fatalf("signMetainfo: %v", err)
	}
	if sig != nil {
		t.Fatal("expected no signature when no signing key applies")
	}
}

func TestSignMetainfoMatchingChannelSigningKey(t *testing.T) {
	h := header.New()
	m := &header.MetaInfo{ImageType: header.ImageTypeRootfs, Version: 1, NBlocks: 1}
	if err := h.SetMetaInfo(m); err != nil {
		t.Fatalf("SetMetaInfo: %v", err)
	}
	priv, _, err := keyring.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	sig, err := signMetainfo(h, "stable", &SigningKey{Channel: "stable", Private: priv})
	if err != nil {
		t.Fatalf("signMetainfo: %v", err)
	}
	if len(sig) != 64 {
		t.Fatalf("signature len = %d, want 64", len(sig))
	}
}

type signerAdapter struct {
	pub keyring.PublicKey
}

func (s signerAdapter) Verify(data, sig []byte) bool { return s.pub.Verify(data, sig) }
