package keyring_test

import (
	"bytes"
	"testing"

	"github.com/subgraph/citadel/internal/keyring"
)

func TestSignAndVerifyRoundTrip(t *testing.T) {
	priv, pub, err := keyring.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	data := []byte("some metainfo bytes")
	sig := priv.Sign(data)
	if !pub.Verify(data, sig) {
		t.Fatal("expected signature to verify")
	}
	if pub.Verify([]byte("tampered"), sig) {
		t.Fatal("expected verification to fail for tampered data")
	}
}

func TestDevKeyPairIsDeterministic(t *testing.T) {
	_, pub1 := keyring.DevKeyPair()
	_, pub2 := keyring.DevKeyPair()
	if pub1.Hex() != pub2.Hex() {
		t.Fatal("expected dev keypair to be stable across calls")
	}
}

func TestResolveChannelPublicKeyDev(t *testing.T) {
	pub, err := keyring.ResolveChannelPublicKey(keyring.DevChannelName)
	if err != nil {
		t.Fatalf("ResolveChannelPublicKey(dev): %v", err)
	}
	_, wantPub := keyring.DevKeyPair()
	if pub.Hex() != wantPub.Hex() {
		t.Fatal("dev channel resolved to unexpected key")
	}
}

func TestResolveChannelPublicKeyUnknownChannel(t *testing.T) {
	if _, err := keyring.ResolveChannelPublicKey("nonexistent-channel-xyz"); err == nil {
		t.Fatal("expected ErrKeyAbsent for unresolvable channel")
	}
}

func TestSealOpenKeyringRoundTrip(t *testing.T) {
	seed := bytes.Repeat([]byte{0x42}, 32)
	keys := map[string][]byte{"realmfs-user": seed}

	sealed, err := keyring.SealKeyring(keys, "correct horse battery staple")
	if err != nil {
		t.Fatalf("SealKeyring: %v", err)
	}

	opened, err := keyring.OpenKeyring(sealed, "correct horse battery staple")
	if err != nil {
		t.Fatalf("OpenKeyring: %v", err)
	}
	if !bytes.Equal(opened["realmfs-user"], seed) {
		t.Fatalf("round-tripped seed mismatch")
	}
}

func TestOpenKeyringWrongPassphrase(t *testing.T) {
	keys := map[string][]byte{"k": bytes.Repeat([]byte{1}, 32)}
	sealed, err := keyring.SealKeyring(keys, "right")
	if err != nil {
		t.Fatalf("SealKeyring: %v", err)
	}
	if _, err := keyring.OpenKeyring(sealed, "wrong"); err == nil {
		t.Fatal("expected decryption failure with wrong passphrase")
	}
}

func TestPublicKeyFromHexRejectsBadLength(t *testing.T) {
	if _, err := keyring.PublicKeyFromHex("abcd"); err == nil {
		t.Fatal("expected error for undersized hex public key")
	}
}
