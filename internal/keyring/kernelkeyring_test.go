package keyring_test

import (
	"testing"

	"github.com/subgraph/citadel/internal/keyring"
)

func TestUserSealingKeyFromStub(t *testing.T) {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i)
	}
	stub := keyring.StubKernelKeyring{Payloads: map[string][]byte{
		keyring.UserKeyName: seed,
	}}

	priv, pub, err := keyring.UserSealingKey(stub)
	if err != nil {
		t.Fatalf("UserSealingKey: %v", err)
	}
	sig := priv.Sign([]byte("hello"))
	if !pub.Verify([]byte("hello"), sig) {
		t.Fatal("derived keypair does not verify its own signature")
	}
}

func TestUserSealingKeyAbsent(t *testing.T) {
	stub := keyring.StubKernelKeyring{Payloads: map[string][]byte{}}
	if _, _, err := keyring.UserSealingKey(stub); err == nil {
		t.Fatal("expected ErrKeyAbsent when sealing key is missing")
	}
}

func TestCryptsetupPassphraseTakesLastSegment(t *testing.T) {
	stub := keyring.StubKernelKeyring{Payloads: map[string][]byte{
		keyring.CryptsetupKeyName: []byte("ignored-prefix\x00the-real-passphrase"),
	}}
	pass, err := keyring.CryptsetupPassphrase(stub)
	if err != nil {
		t.Fatalf("CryptsetupPassphrase: %v", err)
	}
	if pass != "the-real-passphrase" {
		t.Fatalf("got %q, want %q", pass, "the-real-passphrase")
	}
}

func TestCryptsetupPassphraseSingleSegment(t *testing.T) {
	stub := keyring.StubKernelKeyring{Payloads: map[string][]byte{
		keyring.CryptsetupKeyName: []byte("onlysegment"),
	}}
	pass, err := keyring.CryptsetupPassphrase(stub)
	if err != nil {
		t.Fatalf("CryptsetupPassphrase: %v", err)
	}
	if pass != "onlysegment" {
		t.Fatalf("got %q, want %q", pass, "onlysegment")
	}
}
