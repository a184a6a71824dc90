// Package keyring implements Ed25519 signing/verification, the embedded
// "dev" channel keypair, channel public-key resolution, and the
// passphrase-wrapped keyring file used to store realm sealing keys
// (spec §4.3).
//
// Grounded on the teacher's use of github.com/ProtonMail/go-crypto for
// signing primitives (its module graph pulls in golang.org/x/crypto,
// which this package imports directly for ed25519, nacl/secretbox and
// argon2) and on nestybox-sysbox-fs's direct golang.org/x/sys/unix
// syscall wrappers, generalized here to the kernel keyring.
package keyring

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/subgraph/citadel/internal/cmdline"
)

// PublicKey wraps an Ed25519 public key and satisfies header.Verifier.
type PublicKey struct {
	raw ed25519.PublicKey
}

// PrivateKey wraps an Ed25519 private key for signing.
type PrivateKey struct {
	raw ed25519.PrivateKey
}

// ErrKeyAbsent is returned whenever a required key cannot be located —
// the spec requires refusing to sign or verify rather than guessing.
var ErrKeyAbsent = fmt.Errorf("keyring: key not found")

// NewKeyPairFromSeed derives an Ed25519 keypair from a 32-byte seed,
// matching ed25519.NewKeyFromSeed's determinism (spec §4.3).
func NewKeyPairFromSeed(seed []byte) (PrivateKey, PublicKey, error) {
	if len(seed) != ed25519.SeedSize {
		return PrivateKey{}, PublicKey{}, fmt.Errorf("keyring: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return PrivateKey{raw: priv}, PublicKey{raw: pub}, nil
}

// GenerateKeyPair creates a fresh random Ed25519 keypair.
func GenerateKeyPair() (PrivateKey, PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return PrivateKey{}, PublicKey{}, fmt.Errorf("keyring: generate keypair: %w", err)
	}
	return PrivateKey{raw: priv}, PublicKey{raw: pub}, nil
}

// Sign produces a detached 64-byte Ed25519 signature over data.
func (k PrivateKey) Sign(data []byte) []byte {
	return ed25519.Sign(k.raw, data)
}

// Seed returns the 32-byte seed this private key was derived from.
func (k PrivateKey) Seed() []byte {
	return k.raw.Seed()
}

// Verify reports whether sig is a valid detached Ed25519 signature of
// data under this public key. Satisfies header.Verifier.
func (k PublicKey) Verify(data, sig []byte) bool {
	if len(k.raw) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(k.raw, data, sig)
}

// Hex returns the lowercase hex encoding of the public key.
func (k PublicKey) Hex() string {
	return hex.EncodeToString(k.raw)
}

// PublicKeyFromHex parses a hex-encoded Ed25519 public key.
func PublicKeyFromHex(s string) (PublicKey, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return PublicKey{}, fmt.Errorf("keyring: invalid hex public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return PublicKey{}, fmt.Errorf("keyring: public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return PublicKey{raw: raw}, nil
}

// devSeed is the fixed 32-byte seed for the built-in "dev" channel
// keypair, embedded for development images (spec §4.3). It carries no
// security properties: the dev channel is never used for production
// signing.
var devSeed = [ed25519.SeedSize]byte{
	0xde, 0x5e, 0xed, 0xde, 0x5e, 0xed, 0xde, 0x5e,
	0xed, 0xde, 0x5e, 0xed, 0xde, 0x5e, 0xed, 0xde,
	0x5e, 0xed, 0xde, 0x5e, 0xed, 0xde, 0x5e, 0xed,
	0xde, 0x5e, 0xed, 0xde, 0x5e, 0xed, 0xde, 0x5e,
}

// DevChannelName is the signing channel name accepted for development
// images without any external key resolution (spec §4.3).
const DevChannelName = "dev"

// DevKeyPair returns the embedded dev channel keypair.
func DevKeyPair() (PrivateKey, PublicKey) {
	priv, pub, err := NewKeyPairFromSeed(devSeed[:])
	if err != nil {
		panic("keyring: embedded dev seed is malformed: " + err.Error())
	}
	return priv, pub
}

// osReleasePath is overridable in tests.
var osReleasePath = "/etc/os-release"

// ResolveChannelPublicKey resolves the public key for a signing channel
// in the priority order specified by spec §4.3:
//
//  1. the "dev" channel always resolves to the embedded dev keypair;
//  2. /etc/os-release fields CITADEL_CHANNEL / CITADEL_IMAGE_PUBKEY, if
//     CITADEL_CHANNEL matches channel;
//  3. the kernel command line variable citadel.channel=<name>:<hex-pubkey>,
//     if <name> matches channel.
//
// Returns ErrKeyAbsent if no source can supply a key for channel.
func ResolveChannelPublicKey(channel string) (PublicKey, error) {
	if channel == DevChannelName {
		_, pub := DevKeyPair()
		return pub, nil
	}

	if name, hexKey, ok := readOSRelease(osReleasePath); ok && name == channel {
		if pk, err := PublicKeyFromHex(hexKey); err == nil {
			return pk, nil
		}
	}

	if name, hexKey, ok := cmdline.Current().Channel(); ok && name == channel {
		if pk, err := PublicKeyFromHex(hexKey); err == nil {
			return pk, nil
		}
	}

	return PublicKey{}, fmt.Errorf("%w: no public key available for channel %q", ErrKeyAbsent, channel)
}

// readOSRelease extracts CITADEL_CHANNEL and CITADEL_IMAGE_PUBKEY from
// an /etc/os-release-formatted file.
func readOSRelease(path string) (channel, hexPubKey string, ok bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", false
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		key, val, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		val = strings.Trim(strings.TrimSpace(val), `"`)
		switch strings.TrimSpace(key) {
		case "CITADEL_CHANNEL":
			channel = val
		case "CITADEL_IMAGE_PUBKEY":
			hexPubKey = val
		}
	}
	return channel, hexPubKey, channel != "" && hexPubKey != ""
}

// keyringDoc is the TOML document stored encrypted inside the keyring
// file: key-name to hex-encoded 32-byte Ed25519 seed.
type keyringDoc struct {
	Keys map[string]string `toml:"keys"`
}

const (
	saltSize  = 32
	nonceSize = 24
	keySize   = 32
)

// argon2 "interactive" parameters (spec §4.3 "Interactive ops/memory
// limits are used"), matching libsodium's crypto_pwhash_OPSLIMIT_INTERACTIVE
// / MEMLIMIT_INTERACTIVE.
const (
	argon2Time    = 4
	argon2Memory  = 32 * 1024 // KiB
	argon2Threads = 1
)

// SealKeyring encrypts a set of key-name to seed entries with a
// passphrase, producing the on-disk layout: salt ‖ nonce ‖ ciphertext
// (spec §4.3).
func SealKeyring(keys map[string][]byte, passphrase string) ([]byte, error) {
	doc := keyringDoc{Keys: make(map[string]string, len(keys))}
	for name, seed := range keys {
		doc.Keys[name] = hex.EncodeToString(seed)
	}
	plain, err := toml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("keyring: marshal keyring document: %w", err)
	}

	var salt [saltSize]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, fmt.Errorf("keyring: generate salt: %w", err)
	}
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("keyring: generate nonce: %w", err)
	}

	key := deriveKey(passphrase, salt[:])
	sealed := secretbox.Seal(nil, plain, &nonce, &key)

	out := make([]byte, 0, saltSize+nonceSize+len(sealed))
	out = append(out, salt[:]...)
	out = append(out, nonce[:]...)
	out = append(out, sealed...)
	return out, nil
}

// OpenKeyring decrypts a keyring file produced by SealKeyring, returning
// the key-name to raw-seed map.
func OpenKeyring(raw []byte, passphrase string) (map[string][]byte, error) {
	if len(raw) < saltSize+nonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("keyring: file too short (%d bytes)", len(raw))
	}
	salt := raw[:saltSize]
	var nonce [nonceSize]byte
	copy(nonce[:], raw[saltSize:saltSize+nonceSize])
	ciphertext := raw[saltSize+nonceSize:]

	key := deriveKey(passphrase, salt)
	plain, ok := secretbox.Open(nil, ciphertext, &nonce, &key)
	if !ok {
		return nil, fmt.Errorf("keyring: decryption failed, wrong passphrase or corrupt file")
	}

	var doc keyringDoc
	if err := toml.Unmarshal(plain, &doc); err != nil {
		return nil, fmt.Errorf("keyring: unmarshal keyring document: %w", err)
	}
	out := make(map[string][]byte, len(doc.Keys))
	for name, hexSeed := range doc.Keys {
		seed, err := hex.DecodeString(hexSeed)
		if err != nil {
			return nil, fmt.Errorf("keyring: decode seed for key %q: %w", name, err)
		}
		out[name] = seed
	}
	return out, nil
}

func deriveKey(passphrase string, salt []byte) [keySize]byte {
	derived := argon2.IDKey([]byte(passphrase), salt, argon2Time, argon2Memory, argon2Threads, keySize)
	var key [keySize]byte
	copy(key[:], derived)
	return key
}

// LoadFile reads and decrypts the keyring file at path.
func LoadFile(path, passphrase string) (map[string][]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keyring: read %s: %w", path, err)
	}
	return OpenKeyring(raw, passphrase)
}

// SaveFile encrypts keys and writes them to path with owner-only
// permissions.
func SaveFile(path string, keys map[string][]byte, passphrase string) error {
	sealed, err := SealKeyring(keys, passphrase)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, sealed, 0o600); err != nil {
		return fmt.Errorf("keyring: write %s: %w", path, err)
	}
	return nil
}
