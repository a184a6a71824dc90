package keyring

import (
	"bytes"
	"fmt"

	"golang.org/x/sys/unix"
)

// UserKeyName is the kernel-keyring description RealmFS sealing looks
// up to find the user's sealing keypair seed (spec §4.3,
// RealmFS::USER_KEYNAME).
const UserKeyName = "realmfs-user"

// CryptsetupKeyName is the kernel-keyring description read at boot to
// retrieve the disk-unlock passphrase (spec §4.3).
const CryptsetupKeyName = "cryptsetup"

// KernelKeyring is the seam over keyctl(2) so callers can be tested
// with a stub that returns a fixed seed (spec §9 design notes).
type KernelKeyring interface {
	// Read returns the raw payload of a user-type key found by
	// description in the process's keyring search chain, or
	// ErrKeyAbsent if no such key exists.
	Read(description string) ([]byte, error)
}

// keyctlKeyring is the production KernelKeyring backed by the Linux
// keyrings facility (grounded on nestybox-sysbox-fs's direct
// golang.org/x/sys/unix syscall usage for kernel-resource access).
type keyctlKeyring struct{}

// DefaultKernelKeyring is the production kernel-keyring seam.
var DefaultKernelKeyring KernelKeyring = keyctlKeyring{}

const keyTypeUser = "user"

// keySearchRings are searched in order: thread, process, session,
// matching the default keyctl(2) search chain for KEY_SPEC_SESSION_KEYRING.
var keySearchRings = []int{unix.KEY_SPEC_THREAD_KEYRING, unix.KEY_SPEC_PROCESS_KEYRING, unix.KEY_SPEC_SESSION_KEYRING}

func (keyctlKeyring) Read(description string) ([]byte, error) {
	var id int
	var err error
	for _, ring := range keySearchRings {
		id, err = unix.KeyctlSearch(ring, keyTypeUser, description, 0)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: kernel keyring lookup for %q: %v", ErrKeyAbsent, description, err)
	}

	buf := make([]byte, 4096)
	n, err := unix.KeyctlBuffer(unix.KEYCTL_READ, id, buf, 0)
	if err != nil {
		return nil, fmt.Errorf("keyring: read key %q payload: %w", description, err)
	}
	return buf[:n], nil
}

// StubKernelKeyring is a KernelKeyring implementation for tests that
// returns fixed payloads keyed by description.
type StubKernelKeyring struct {
	Payloads map[string][]byte
}

func (s StubKernelKeyring) Read(description string) ([]byte, error) {
	payload, ok := s.Payloads[description]
	if !ok {
		return nil, fmt.Errorf("%w: stub has no payload for %q", ErrKeyAbsent, description)
	}
	return payload, nil
}

// UserSealingKey looks up the realm sealing keypair seed from kr by
// UserKeyName and derives the keypair. Returns ErrKeyAbsent if the key
// is not present, matching the seal operation's "no sealing keys"
// refusal (spec §4.3).
func UserSealingKey(kr KernelKeyring) (PrivateKey, PublicKey, error) {
	seed, err := kr.Read(UserKeyName)
	if err != nil {
		return PrivateKey{}, PublicKey{}, err
	}
	return NewKeyPairFromSeed(seed)
}

// CryptsetupPassphrase reads the boot-time disk-unlock passphrase from
// kr's cryptsetup key. The kernel stores the payload as one or more
// NUL-delimited segments; the passphrase is the last segment (spec
// §4.3).
func CryptsetupPassphrase(kr KernelKeyring) (string, error) {
	payload, err := kr.Read(CryptsetupKeyName)
	if err != nil {
		return "", err
	}
	segments := bytes.Split(payload, []byte{0})
	last := segments[len(segments)-1]
	if len(last) == 0 && len(segments) > 1 {
		last = segments[len(segments)-2]
	}
	if len(last) == 0 {
		return "", fmt.Errorf("keyring: cryptsetup key payload contained no passphrase")
	}
	return string(last), nil
}
