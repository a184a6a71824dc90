package realmfs

import (
	"fmt"
	"sync"

	"github.com/subgraph/citadel/internal/citadelcfg"
	"github.com/subgraph/citadel/internal/keyring"
)

// Manager owns the RealmFS pool: the set of known images, their
// activation state, and the network bridge slots handed out to the
// update workflow's systemd-nspawn shell (spec §4.7.5, §9 "cyclic
// references").
type Manager struct {
	Roots      citadelcfg.Roots
	Keyring    keyring.KernelKeyring
	BridgeBase string // e.g. "citadel-br"

	mu       sync.Mutex
	bridges  map[int]bool
	maxSlots int
}

// NewManager constructs a Manager with a bridge pool of maxSlots
// numbered slots (spec §4.7.5: "a network bridge allocation from the
// manager's IP pool").
func NewManager(roots citadelcfg.Roots, kr keyring.KernelKeyring, maxSlots int) *Manager {
	return &Manager{
		Roots:      roots,
		Keyring:    kr,
		BridgeBase: "citadel-br",
		bridges:    make(map[int]bool),
		maxSlots:   maxSlots,
	}
}

// AllocateBridge reserves the lowest-numbered free bridge slot.
func (m *Manager) AllocateBridge() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < m.maxSlots; i++ {
		if !m.bridges[i] {
			m.bridges[i] = true
			return fmt.Sprintf("%s%d", m.BridgeBase, i), nil
		}
	}
	return "", fmt.Errorf("realmfs: no free bridge slots (max %d)", m.maxSlots)
}

// ReleaseBridge frees a bridge previously returned by AllocateBridge.
func (m *Manager) ReleaseBridge(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var idx int
	if _, err := fmt.Sscanf(name, m.BridgeBase+"%d", &idx); err != nil {
		return
	}
	delete(m.bridges, idx)
}

// Open is Manager-bound Open, attaching the returned RealmFS to this
// manager so callers can reach the bridge pool from an update session.
func (m *Manager) Open(name string) (*RealmFS, error) {
	rfs, err := Open(name, m.Roots)
	if err != nil {
		return nil, err
	}
	rfs.mgr = m
	return rfs, nil
}
