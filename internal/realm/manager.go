package realm

import (
	"fmt"
	"sync"

	"github.com/subgraph/citadel/internal/citadelcfg"
	"github.com/subgraph/citadel/internal/fslock"
	"github.com/subgraph/citadel/internal/realmfs"
)

// RealmManager keeps the tracked realm set and the per-RealmFS mountpoint
// reference counts behind one lock, alongside the realmfs.Manager it was
// built with. It does not hold an event listener: eventbus.Listener is
// constructed and run separately. Realm holds no manager reference
// (callers pass the manager to Start and Stop); RealmFS holds only its
// realmfs.Manager, set on Open, so there is no ownership cycle.
type RealmManager struct {
	Roots citadelcfg.Roots
	FS    *realmfs.Manager

	mu         sync.Mutex
	realms     map[string]*Realm
	refcount   map[string]int // RealmFS mountpoint -> number of realms using it
	mountpoint map[string]string
}

// NewRealmManager constructs a RealmManager bound to an already
// configured realmfs.Manager.
func NewRealmManager(roots citadelcfg.Roots, fs *realmfs.Manager) *RealmManager {
	return &RealmManager{
		Roots:      roots,
		FS:         fs,
		realms:     make(map[string]*Realm),
		refcount:   make(map[string]int),
		mountpoint: make(map[string]string),
	}
}

// realmsLockPath is the flock guard serialising structural operations
// on the realms directory (spec §5: "<realms>/.realmslock").
func (rm *RealmManager) realmsLockPath() string {
	return rm.Roots.Realms + "/.realmslock"
}

// withRealmsLock runs fn while holding the realms-directory flock.
func (rm *RealmManager) withRealmsLock(fn func() error) error {
	lock, err := fslock.Acquire(rm.realmsLockPath())
	if err != nil {
		return fmt.Errorf("realm: acquire realms lock: %w", err)
	}
	defer lock.Close()
	return fn()
}

// Track registers a realm with the manager, making it visible to
// Lookup/List.
func (rm *RealmManager) Track(r *Realm) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.realms[r.Name] = r
}

// Untrack removes a realm from the manager's tracked set.
func (rm *RealmManager) Untrack(name string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	delete(rm.realms, name)
}

// Lookup returns a tracked realm by name.
func (rm *RealmManager) Lookup(name string) (*Realm, bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	r, ok := rm.realms[name]
	return r, ok
}

// List returns every tracked realm.
func (rm *RealmManager) List() []*Realm {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	out := make([]*Realm, 0, len(rm.realms))
	for _, r := range rm.realms {
		out = append(out, r)
	}
	return out
}

// activeMountpoints returns the set of RealmFS mountpoints currently
// referenced by at least one realm, the `activeSet` RealmFS's
// IsInUse/Deactivate expect (spec §4.7.4).
func (rm *RealmManager) activeMountpoints() map[string]bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	out := make(map[string]bool, len(rm.refcount))
	for mp, n := range rm.refcount {
		if n > 0 {
			out[mp] = true
		}
	}
	return out
}

// acquireMountpoint records one more reference to mp on behalf of
// realm name.
func (rm *RealmManager) acquireMountpoint(name, mp string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.refcount[mp]++
	rm.mountpoint[name] = mp
}

// releaseMountpoint drops realm name's reference to its recorded
// mountpoint and reports the mountpoint plus whether the refcount
// reached zero, meaning the RealmFS should be deactivated (spec §4.8
// "release_mountpoint").
func (rm *RealmManager) releaseMountpoint(name string) (mp string, last bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	mp, ok := rm.mountpoint[name]
	if !ok {
		return "", false
	}
	delete(rm.mountpoint, name)
	rm.refcount[mp]--
	last = rm.refcount[mp] <= 0
	if last {
		delete(rm.refcount, mp)
	}
	return mp, last
}
