package realm

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/subgraph/citadel/internal/citadelcfg"
	"github.com/subgraph/citadel/internal/realmfs"
)

// Config is a realm's on-disk TOML configuration (spec §3.4).
type Config struct {
	RealmFSName string `toml:"realmfs-name"`
	Overlay     string `toml:"overlay"` // "none" | "tmpfs" | "storage"
}

// Realm is directory `<BASE>/realm-<name>/` with a config, home, and
// optional skel/.realmlock (spec §3.4). Mutable inner state (config,
// timestamp, leader pid, active state) is reader-writer locked.
type Realm struct {
	Name  string
	Roots citadelcfg.Roots

	mu        sync.RWMutex
	config    Config
	leaderPID int
	rootfs    string
	realmfsMP string
	overlay   *Overlay
	rfs       *realmfs.RealmFS
}

// Dir is the realm's persistent storage directory.
func (r *Realm) Dir() string { return r.Roots.RealmDir(r.Name) }

// RunDir is the realm's ephemeral runtime directory.
func (r *Realm) RunDir() string { return r.Roots.RunRealmDir(r.Name) }

func (r *Realm) configPath() string    { return filepath.Join(r.Dir(), "config") }
func (r *Realm) homeDir() string       { return filepath.Join(r.Dir(), "home") }
func (r *Realm) skelDir() string       { return filepath.Join(r.Dir(), "skel") }
func (r *Realm) lockPath() string      { return filepath.Join(r.Dir(), ".realmlock") }
func (r *Realm) timestampPath() string { return filepath.Join(r.Dir(), ".tstamp") }

// Open loads an existing realm's configuration.
func Open(name string, roots citadelcfg.Roots) (*Realm, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	r := &Realm{Name: name, Roots: roots}
	data, err := os.ReadFile(r.configPath())
	if err != nil {
		return nil, fmt.Errorf("realm: read config for %s: %w", name, err)
	}
	if err := toml.Unmarshal(data, &r.config); err != nil {
		return nil, fmt.Errorf("realm: parse config for %s: %w", name, err)
	}
	return r, nil
}

// Create initializes a new realm directory with the given config.
func Create(name string, roots citadelcfg.Roots, cfg Config) (*Realm, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	r := &Realm{Name: name, Roots: roots, config: cfg}
	if err := os.MkdirAll(r.homeDir(), 0o755); err != nil {
		return nil, fmt.Errorf("realm: create home dir for %s: %w", name, err)
	}
	if err := r.saveConfig(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Realm) saveConfig() error {
	r.mu.RLock()
	cfg := r.config
	r.mu.RUnlock()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("realm: encode config for %s: %w", r.Name, err)
	}
	if err := os.WriteFile(r.configPath(), data, 0o644); err != nil {
		return fmt.Errorf("realm: write config for %s: %w", r.Name, err)
	}
	return nil
}

// Config returns a copy of the realm's current configuration.
func (r *Realm) Config() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config
}

// Touch updates .tstamp's mtime, used as "last made current" (spec
// §3.4).
func (r *Realm) Touch() error {
	now := time.Now()
	path := r.timestampPath()
	if err := os.WriteFile(path, nil, 0o644); err != nil && !os.IsExist(err) {
		return fmt.Errorf("realm: touch timestamp for %s: %w", r.Name, err)
	}
	return os.Chtimes(path, now, now)
}

// IsLocked reports whether .realmlock is present.
func (r *Realm) IsLocked() bool {
	_, err := os.Stat(r.lockPath())
	return err == nil
}

// SetLocked creates or removes .realmlock.
func (r *Realm) SetLocked(locked bool) error {
	if locked {
		f, err := os.OpenFile(r.lockPath(), os.O_CREATE|os.O_RDONLY, 0o644)
		if err != nil {
			return fmt.Errorf("realm: lock %s: %w", r.Name, err)
		}
		return f.Close()
	}
	if err := os.Remove(r.lockPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("realm: unlock %s: %w", r.Name, err)
	}
	return nil
}

// Delete removes the realm's persistent directory, refusing if locked
// (spec, ".realmlock" added note).
func (r *Realm) Delete() error {
	if r.IsLocked() {
		return fmt.Errorf("realm: %s is locked, refusing to delete", r.Name)
	}
	if err := os.RemoveAll(r.Dir()); err != nil {
		return fmt.Errorf("realm: delete %s: %w", r.Name, err)
	}
	return nil
}
