// Package cmdline parses the kernel command line's citadel.* variables
// (spec §6). It is one of the two true global singletons called out in
// spec §9 ("Design notes"): read-mostly, lazily initialized on first access,
// reloadable only through an explicit Load call for tests and for the
// installer/recovery tooling that must re-parse after pivoting root.
package cmdline

import (
	"os"
	"strings"
	"sync"
)

const procCmdlinePath = "/proc/cmdline"

// CmdLine holds the parsed citadel.* kernel command line flags and
// key=value variables.
type CmdLine struct {
	flags map[string]bool
	vars  map[string]string
}

var (
	mu      sync.Mutex
	current *CmdLine
)

// Current returns the process-wide parsed command line, parsing
// /proc/cmdline on first call.
func Current() *CmdLine {
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		c, err := Load(procCmdlinePath)
		if err != nil {
			current = Parse("")
		} else {
			current = c
		}
	}
	return current
}

// Load reads and parses the given path (normally /proc/cmdline), replacing
// the process-wide singleton. Tests pass a fixture file instead.
func Load(path string) (*CmdLine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := Parse(string(data))
	mu.Lock()
	current = c
	mu.Unlock()
	return c, nil
}

// Parse parses a raw kernel command line string into a CmdLine. Only
// "citadel." prefixed tokens are retained; everything else is ignored.
func Parse(raw string) *CmdLine {
	c := &CmdLine{flags: map[string]bool{}, vars: map[string]string{}}
	for _, tok := range strings.Fields(raw) {
		if !strings.HasPrefix(tok, "citadel.") {
			continue
		}
		rest := strings.TrimPrefix(tok, "citadel.")
		name, value, hasValue := strings.Cut(rest, "=")
		if !hasValue {
			c.flags[name] = true
			continue
		}
		c.vars[name] = value
	}
	return c
}

// Has reports whether a bare citadel.<name> flag is present (noverity,
// nosignatures, install, live, recovery, sealed, verbose, debug).
func (c *CmdLine) Has(name string) bool {
	return c.flags[name]
}

// Get returns the value of citadel.<name>=value and whether it was present.
func (c *CmdLine) Get(name string) (string, bool) {
	v, ok := c.vars[name]
	return v, ok
}

// Channel returns the citadel.channel=<name>[:<hex-pubkey>] variable split
// into its name and optional embedded public key (spec §4.3).
func (c *CmdLine) Channel() (name string, hexPubKey string, ok bool) {
	raw, present := c.vars["channel"]
	if !present {
		return "", "", false
	}
	name, hexPubKey, _ = strings.Cut(raw, ":")
	return name, hexPubKey, true
}

func (c *CmdLine) NoVerity() bool      { return c.Has("noverity") }
func (c *CmdLine) NoSignatures() bool  { return c.Has("nosignatures") }
func (c *CmdLine) InstallMode() bool   { return c.Has("install") }
func (c *CmdLine) LiveMode() bool      { return c.Has("live") }
func (c *CmdLine) RecoveryMode() bool  { return c.Has("recovery") }
func (c *CmdLine) Sealed() bool        { return c.Has("sealed") }
func (c *CmdLine) Verbose() bool       { return c.Has("verbose") || c.Has("debug") }
func (c *CmdLine) Overlay() (string, bool) {
	return c.Get("overlay")
}
