// Package realm implements realm lifecycle: overlay construction
// (tmpfs/btrfs/none), rootfs symlink assembly, and the RealmManager that
// tracks reference-counted RealmFS releases (spec §4.8).
package realm

import (
	"fmt"
	"regexp"
)

// MaxNameLength mirrors the RealmFS naming rule (spec §3.3, applied to
// realm names too since both share the directory-name constraint).
const MaxNameLength = 40

var nameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9-]*$`)

// ValidateName enforces the realm naming rule.
func ValidateName(name string) error {
	if len(name) == 0 || len(name) > MaxNameLength {
		return fmt.Errorf("realm: name %q must be 1-%d characters", name, MaxNameLength)
	}
	if !nameRe.MatchString(name) {
		return fmt.Errorf("realm: name %q must start with a letter and contain only letters, digits, and dashes", name)
	}
	return nil
}
