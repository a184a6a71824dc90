// Package realmfs implements the content-addressed pool of RealmFS
// filesystem images: sealed/unsealed state, fork/seal/unseal/resize,
// activation (loop pair or dm-verity), and the update workflow (spec
// §4.7, the richest component).
package realmfs

import (
	"fmt"
	"regexp"
)

// MaxNameLength is the RealmFS name length cap (spec §3.3).
const MaxNameLength = 40

var nameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9-]*$`)

// ValidateName enforces the RealmFS naming rule: at most 40 chars, ASCII
// alphanumeric plus dash, leading letter (spec §3.3).
func ValidateName(name string) error {
	if len(name) == 0 || len(name) > MaxNameLength {
		return fmt.Errorf("realmfs: name %q must be 1-%d characters", name, MaxNameLength)
	}
	if !nameRe.MatchString(name) {
		return fmt.Errorf("realmfs: name %q must start with a letter and contain only letters, digits, and dashes", name)
	}
	return nil
}

// ImageFileName returns the canonical image filename for name (spec
// §3.3: "<BASE>/<name>-realmfs.img").
func ImageFileName(name string) string {
	return name + "-realmfs.img"
}
