package realm_test

import (
	"strings"
	"testing"

	"github.com/subgraph/citadel/internal/realm"
)

func TestValidateNameAccepts(t *testing.T) {
	for _, name := range []string{"a", "work", "dev-box", "A1-2"} {
		if err := realm.ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", name, err)
		}
	}
}

func TestValidateNameRejects(t *testing.T) {
	cases := []string{"", "-leading-dash", "1starts-with-digit", "has space", strings.Repeat("a", realm.MaxNameLength+1)}
	for _, name := range cases {
		if err := realm.ValidateName(name); err == nil {
			t.Errorf("ValidateName(%q) = nil, want error", name)
		}
	}
}
