package cmdline_test

import (
	"testing"

	"github.com/subgraph/citadel/internal/cmdline"
)

func TestParseFlagsAndVars(t *testing.T) {
	c := cmdline.Parse("BOOT_IMAGE=/vmlinuz root=/dev/mapper/rootfs citadel.noverity citadel.channel=main:deadbeef citadel.verbose quiet")

	if !c.NoVerity() {
		t.Error("expected noverity flag set")
	}
	if c.NoSignatures() {
		t.Error("nosignatures should not be set")
	}
	if !c.Verbose() {
		t.Error("expected verbose flag set")
	}

	name, pk, ok := c.Channel()
	if !ok || name != "main" || pk != "deadbeef" {
		t.Fatalf("unexpected channel parse: name=%q pk=%q ok=%v", name, pk, ok)
	}
}

func TestParseChannelWithoutPubkey(t *testing.T) {
	c := cmdline.Parse("citadel.channel=dev")
	name, pk, ok := c.Channel()
	if !ok || name != "dev" || pk != "" {
		t.Fatalf("unexpected channel parse: name=%q pk=%q ok=%v", name, pk, ok)
	}
}

func TestParseEmpty(t *testing.T) {
	c := cmdline.Parse("")
	if c.NoVerity() || c.Sealed() {
		t.Error("empty cmdline should have no flags set")
	}
	if _, _, ok := c.Channel(); ok {
		t.Error("empty cmdline should have no channel")
	}
}
