package shell_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/subgraph/citadel/internal/shell"
)

func TestMockExecutorMatchesPattern(t *testing.T) {
	original := shell.Default
	defer func() { shell.Default = original }()

	shell.Default = shell.NewMockExecutor([]shell.MockCommand{
		{Pattern: `^losetup -f --show .*$`, Output: "/dev/loop7\n"},
		{Pattern: `^veritysetup format .*$`, Error: errors.New("boom")},
	})

	out, err := shell.ExecCmd("losetup -f --show /tmp/image.img", false, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(out) != "/dev/loop7" {
		t.Fatalf("unexpected output: %q", out)
	}

	if _, err := shell.ExecCmd("veritysetup format /tmp/x /tmp/y", true, nil); err == nil {
		t.Fatal("expected mocked error")
	}
}

func TestMockExecutorRejectsUnmatchedCommand(t *testing.T) {
	original := shell.Default
	defer func() { shell.Default = original }()

	shell.Default = shell.NewMockExecutor(nil)
	if _, err := shell.ExecCmd("echo hi", false, nil); err == nil {
		t.Fatal("expected error for unregistered command")
	}
}

func TestGetFullCmdStrSudoPrefix(t *testing.T) {
	got := shell.GetFullCmdStr("mount /dev/loop0 /mnt", true, []string{"FOO=bar"})
	want := "sudo FOO=bar mount /dev/loop0 /mnt"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
