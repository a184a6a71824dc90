// Package shell is the external-command seam every Citadel subsystem goes
// through to invoke losetup, veritysetup, mount/umount, mkfs.*, xz,
// resize2fs, dmsetup, systemctl, machinectl and btrfs (spec §5). Centralizing
// process execution here, behind the Executor interface, lets tests swap in
// NewMockExecutor and exercise the surrounding logic without a live system.
package shell

import (
	"bufio"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync"

	"github.com/subgraph/citadel/internal/logger"
)

var log = logger.Logger()

// Executor runs shell commands. ExecCmd captures and logs combined output;
// ExecCmdSilent captures without logging; ExecCmdWithStream streams stdout
// and stderr to the log as the command runs (used for long xz/veritysetup
// invocations); ExecCmdWithInput feeds stdin (used for passphrase prompts).
type Executor interface {
	ExecCmd(cmdStr string, sudo bool, envVal []string) (string, error)
	ExecCmdSilent(cmdStr string, sudo bool, envVal []string) (string, error)
	ExecCmdWithStream(cmdStr string, sudo bool, envVal []string) (string, error)
	ExecCmdWithInput(inputStr, cmdStr string, sudo bool, envVal []string) (string, error)
}

// DefaultExecutor runs commands via bash -c, exactly like the teacher's
// os-image-composer shell layer.
type DefaultExecutor struct{}

// Default is the process-wide executor; tests replace it with a
// *MockExecutor and restore it afterward.
var Default Executor = &DefaultExecutor{}

// GetFullCmdStr prepends "sudo " when requested and appends env assignments.
func GetFullCmdStr(cmdStr string, sudo bool, envVal []string) string {
	var b strings.Builder
	if sudo {
		b.WriteString("sudo ")
	}
	for _, env := range envVal {
		b.WriteString(env)
		b.WriteString(" ")
	}
	b.WriteString(cmdStr)
	full := b.String()
	log.Debugf("Exec: [%s]", full)
	return full
}

func (d *DefaultExecutor) ExecCmd(cmdStr string, sudo bool, envVal []string) (string, error) {
	full := GetFullCmdStr(cmdStr, sudo, envVal)
	cmd := exec.Command("bash", "-c", full)
	output, err := cmd.CombinedOutput()
	outputStr := string(output)
	if err != nil {
		if outputStr != "" {
			return outputStr, fmt.Errorf("failed to exec %s: output %s, err %w", full, outputStr, err)
		}
		return outputStr, fmt.Errorf("failed to exec %s: %w", full, err)
	}
	if outputStr != "" {
		log.Debugf(outputStr)
	}
	return outputStr, nil
}

func (d *DefaultExecutor) ExecCmdSilent(cmdStr string, sudo bool, envVal []string) (string, error) {
	full := GetFullCmdStr(cmdStr, sudo, envVal)
	cmd := exec.Command("bash", "-c", full)
	output, err := cmd.CombinedOutput()
	return string(output), err
}

func (d *DefaultExecutor) ExecCmdWithStream(cmdStr string, sudo bool, envVal []string) (string, error) {
	full := GetFullCmdStr(cmdStr, sudo, envVal)
	cmd := exec.Command("bash", "-c", full)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("failed to get stdout pipe for command %s: %w", full, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("failed to get stderr pipe for command %s: %w", full, err)
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start command %s: %w", full, err)
	}

	var out strings.Builder
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			out.WriteString(line)
			out.WriteString("\n")
			log.Debugf(line)
		}
	}()
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			log.Debugf(scanner.Text())
		}
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return out.String(), fmt.Errorf("failed to wait for command %s: %w", full, err)
	}
	return out.String(), nil
}

func (d *DefaultExecutor) ExecCmdWithInput(inputStr, cmdStr string, sudo bool, envVal []string) (string, error) {
	full := GetFullCmdStr(cmdStr, sudo, envVal)
	cmd := exec.Command("bash", "-c", full)
	cmd.Stdin = strings.NewReader(inputStr)
	output, err := cmd.CombinedOutput()
	outputStr := string(output)
	if err != nil {
		return outputStr, fmt.Errorf("failed to exec %s with input: %w", full, err)
	}
	if outputStr != "" {
		log.Debugf(outputStr)
	}
	return outputStr, nil
}

// Convenience package-level wrappers over Default, as the teacher exposes.

func ExecCmd(cmdStr string, sudo bool, envVal []string) (string, error) {
	return Default.ExecCmd(cmdStr, sudo, envVal)
}

func ExecCmdSilent(cmdStr string, sudo bool, envVal []string) (string, error) {
	return Default.ExecCmdSilent(cmdStr, sudo, envVal)
}

func ExecCmdWithStream(cmdStr string, sudo bool, envVal []string) (string, error) {
	return Default.ExecCmdWithStream(cmdStr, sudo, envVal)
}

func ExecCmdWithInput(inputStr, cmdStr string, sudo bool, envVal []string) (string, error) {
	return Default.ExecCmdWithInput(inputStr, cmdStr, sudo, envVal)
}

// MockCommand matches a regexp against the requested command line and
// supplies a canned Output/Error, for exercising callers without spawning a
// real process.
type MockCommand struct {
	Pattern string
	Output  string
	Error   error

	re *regexp.Regexp
}

// MockExecutor implements Executor by matching commands against an ordered
// list of MockCommand patterns; the first match wins. Unmatched commands
// return an error naming the command, so a missing mock fails loudly instead
// of silently falling through to a real shell.
type MockExecutor struct {
	mu       sync.Mutex
	commands []MockCommand
	Calls    []string
}

// NewMockExecutor builds a MockExecutor from the given patterns.
func NewMockExecutor(commands []MockCommand) *MockExecutor {
	compiled := make([]MockCommand, len(commands))
	for i, c := range commands {
		c.re = regexp.MustCompile(c.Pattern)
		compiled[i] = c
	}
	return &MockExecutor{commands: compiled}
}

func (m *MockExecutor) match(cmdStr string) (MockCommand, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, cmdStr)
	m.mu.Unlock()
	for _, c := range m.commands {
		if c.re.MatchString(cmdStr) {
			return c, nil
		}
	}
	return MockCommand{}, fmt.Errorf("shell: no mock registered for command %q", cmdStr)
}

func (m *MockExecutor) ExecCmd(cmdStr string, sudo bool, envVal []string) (string, error) {
	c, err := m.match(cmdStr)
	if err != nil {
		return "", err
	}
	return c.Output, c.Error
}

func (m *MockExecutor) ExecCmdSilent(cmdStr string, sudo bool, envVal []string) (string, error) {
	return m.ExecCmd(cmdStr, sudo, envVal)
}

func (m *MockExecutor) ExecCmdWithStream(cmdStr string, sudo bool, envVal []string) (string, error) {
	return m.ExecCmd(cmdStr, sudo, envVal)
}

func (m *MockExecutor) ExecCmdWithInput(inputStr, cmdStr string, sudo bool, envVal []string) (string, error) {
	return m.ExecCmd(cmdStr, sudo, envVal)
}
