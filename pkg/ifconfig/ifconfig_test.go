package ifconfig

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

// mockRunner records every command instead of executing it, mirroring the
// Python setup.py test double.
type mockRunner struct {
	modprobes []string
	ipLinks   [][]string
	failOn    string
}

func (m *mockRunner) Modprobe(module string) error {
	m.modprobes = append(m.modprobes, module)
	if module == m.failOn {
		return errors.New("boom")
	}
	return nil
}

func (m *mockRunner) IPLink(args ...string) error {
	m.ipLinks = append(m.ipLinks, args)
	return nil
}

func TestSetupInterfaceSequencesCommands(t *testing.T) {
	runner := &mockRunner{}
	SetupInterface(runner, slog.Default(), "can0", 500000, false)

	assert.Equal(t, []string{"can", "can_raw"}, runner.modprobes)
	assert.Equal(t, [][]string{
		{"set", "can0", "down"},
		{"set", "can0", "up", "type", "can", "bitrate", "500000"},
	}, runner.ipLinks)
}

func TestSetupInterfaceListenOnly(t *testing.T) {
	runner := &mockRunner{}
	SetupInterface(runner, slog.Default(), "can0", 250000, true)

	assert.Equal(t, [][]string{
		{"set", "can0", "down"},
		{"set", "can0", "up", "type", "can", "bitrate", "250000"},
		{"set", "can0", "type", "can", "listen-only", "on"},
	}, runner.ipLinks)
}

func TestSetupInterfaceWarnsButContinuesOnFailure(t *testing.T) {
	runner := &mockRunner{failOn: "can"}
	assert.NotPanics(t, func() {
		SetupInterface(runner, slog.Default(), "can0", 500000, false)
	})
	assert.Equal(t, []string{"can", "can_raw"}, runner.modprobes)
	assert.Len(t, runner.ipLinks, 2)
}

func TestExecRunnerImplementsCommandRunner(t *testing.T) {
	var _ CommandRunner = ExecRunner{}
}
