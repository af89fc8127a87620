// Package ifconfig brings up a SocketCAN interface: kernel modules and the
// ip-link bitrate/listen-only configuration, behind a CommandRunner so
// tests never shell out.
package ifconfig

import (
	"fmt"
	"log/slog"
	"os/exec"
)

// CommandRunner executes the system commands interface bring-up needs.
type CommandRunner interface {
	Modprobe(module string) error
	IPLink(args ...string) error
}

// ExecRunner runs commands via os/exec, the default outside of tests.
type ExecRunner struct{}

func (ExecRunner) Modprobe(module string) error {
	return exec.Command("modprobe", module).Run()
}

func (ExecRunner) IPLink(args ...string) error {
	return exec.Command("ip", args...).Run()
}

// SetupInterface loads the can/can_raw kernel modules and brings iface up
// at bitrate, optionally in listen-only mode. Failures are logged, not
// returned — a missing module or already-up interface should not abort the
// pipeline, matching the reference tool's own best-effort bring-up.
func SetupInterface(runner CommandRunner, logger *slog.Logger, iface string, bitrate int, listenOnly bool) {
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := runner.Modprobe("can"); err != nil {
		logger.Warn("failed to load 'can' kernel module", "err", err)
	}
	if err := runner.Modprobe("can_raw"); err != nil {
		logger.Warn("failed to load 'can_raw' kernel module", "err", err)
	}
	if err := runner.IPLink("set", iface, "down"); err != nil {
		logger.Warn("failed to bring down interface", "iface", iface, "err", err)
	}
	if err := runner.IPLink("set", iface, "up", "type", "can", "bitrate", fmt.Sprint(bitrate)); err != nil {
		logger.Warn("failed to configure interface", "iface", iface, "err", err)
	}
	if listenOnly {
		if err := runner.IPLink("set", iface, "type", "can", "listen-only", "on"); err != nil {
			logger.Warn("failed to enable listen-only mode", "iface", iface, "err", err)
		}
	}
}
