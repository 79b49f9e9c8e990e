package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
)

// osProcessControl is the real host-integration implementation of
// gateway.ProcessControl: unlike the core, which must never terminate
// the process itself, this boundary is allowed to (spec §9 design
// note). Restart simply exits 0 under the assumption the process is
// supervised (systemd, a container restart policy) and will be
// relaunched; Reboot shells out to the platform reboot command.
type osProcessControl struct{}

func (osProcessControl) Restart(ctx context.Context, params map[string]any) int {
	slog.Warn("gwcore: scheduled restart requested, exiting for the supervisor to relaunch")
	go func() { os.Exit(0) }()
	return 0
}

func (osProcessControl) Reboot(ctx context.Context, params map[string]any) int {
	slog.Warn("gwcore: scheduled reboot requested")
	cmdName, args := rebootCommand()
	if cmdName == "" {
		slog.Error("gwcore: no reboot command known for this platform", "goos", runtime.GOOS)
		return 1
	}
	if err := exec.CommandContext(ctx, cmdName, args...).Run(); err != nil {
		slog.Error("gwcore: reboot command failed", "error", err)
		return 1
	}
	return 0
}

func rebootCommand() (string, []string) {
	switch runtime.GOOS {
	case "linux", "darwin":
		return "reboot", nil
	default:
		return "", nil
	}
}
