//go:build windows

// Package localps runs PowerShell on the local machine, for tools invoked
// directly on the host they manage instead of over WinRM.
package localps

import (
	"context"
	"os/exec"
	"strings"
)

// Available reports whether local PowerShell execution is supported.
func Available() bool { return true }

// Run executes a PowerShell script and returns stdout+stderr combined.
// Uses -ErrorAction Stop so PowerShell script errors propagate as non-zero exit.
func Run(ctx context.Context, script string) (string, error) {
	wrapped := "$ErrorActionPreference='Stop'; " + script
	cmd := exec.CommandContext(ctx, "powershell.exe", "-NoProfile", "-NonInteractive", "-Command", wrapped)
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}
