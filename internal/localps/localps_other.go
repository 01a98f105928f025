//go:build !windows

// Package localps provides a stub for non-Windows systems.
package localps

import (
	"context"
	"fmt"
)

// Available reports whether local PowerShell execution is supported.
func Available() bool { return false }

// Run always fails on non-Windows; callers should fall back to WinRM.
func Run(_ context.Context, _ string) (string, error) {
	return "", fmt.Errorf("local PowerShell execution requires Windows")
}
