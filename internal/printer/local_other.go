//go:build !windows

package printer

import (
	"context"
	"fmt"
)

// LocalServer is unavailable off Windows; the warden falls back to WinRM.
type LocalServer struct {
	hostname string
}

// NewLocalServer creates the local job store stub.
func NewLocalServer(hostname string) *LocalServer {
	if hostname == "" {
		hostname = "localhost"
	}
	return &LocalServer{hostname: hostname}
}

// Name identifies the server in logs and sweep results.
func (l *LocalServer) Name() string { return l.hostname }

// ListJobs always fails off Windows.
func (l *LocalServer) ListJobs(_ context.Context) ([]PrintJob, error) {
	return nil, fmt.Errorf("local print management requires Windows")
}

// RemoveJob always fails off Windows.
func (l *LocalServer) RemoveJob(_ context.Context, _ PrintJob) error {
	return fmt.Errorf("local print management requires Windows")
}

// RestartSpooler always fails off Windows.
func (l *LocalServer) RestartSpooler(_ context.Context) error {
	return fmt.Errorf("local print management requires Windows")
}
