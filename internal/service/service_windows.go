//go:build windows

// Package service provides Windows Service Control Manager integration
// for the daemon-mode tools (print-warden, reset-notifier).
package service

import (
	"context"
	"log"
	"time"

	"golang.org/x/sys/windows/svc"
)

// Handler runs a tool's main loop under SCM control.
type Handler struct {
	Name    string
	RunFunc func(ctx context.Context) error
}

// Execute is called by the Windows SCM. It manages the service lifecycle.
func (h *Handler) Execute(args []string, r <-chan svc.ChangeRequest, changes chan<- svc.Status) (ssec bool, errno uint32) {
	const cmdsAccepted = svc.AcceptStop | svc.AcceptShutdown

	changes <- svc.Status{State: svc.StartPending}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.RunFunc(ctx)
	}()

	changes <- svc.Status{State: svc.Running, Accepts: cmdsAccepted}
	log.Printf("[service] %s running as Windows service", h.Name)

	for {
		select {
		case c := <-r:
			switch c.Cmd {
			case svc.Interrogate:
				changes <- c.CurrentStatus
			case svc.Stop, svc.Shutdown:
				log.Printf("[service] SCM %v requested", c.Cmd)
				changes <- svc.Status{State: svc.StopPending}
				cancel()
				select {
				case <-errCh:
				case <-time.After(15 * time.Second):
					log.Println("[service] Graceful shutdown timed out after 15s")
				}
				return false, 0
			}
		case err := <-errCh:
			if err != nil {
				log.Printf("[service] %s exited with error: %v", h.Name, err)
				return false, 1
			}
			return false, 0
		}
	}
}

// IsWindowsService returns true if the process runs under the SCM.
func IsWindowsService() bool {
	inService, err := svc.IsWindowsService()
	if err != nil {
		return false
	}
	return inService
}

// Run starts the handler under SCM control.
func Run(handler *Handler) error {
	return svc.Run(handler.Name, handler)
}
