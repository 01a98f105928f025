//go:build !windows

package resetwatch

import "fmt"

// EventCallback receives each observed reset event.
type EventCallback func(ev ResetEvent)

// Watcher is unavailable off Windows; callers use the Poller.
type Watcher struct {
	callback EventCallback
}

// NewWatcher creates the stub watcher.
func NewWatcher(callback EventCallback) *Watcher {
	return &Watcher{callback: callback}
}

// Start always fails off Windows.
func (w *Watcher) Start() error {
	return fmt.Errorf("event log subscription requires Windows")
}

// Stop is a no-op.
func (w *Watcher) Stop() {}

// IsRunning always reports false.
func (w *Watcher) IsRunning() bool { return false }
