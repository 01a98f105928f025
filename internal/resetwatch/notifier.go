// Package resetwatch watches a domain controller's Security log for
// password-reset attempts (event 4724) and notifies the service desk.
// On the DC itself it uses a push subscription to the event log; from
// anywhere else it polls over WinRM with a persisted high-water mark so
// restarts never re-notify old events.
package resetwatch

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/osiriscare/winops/internal/mailer"
)

// ResetEvent is one observed password-reset attempt.
type ResetEvent struct {
	RecordID      uint64    `json:"record_id"`
	TargetAccount string    `json:"target_account"`
	Caller        string    `json:"caller"`
	At            time.Time `json:"at"`
}

// Sender delivers notification mail.
type Sender interface {
	Deliver(ctx context.Context, msg mailer.Message) error
}

// Notifier emails the service desk about reset events, suppressing
// repeats for the same account within the cooldown window so a scripted
// reset storm doesn't flood the desk.
type Notifier struct {
	sender     Sender
	recipients []string
	cooldown   time.Duration

	mu       sync.Mutex
	lastSent map[string]time.Time
	now      func() time.Time
}

// NewNotifier creates a notifier.
func NewNotifier(sender Sender, recipients []string, cooldown time.Duration) *Notifier {
	return &Notifier{
		sender:     sender,
		recipients: recipients,
		cooldown:   cooldown,
		lastSent:   make(map[string]time.Time),
		now:        time.Now,
	}
}

// Notify sends mail for one event unless the account is in cooldown.
func (n *Notifier) Notify(ctx context.Context, ev ResetEvent) error {
	n.mu.Lock()
	last, seen := n.lastSent[ev.TargetAccount]
	if seen && n.now().Sub(last) < n.cooldown {
		n.mu.Unlock()
		log.Printf("[resetwatch] Suppressing repeat notification for %s (cooldown)", ev.TargetAccount)
		return nil
	}
	n.lastSent[ev.TargetAccount] = n.now()
	n.mu.Unlock()

	body := fmt.Sprintf(`A password reset was attempted in the directory.

Account:  %s
Reset by: %s
Time:     %s

If this reset was not requested through the service desk, follow up with
the account holder.
`, ev.TargetAccount, ev.Caller, ev.At.Format(time.RFC1123))

	msg := mailer.Message{
		To:       n.recipients,
		Subject:  fmt.Sprintf("Password Reset: %s", ev.TargetAccount),
		TextBody: body,
	}

	if err := n.sender.Deliver(ctx, msg); err != nil {
		return fmt.Errorf("notify for %s: %w", ev.TargetAccount, err)
	}
	log.Printf("[resetwatch] Notified service desk: %s reset by %s", ev.TargetAccount, ev.Caller)
	return nil
}
