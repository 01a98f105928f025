// Package mailer sends provisioning reports and notifications over SMTP.
// Messages that fail to send are parked in an SQLite outbox and retried
// at the start of later runs; mail delivery is never allowed to fail a
// provisioning run.
package mailer

import (
	"context"
	"fmt"
	"log"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"
)

// Message is one outbound email. TextBody is required; HTMLBody is
// optional and, when present, the message goes out multipart/alternative.
type Message struct {
	To       []string  `json:"to"`
	Subject  string    `json:"subject"`
	TextBody string    `json:"text_body"`
	HTMLBody string    `json:"html_body,omitempty"`
	RunID    string    `json:"run_id,omitempty"`
	QueuedAt time.Time `json:"queued_at,omitempty"`
}

// Config holds SMTP settings.
type Config struct {
	Host     string
	Port     int
	Username string // empty disables auth
	Password string
	From     string
}

// Mailer sends messages over SMTP with an optional outbox fallback.
type Mailer struct {
	cfg    Config
	outbox *Outbox // nil disables store-and-forward
}

// New creates a mailer. outbox may be nil.
func New(cfg Config, outbox *Outbox) *Mailer {
	if cfg.Port == 0 {
		cfg.Port = 25
	}
	return &Mailer{cfg: cfg, outbox: outbox}
}

// Deliver sends a message, parking it in the outbox on failure. It only
// returns an error when the message could be neither sent nor queued.
func (m *Mailer) Deliver(ctx context.Context, msg Message) error {
	if err := m.send(ctx, msg); err != nil {
		log.Printf("[mailer] Send failed (%s): %v", msg.Subject, err)
		if m.outbox == nil {
			return fmt.Errorf("send failed, no outbox: %w", err)
		}
		if qErr := m.outbox.Enqueue(msg); qErr != nil {
			return fmt.Errorf("send failed (%v), enqueue failed: %w", err, qErr)
		}
		log.Printf("[mailer] Message parked in outbox for retry")
	}
	return nil
}

// FlushOutbox retries every queued message, oldest first. Messages that
// fail again stay queued with their retry count bumped.
func (m *Mailer) FlushOutbox(ctx context.Context) {
	if m.outbox == nil {
		return
	}

	pending, err := m.outbox.Pending()
	if err != nil {
		log.Printf("[mailer] Outbox read failed: %v", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	log.Printf("[mailer] Flushing %d queued messages", len(pending))
	sent := 0
	for _, q := range pending {
		if err := m.send(ctx, q.Message); err != nil {
			if bumpErr := m.outbox.BumpRetry(q.ID); bumpErr != nil {
				log.Printf("[mailer] Retry bump failed for message %d: %v", q.ID, bumpErr)
			}
			continue
		}
		if err := m.outbox.Remove(q.ID); err != nil {
			log.Printf("[mailer] Remove failed for sent message %d: %v", q.ID, err)
		}
		sent++
	}
	log.Printf("[mailer] Outbox flush: %d sent, %d still queued", sent, len(pending)-sent)
}

// send performs one SMTP delivery attempt.
func (m *Mailer) send(_ context.Context, msg Message) error {
	if m.cfg.Host == "" {
		log.Printf("[mailer] SMTP unconfigured, would send: %s (to %s)", msg.Subject, strings.Join(msg.To, ", "))
		return nil
	}
	if len(msg.To) == 0 {
		return fmt.Errorf("no recipients")
	}

	body, err := buildMIME(m.cfg.From, msg)
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	if err := smtp.SendMail(addr, auth, m.cfg.From, msg.To, body); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}

	log.Printf("[mailer] Sent %q to %s", msg.Subject, strings.Join(msg.To, ", "))
	return nil
}

// buildMIME assembles the raw message. Plain text only when no HTML body
// is present, multipart/alternative otherwise.
func buildMIME(from string, msg Message) ([]byte, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")

	if msg.HTMLBody == "" {
		b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
		b.WriteString(msg.TextBody)
		return []byte(b.String()), nil
	}

	var parts strings.Builder
	w := multipart.NewWriter(&parts)

	text, err := w.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/plain; charset=utf-8"}})
	if err != nil {
		return nil, err
	}
	if _, err := text.Write([]byte(msg.TextBody)); err != nil {
		return nil, err
	}

	html, err := w.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/html; charset=utf-8"}})
	if err != nil {
		return nil, err
	}
	if _, err := html.Write([]byte(msg.HTMLBody)); err != nil {
		return nil, err
	}

	if err := w.Close(); err != nil {
		return nil, err
	}

	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", w.Boundary())
	b.WriteString(parts.String())
	return []byte(b.String()), nil
}
