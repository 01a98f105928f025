package report

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/osiriscare/winops/internal/mailer"
	"github.com/osiriscare/winops/internal/provision"
)

// Sender delivers a rendered report by mail.
type Sender interface {
	Deliver(ctx context.Context, msg mailer.Message) error
}

// Sink renders finished partitions and hands them to the mailer,
// optionally mirroring the plain-text rendering to the console. It is
// the provisioning processor's report outlet.
type Sink struct {
	renderer   *Renderer
	sender     Sender
	recipients []string
	console    bool
	runID      string
}

// NewSink creates a sink. console mirrors each report to stdout.
func NewSink(sender Sender, recipients []string, console bool, runID string) *Sink {
	return &Sink{
		renderer:   NewRenderer(),
		sender:     sender,
		recipients: recipients,
		console:    console,
		runID:      runID,
	}
}

// Deliver renders and sends one partition's report. The text rendering
// always succeeds; a template failure falls back to text-only mail so
// operators still get a report.
func (s *Sink) Deliver(ctx context.Context, indicator string, rs *provision.ResultSet) error {
	text := s.renderer.RenderText(indicator, rs)

	if s.console {
		fmt.Fprintln(os.Stdout, text)
	}

	html, err := s.renderer.RenderHTML(indicator, rs)
	if err != nil {
		log.Printf("[report] HTML rendering failed for %s partition, sending text only: %v", indicator, err)
		html = ""
	}

	msg := mailer.Message{
		To:       s.recipients,
		Subject:  Subject(indicator, rs),
		TextBody: text,
		HTMLBody: html,
		RunID:    s.runID,
	}
	return s.sender.Deliver(ctx, msg)
}
