// reset-notifier emails the service desk when a password reset (event
// 4724) lands in a domain controller's Security log. On the DC itself it
// subscribes to the event log with -subscribe; otherwise it polls over
// WinRM with a persisted high-water mark. Usable as a Windows service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/osiriscare/winops/internal/config"
	"github.com/osiriscare/winops/internal/mailer"
	"github.com/osiriscare/winops/internal/resetwatch"
	"github.com/osiriscare/winops/internal/service"
	"github.com/osiriscare/winops/internal/winrm"
)

var (
	Version   = "1.2.0"
	BuildTime = "unknown"
)

var (
	flagConfig    = flag.String("config", defaultConfigPath(), "Config file path")
	flagSubscribe = flag.Bool("subscribe", false, "Subscribe to the local Security log instead of polling over WinRM (run on the DC)")
	flagVersion   = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *flagVersion {
		fmt.Printf("reset-notifier %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	log.SetFlags(log.LstdFlags)
	log.Printf("reset-notifier v%s starting", Version)

	cfg, err := config.LoadConfig(*flagConfig)
	if err != nil {
		log.Fatalf("Config: %v", err)
	}

	if service.IsWindowsService() {
		handler := &service.Handler{
			Name:    "WinOpsResetNotifier",
			RunFunc: func(ctx context.Context) error { return watch(ctx, cfg) },
		}
		if err := service.Run(handler); err != nil {
			log.Fatalf("Service failed: %v", err)
		}
		return
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := watch(ctx, cfg); err != nil {
		log.Fatalf("%v", err)
	}
}

// watch runs the notifier until the context ends.
func watch(ctx context.Context, cfg *config.Config) error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	outbox, err := mailer.OpenOutbox(cfg.OutboxDBPath())
	if err != nil {
		log.Printf("Outbox unavailable, mail will not be queued on failure: %v", err)
		outbox = nil
	} else {
		defer outbox.Close()
	}

	mail := mailer.New(mailer.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
	}, outbox)
	mail.FlushOutbox(ctx)

	recipients := cfg.ResetRecipients
	if len(recipients) == 0 {
		recipients = cfg.MailRecipients
	}
	notifier := resetwatch.NewNotifier(mail, recipients, time.Duration(cfg.ResetCooldown)*time.Minute)

	handle := func(ev resetwatch.ResetEvent) {
		if err := notifier.Notify(ctx, ev); err != nil {
			log.Printf("Notification failed: %v", err)
		}
	}

	if *flagSubscribe {
		watcher := resetwatch.NewWatcher(handle)
		if err := watcher.Start(); err != nil {
			return fmt.Errorf("event log subscription: %w", err)
		}
		defer watcher.Stop()

		<-ctx.Done()
		log.Printf("Shutting down")
		return nil
	}

	runner := &winrm.Runner{
		Exec:      winrm.NewExecutor(),
		Username:  cfg.DCUsername,
		Password:  cfg.DCPassword,
		Port:      cfg.WinRMPort,
		UseSSL:    cfg.WinRMUseSSL,
		VerifySSL: cfg.WinRMVerifySSL,
	}
	poller := resetwatch.NewPoller(cfg.DomainController, cfg.DCUsername, cfg.DCPassword,
		cfg.RemoteTimeout, runner, cfg.ResetStatePath())

	poller.Watch(ctx, time.Duration(cfg.ResetPollInterval)*time.Second, handle)
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Shutdown signal received: %v", sig)
		cancel()
	}()
	return ctx, cancel
}

func defaultConfigPath() string {
	if v := os.Getenv("WINOPS_CONFIG"); v != "" {
		return v
	}
	return "winops.yaml"
}
