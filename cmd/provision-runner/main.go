// provision-runner builds Active Directory accounts from CSV drops.
//
// One-shot by default: discover import files, create accounts, email the
// per-partition reports, archive the files, trigger the identity sync.
// -watch keeps it running on an interval for scheduled operation.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/osiriscare/winops/internal/config"
	"github.com/osiriscare/winops/internal/directory"
	"github.com/osiriscare/winops/internal/ledger"
	"github.com/osiriscare/winops/internal/mailer"
	"github.com/osiriscare/winops/internal/provision"
	"github.com/osiriscare/winops/internal/report"
	"github.com/osiriscare/winops/internal/winrm"
)

var (
	Version   = "1.2.0"
	BuildTime = "unknown"
)

var (
	flagConfig  = flag.String("config", defaultConfigPath(), "Config file path")
	flagWatch   = flag.Duration("watch", 0, "Keep running, scanning the import dir on this interval (0 = one shot)")
	flagDryRun  = flag.Bool("dry-run", false, "Parse import files and report what would happen, change nothing")
	flagConsole = flag.Bool("console", false, "Mirror each partition report to stdout")
	flagVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *flagVersion {
		fmt.Printf("provision-runner %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	log.SetFlags(log.LstdFlags)
	log.Printf("provision-runner v%s starting", Version)

	cfg, err := config.LoadConfig(*flagConfig)
	if err != nil {
		log.Fatalf("Config: %v", err)
	}

	if *flagDryRun {
		if err := dryRun(cfg); err != nil {
			log.Fatalf("Dry run: %v", err)
		}
		return
	}

	ctx, cancel := signalContext()
	defer cancel()

	if *flagWatch <= 0 {
		if err := runOnce(ctx, cfg); err != nil {
			log.Fatalf("Run failed: %v", err)
		}
		return
	}

	log.Printf("Watching %s every %s", cfg.ImportDir, *flagWatch)
	ticker := time.NewTicker(*flagWatch)
	defer ticker.Stop()

	for {
		if err := runOnce(ctx, cfg); err != nil {
			log.Printf("Run failed: %v", err)
		}
		select {
		case <-ctx.Done():
			log.Printf("Shutting down")
			return
		case <-ticker.C:
		}
	}
}

// runOnce performs one full ingestion pass.
func runOnce(ctx context.Context, cfg *config.Config) error {
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

	executor := winrm.NewExecutor()
	runner := &winrm.Runner{
		Exec:      executor,
		Username:  cfg.DCUsername,
		Password:  cfg.DCPassword,
		Port:      cfg.WinRMPort,
		UseSSL:    cfg.WinRMUseSSL,
		VerifySSL: cfg.WinRMVerifySSL,
	}

	gateway := directory.NewGateway(cfg.DomainController, cfg.DCUsername, cfg.DCPassword,
		cfg.SyncHost, cfg.RemoteTimeout, runner)

	runID := uuid.NewString()
	sink := report.NewSink(mail, cfg.MailRecipients, *flagConsole, runID)
	processor := provision.NewProcessor(provision.NewBuilder(gateway), gateway, sink)
	driver := provision.NewDriver(cfg, gateway, processor)

	summary, err := driver.Run(ctx)
	if err != nil {
		return err
	}

	log.Printf("Run %s: %d files, %d created, %d errored, %d file faults",
		summary.RunID, len(summary.Files), summary.Created(), summary.Errored(), len(summary.FileErrors))

	recordRun(ctx, cfg, summary)
	return nil
}

// recordRun writes the run to the ledger when one is configured. Ledger
// trouble is logged only; the emailed report already went out.
func recordRun(ctx context.Context, cfg *config.Config, summary *provision.RunSummary) {
	if cfg.LedgerDSN == "" {
		return
	}
	if len(summary.Files) == 0 && summary.Created()+summary.Errored() == 0 {
		return
	}

	l, err := ledger.Open(ctx, cfg.LedgerDSN)
	if err != nil {
		log.Printf("Ledger unavailable: %v", err)
		return
	}
	defer l.Close()

	run := ledger.Run{
		ID:         uuid.MustParse(summary.RunID),
		StartedAt:  summary.StartedAt,
		FinishedAt: summary.FinishedAt,
		Files:      summary.Files,
		Created:    summary.Created(),
		Errored:    summary.Errored(),
	}
	for _, p := range summary.Partitions {
		for _, s := range p.Results.Successes {
			run.Outcomes = append(run.Outcomes, ledger.Outcome{
				EmployeeID:  s.EmployeeID,
				AccountName: s.AccountName,
				Indicator:   p.Indicator,
				Status:      "created",
			})
		}
		for _, e := range p.Results.Errors {
			text := ""
			if len(e.Errors) > 0 {
				text = e.Errors[0]
			}
			run.Outcomes = append(run.Outcomes, ledger.Outcome{
				EmployeeID:  e.EmployeeID,
				AccountName: e.AccountName,
				Indicator:   p.Indicator,
				Status:      "error",
				ErrorText:   text,
			})
		}
	}

	if err := l.RecordRun(ctx, run); err != nil {
		log.Printf("Ledger write failed: %v", err)
	}
}

// dryRun parses the import files and prints what a real run would
// attempt, without touching the directory or the files.
func dryRun(cfg *config.Config) error {
	entries, err := os.ReadDir(cfg.ImportDir)
	if err != nil {
		return fmt.Errorf("list imports: %w", err)
	}

	files := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".csv" {
			continue
		}
		files++
		path := filepath.Join(cfg.ImportDir, e.Name())
		candidates, err := provision.ParseImportFile(path)
		if err != nil {
			fmt.Printf("%s: PARSE ERROR: %v\n", e.Name(), err)
			continue
		}

		counts := make(map[string]int)
		for _, c := range candidates {
			counts[c.Indicator]++
		}
		fmt.Printf("%s: %d candidates\n", e.Name(), len(candidates))
		for indicator, n := range counts {
			_, ok := cfg.PlacementFor(indicator)
			status := "ok"
			if !ok || !provision.KnownIndicator(indicator) {
				status = "NO PLACEMENT - would error"
			}
			fmt.Printf("  %-10s %3d  (%s)\n", indicator, n, status)
		}
	}

	if files == 0 {
		fmt.Printf("No import files in %s\n", cfg.ImportDir)
	}
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
