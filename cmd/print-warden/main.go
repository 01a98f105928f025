// print-warden keeps print servers healthy: one sweep by default
// (reap stuck jobs, restart a wedged spooler), -daemon for an interval
// loop, usable as a Windows service.
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
	"github.com/osiriscare/winops/internal/localps"
	"github.com/osiriscare/winops/internal/printer"
	"github.com/osiriscare/winops/internal/service"
	"github.com/osiriscare/winops/internal/winrm"
)

var (
	Version   = "1.2.0"
	BuildTime = "unknown"
)

var (
	flagConfig  = flag.String("config", defaultConfigPath(), "Config file path")
	flagLocal   = flag.Bool("local", false, "Manage this machine instead of the configured print servers")
	flagDaemon  = flag.Bool("daemon", false, "Keep sweeping on the configured interval")
	flagVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *flagVersion {
		fmt.Printf("print-warden %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	log.SetFlags(log.LstdFlags)
	log.Printf("print-warden v%s starting", Version)

	cfg, err := config.LoadConfig(*flagConfig)
	if err != nil {
		log.Fatalf("Config: %v", err)
	}

	wardens, err := buildWardens(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	if len(wardens) == 0 {
		log.Fatalf("No print servers configured; set print_servers or pass -local")
	}

	if service.IsWindowsService() {
		handler := &service.Handler{
			Name:    "WinOpsPrintWarden",
			RunFunc: func(ctx context.Context) error { return daemonLoop(ctx, cfg, wardens) },
		}
		if err := service.Run(handler); err != nil {
			log.Fatalf("Service failed: %v", err)
		}
		return
	}

	ctx, cancel := signalContext()
	defer cancel()

	if *flagDaemon {
		if err := daemonLoop(ctx, cfg, wardens); err != nil {
			log.Fatalf("Daemon failed: %v", err)
		}
		return
	}

	sweepAll(ctx, wardens)
}

// buildWardens wires one warden per managed server.
func buildWardens(cfg *config.Config) ([]*printer.Warden, error) {
	maxAge := time.Duration(cfg.StuckJobMinutes) * time.Minute
	throttle := printer.NewRestartThrottle(2, time.Hour)

	if *flagLocal {
		if !localps.Available() {
			return nil, fmt.Errorf("-local requires Windows")
		}
		hostname, _ := os.Hostname()
		store := printer.NewLocalServer(hostname)
		return []*printer.Warden{printer.NewWarden(store, maxAge, cfg.SpoolerRestart, throttle)}, nil
	}

	runner := &winrm.Runner{
		Exec:      winrm.NewExecutor(),
		Username:  cfg.DCUsername,
		Password:  cfg.DCPassword,
		Port:      cfg.WinRMPort,
		UseSSL:    cfg.WinRMUseSSL,
		VerifySSL: cfg.WinRMVerifySSL,
	}

	var wardens []*printer.Warden
	for _, host := range cfg.PrintServers {
		store := printer.NewRemoteServer(host, cfg.DCUsername, cfg.DCPassword, cfg.RemoteTimeout, runner)
		// Each server gets its own throttle so one wedged host can't
		// starve the others of restarts.
		wardens = append(wardens, printer.NewWarden(store, maxAge, cfg.SpoolerRestart, printer.NewRestartThrottle(2, time.Hour)))
	}
	return wardens, nil
}

// daemonLoop sweeps every server on the configured interval until the
// context ends.
func daemonLoop(ctx context.Context, cfg *config.Config, wardens []*printer.Warden) error {
	interval := time.Duration(cfg.PrintInterval) * time.Second
	log.Printf("Sweeping %d servers every %s", len(wardens), interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		sweepAll(ctx, wardens)
		select {
		case <-ctx.Done():
			log.Printf("Shutting down")
			return nil
		case <-ticker.C:
		}
	}
}

func sweepAll(ctx context.Context, wardens []*printer.Warden) {
	for _, w := range wardens {
		result, err := w.Sweep(ctx)
		if err != nil {
			log.Printf("Sweep failed: %v", err)
			continue
		}
		log.Printf("Sweep %s: %d jobs, %d removed, %d failures, restart=%v",
			result.Server, result.JobsSeen, result.JobsRemoved, result.RemoveFailures, result.SpoolerRestarted)
	}
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
