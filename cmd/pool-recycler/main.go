// pool-recycler recycles IIS application pools, interactively by
// default. Runs against the local machine, or a remote host over WinRM
// with -host.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/osiriscare/winops/internal/config"
	"github.com/osiriscare/winops/internal/iis"
	"github.com/osiriscare/winops/internal/localps"
	"github.com/osiriscare/winops/internal/winrm"
)

var (
	Version   = "1.2.0"
	BuildTime = "unknown"
)

var (
	flagConfig  = flag.String("config", defaultConfigPath(), "Config file path")
	flagHost    = flag.String("host", "", "IIS host to manage over WinRM (default: local machine)")
	flagPool    = flag.String("pool", "", "Only consider the named pool")
	flagAll     = flag.Bool("all", false, "Consider every pool")
	flagYes     = flag.Bool("yes", false, "Recycle without prompting")
	flagVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *flagVersion {
		fmt.Printf("pool-recycler %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	log.SetFlags(log.LstdFlags)

	cfg, err := config.LoadConfig(*flagConfig)
	if err != nil {
		log.Fatalf("Config: %v", err)
	}

	manager, err := buildManager(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx := context.Background()
	if err := run(ctx, manager); err != nil {
		log.Fatalf("%v", err)
	}
}

// buildManager wires a local or remote pool manager.
func buildManager(cfg *config.Config) (*iis.Manager, error) {
	if *flagHost == "" {
		if !localps.Available() {
			return nil, fmt.Errorf("local execution requires Windows; use -host to manage a remote IIS server")
		}
		return iis.NewManager("localhost", "", "", cfg.RemoteTimeout, localps.Runner{}), nil
	}

	runner := &winrm.Runner{
		Exec:      winrm.NewExecutor(),
		Username:  cfg.DCUsername,
		Password:  cfg.DCPassword,
		Port:      cfg.WinRMPort,
		UseSSL:    cfg.WinRMUseSSL,
		VerifySSL: cfg.WinRMVerifySSL,
	}
	return iis.NewManager(*flagHost, cfg.DCUsername, cfg.DCPassword, cfg.RemoteTimeout, runner), nil
}

func run(ctx context.Context, manager *iis.Manager) error {
	pools, err := manager.ListPools(ctx)
	if err != nil {
		return err
	}
	if len(pools) == 0 {
		fmt.Println("No application pools found")
		return nil
	}

	fmt.Printf("%-40s %-10s %-8s %s\n", "POOL", "STATE", "QUEUE", "AUTOSTART")
	for _, p := range pools {
		fmt.Printf("%-40s %-10s %-8d %v\n", p.Name, p.State, p.QueueLength, p.AutoStart)
	}
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)
	cycled := 0

	for _, p := range pools {
		if *flagPool != "" && !strings.EqualFold(p.Name, *flagPool) {
			continue
		}
		if *flagPool == "" && *flagYes && !*flagAll {
			return fmt.Errorf("-yes without -pool requires -all")
		}

		if !*flagYes {
			verb := "Recycle"
			if p.Stopped() {
				verb = "Start"
			}
			fmt.Printf("%s pool '%s'? [y/N/q] ", verb, p.Name)
			line, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("read prompt: %w", err)
			}
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "y", "yes":
			case "q", "quit":
				fmt.Printf("Done: %d pools cycled\n", cycled)
				return nil
			default:
				continue
			}
		}

		state, err := manager.CyclePool(ctx, p)
		if err != nil {
			fmt.Printf("  FAILED: %v\n", err)
			continue
		}
		fmt.Printf("  %s -> %s\n", p.Name, state)
		cycled++
	}

	fmt.Printf("Done: %d pools cycled\n", cycled)
	return nil
}

func defaultConfigPath() string {
	if v := os.Getenv("WINOPS_CONFIG"); v != "" {
		return v
	}
	return "winops.yaml"
}
