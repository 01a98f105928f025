// Package config loads the shared winops suite configuration.
//
// All four tools read the same YAML file; each binary only requires the
// sections it actually uses and may override values with flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Placement maps an account-type indicator to its OU and group set.
type Placement struct {
	Container string   `yaml:"container"` // OU distinguished name
	Groups    []string `yaml:"groups"`
}

// Config holds configuration for the whole suite.
type Config struct {
	// Directory connection
	DomainController string `yaml:"domain_controller"`
	DCUsername       string `yaml:"dc_username"` // DOMAIN\user format
	DCPassword       string `yaml:"dc_password"`
	WinRMPort        int    `yaml:"winrm_port"`
	WinRMUseSSL      bool   `yaml:"winrm_use_ssl"`
	WinRMVerifySSL   bool   `yaml:"winrm_verify_ssl"`

	// Downstream identity sync host (AAD Connect). Empty disables the trigger.
	SyncHost string `yaml:"sync_host"`

	// Provisioning
	ImportDir  string               `yaml:"import_dir"`
	ArchiveDir string               `yaml:"archive_dir"`
	Placements map[string]Placement `yaml:"placements"`

	// Mail
	SMTPHost       string   `yaml:"smtp_host"`
	SMTPPort       int      `yaml:"smtp_port"`
	SMTPUsername   string   `yaml:"smtp_username"`
	SMTPPassword   string   `yaml:"smtp_password"`
	MailFrom       string   `yaml:"mail_from"`
	MailRecipients []string `yaml:"mail_recipients"`

	// Provisioning run history (optional; empty DSN disables)
	LedgerDSN string `yaml:"ledger_dsn"`

	// Print warden
	PrintServers    []string `yaml:"print_servers"`
	StuckJobMinutes int      `yaml:"stuck_job_minutes"`
	PrintInterval   int      `yaml:"print_interval"` // seconds between sweeps in daemon mode
	SpoolerRestart  bool     `yaml:"spooler_restart"`

	// Reset notifier
	ResetPollInterval int      `yaml:"reset_poll_interval"` // seconds, polling mode
	ResetCooldown     int      `yaml:"reset_cooldown"`      // minutes per account
	ResetRecipients   []string `yaml:"reset_recipients"`    // defaults to mail_recipients

	// Paths
	DataDir string `yaml:"data_dir"`

	// Remote operation timeout in seconds
	RemoteTimeout int `yaml:"remote_timeout"`
}

// DefaultConfig returns a config with sane defaults.
func DefaultConfig() Config {
	return Config{
		WinRMPort:         5985,
		SMTPPort:          25,
		ImportDir:         `C:\Imports\Accounts`,
		ArchiveDir:        `C:\Imports\Accounts\Archive`,
		StuckJobMinutes:   60,
		PrintInterval:     300,
		SpoolerRestart:    true,
		ResetPollInterval: 60,
		ResetCooldown:     15,
		DataDir:           filepath.Join(programData(), "WinOps"),
		RemoteTimeout:     120,
	}
}

// LoadConfig loads configuration from a YAML file with env overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Secrets come from the environment when set
	if v := os.Getenv("WINOPS_DC_PASSWORD"); v != "" {
		cfg.DCPassword = v
	}
	if v := os.Getenv("WINOPS_SMTP_PASSWORD"); v != "" {
		cfg.SMTPPassword = v
	}
	if v := os.Getenv("WINOPS_LEDGER_DSN"); v != "" {
		cfg.LedgerDSN = v
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	for name, p := range c.Placements {
		if p.Container == "" {
			return fmt.Errorf("placement %q: container is required", name)
		}
	}
	if c.WinRMPort <= 0 || c.WinRMPort > 65535 {
		return fmt.Errorf("winrm_port out of range: %d", c.WinRMPort)
	}
	if c.StuckJobMinutes < 5 {
		c.StuckJobMinutes = 5
	}
	if c.PrintInterval < 30 {
		c.PrintInterval = 30
	}
	if c.PrintInterval > 3600 {
		c.PrintInterval = 3600
	}
	if c.ResetPollInterval < 10 {
		c.ResetPollInterval = 10
	}
	if c.ResetPollInterval > 600 {
		c.ResetPollInterval = 600
	}
	if c.RemoteTimeout < 30 {
		c.RemoteTimeout = 30
	}
	if c.RemoteTimeout > 600 {
		c.RemoteTimeout = 600
	}
	return nil
}

// PlacementFor resolves the placement for an indicator, case-insensitively.
func (c *Config) PlacementFor(indicator string) (Placement, bool) {
	for name, p := range c.Placements {
		if strings.EqualFold(name, indicator) {
			return p, true
		}
	}
	return Placement{}, false
}

// OutboxDBPath returns the SQLite mail outbox database path.
func (c *Config) OutboxDBPath() string {
	return filepath.Join(c.DataDir, "outbox.db")
}

// ResetStatePath returns the reset notifier's high-water-mark file path.
func (c *Config) ResetStatePath() string {
	return filepath.Join(c.DataDir, "reset_notifier_state.json")
}

func programData() string {
	if v := os.Getenv("PROGRAMDATA"); v != "" {
		return v
	}
	return `C:\ProgramData`
}
