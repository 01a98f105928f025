// Package iis manages IIS application pools through PowerShell's
// WebAdministration module, locally or on a remote host over WinRM.
package iis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
)

// AppPool describes one application pool.
type AppPool struct {
	Name        string
	State       string // Started, Stopped, Starting, Stopping
	QueueLength int
	AutoStart   bool
}

// Stopped reports whether the pool is not serving.
func (p AppPool) Stopped() bool {
	return strings.EqualFold(p.State, "Stopped")
}

// ScriptExecutor runs PowerShell on a target host.
type ScriptExecutor interface {
	RunScript(ctx context.Context, hostname, script, username, password string, timeout int) (string, error)
}

// Manager issues app pool operations against one IIS host.
type Manager struct {
	host     string
	username string
	password string
	timeout  int
	executor ScriptExecutor
}

// NewManager creates a manager for the given host.
func NewManager(host, username, password string, timeout int, executor ScriptExecutor) *Manager {
	if timeout <= 0 {
		timeout = 120
	}
	return &Manager{
		host:     host,
		username: username,
		password: password,
		timeout:  timeout,
		executor: executor,
	}
}

const listPoolsScript = `
Import-Module WebAdministration -ErrorAction Stop

$pools = Get-ChildItem IIS:\AppPools | ForEach-Object {
    @{
        Name = $_.Name
        State = $_.State.ToString()
        QueueLength = [int]$_.QueueLength
        AutoStart = [bool]$_.AutoStart
    }
}
@($pools) | ConvertTo-Json -Compress
`

// ListPools returns every application pool on the host.
func (m *Manager) ListPools(ctx context.Context) ([]AppPool, error) {
	output, err := m.executor.RunScript(ctx, m.host, listPoolsScript, m.username, m.password, m.timeout)
	if err != nil {
		return nil, fmt.Errorf("list app pools: %w", err)
	}
	return parsePoolOutput(output)
}

// CyclePool recycles a pool, or starts it when it is stopped (recycling
// a stopped pool errors out in IIS). Returns the pool's new state.
func (m *Manager) CyclePool(ctx context.Context, pool AppPool) (string, error) {
	verb := "Restart-WebAppPool"
	if pool.Stopped() {
		verb = "Start-WebAppPool"
	}

	script := fmt.Sprintf(`
Import-Module WebAdministration -ErrorAction Stop
%s -Name %s -ErrorAction Stop
(Get-WebAppPoolState -Name %s).Value
`, verb, psQuote(pool.Name), psQuote(pool.Name))

	output, err := m.executor.RunScript(ctx, m.host, script, m.username, m.password, m.timeout)
	if err != nil {
		return "", fmt.Errorf("cycle pool %s: %w", pool.Name, err)
	}

	state := strings.TrimSpace(output)
	log.Printf("[iis] Pool %s on %s: %s", pool.Name, m.host, state)
	return state, nil
}

// parsePoolOutput parses the JSON list from WebAdministration. A single
// pool comes back as a bare object instead of a one-element array.
func parsePoolOutput(output string) ([]AppPool, error) {
	output = strings.TrimSpace(output)
	if output == "" {
		return nil, nil
	}

	var rawArray []map[string]interface{}
	if err := json.Unmarshal([]byte(output), &rawArray); err == nil {
		return parsePoolMaps(rawArray), nil
	}

	var rawObj map[string]interface{}
	if err := json.Unmarshal([]byte(output), &rawObj); err == nil {
		return parsePoolMaps([]map[string]interface{}{rawObj}), nil
	}

	return nil, fmt.Errorf("failed to parse app pool JSON output")
}

func parsePoolMaps(raw []map[string]interface{}) []AppPool {
	pools := make([]AppPool, 0, len(raw))
	for _, m := range raw {
		name, _ := m["Name"].(string)
		if name == "" {
			continue
		}
		state, _ := m["State"].(string)
		queue := 0
		if f, ok := m["QueueLength"].(float64); ok {
			queue = int(f)
		}
		auto, _ := m["AutoStart"].(bool)
		pools = append(pools, AppPool{
			Name:        name,
			State:       state,
			QueueLength: queue,
			AutoStart:   auto,
		})
	}
	return pools
}

// psQuote wraps a value in PowerShell single quotes, doubling embedded ones.
func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
