package iis

import (
	"context"
	"strings"
	"testing"
)

// mockExecutor implements ScriptExecutor for tests.
type mockExecutor struct {
	output  string
	err     error
	scripts []string
	hosts   []string
}

func (m *mockExecutor) RunScript(_ context.Context, hostname, script, _, _ string, _ int) (string, error) {
	m.scripts = append(m.scripts, script)
	m.hosts = append(m.hosts, hostname)
	return m.output, m.err
}

func TestListPools(t *testing.T) {
	exec := &mockExecutor{
		output: `[{"Name":"DefaultAppPool","State":"Started","QueueLength":1000,"AutoStart":true},` +
			`{"Name":"LegacyApp","State":"Stopped","QueueLength":1000,"AutoStart":false}]`,
	}
	m := NewManager("web01", "admin", "pass", 0, exec)

	pools, err := m.ListPools(context.Background())
	if err != nil {
		t.Fatalf("ListPools: %v", err)
	}
	if len(pools) != 2 {
		t.Fatalf("expected 2 pools, got %d", len(pools))
	}
	if pools[0].Name != "DefaultAppPool" || pools[0].State != "Started" || pools[0].QueueLength != 1000 || !pools[0].AutoStart {
		t.Fatalf("unexpected pool: %+v", pools[0])
	}
	if !pools[1].Stopped() {
		t.Fatal("LegacyApp should report stopped")
	}
	if exec.hosts[0] != "web01" {
		t.Fatalf("wrong host: %s", exec.hosts[0])
	}
}

func TestListPoolsSingleObject(t *testing.T) {
	// ConvertTo-Json collapses a one-element list to a bare object
	exec := &mockExecutor{output: `{"Name":"OnlyPool","State":"Started","QueueLength":4000,"AutoStart":true}`}
	m := NewManager("web01", "admin", "pass", 0, exec)

	pools, err := m.ListPools(context.Background())
	if err != nil {
		t.Fatalf("ListPools: %v", err)
	}
	if len(pools) != 1 || pools[0].Name != "OnlyPool" {
		t.Fatalf("unexpected pools: %+v", pools)
	}
}

func TestCyclePoolStartedUsesRestart(t *testing.T) {
	exec := &mockExecutor{output: "Started"}
	m := NewManager("web01", "admin", "pass", 0, exec)

	state, err := m.CyclePool(context.Background(), AppPool{Name: "DefaultAppPool", State: "Started"})
	if err != nil {
		t.Fatalf("CyclePool: %v", err)
	}
	if state != "Started" {
		t.Fatalf("unexpected state: %q", state)
	}
	if !strings.Contains(exec.scripts[0], "Restart-WebAppPool") {
		t.Fatalf("started pool must be recycled:\n%s", exec.scripts[0])
	}
}

func TestCyclePoolStoppedUsesStart(t *testing.T) {
	// Recycling a stopped pool errors in IIS; it must be started instead
	exec := &mockExecutor{output: "Started"}
	m := NewManager("web01", "admin", "pass", 0, exec)

	if _, err := m.CyclePool(context.Background(), AppPool{Name: "LegacyApp", State: "Stopped"}); err != nil {
		t.Fatalf("CyclePool: %v", err)
	}
	if !strings.Contains(exec.scripts[0], "Start-WebAppPool") {
		t.Fatalf("stopped pool must be started:\n%s", exec.scripts[0])
	}
	if strings.Contains(exec.scripts[0], "Restart-WebAppPool") {
		t.Fatalf("stopped pool must not be recycled:\n%s", exec.scripts[0])
	}
}

func TestCyclePoolQuotesName(t *testing.T) {
	exec := &mockExecutor{output: "Started"}
	m := NewManager("web01", "admin", "pass", 0, exec)

	if _, err := m.CyclePool(context.Background(), AppPool{Name: "O'Brien App", State: "Started"}); err != nil {
		t.Fatalf("CyclePool: %v", err)
	}
	if !strings.Contains(exec.scripts[0], "'O''Brien App'") {
		t.Fatalf("pool name not quoted for PowerShell:\n%s", exec.scripts[0])
	}
}
