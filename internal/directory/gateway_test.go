package directory

import (
	"context"
	"encoding/json"
	"fmt"
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

func TestFetchSnapshot(t *testing.T) {
	accounts := []map[string]interface{}{
		{
			"EmployeeID":        "1234567",
			"SamAccountName":    "jdoe",
			"UserPrincipalName": "jdoe@corp.example.com",
			"Mail":              "jdoe@corp.example.com",
			"MailNickname":      "jdoe",
			"ProxyAddresses":    []string{"SMTP:jdoe@corp.example.com", "smtp:john.doe@corp.example.com"},
		},
		{
			"EmployeeID":        "7654321",
			"SamAccountName":    "asmith",
			"UserPrincipalName": "asmith@corp.example.com",
			"Mail":              "asmith@corp.example.com",
			"MailNickname":      "asmith",
			// Single proxy address collapses to a bare string in PowerShell JSON
			"ProxyAddresses": "SMTP:asmith@corp.example.com",
		},
	}

	output, _ := json.Marshal(accounts)
	exec := &mockExecutor{output: string(output)}

	gw := NewGateway("dc01", "admin", "pass", "", 0, exec)
	snap, err := gw.FetchSnapshot(context.Background())
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}

	if len(snap.Accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(snap.Accounts))
	}
	if snap.Accounts[0].EmployeeID != "1234567" {
		t.Fatalf("unexpected employee id: %s", snap.Accounts[0].EmployeeID)
	}
	if len(snap.Accounts[0].ProxyAddresses) != 2 {
		t.Fatalf("expected 2 proxy addresses, got %d", len(snap.Accounts[0].ProxyAddresses))
	}
	if len(snap.Accounts[1].ProxyAddresses) != 1 {
		t.Fatalf("expected 1 proxy address from collapsed string, got %d", len(snap.Accounts[1].ProxyAddresses))
	}
	if snap.FetchedAt.IsZero() {
		t.Fatal("FetchedAt should be set")
	}
	if exec.hosts[0] != "dc01" {
		t.Fatalf("snapshot should hit the DC, got %s", exec.hosts[0])
	}
}

func TestFetchSnapshotSingleResult(t *testing.T) {
	single := map[string]interface{}{
		"EmployeeID":        "1111111",
		"SamAccountName":    "solo",
		"UserPrincipalName": "solo@test.local",
	}

	output, _ := json.Marshal(single)
	exec := &mockExecutor{output: string(output)}

	gw := NewGateway("dc01", "admin", "pass", "", 0, exec)
	snap, err := gw.FetchSnapshot(context.Background())
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}
	if len(snap.Accounts) != 1 {
		t.Fatalf("expected 1 account, got %d", len(snap.Accounts))
	}
}

func TestFetchSnapshotEmpty(t *testing.T) {
	exec := &mockExecutor{output: "[]"}

	gw := NewGateway("dc01", "admin", "pass", "", 0, exec)
	snap, err := gw.FetchSnapshot(context.Background())
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}
	if len(snap.Accounts) != 0 {
		t.Fatal("expected empty snapshot")
	}
}

func TestFetchSnapshotExecutorError(t *testing.T) {
	exec := &mockExecutor{err: fmt.Errorf("WinRM timeout")}

	gw := NewGateway("dc01", "admin", "pass", "", 0, exec)
	_, err := gw.FetchSnapshot(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestFetchSnapshotNoExecutor(t *testing.T) {
	gw := NewGateway("dc01", "admin", "pass", "", 0, nil)
	_, err := gw.FetchSnapshot(context.Background())
	if err == nil {
		t.Fatal("expected error for nil executor")
	}
}

func TestParseAccountOutputInvalidJSON(t *testing.T) {
	_, err := parseAccountOutput("not json")
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseAccountOutputEmptyString(t *testing.T) {
	accounts, err := parseAccountOutput("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if accounts != nil {
		t.Fatal("expected nil for empty string")
	}
}

func TestCreateUser(t *testing.T) {
	exec := &mockExecutor{output: "CREATED"}

	gw := NewGateway("dc01", "admin", "pass", "", 0, exec)
	err := gw.CreateUser(context.Background(), CreateRequest{
		DisplayName:    "Doe, John Q.",
		GivenName:      "John",
		Surname:        "Doe",
		Initials:       "Q",
		SAMAccountName: "johndoe",
		PrincipalName:  "johndoe@corp.example.com",
		EmployeeID:     "1234567",
		Password:       "1234567",
		Container:      "OU=Staff,DC=corp,DC=example,DC=com",
		MailNickname:   "johndoe",
		ProxyAddress:   "SMTP:johndoe@corp.example.com",
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	script := exec.scripts[0]
	for _, want := range []string{
		"New-ADUser",
		"'Doe, John Q.'",
		"-SamAccountName 'johndoe'",
		"-UserPrincipalName 'johndoe@corp.example.com'",
		"-EmployeeID '1234567'",
		"-Path 'OU=Staff,DC=corp,DC=example,DC=com'",
		"-ChangePasswordAtLogon $true",
		"-Enabled $true",
		"mailNickname='johndoe'",
		"proxyAddresses='SMTP:johndoe@corp.example.com'",
		"-Initials 'Q'",
	} {
		if !strings.Contains(script, want) {
			t.Fatalf("create script missing %q:\n%s", want, script)
		}
	}
}

func TestCreateUserEscapesQuotes(t *testing.T) {
	exec := &mockExecutor{output: "CREATED"}

	gw := NewGateway("dc01", "admin", "pass", "", 0, exec)
	err := gw.CreateUser(context.Background(), CreateRequest{
		DisplayName:    "O'Brien, Sean",
		GivenName:      "Sean",
		Surname:        "O'Brien",
		SAMAccountName: "sobrien",
		PrincipalName:  "sobrien@corp.example.com",
		EmployeeID:     "2222222",
		Password:       "2222222",
		Container:      "OU=Staff,DC=corp,DC=example,DC=com",
		MailNickname:   "sobrien",
		ProxyAddress:   "SMTP:sobrien@corp.example.com",
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	if !strings.Contains(exec.scripts[0], "'O''Brien, Sean'") {
		t.Fatalf("expected doubled quotes in script:\n%s", exec.scripts[0])
	}
}

func TestCreateUserPassesDirectoryError(t *testing.T) {
	exec := &mockExecutor{err: fmt.Errorf("The specified account already exists")}

	gw := NewGateway("dc01", "admin", "pass", "", 0, exec)
	err := gw.CreateUser(context.Background(), CreateRequest{SAMAccountName: "dup"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "The specified account already exists") {
		t.Fatalf("directory error text should pass through, got: %v", err)
	}
}

func TestCreateUserUnexpectedOutput(t *testing.T) {
	exec := &mockExecutor{output: "WARNING: something odd"}

	gw := NewGateway("dc01", "admin", "pass", "", 0, exec)
	err := gw.CreateUser(context.Background(), CreateRequest{SAMAccountName: "odd"})
	if err == nil {
		t.Fatal("expected error for missing CREATED marker")
	}
}

func TestAddGroupMembers(t *testing.T) {
	exec := &mockExecutor{output: "OK"}

	gw := NewGateway("dc01", "admin", "pass", "", 0, exec)
	err := gw.AddGroupMembers(context.Background(),
		[]string{"Staff-All", "VPN-Users"},
		[]string{"jdoe", "asmith"})
	if err != nil {
		t.Fatalf("AddGroupMembers: %v", err)
	}

	script := exec.scripts[0]
	if !strings.Contains(script, "@('jdoe','asmith')") {
		t.Fatalf("expected member list in script:\n%s", script)
	}
	if !strings.Contains(script, "@('Staff-All','VPN-Users')") {
		t.Fatalf("expected group list in script:\n%s", script)
	}
	if len(exec.scripts) != 1 {
		t.Fatalf("group assignment should be one remote call, got %d", len(exec.scripts))
	}
}

func TestAddGroupMembersEmpty(t *testing.T) {
	exec := &mockExecutor{output: "OK"}

	gw := NewGateway("dc01", "admin", "pass", "", 0, exec)
	if err := gw.AddGroupMembers(context.Background(), nil, []string{"jdoe"}); err != nil {
		t.Fatalf("empty groups should no-op: %v", err)
	}
	if err := gw.AddGroupMembers(context.Background(), []string{"G"}, nil); err != nil {
		t.Fatalf("empty members should no-op: %v", err)
	}
	if len(exec.scripts) != 0 {
		t.Fatal("no remote calls expected for empty input")
	}
}

func TestTriggerSync(t *testing.T) {
	exec := &mockExecutor{output: "TRIGGERED"}

	gw := NewGateway("dc01", "admin", "pass", "aadc01", 0, exec)
	if err := gw.TriggerSync(context.Background()); err != nil {
		t.Fatalf("TriggerSync: %v", err)
	}
	if exec.hosts[0] != "aadc01" {
		t.Fatalf("sync should hit the sync host, got %s", exec.hosts[0])
	}
	if !strings.Contains(exec.scripts[0], "Start-ADSyncSyncCycle") {
		t.Fatalf("unexpected sync script:\n%s", exec.scripts[0])
	}
}

func TestTriggerSyncNoHost(t *testing.T) {
	exec := &mockExecutor{output: "TRIGGERED"}

	gw := NewGateway("dc01", "admin", "pass", "", 0, exec)
	if err := gw.TriggerSync(context.Background()); err != nil {
		t.Fatalf("unconfigured sync host should not error: %v", err)
	}
	if len(exec.scripts) != 0 {
		t.Fatal("no remote call expected without sync host")
	}
}

func TestPsQuote(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"plain", "'plain'"},
		{"O'Brien", "'O''Brien'"},
		{"", "''"},
		{"it's a 'test'", "'it''s a ''test'''"},
	}

	for _, tt := range tests {
		if got := psQuote(tt.input); got != tt.expected {
			t.Fatalf("psQuote(%q) = %s, want %s", tt.input, got, tt.expected)
		}
	}
}

func TestStrSliceVal(t *testing.T) {
	m := map[string]interface{}{
		"array":  []interface{}{"a", "b"},
		"single": "solo",
		"empty":  "",
		"mixed":  []interface{}{"x", 42, ""},
	}

	if got := strSliceVal(m, "array"); len(got) != 2 {
		t.Fatalf("expected 2 items, got %v", got)
	}
	if got := strSliceVal(m, "single"); len(got) != 1 || got[0] != "solo" {
		t.Fatalf("expected [solo], got %v", got)
	}
	if got := strSliceVal(m, "empty"); got != nil {
		t.Fatalf("expected nil for empty string, got %v", got)
	}
	if got := strSliceVal(m, "missing"); got != nil {
		t.Fatalf("expected nil for missing key, got %v", got)
	}
	if got := strSliceVal(m, "mixed"); len(got) != 1 || got[0] != "x" {
		t.Fatalf("expected [x] from mixed array, got %v", got)
	}
}
