// Package directory performs Active Directory operations against a domain
// controller through remote PowerShell: bulk account reads, account
// creation, group membership, and the downstream identity sync trigger.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"
)

// Account holds the identifying attributes of an existing directory account.
type Account struct {
	EmployeeID        string   `json:"employee_id"`
	SAMAccountName    string   `json:"sam_account_name"`
	UserPrincipalName string   `json:"user_principal_name"`
	Mail              string   `json:"mail"`
	MailNickname      string   `json:"mail_nickname"`
	ProxyAddresses    []string `json:"proxy_addresses"`
}

// Snapshot is a one-time bulk read of existing accounts, taken before a
// provisioning run and never refreshed during it.
type Snapshot struct {
	Accounts  []Account `json:"accounts"`
	FetchedAt time.Time `json:"fetched_at"`
}

// CreateRequest carries the final attribute set for one New-ADUser call.
// The caller derives every value; the gateway only escapes and sends them.
type CreateRequest struct {
	DisplayName    string
	GivenName      string
	Surname        string
	Initials       string
	SAMAccountName string
	PrincipalName  string
	EmployeeID     string
	Password       string
	Container      string
	MailNickname   string
	ProxyAddress   string
}

// ScriptExecutor is the interface for running PowerShell scripts on a target.
type ScriptExecutor interface {
	RunScript(ctx context.Context, hostname, script, username, password string, timeout int) (string, error)
}

// Gateway issues directory operations against one domain controller.
type Gateway struct {
	domainController string
	username         string
	password         string
	syncHost         string
	timeout          int // seconds per remote call
	executor         ScriptExecutor
}

// NewGateway creates a gateway for the given DC. syncHost may be empty;
// TriggerSync then reports that the trigger is unconfigured.
func NewGateway(dc, username, password, syncHost string, timeout int, executor ScriptExecutor) *Gateway {
	if timeout <= 0 {
		timeout = 120
	}
	return &Gateway{
		domainController: dc,
		username:         username,
		password:         password,
		syncHost:         syncHost,
		timeout:          timeout,
		executor:         executor,
	}
}

// snapshot PowerShell script
const snapshotScript = `
Import-Module ActiveDirectory -ErrorAction SilentlyContinue

$users = Get-ADUser -Filter * -Properties EmployeeID, SamAccountName, UserPrincipalName, mail, mailNickname, proxyAddresses

$result = @()
foreach ($u in $users) {
    $obj = @{
        EmployeeID = $u.EmployeeID
        SamAccountName = $u.SamAccountName
        UserPrincipalName = $u.UserPrincipalName
        Mail = $u.mail
        MailNickname = $u.mailNickname
        ProxyAddresses = @($u.proxyAddresses)
    }
    $result += $obj
}

$result | ConvertTo-Json -Compress
`

// FetchSnapshot performs the one bulk read of existing account attributes.
func (g *Gateway) FetchSnapshot(ctx context.Context) (*Snapshot, error) {
	if g.executor == nil {
		return nil, fmt.Errorf("no script executor configured")
	}

	log.Printf("[directory] Fetching account snapshot from %s", g.domainController)

	output, err := g.executor.RunScript(ctx, g.domainController, snapshotScript, g.username, g.password, g.timeout)
	if err != nil {
		return nil, fmt.Errorf("snapshot fetch failed: %w", err)
	}

	accounts, err := parseAccountOutput(output)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot output: %w", err)
	}

	log.Printf("[directory] Snapshot holds %d accounts", len(accounts))

	return &Snapshot{
		Accounts:  accounts,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// CreateUser creates one directory account. The returned error carries the
// directory's own failure text verbatim; callers inspect it for retry and
// report it to operators unchanged.
func (g *Gateway) CreateUser(ctx context.Context, req CreateRequest) error {
	if g.executor == nil {
		return fmt.Errorf("no script executor configured")
	}

	var other []string
	other = append(other, fmt.Sprintf("mailNickname=%s", psQuote(req.MailNickname)))
	other = append(other, fmt.Sprintf("proxyAddresses=%s", psQuote(req.ProxyAddress)))

	var initials string
	if req.Initials != "" {
		initials = fmt.Sprintf("-Initials %s ", psQuote(req.Initials))
	}

	script := fmt.Sprintf(`
Import-Module ActiveDirectory -ErrorAction SilentlyContinue
$pw = ConvertTo-SecureString -String %s -AsPlainText -Force
New-ADUser -Name %s -DisplayName %s -GivenName %s -Surname %s %s`+
		`-SamAccountName %s -UserPrincipalName %s -EmailAddress %s -EmployeeID %s `+
		`-Path %s -AccountPassword $pw -ChangePasswordAtLogon $true -Enabled $true `+
		`-OtherAttributes @{ %s } -ErrorAction Stop
"CREATED"
`,
		psQuote(req.Password),
		psQuote(req.DisplayName), psQuote(req.DisplayName), psQuote(req.GivenName), psQuote(req.Surname), initials,
		psQuote(req.SAMAccountName), psQuote(req.PrincipalName), psQuote(req.PrincipalName), psQuote(req.EmployeeID),
		psQuote(req.Container),
		strings.Join(other, "; "),
	)

	output, err := g.executor.RunScript(ctx, g.domainController, script, g.username, g.password, g.timeout)
	if err != nil {
		return err
	}
	if !strings.Contains(output, "CREATED") {
		return fmt.Errorf("unexpected create output: %s", strings.TrimSpace(output))
	}

	log.Printf("[directory] Created account %s (%s)", req.SAMAccountName, req.DisplayName)
	return nil
}

// AddGroupMembers adds the given members to every group, in one remote call.
func (g *Gateway) AddGroupMembers(ctx context.Context, groups, members []string) error {
	if g.executor == nil {
		return fmt.Errorf("no script executor configured")
	}
	if len(groups) == 0 || len(members) == 0 {
		return nil
	}

	script := fmt.Sprintf(`
Import-Module ActiveDirectory -ErrorAction SilentlyContinue
$members = @(%s)
foreach ($g in @(%s)) {
    Add-ADGroupMember -Identity $g -Members $members -ErrorAction Stop
}
"OK"
`, psQuoteList(members), psQuoteList(groups))

	output, err := g.executor.RunScript(ctx, g.domainController, script, g.username, g.password, g.timeout)
	if err != nil {
		return fmt.Errorf("group assignment failed: %w", err)
	}
	if !strings.Contains(output, "OK") {
		return fmt.Errorf("unexpected group assignment output: %s", strings.TrimSpace(output))
	}

	log.Printf("[directory] Added %d members to %d groups", len(members), len(groups))
	return nil
}

// TriggerSync starts a delta sync cycle on the sync host. Callers log the
// result and move on; the run never fails on this.
func (g *Gateway) TriggerSync(ctx context.Context) error {
	if g.syncHost == "" {
		log.Printf("[directory] No sync host configured, skipping sync trigger")
		return nil
	}
	if g.executor == nil {
		return fmt.Errorf("no script executor configured")
	}

	script := `
Import-Module ADSync -ErrorAction SilentlyContinue
Start-ADSyncSyncCycle -PolicyType Delta | Out-Null
"TRIGGERED"
`

	output, err := g.executor.RunScript(ctx, g.syncHost, script, g.username, g.password, g.timeout)
	if err != nil {
		return fmt.Errorf("sync trigger failed: %w", err)
	}
	if !strings.Contains(output, "TRIGGERED") {
		return fmt.Errorf("unexpected sync trigger output: %s", strings.TrimSpace(output))
	}

	log.Printf("[directory] Identity sync cycle triggered on %s", g.syncHost)
	return nil
}

// parseAccountOutput parses the JSON output from Get-ADUser.
func parseAccountOutput(output string) ([]Account, error) {
	output = strings.TrimSpace(output)
	if output == "" {
		return nil, nil
	}

	// Try array first
	var rawArray []map[string]interface{}
	if err := json.Unmarshal([]byte(output), &rawArray); err == nil {
		return parseAccountMaps(rawArray), nil
	}

	// Try single object
	var rawObj map[string]interface{}
	if err := json.Unmarshal([]byte(output), &rawObj); err == nil {
		return parseAccountMaps([]map[string]interface{}{rawObj}), nil
	}

	return nil, fmt.Errorf("failed to parse account JSON output")
}

func parseAccountMaps(raw []map[string]interface{}) []Account {
	accounts := make([]Account, 0, len(raw))
	for _, m := range raw {
		accounts = append(accounts, Account{
			EmployeeID:        strVal(m, "EmployeeID"),
			SAMAccountName:    strVal(m, "SamAccountName"),
			UserPrincipalName: strVal(m, "UserPrincipalName"),
			Mail:              strVal(m, "Mail"),
			MailNickname:      strVal(m, "MailNickname"),
			ProxyAddresses:    strSliceVal(m, "ProxyAddresses"),
		})
	}
	return accounts
}

// --- Map access helpers ---

func strVal(m map[string]interface{}, key string) string {
	v, _ := m[key].(string)
	return v
}

// strSliceVal reads a value that PowerShell may emit as either a string or
// an array, depending on element count.
func strSliceVal(m map[string]interface{}, key string) []string {
	switch v := m[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	}
	return nil
}

// --- PowerShell quoting ---

// psQuote wraps a value in PowerShell single quotes, doubling embedded ones.
func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func psQuoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = psQuote(item)
	}
	return strings.Join(quoted, ",")
}
