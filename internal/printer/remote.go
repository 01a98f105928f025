package printer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ScriptExecutor runs PowerShell on a target host.
type ScriptExecutor interface {
	RunScript(ctx context.Context, hostname, script, username, password string, timeout int) (string, error)
}

// RemoteServer is a print server reached over WinRM.
type RemoteServer struct {
	host     string
	username string
	password string
	timeout  int
	executor ScriptExecutor
}

// NewRemoteServer creates a remote job store for one host.
func NewRemoteServer(host, username, password string, timeout int, executor ScriptExecutor) *RemoteServer {
	if timeout <= 0 {
		timeout = 120
	}
	return &RemoteServer{
		host:     host,
		username: username,
		password: password,
		timeout:  timeout,
		executor: executor,
	}
}

// Name identifies the server in logs and sweep results.
func (r *RemoteServer) Name() string { return r.host }

const listJobsScript = `
$jobs = Get-Printer | ForEach-Object { Get-PrintJob -PrinterName $_.Name -ErrorAction SilentlyContinue } | ForEach-Object {
    @{
        Printer = $_.PrinterName
        Id = [int]$_.Id
        Document = $_.DocumentName
        Owner = $_.UserName
        Status = $_.JobStatus.ToString()
        SubmittedTime = $_.SubmittedTime.ToUniversalTime().ToString('o')
    }
}
@($jobs) | ConvertTo-Json -Compress
`

// ListJobs returns every job across the server's queues.
func (r *RemoteServer) ListJobs(ctx context.Context) ([]PrintJob, error) {
	output, err := r.executor.RunScript(ctx, r.host, listJobsScript, r.username, r.password, r.timeout)
	if err != nil {
		return nil, err
	}
	return parseJobOutput(output)
}

// RemoveJob deletes one job from its queue.
func (r *RemoteServer) RemoveJob(ctx context.Context, job PrintJob) error {
	script := fmt.Sprintf(`Remove-PrintJob -PrinterName %s -ID %d -ErrorAction Stop
"REMOVED"`, psQuote(job.Printer), job.ID)

	output, err := r.executor.RunScript(ctx, r.host, script, r.username, r.password, r.timeout)
	if err != nil {
		return err
	}
	if !strings.Contains(output, "REMOVED") {
		return fmt.Errorf("unexpected remove output: %s", strings.TrimSpace(output))
	}
	return nil
}

// RestartSpooler bounces the Spooler service.
func (r *RemoteServer) RestartSpooler(ctx context.Context) error {
	script := `Restart-Service -Name Spooler -Force -ErrorAction Stop
"RESTARTED"`

	output, err := r.executor.RunScript(ctx, r.host, script, r.username, r.password, r.timeout)
	if err != nil {
		return err
	}
	if !strings.Contains(output, "RESTARTED") {
		return fmt.Errorf("unexpected restart output: %s", strings.TrimSpace(output))
	}
	return nil
}

// parseJobOutput parses the ConvertTo-Json job list; a single job comes
// back as a bare object.
func parseJobOutput(output string) ([]PrintJob, error) {
	output = strings.TrimSpace(output)
	if output == "" {
		return nil, nil
	}

	var rawArray []map[string]interface{}
	if err := json.Unmarshal([]byte(output), &rawArray); err == nil {
		return parseJobMaps(rawArray), nil
	}

	var rawObj map[string]interface{}
	if err := json.Unmarshal([]byte(output), &rawObj); err == nil {
		return parseJobMaps([]map[string]interface{}{rawObj}), nil
	}

	return nil, fmt.Errorf("failed to parse print job JSON output")
}

func parseJobMaps(raw []map[string]interface{}) []PrintJob {
	jobs := make([]PrintJob, 0, len(raw))
	for _, m := range raw {
		printer, _ := m["Printer"].(string)
		if printer == "" {
			continue
		}
		id := 0
		if f, ok := m["Id"].(float64); ok {
			id = int(f)
		}
		document, _ := m["Document"].(string)
		owner, _ := m["Owner"].(string)
		status, _ := m["Status"].(string)

		var submitted time.Time
		if s, ok := m["SubmittedTime"].(string); ok && s != "" {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				submitted = t
			}
		}

		jobs = append(jobs, PrintJob{
			Printer:     printer,
			ID:          id,
			Document:    document,
			Owner:       owner,
			Status:      status,
			SubmittedAt: submitted,
		})
	}
	return jobs
}

// psQuote wraps a value in PowerShell single quotes, doubling embedded ones.
func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
