//go:build windows

package printer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"

	"github.com/osiriscare/winops/internal/localps"
)

// LocalServer manages the print server the tool runs on: WMI for job
// enumeration, local PowerShell for job removal, SCM for the spooler.
type LocalServer struct {
	hostname string
}

// NewLocalServer creates the local job store.
func NewLocalServer(hostname string) *LocalServer {
	if hostname == "" {
		hostname = "localhost"
	}
	return &LocalServer{hostname: hostname}
}

// Name identifies the server in logs and sweep results.
func (l *LocalServer) Name() string { return l.hostname }

// ListJobs enumerates Win32_PrintJob over WMI.
func (l *LocalServer) ListJobs(ctx context.Context) ([]PrintJob, error) {
	rows, err := wmiQuery(ctx, `SELECT Name, JobId, Document, Owner, JobStatus, Status, TimeSubmitted FROM Win32_PrintJob`)
	if err != nil {
		return nil, fmt.Errorf("WMI print job query: %w", err)
	}

	jobs := make([]PrintJob, 0, len(rows))
	for _, row := range rows {
		// Win32_PrintJob.Name is "PrinterName, JobId"
		name, _ := row["Name"].(string)
		printer := name
		if i := strings.LastIndex(name, ","); i >= 0 {
			printer = strings.TrimSpace(name[:i])
		}

		id := 0
		switch v := row["JobId"].(type) {
		case int64:
			id = int(v)
		case float64:
			id = int(v)
		}

		status, _ := row["JobStatus"].(string)
		if status == "" {
			status, _ = row["Status"].(string)
		}
		document, _ := row["Document"].(string)
		owner, _ := row["Owner"].(string)

		var submitted time.Time
		if s, ok := row["TimeSubmitted"].(string); ok {
			submitted = parseWMIDatetime(s)
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
	return jobs, nil
}

// RemoveJob deletes one job via local PowerShell.
func (l *LocalServer) RemoveJob(ctx context.Context, job PrintJob) error {
	script := fmt.Sprintf(`Remove-PrintJob -PrinterName %s -ID %d`, psQuote(job.Printer), job.ID)
	if _, err := localps.Run(ctx, script); err != nil {
		return err
	}
	return nil
}

// RestartSpooler stops and starts the Spooler service through the SCM.
func (l *LocalServer) RestartSpooler(ctx context.Context) error {
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("connect SCM: %w", err)
	}
	defer m.Disconnect()

	s, err := m.OpenService("Spooler")
	if err != nil {
		return fmt.Errorf("open Spooler service: %w", err)
	}
	defer s.Close()

	status, err := s.Control(svc.Stop)
	if err != nil {
		return fmt.Errorf("stop Spooler: %w", err)
	}
	if err := waitForState(ctx, s, svc.Stopped, status); err != nil {
		return fmt.Errorf("wait for Spooler stop: %w", err)
	}

	if err := s.Start(); err != nil {
		return fmt.Errorf("start Spooler: %w", err)
	}
	return nil
}

// waitForState polls the service until it reaches the wanted state.
func waitForState(ctx context.Context, s *mgr.Service, want svc.State, last svc.Status) error {
	deadline := time.Now().Add(30 * time.Second)
	for last.State != want {
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out in state %d", last.State)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
		var err error
		last, err = s.Query()
		if err != nil {
			return fmt.Errorf("query service: %w", err)
		}
	}
	return nil
}

// parseWMIDatetime parses CIM_DATETIME ("20260831120000.000000+060").
func parseWMIDatetime(s string) time.Time {
	if len(s) < 21 {
		return time.Time{}
	}
	t, err := time.Parse("20060102150405", s[:14])
	if err != nil {
		return time.Time{}
	}
	// Trailing +/-UUU is the offset from UTC in minutes
	offset := 0
	if len(s) >= 25 {
		if n, err := strconv.Atoi(s[22:25]); err == nil {
			if s[21] == '-' {
				n = -n
			}
			offset = n
		}
	}
	return t.Add(-time.Duration(offset) * time.Minute).UTC()
}

// wmiQuery runs a WQL query in root\CIMV2 and returns property maps.
func wmiQuery(ctx context.Context, query string) ([]map[string]interface{}, error) {
	if err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED); err != nil {
		oleErr, ok := err.(*ole.OleError)
		// S_FALSE means already initialized
		if !ok || oleErr.Code() != 0x00000001 {
			return nil, fmt.Errorf("COM initialization failed: %w", err)
		}
	}
	defer ole.CoUninitialize()

	unknown, err := oleutil.CreateObject("WbemScripting.SWbemLocator")
	if err != nil {
		return nil, fmt.Errorf("create WMI locator: %w", err)
	}
	defer unknown.Release()

	wmi, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return nil, fmt.Errorf("get IDispatch: %w", err)
	}
	defer wmi.Release()

	serviceRaw, err := oleutil.CallMethod(wmi, "ConnectServer", ".", `root\CIMV2`)
	if err != nil {
		return nil, fmt.Errorf("connect to root\\CIMV2: %w", err)
	}
	service := serviceRaw.ToIDispatch()
	defer service.Release()

	resultRaw, err := oleutil.CallMethod(service, "ExecQuery", query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	result := resultRaw.ToIDispatch()
	defer result.Release()

	countRaw, err := oleutil.GetProperty(result, "Count")
	if err != nil {
		return nil, fmt.Errorf("get count: %w", err)
	}
	count := int(countRaw.Val)

	rows := make([]map[string]interface{}, 0, count)
	for i := 0; i < count; i++ {
		select {
		case <-ctx.Done():
			return rows, ctx.Err()
		default:
		}

		itemRaw, err := oleutil.CallMethod(result, "ItemIndex", i)
		if err != nil {
			continue
		}
		item := itemRaw.ToIDispatch()

		row := make(map[string]interface{})
		for _, prop := range []string{"Name", "JobId", "Document", "Owner", "JobStatus", "Status", "TimeSubmitted"} {
			valRaw, err := oleutil.GetProperty(item, prop)
			if err != nil {
				continue
			}
			switch valRaw.VT {
			case ole.VT_NULL, ole.VT_EMPTY:
			case ole.VT_BSTR:
				row[prop] = valRaw.ToString()
			case ole.VT_BOOL:
				row[prop] = valRaw.Val != 0
			default:
				row[prop] = valRaw.Val
			}
			valRaw.Clear()
		}
		rows = append(rows, row)
		item.Release()
	}
	return rows, nil
}
