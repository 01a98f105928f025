package resetwatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ScriptExecutor runs PowerShell on a target host.
type ScriptExecutor interface {
	RunScript(ctx context.Context, hostname, script, username, password string, timeout int) (string, error)
}

// Poller reads new 4724 events from a DC's Security log over WinRM. The
// last delivered record id is persisted to disk between polls.
type Poller struct {
	dc        string
	username  string
	password  string
	timeout   int
	executor  ScriptExecutor
	statePath string

	highWater uint64
	seeded    bool
}

// NewPoller creates a poller. statePath holds the high-water mark; a
// missing file means the first poll reads the current head of the log and
// starts there, so a fresh install never replays historical resets.
func NewPoller(dc, username, password string, timeout int, executor ScriptExecutor, statePath string) *Poller {
	if timeout <= 0 {
		timeout = 120
	}
	p := &Poller{
		dc:        dc,
		username:  username,
		password:  password,
		timeout:   timeout,
		executor:  executor,
		statePath: statePath,
	}
	p.loadState()
	return p
}

// pollerState is the persisted high-water mark.
type pollerState struct {
	HighWater uint64    `json:"high_water"`
	SavedAt   time.Time `json:"saved_at"`
}

func (p *Poller) loadState() {
	data, err := os.ReadFile(p.statePath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[resetwatch] State file read failed: %v", err)
		}
		return
	}
	var st pollerState
	if err := json.Unmarshal(data, &st); err != nil {
		log.Printf("[resetwatch] State file unreadable, starting fresh: %v", err)
		return
	}
	p.highWater = st.HighWater
	p.seeded = true
	log.Printf("[resetwatch] Resuming after record %d", p.highWater)
}

// saveState writes the high-water mark with a tmp+rename for crash safety.
func (p *Poller) saveState() {
	st := pollerState{HighWater: p.highWater, SavedAt: time.Now().UTC()}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		log.Printf("[resetwatch] Marshal state failed: %v", err)
		return
	}
	tmp := p.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		log.Printf("[resetwatch] Write state failed: %v", err)
		return
	}
	if err := os.Rename(tmp, p.statePath); err != nil {
		log.Printf("[resetwatch] Rename state failed: %v", err)
	}
}

const pollScriptFmt = `
$events = Get-WinEvent -FilterHashtable @{LogName='Security'; Id=4724} -MaxEvents 200 -ErrorAction SilentlyContinue |
    Where-Object { $_.RecordId -gt %d } | ForEach-Object {
        $xml = [xml]$_.ToXml()
        $target = ($xml.Event.EventData.Data | Where-Object { $_.Name -eq 'TargetUserName' }).'#text'
        $caller = ($xml.Event.EventData.Data | Where-Object { $_.Name -eq 'SubjectUserName' }).'#text'
        @{
            RecordId = [long]$_.RecordId
            Target = [string]$target
            Caller = [string]$caller
            Time = $_.TimeCreated.ToUniversalTime().ToString('o')
        }
    }
@($events) | ConvertTo-Json -Compress
`

const headScriptFmt = `
$e = Get-WinEvent -LogName Security -MaxEvents 1 -ErrorAction SilentlyContinue
if ($e) { [long]$e.RecordId } else { 0 }
`

// seed sets the high-water mark to the current head of the Security log.
func (p *Poller) seed(ctx context.Context) error {
	output, err := p.executor.RunScript(ctx, p.dc, headScriptFmt, p.username, p.password, p.timeout)
	if err != nil {
		return fmt.Errorf("read security log head on %s: %w", p.dc, err)
	}
	head, err := strconv.ParseUint(strings.TrimSpace(output), 10, 64)
	if err != nil {
		return fmt.Errorf("parse security log head %q: %w", strings.TrimSpace(output), err)
	}
	p.highWater = head
	p.seeded = true
	p.saveState()
	log.Printf("[resetwatch] Starting after record %d", head)
	return nil
}

// Poll fetches events newer than the high-water mark, oldest first, and
// advances the mark past everything returned. The first poll of a fresh
// install only seeds the mark and returns nothing.
func (p *Poller) Poll(ctx context.Context) ([]ResetEvent, error) {
	if !p.seeded {
		return nil, p.seed(ctx)
	}

	script := fmt.Sprintf(pollScriptFmt, p.highWater)

	output, err := p.executor.RunScript(ctx, p.dc, script, p.username, p.password, p.timeout)
	if err != nil {
		return nil, fmt.Errorf("poll security log on %s: %w", p.dc, err)
	}

	events, err := parseEventOutput(output)
	if err != nil {
		return nil, fmt.Errorf("parse security log output: %w", err)
	}
	if len(events) == 0 {
		return nil, nil
	}

	sort.Slice(events, func(i, j int) bool { return events[i].RecordID < events[j].RecordID })

	for _, ev := range events {
		if ev.RecordID > p.highWater {
			p.highWater = ev.RecordID
		}
	}
	p.saveState()

	return events, nil
}

// Watch polls on the given interval until the context ends, pushing each
// new event through handle. Poll failures are logged; the loop keeps going.
func (p *Poller) Watch(ctx context.Context, interval time.Duration, handle func(ResetEvent)) {
	log.Printf("[resetwatch] Polling %s every %s", p.dc, interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[resetwatch] Watch stopped")
			return
		case <-ticker.C:
			events, err := p.Poll(ctx)
			if err != nil {
				log.Printf("[resetwatch] Poll failed: %v", err)
				continue
			}
			for _, ev := range events {
				handle(ev)
			}
		}
	}
}

// parseEventOutput parses the ConvertTo-Json event list; a single event
// comes back as a bare object.
func parseEventOutput(output string) ([]ResetEvent, error) {
	output = strings.TrimSpace(output)
	if output == "" {
		return nil, nil
	}

	var rawArray []map[string]interface{}
	if err := json.Unmarshal([]byte(output), &rawArray); err == nil {
		return parseEventMaps(rawArray), nil
	}

	var rawObj map[string]interface{}
	if err := json.Unmarshal([]byte(output), &rawObj); err == nil {
		return parseEventMaps([]map[string]interface{}{rawObj}), nil
	}

	return nil, fmt.Errorf("failed to parse event JSON output")
}

func parseEventMaps(raw []map[string]interface{}) []ResetEvent {
	events := make([]ResetEvent, 0, len(raw))
	for _, m := range raw {
		var record uint64
		if f, ok := m["RecordId"].(float64); ok {
			record = uint64(f)
		}
		if record == 0 {
			continue
		}
		target, _ := m["Target"].(string)
		caller, _ := m["Caller"].(string)

		var at time.Time
		if s, ok := m["Time"].(string); ok && s != "" {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				at = t
			}
		}

		events = append(events, ResetEvent{
			RecordID:      record,
			TargetAccount: target,
			Caller:        caller,
			At:            at,
		})
	}
	return events
}
