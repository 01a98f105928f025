// Package winrm runs PowerShell scripts on remote Windows hosts over WinRM.
// It handles session caching, NTLM auth, the cmd.exe 8191 character limit
// via temp file chunking, and bounded retries.
package winrm

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf16"

	gowinrm "github.com/masterzen/winrm"
)

// Target describes a Windows machine to execute scripts on.
type Target struct {
	Hostname  string `yaml:"hostname"`
	Port      int    `yaml:"port"`
	Username  string `yaml:"username"` // DOMAIN\user format
	Password  string `yaml:"password"`
	UseSSL    bool   `yaml:"use_ssl"`
	VerifySSL bool   `yaml:"verify_ssl"`
}

// Result is the outcome of one script execution.
type Result struct {
	Success    bool
	Operation  string
	Target     string
	Stdout     string
	Stderr     string
	ExitCode   int
	Duration   time.Duration
	Error      string
	StartedAt  time.Time
	RetryCount int
}

// cachedSession holds a WinRM client with its creation time.
type cachedSession struct {
	client    *gowinrm.Client
	createdAt time.Time
}

const (
	sessionMaxAge     = 300 * time.Second
	inlineScriptLimit = 2000 // chars before switching to temp file mode
	chunkSize         = 6000 // base64 chunk size for cmd.exe echo safety
	defaultTimeout    = 300  // seconds
)

// Executor manages WinRM sessions and script execution.
type Executor struct {
	sessions map[string]*cachedSession
	mu       sync.Mutex
}

// NewExecutor creates a new WinRM executor.
func NewExecutor() *Executor {
	return &Executor{
		sessions: make(map[string]*cachedSession),
	}
}

// Run executes a PowerShell script on a target with retry support. Each
// attempt is bounded by timeout seconds and by ctx; a cancelled context
// also cuts the retry delay short. The operation string only labels logs
// and results.
func (e *Executor) Run(ctx context.Context, target *Target, script, operation string, timeout, retries int, retryDelay float64) *Result {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if retryDelay <= 0 {
		retryDelay = 30.0
	}

	start := time.Now().UTC()
	var lastErr string
	retryCount := 0

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(retryDelay*float64(attempt)) * time.Second
			log.Printf("[winrm] Retry %d/%d for %s (%s) after %.0fs delay", attempt, retries, target.Hostname, operation, delay.Seconds())
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return &Result{
					Success:    false,
					Operation:  operation,
					Target:     target.Hostname,
					ExitCode:   -1,
					Duration:   time.Since(start),
					Error:      ctx.Err().Error(),
					StartedAt:  start,
					RetryCount: retryCount,
				}
			}
			retryCount++
		}

		stdout, stderr, exitCode, err := e.executeOnce(ctx, target, script, timeout)
		if err != nil {
			lastErr = err.Error()
			log.Printf("[winrm] %s failed on %s: %v", operation, target.Hostname, err)
			e.InvalidateSession(target.Hostname)
			continue
		}

		res := &Result{
			Success:    exitCode == 0,
			Operation:  operation,
			Target:     target.Hostname,
			Stdout:     stdout,
			Stderr:     stderr,
			ExitCode:   exitCode,
			Duration:   time.Since(start),
			StartedAt:  start,
			RetryCount: retryCount,
		}
		if !res.Success {
			res.Error = firstLine(stderr)
			if res.Error == "" {
				res.Error = fmt.Sprintf("exit code %d", exitCode)
			}
		}
		return res
	}

	// All retries exhausted
	return &Result{
		Success:    false,
		Operation:  operation,
		Target:     target.Hostname,
		Stderr:     lastErr,
		ExitCode:   -1,
		Duration:   time.Since(start),
		Error:      lastErr,
		StartedAt:  start,
		RetryCount: retryCount,
	}
}

// executeOnce runs a script, choosing inline or temp file mode based on length.
func (e *Executor) executeOnce(ctx context.Context, target *Target, script string, timeout int) (string, string, int, error) {
	client, err := e.getSession(target)
	if err != nil {
		return "", "", -1, fmt.Errorf("get session: %w", err)
	}

	if len(script) > inlineScriptLimit {
		return e.executeViaTempFile(ctx, client, script, timeout)
	}
	return e.executeInline(ctx, client, script, timeout)
}

// executeInline runs a short PowerShell script directly.
func (e *Executor) executeInline(ctx context.Context, client *gowinrm.Client, script string, timeout int) (string, string, int, error) {
	shell, err := client.CreateShell()
	if err != nil {
		return "", "", -1, fmt.Errorf("create shell: %w", err)
	}
	defer shell.Close()

	// PowerShell base64-encoded command
	encoded := encodePowerShell(script)
	cmd, err := shell.Execute("powershell.exe", "-NoProfile", "-NonInteractive", "-EncodedCommand", encoded)
	if err != nil {
		return "", "", -1, fmt.Errorf("execute: %w", err)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	go io.Copy(&stdoutBuf, cmd.Stdout)
	go io.Copy(&stderrBuf, cmd.Stderr)

	if err := waitCommand(ctx, cmd, timeout); err != nil {
		return "", "", -1, err
	}
	cmd.Close()

	stdout := strings.TrimSpace(stdoutBuf.String())
	stderr := strings.TrimSpace(stderrBuf.String())

	return stdout, stderr, cmd.ExitCode(), nil
}

// executeViaTempFile handles the cmd.exe 8191 character limit by writing
// the script to a temp file via chunked base64 echo commands.
func (e *Executor) executeViaTempFile(ctx context.Context, client *gowinrm.Client, script string, timeout int) (string, string, int, error) {
	// Unique temp file names per script body
	scriptHash := fmt.Sprintf("%x", sha256.Sum256([]byte(script)))[:8]
	tempB64 := fmt.Sprintf(`C:\Windows\Temp\wops_%s.b64`, scriptHash)
	tempPS1 := fmt.Sprintf(`C:\Windows\Temp\wops_%s.ps1`, scriptHash)

	encoded := base64.StdEncoding.EncodeToString([]byte(script))
	chunks := splitString(encoded, chunkSize)

	shell, err := client.CreateShell()
	if err != nil {
		return "", "", -1, fmt.Errorf("create shell: %w", err)
	}
	defer shell.Close()

	// Write chunks to temp file
	for i, chunk := range chunks {
		op := ">"
		if i > 0 {
			op = ">>"
		}
		cmdStr := fmt.Sprintf(`echo %s%s"%s"`, chunk, op, tempB64)
		cmd, err := shell.Execute("cmd.exe", "/c", cmdStr)
		if err != nil {
			return "", "", -1, fmt.Errorf("write chunk %d: %w", i, err)
		}
		if err := waitCommand(ctx, cmd, timeout); err != nil {
			return "", "", -1, fmt.Errorf("write chunk %d: %w", i, err)
		}
		cmd.Close()
		if cmd.ExitCode() != 0 {
			return "", "", -1, fmt.Errorf("write chunk %d failed: exit %d", i, cmd.ExitCode())
		}
	}

	// Decode base64, write PS1, execute, cleanup
	decodeAndRun := fmt.Sprintf(
		`$r=(Get-Content '%s' -Raw) -replace '\s',''; `+
			`$b=[Convert]::FromBase64String($r); `+
			`[IO.File]::WriteAllText('%s',[Text.Encoding]::UTF8.GetString($b),[Text.Encoding]::UTF8); `+
			`Remove-Item '%s' -Force -EA SilentlyContinue; `+
			`try { & '%s' } finally { Remove-Item '%s' -Force -EA SilentlyContinue }`,
		tempB64, tempPS1, tempB64, tempPS1, tempPS1,
	)

	encodedCmd := encodePowerShell(decodeAndRun)
	cmd, err := shell.Execute("powershell.exe", "-NoProfile", "-NonInteractive", "-EncodedCommand", encodedCmd)
	if err != nil {
		return "", "", -1, fmt.Errorf("execute temp file: %w", err)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	go io.Copy(&stdoutBuf, cmd.Stdout)
	go io.Copy(&stderrBuf, cmd.Stderr)

	if err := waitCommand(ctx, cmd, timeout); err != nil {
		return "", "", -1, err
	}
	cmd.Close()

	stdout := strings.TrimSpace(stdoutBuf.String())
	stderr := strings.TrimSpace(stderrBuf.String())

	return stdout, stderr, cmd.ExitCode(), nil
}

// remoteCommand is the slice of gowinrm.Command that waitCommand needs.
type remoteCommand interface {
	Wait()
	Close() error
}

// waitCommand blocks until the command finishes, the timeout expires, or
// ctx is cancelled. On expiry or cancellation the command is closed, which
// signals terminate to the remote end.
func waitCommand(ctx context.Context, cmd remoteCommand, timeout int) error {
	done := make(chan struct{})
	go func() {
		cmd.Wait()
		close(done)
	}()

	timer := time.NewTimer(time.Duration(timeout) * time.Second)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		cmd.Close()
		return fmt.Errorf("command timed out after %ds", timeout)
	case <-ctx.Done():
		cmd.Close()
		return ctx.Err()
	}
}

// getSession returns a cached or new WinRM session.
func (e *Executor) getSession(target *Target) (*gowinrm.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cached, ok := e.sessions[target.Hostname]; ok {
		if time.Since(cached.createdAt) < sessionMaxAge {
			return cached.client, nil
		}
		log.Printf("[winrm] Session expired for %s, refreshing", target.Hostname)
	}

	port := target.Port
	if port == 0 {
		if target.UseSSL {
			port = 5986
		} else {
			port = 5985
		}
	}

	endpoint := gowinrm.NewEndpoint(target.Hostname, port, target.UseSSL, !target.VerifySSL, nil, nil, nil, 120*time.Second)

	// NTLM auth (required for domain environments; Basic is rarely enabled)
	params := gowinrm.NewParameters("PT120S", "en-US", 153600)
	params.TransportDecorator = func() gowinrm.Transporter { return &gowinrm.ClientNTLM{} }

	client, err := gowinrm.NewClientWithParameters(endpoint, target.Username, target.Password, params)
	if err != nil {
		return nil, fmt.Errorf("create WinRM client for %s: %w", target.Hostname, err)
	}

	e.sessions[target.Hostname] = &cachedSession{
		client:    client,
		createdAt: time.Now(),
	}

	log.Printf("[winrm] New session for %s:%d (ssl=%v)", target.Hostname, port, target.UseSSL)
	return client, nil
}

// InvalidateSession removes a cached session for a host.
func (e *Executor) InvalidateSession(hostname string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.sessions, hostname)
	log.Printf("[winrm] Invalidated session for %s", hostname)
}

// SessionCount returns the number of cached sessions.
func (e *Executor) SessionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// --- Helpers ---

// encodePowerShell encodes a script for PowerShell's -EncodedCommand parameter.
// PowerShell expects UTF-16LE base64. Scripts carry user data (account names
// from HR exports), so non-ASCII must survive the trip.
func encodePowerShell(script string) string {
	codes := utf16.Encode([]rune(script))
	buf := make([]byte, len(codes)*2)
	for i, c := range codes {
		buf[i*2] = byte(c)
		buf[i*2+1] = byte(c >> 8)
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func splitString(s string, size int) []string {
	var chunks []string
	for len(s) > 0 {
		end := size
		if end > len(s) {
			end = len(s)
		}
		chunks = append(chunks, s[:end])
		s = s[end:]
	}
	return chunks
}

// firstLine trims a multi-line PowerShell error down to its first line.
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
