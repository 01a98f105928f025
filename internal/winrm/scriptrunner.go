package winrm

import (
	"context"
	"fmt"
)

// Runner adapts Executor to the script-executor interfaces consumed by the
// management packages (directory, iis, printer, resetwatch). Credentials
// given per call win over the defaults.
type Runner struct {
	Exec      *Executor
	Username  string
	Password  string
	Port      int
	UseSSL    bool
	VerifySSL bool
}

// RunScript executes a script on the named host and returns stdout. The
// context and timeout both bound the remote execution.
func (r *Runner) RunScript(ctx context.Context, hostname, script, username, password string, timeout int) (string, error) {
	if username == "" {
		username = r.Username
	}
	if password == "" {
		password = r.Password
	}

	target := &Target{
		Hostname:  hostname,
		Port:      r.Port,
		Username:  username,
		Password:  password,
		UseSSL:    r.UseSSL,
		VerifySSL: r.VerifySSL,
	}

	result := r.Exec.Run(ctx, target, script, "script", timeout, 1, float64(timeout))
	if !result.Success {
		return "", fmt.Errorf("%s", result.Error)
	}
	return result.Stdout, nil
}
