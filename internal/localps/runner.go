package localps

import (
	"context"
	"time"
)

// Runner adapts local execution to the script-executor interfaces the
// management packages define. The hostname and credentials are ignored;
// the script runs on this machine as the current user.
type Runner struct{}

// RunScript executes a script locally with the given timeout.
func (Runner) RunScript(ctx context.Context, _, script, _, _ string, timeout int) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
		defer cancel()
	}
	return Run(ctx, script)
}
