// Package printer keeps print servers healthy: it reaps stuck jobs from
// print queues and restarts the Spooler service when queues go bad, with
// a throttle so a broken spooler doesn't restart-loop every sweep.
package printer

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"
)

// PrintJob is one queued job on a print server.
type PrintJob struct {
	Printer     string
	ID          int
	Document    string
	Owner       string
	Status      string
	SubmittedAt time.Time
}

// JobStore abstracts one print server's queue and spooler, local or remote.
type JobStore interface {
	ListJobs(ctx context.Context) ([]PrintJob, error)
	RemoveJob(ctx context.Context, job PrintJob) error
	RestartSpooler(ctx context.Context) error
	Name() string
}

// SweepResult summarizes one warden pass over a server.
type SweepResult struct {
	Server           string
	JobsSeen         int
	JobsRemoved      int
	RemoveFailures   int
	SpoolerRestarted bool
}

// Warden sweeps a print server for stuck jobs.
type Warden struct {
	store          JobStore
	maxAge         time.Duration
	spoolerRestart bool
	throttle       *RestartThrottle
	now            func() time.Time
}

// NewWarden creates a warden over one server. maxAge is the job age past
// which a job counts as stuck. spoolerRestart enables the restart path.
func NewWarden(store JobStore, maxAge time.Duration, spoolerRestart bool, throttle *RestartThrottle) *Warden {
	return &Warden{
		store:          store,
		maxAge:         maxAge,
		spoolerRestart: spoolerRestart,
		throttle:       throttle,
		now:            time.Now,
	}
}

// stuck reports whether a job should be reaped: older than the age
// threshold, or sitting in an error state.
func (w *Warden) stuck(job PrintJob) bool {
	if !job.SubmittedAt.IsZero() && w.now().Sub(job.SubmittedAt) > w.maxAge {
		return true
	}
	return strings.Contains(strings.ToLower(job.Status), "error")
}

// Sweep runs one pass: list jobs, remove the stuck ones oldest first, and
// when removals fail, restart the spooler (throttled). Removal failures
// are logged per job and never abort the sweep.
func (w *Warden) Sweep(ctx context.Context) (*SweepResult, error) {
	result := &SweepResult{Server: w.store.Name()}

	jobs, err := w.store.ListJobs(ctx)
	if err != nil {
		return result, fmt.Errorf("list jobs on %s: %w", w.store.Name(), err)
	}
	result.JobsSeen = len(jobs)

	var stuck []PrintJob
	for _, job := range jobs {
		if w.stuck(job) {
			stuck = append(stuck, job)
		}
	}
	if len(stuck) == 0 {
		return result, nil
	}

	sort.Slice(stuck, func(i, j int) bool {
		return stuck[i].SubmittedAt.Before(stuck[j].SubmittedAt)
	})

	log.Printf("[printer] %s: %d stuck jobs of %d", w.store.Name(), len(stuck), len(jobs))

	for _, job := range stuck {
		if err := w.store.RemoveJob(ctx, job); err != nil {
			log.Printf("[printer] Remove job %d (%s) on %s failed: %v", job.ID, job.Printer, w.store.Name(), err)
			result.RemoveFailures++
			continue
		}
		log.Printf("[printer] Removed job %d (%s, owner %s, submitted %s)",
			job.ID, job.Printer, job.Owner, job.SubmittedAt.Format(time.RFC3339))
		result.JobsRemoved++
	}

	// A queue that won't release jobs usually means a wedged spooler.
	if result.RemoveFailures > 0 && w.spoolerRestart {
		if w.throttle != nil && !w.throttle.Allow() {
			log.Printf("[printer] Spooler restart on %s suppressed by throttle", w.store.Name())
			return result, nil
		}
		if err := w.store.RestartSpooler(ctx); err != nil {
			log.Printf("[printer] Spooler restart on %s failed: %v", w.store.Name(), err)
			return result, nil
		}
		log.Printf("[printer] Spooler restarted on %s", w.store.Name())
		result.SpoolerRestarted = true
	}

	return result, nil
}
