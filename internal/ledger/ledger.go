// Package ledger keeps an optional Postgres history of provisioning runs.
// The emailed report is the source of truth; the ledger exists so
// operators can answer "what did last Tuesday's run do" without digging
// through mailboxes. Ledger failures log and never fail a run.
package ledger

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Outcome is one candidate's result within a run.
type Outcome struct {
	EmployeeID  string
	AccountName string
	Indicator   string
	Status      string // "created" or "error"
	ErrorText   string // empty for created
}

// Run summarizes one provisioning run.
type Run struct {
	ID         uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time
	Files      []string
	Created    int
	Errored    int
	Outcomes   []Outcome
}

// Ledger wraps a pgx pool for run history writes.
type Ledger struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Ledger, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	l := &Ledger{pool: pool}
	if err := l.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return l, nil
}

// Close closes the connection pool.
func (l *Ledger) Close() {
	l.pool.Close()
}

func (l *Ledger) ensureSchema(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS provisioning_runs (
			run_id       UUID PRIMARY KEY,
			started_at   TIMESTAMPTZ NOT NULL,
			finished_at  TIMESTAMPTZ NOT NULL,
			files        TEXT[] NOT NULL DEFAULT '{}',
			created      INTEGER NOT NULL DEFAULT 0,
			errored      INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("create provisioning_runs: %w", err)
	}

	_, err = l.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS provisioning_outcomes (
			id           BIGSERIAL PRIMARY KEY,
			run_id       UUID NOT NULL REFERENCES provisioning_runs(run_id),
			employee_id  TEXT NOT NULL,
			account_name TEXT NOT NULL,
			indicator    TEXT NOT NULL,
			status       TEXT NOT NULL,
			error_text   TEXT NOT NULL DEFAULT ''
		)
	`)
	if err != nil {
		return fmt.Errorf("create provisioning_outcomes: %w", err)
	}
	return nil
}

// RecordRun writes one run and its outcomes in a single transaction.
func (l *Ledger) RecordRun(ctx context.Context, run Run) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO provisioning_runs (run_id, started_at, finished_at, files, created, errored)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, run.ID, run.StartedAt, run.FinishedAt, run.Files, run.Created, run.Errored)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, o := range run.Outcomes {
		_, err = tx.Exec(ctx, `
			INSERT INTO provisioning_outcomes (run_id, employee_id, account_name, indicator, status, error_text)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, run.ID, o.EmployeeID, o.AccountName, o.Indicator, o.Status, o.ErrorText)
		if err != nil {
			return fmt.Errorf("insert outcome for %s: %w", o.EmployeeID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	log.Printf("[ledger] Run %s recorded: %d files, %d created, %d errored",
		run.ID, len(run.Files), run.Created, run.Errored)
	return nil
}
