package provision

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/osiriscare/winops/internal/config"
	"github.com/osiriscare/winops/internal/directory"
)

// DirectoryClient is the slice of the directory gateway the driver needs.
type DirectoryClient interface {
	FetchSnapshot(ctx context.Context) (*directory.Snapshot, error)
	TriggerSync(ctx context.Context) error
}

// PartitionOutcome is one (file, indicator) partition's results.
type PartitionOutcome struct {
	File      string
	Indicator string
	Results   ResultSet
	Fault     string // group assignment or report delivery failure, if any
}

// RunSummary aggregates everything one driver run did.
type RunSummary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Files      []string // successfully parsed and archived
	FileErrors []string // per-file ingestion failures, human readable
	Partitions []PartitionOutcome
}

// Created returns the total created-account count across partitions.
func (s *RunSummary) Created() int {
	n := 0
	for _, p := range s.Partitions {
		n += len(p.Results.Successes)
	}
	return n
}

// Errored returns the total error-record count across partitions.
func (s *RunSummary) Errored() int {
	n := 0
	for _, p := range s.Partitions {
		n += len(p.Results.Errors)
	}
	return n
}

// Driver discovers import files, parses them into candidates, runs the
// batch processor per (file, indicator) partition, archives processed
// files, and fires the downstream identity sync.
type Driver struct {
	cfg       *config.Config
	dir       DirectoryClient
	processor *Processor
	now       func() time.Time
}

// NewDriver wires a driver from its collaborators.
func NewDriver(cfg *config.Config, dir DirectoryClient, processor *Processor) *Driver {
	return &Driver{
		cfg:       cfg,
		dir:       dir,
		processor: processor,
		now:       time.Now,
	}
}

// Run executes one full ingestion pass. With no import files present it
// returns immediately without touching the directory: the snapshot fetch
// is deliberately lazy so scheduled runs on an empty drop folder cost
// nothing. A malformed file is logged and recorded, never fatal to the
// rest of the run. The sync trigger fires once after all files,
// regardless of how many accounts were actually built.
func (d *Driver) Run(ctx context.Context) (*RunSummary, error) {
	summary := &RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: d.now().UTC(),
	}
	defer func() { summary.FinishedAt = d.now().UTC() }()

	files, err := d.listImports()
	if err != nil {
		return summary, fmt.Errorf("list imports: %w", err)
	}
	if len(files) == 0 {
		log.Printf("[provision] No import files in %s, nothing to do", d.cfg.ImportDir)
		return summary, nil
	}

	log.Printf("[provision] Run %s: %d import files", summary.RunID, len(files))

	snap, err := d.dir.FetchSnapshot(ctx)
	if err != nil {
		return summary, fmt.Errorf("directory snapshot: %w", err)
	}

	for _, file := range files {
		if err := d.processFile(ctx, file, snap, summary); err != nil {
			log.Printf("[provision] File %s failed: %v", file, err)
			summary.FileErrors = append(summary.FileErrors, fmt.Sprintf("%s: %v", filepath.Base(file), err))
			continue
		}
		summary.Files = append(summary.Files, filepath.Base(file))
	}

	if err := d.dir.TriggerSync(ctx); err != nil {
		log.Printf("[provision] Sync trigger failed: %v", err)
	}

	return summary, nil
}

// listImports returns the CSV files in the import dir, sorted by name.
func (d *Driver) listImports() ([]string, error) {
	entries, err := os.ReadDir(d.cfg.ImportDir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			files = append(files, filepath.Join(d.cfg.ImportDir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// processFile parses one import file, runs every indicator partition,
// and archives the file.
func (d *Driver) processFile(ctx context.Context, path string, snap *directory.Snapshot, summary *RunSummary) error {
	candidates, err := ParseImportFile(path)
	if err != nil {
		return err
	}

	log.Printf("[provision] %s: %d candidates", filepath.Base(path), len(candidates))

	for _, indicator := range partitionOrder(candidates) {
		var part []CandidateUser
		for _, c := range candidates {
			if c.Indicator == indicator {
				part = append(part, c)
			}
		}

		var placement *config.Placement
		if p, ok := d.cfg.PlacementFor(indicator); ok && KnownIndicator(indicator) {
			placement = &p
		}

		results, runErr := d.processor.Run(ctx, indicator, part, snap, placement)

		outcome := PartitionOutcome{
			File:      filepath.Base(path),
			Indicator: indicator,
			Results:   *results,
		}
		if runErr != nil {
			outcome.Fault = runErr.Error()
		}
		summary.Partitions = append(summary.Partitions, outcome)
	}

	return d.archive(path)
}

// partitionOrder lists the distinct indicators of a file in order of
// first appearance, so partitions process in file order.
func partitionOrder(candidates []CandidateUser) []string {
	var order []string
	seen := make(map[string]bool)
	for _, c := range candidates {
		if !seen[c.Indicator] {
			seen[c.Indicator] = true
			order = append(order, c.Indicator)
		}
	}
	return order
}

// archive moves a processed file into the archive dir with a timestamp
// prefix. Files are never deleted.
func (d *Driver) archive(path string) error {
	if err := os.MkdirAll(d.cfg.ArchiveDir, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}

	name := d.now().Format("20060102-150405") + "_" + filepath.Base(path)
	dest := filepath.Join(d.cfg.ArchiveDir, name)
	if err := os.Rename(path, dest); err != nil {
		return fmt.Errorf("archive %s: %w", filepath.Base(path), err)
	}

	log.Printf("[provision] Archived %s -> %s", filepath.Base(path), name)
	return nil
}

// ParseImportFile reads one positional CSV into candidates: employee id,
// short name, principal name, given name, middle name, surname,
// indicator. A leading header row is recognized by its first cell
// reading literally "Id". Short rows are skipped with a log line.
func ParseImportFile(path string) ([]CandidateUser, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	decoded, encoding, err := decodeImport(data)
	if err != nil {
		return nil, fmt.Errorf("decode file: %w", err)
	}
	if encoding != "utf-8" {
		log.Printf("[provision] %s: decoded from %s", filepath.Base(path), encoding)
	}

	reader := csv.NewReader(bytes.NewReader(decoded))
	reader.FieldsPerRecord = -1

	var (
		candidates []CandidateUser
		rowNum     int
	)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		rowNum++
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", rowNum, err)
		}

		for i := range row {
			row[i] = strings.TrimSpace(row[i])
		}

		// Header row from the HR export, when present
		if rowNum == 1 && len(row) > 0 && row[0] == "Id" {
			continue
		}
		if len(row) == 1 && row[0] == "" {
			continue
		}
		if len(row) < 7 {
			log.Printf("[provision] %s row %d: %d columns, expected 7, skipping", filepath.Base(path), rowNum, len(row))
			continue
		}

		candidates = append(candidates, CandidateUser{
			EmployeeID:    row[0],
			ShortName:     truncateShortName(row[1]),
			PrincipalName: row[2],
			GivenName:     row[3],
			MiddleName:    row[4],
			Surname:       row[5],
			Indicator:     row[6],
		})
	}

	return candidates, nil
}
