package provision

import (
	"context"
	"fmt"
	"log"

	"github.com/osiriscare/winops/internal/config"
	"github.com/osiriscare/winops/internal/directory"
)

// State tracks a partition through the processor.
type State int

const (
	StateInitialized State = iota
	StateProcessing
	StateGroupAssignment
	StateReporting
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateProcessing:
		return "processing"
	case StateGroupAssignment:
		return "group-assignment"
	case StateReporting:
		return "reporting"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// GroupAssigner is the directory mutation used after creation.
type GroupAssigner interface {
	AddGroupMembers(ctx context.Context, groups, members []string) error
}

// ReportSink delivers a finished partition's report.
type ReportSink interface {
	Deliver(ctx context.Context, indicator string, results *ResultSet) error
}

// Processor drives one indicator partition at a time through duplicate
// detection, account creation, group assignment, and reporting. The
// result accumulator belongs to the running partition and is replaced
// when the next one starts.
type Processor struct {
	builder  *Builder
	assigner GroupAssigner
	reporter ReportSink

	state   State
	results ResultSet
}

// NewProcessor wires a processor from its collaborators.
func NewProcessor(builder *Builder, assigner GroupAssigner, reporter ReportSink) *Processor {
	return &Processor{
		builder:  builder,
		assigner: assigner,
		reporter: reporter,
	}
}

// State returns the processor's current state.
func (p *Processor) State() State {
	return p.state
}

// Run processes one partition to completion. placement is nil for an
// unrecognized indicator or a known one with no configured placement;
// every candidate then gets an error record and no directory calls are
// made. Creation failures never abort the
// partition. Group assignment failure is logged and returned but does not
// suppress reporting: operators always get the email, with the group
// fault surfaced at the run level.
//
// The returned set always accounts for every candidate exactly once.
func (p *Processor) Run(ctx context.Context, indicator string, candidates []CandidateUser, snap *directory.Snapshot, placement *config.Placement) (*ResultSet, error) {
	p.setState(indicator, StateInitialized)
	p.results = ResultSet{}

	// A known indicator without a placement is a config gap, not bad data;
	// the error record has to point operators at the right place.
	noPlacement := fmt.Sprintf("Unrecognized account type indicator %q", indicator)
	if placement == nil && KnownIndicator(indicator) {
		noPlacement = fmt.Sprintf("No placement configured for account type %q", indicator)
	}

	p.setState(indicator, StateProcessing)
	for _, c := range candidates {
		if placement == nil {
			p.results.AddError(c.EmployeeID, c.ShortName, []string{noPlacement})
			continue
		}

		if reasons := DetectDuplicates(c, snap); len(reasons) > 0 {
			p.results.AddError(c.EmployeeID, c.ShortName, reasons)
			continue
		}

		p.builder.Build(ctx, c, *placement, &p.results)
	}

	var infraErr error

	p.setState(indicator, StateGroupAssignment)
	if placement != nil && len(p.results.Successes) > 0 && len(placement.Groups) > 0 {
		members := make([]string, 0, len(p.results.Successes))
		for _, s := range p.results.Successes {
			members = append(members, s.AccountName)
		}
		if err := p.assigner.AddGroupMembers(ctx, placement.Groups, members); err != nil {
			log.Printf("[provision] Group assignment failed for %s partition: %v", indicator, err)
			infraErr = fmt.Errorf("group assignment: %w", err)
		}
	}

	p.setState(indicator, StateReporting)
	if err := p.reporter.Deliver(ctx, indicator, &p.results); err != nil {
		log.Printf("[provision] Report delivery failed for %s partition: %v", indicator, err)
		if infraErr == nil {
			infraErr = fmt.Errorf("report delivery: %w", err)
		}
	}

	p.setState(indicator, StateDone)
	log.Printf("[provision] %s partition done: %d created, %d errored",
		indicator, len(p.results.Successes), len(p.results.Errors))

	out := p.results
	return &out, infraErr
}

func (p *Processor) setState(indicator string, next State) {
	p.state = next
	log.Printf("[provision] %s partition: %s", indicator, next)
}
