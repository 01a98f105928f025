package provision

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/osiriscare/winops/internal/config"
)

// mockAssigner records group assignment calls.
type mockAssigner struct {
	groups  [][]string
	members [][]string
	err     error
}

func (m *mockAssigner) AddGroupMembers(_ context.Context, groups, members []string) error {
	m.groups = append(m.groups, groups)
	m.members = append(m.members, members)
	return m.err
}

// mockSink records delivered reports.
type mockSink struct {
	indicators []string
	results    []*ResultSet
	err        error
}

func (m *mockSink) Deliver(_ context.Context, indicator string, results *ResultSet) error {
	m.indicators = append(m.indicators, indicator)
	m.results = append(m.results, results)
	return m.err
}

func staffCandidates() []CandidateUser {
	return []CandidateUser{
		{EmployeeID: "3000001", ShortName: "adoe", PrincipalName: "adoe@corp.example.com", GivenName: "Alice", Surname: "Doe", Indicator: "Staff"},
		{EmployeeID: "3000002", ShortName: "bdoe", PrincipalName: "bdoe@corp.example.com", GivenName: "Bob", Surname: "Doe", Indicator: "Staff"},
		{EmployeeID: "1234567", ShortName: "jdoe", PrincipalName: "jdoe@corp.example.com", GivenName: "John", Surname: "Doe", Indicator: "Staff"},
	}
}

func TestProcessorRun(t *testing.T) {
	creator := &mockCreator{}
	assigner := &mockAssigner{}
	sink := &mockSink{}
	p := NewProcessor(NewBuilder(creator), assigner, sink)

	placement := config.Placement{
		Container: "OU=Staff,DC=corp,DC=example,DC=com",
		Groups:    []string{"Staff-All", "VPN-Users"},
	}

	candidates := staffCandidates()
	results, err := p.Run(context.Background(), "Staff", candidates, testSnapshot(), &placement)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// jdoe collides with the snapshot, the other two get created
	if results.Total() != len(candidates) {
		t.Fatalf("every candidate must land in exactly one list: total %d, candidates %d",
			results.Total(), len(candidates))
	}
	if len(results.Successes) != 2 || len(results.Errors) != 1 {
		t.Fatalf("expected 2 successes and 1 error, got %+v", results)
	}
	if results.Errors[0].EmployeeID != "1234567" {
		t.Fatalf("wrong candidate blocked: %+v", results.Errors[0])
	}
	if results.Errors[0].Errors[0] != DuplicateHeader {
		t.Fatalf("blocked record must carry the duplicate header, got %v", results.Errors[0].Errors)
	}

	// Duplicate-blocked candidates never reach the directory
	if len(creator.requests) != 2 {
		t.Fatalf("expected 2 creation attempts, got %d", len(creator.requests))
	}

	// One batch group assignment with all created short names
	if len(assigner.members) != 1 {
		t.Fatalf("expected 1 group assignment call, got %d", len(assigner.members))
	}
	if len(assigner.members[0]) != 2 || assigner.members[0][0] != "adoe" || assigner.members[0][1] != "bdoe" {
		t.Fatalf("unexpected members: %v", assigner.members[0])
	}
	if len(assigner.groups[0]) != 2 {
		t.Fatalf("unexpected groups: %v", assigner.groups[0])
	}

	if len(sink.indicators) != 1 || sink.indicators[0] != "Staff" {
		t.Fatalf("report not delivered: %v", sink.indicators)
	}
	if p.State() != StateDone {
		t.Fatalf("expected terminal state, got %s", p.State())
	}
}

func TestProcessorGroupFailureStillReports(t *testing.T) {
	creator := &mockCreator{}
	assigner := &mockAssigner{err: errors.New("group gone")}
	sink := &mockSink{}
	p := NewProcessor(NewBuilder(creator), assigner, sink)

	placement := config.Placement{Container: "OU=Staff", Groups: []string{"Staff-All"}}
	candidates := staffCandidates()[:1]

	_, err := p.Run(context.Background(), "Staff", candidates, testSnapshot(), &placement)
	if err == nil {
		t.Fatal("group assignment failure must surface at the run level")
	}
	if len(sink.results) != 1 {
		t.Fatal("report must be delivered even when group assignment fails")
	}
}

func TestProcessorUnknownIndicator(t *testing.T) {
	creator := &mockCreator{}
	assigner := &mockAssigner{}
	sink := &mockSink{}
	p := NewProcessor(NewBuilder(creator), assigner, sink)

	candidates := []CandidateUser{
		{EmployeeID: "4000001", ShortName: "weird", PrincipalName: "weird@corp.example.com", Indicator: "Contractor"},
	}

	results, err := p.Run(context.Background(), "Contractor", candidates, testSnapshot(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results.Errors) != 1 || len(results.Successes) != 0 {
		t.Fatalf("unknown indicator must error every candidate: %+v", results)
	}
	if len(creator.requests) != 0 {
		t.Fatal("unknown indicator partition must not touch the directory")
	}
	if len(assigner.members) != 0 {
		t.Fatal("unknown indicator partition must not assign groups")
	}
	if len(sink.results) != 1 {
		t.Fatal("error partitions still report")
	}
}

func TestProcessorKnownIndicatorWithoutPlacement(t *testing.T) {
	creator := &mockCreator{}
	assigner := &mockAssigner{}
	sink := &mockSink{}
	p := NewProcessor(NewBuilder(creator), assigner, sink)

	// Staff is a valid account type; only its placement is missing from
	// config. The error record must say so instead of blaming the data.
	candidates := staffCandidates()[:1]
	results, err := p.Run(context.Background(), "Staff", candidates, testSnapshot(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results.Errors) != 1 {
		t.Fatalf("missing placement must error every candidate: %+v", results)
	}
	msg := results.Errors[0].Errors[0]
	if !strings.Contains(msg, "No placement configured") {
		t.Fatalf("error must point at the config gap, got %q", msg)
	}
	if strings.Contains(msg, "Unrecognized") {
		t.Fatalf("known indicator must not be reported as unrecognized: %q", msg)
	}
	if len(creator.requests) != 0 {
		t.Fatal("missing placement must not touch the directory")
	}
}

func TestProcessorResetsBetweenPartitions(t *testing.T) {
	creator := &mockCreator{}
	assigner := &mockAssigner{}
	sink := &mockSink{}
	p := NewProcessor(NewBuilder(creator), assigner, sink)

	placement := config.Placement{Container: "OU=Staff", Groups: nil}

	first, err := p.Run(context.Background(), "Staff", staffCandidates()[:1], testSnapshot(), &placement)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := p.Run(context.Background(), "Staff", staffCandidates()[1:2], testSnapshot(), &placement)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if first.Total() != 1 || second.Total() != 1 {
		t.Fatalf("accumulator leaked between partitions: first %d, second %d", first.Total(), second.Total())
	}
}

func TestSortedRecords(t *testing.T) {
	var rs ResultSet
	rs.AddError("3", "c", []string{"x"})
	rs.AddError("1", "a", []string{"y"})
	rs.AddSuccess("9", "z", "z@x.com", "Z", "Z")
	rs.AddSuccess("2", "b", "b@x.com", "B", "B")

	errs := rs.SortedErrors()
	if errs[0].EmployeeID != "1" || errs[1].EmployeeID != "3" {
		t.Fatalf("errors not sorted by employee id: %+v", errs)
	}
	oks := rs.SortedSuccesses()
	if oks[0].EmployeeID != "2" || oks[1].EmployeeID != "9" {
		t.Fatalf("successes not sorted by employee id: %+v", oks)
	}

	// Sorting must not disturb the original accumulation order
	if rs.Errors[0].EmployeeID != "3" {
		t.Fatal("SortedErrors mutated the underlying set")
	}
}
