package provision

import (
	"context"
	"errors"
	"testing"

	"github.com/osiriscare/winops/internal/config"
	"github.com/osiriscare/winops/internal/directory"
)

// mockCreator fails the first failures calls, then succeeds.
type mockCreator struct {
	failures int
	errText  string
	requests []directory.CreateRequest
}

func (m *mockCreator) CreateUser(_ context.Context, req directory.CreateRequest) error {
	m.requests = append(m.requests, req)
	if len(m.requests) <= m.failures {
		return errors.New(m.errText)
	}
	return nil
}

var testPlacement = config.Placement{
	Container: "OU=Staff,DC=corp,DC=example,DC=com",
	Groups:    []string{"Staff-All"},
}

func TestBuildSuccessFirstAttempt(t *testing.T) {
	creator := &mockCreator{}
	b := NewBuilder(creator)

	c := CandidateUser{
		EmployeeID:    "1234567",
		ShortName:     "johndoe",
		PrincipalName: "johndoe@example.com",
		GivenName:     "John",
		MiddleName:    "Q",
		Surname:       "Doe",
		Indicator:     "Staff",
	}

	var results ResultSet
	b.Build(context.Background(), c, testPlacement, &results)

	if len(creator.requests) != 1 {
		t.Fatalf("expected 1 creation attempt, got %d", len(creator.requests))
	}
	req := creator.requests[0]
	if req.DisplayName != "Doe, John Q." {
		t.Fatalf("unexpected display name: %q", req.DisplayName)
	}
	if req.Password != "1234567" {
		t.Fatalf("initial password must be the employee id, got %q", req.Password)
	}
	if req.ProxyAddress != "SMTP:johndoe@example.com" {
		t.Fatalf("unexpected proxy address: %q", req.ProxyAddress)
	}
	if req.MailNickname != "johndoe" {
		t.Fatalf("unexpected nickname: %q", req.MailNickname)
	}
	if req.Container != testPlacement.Container {
		t.Fatalf("unexpected container: %q", req.Container)
	}

	if len(results.Successes) != 1 || len(results.Errors) != 0 {
		t.Fatalf("expected one success, got %+v", results)
	}
	s := results.Successes[0]
	if s.EmployeeID != "1234567" || s.AccountName != "johndoe" ||
		s.Email != "johndoe@example.com" || s.FirstName != "John" || s.LastName != "Doe" {
		t.Fatalf("unexpected success record: %+v", s)
	}
}

func TestBuildRetryWithDigits(t *testing.T) {
	creator := &mockCreator{failures: 1, errText: "display name already in use"}
	b := NewBuilder(creator)

	c := CandidateUser{
		EmployeeID:    "7777777",
		ShortName:     "johndoe1",
		PrincipalName: "johndoe1124@example.com",
		GivenName:     "John",
		Surname:       "Doe",
	}

	var results ResultSet
	b.Build(context.Background(), c, testPlacement, &results)

	if len(creator.requests) != 2 {
		t.Fatalf("expected 2 creation attempts, got %d", len(creator.requests))
	}
	if creator.requests[1].DisplayName != "Doe, John - 1124" {
		t.Fatalf("retry should append extracted digits, got %q", creator.requests[1].DisplayName)
	}
	if len(results.Successes) != 1 {
		t.Fatalf("expected success on retry, got %+v", results)
	}
}

func TestBuildNoDigitsNoRetry(t *testing.T) {
	creator := &mockCreator{failures: 5, errText: "directory said no"}
	b := NewBuilder(creator)

	c := CandidateUser{
		EmployeeID:    "2222222",
		ShortName:     "janedoe",
		PrincipalName: "janedoe@example.com",
		GivenName:     "Jane",
		Surname:       "Doe",
	}

	var results ResultSet
	b.Build(context.Background(), c, testPlacement, &results)

	if len(creator.requests) != 1 {
		t.Fatalf("no digits available, expected exactly 1 attempt, got %d", len(creator.requests))
	}
	if len(results.Errors) != 1 {
		t.Fatalf("expected error record, got %+v", results)
	}
	if results.Errors[0].Errors[0] != "directory said no" {
		t.Fatalf("error record must carry the directory's message, got %v", results.Errors[0].Errors)
	}
}

func TestBuildRetryExhausted(t *testing.T) {
	creator := &mockCreator{failures: 5, errText: "still colliding"}
	b := NewBuilder(creator)

	c := CandidateUser{
		EmployeeID:    "3333333",
		ShortName:     "bobdoe",
		PrincipalName: "bobdoe42@example.com",
		GivenName:     "Bob",
		Surname:       "Doe",
	}

	var results ResultSet
	b.Build(context.Background(), c, testPlacement, &results)

	// Fixed retry budget of one
	if len(creator.requests) != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", len(creator.requests))
	}
	if len(results.Errors) != 1 || len(results.Successes) != 0 {
		t.Fatalf("expected error record after exhausted retry, got %+v", results)
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		given, middle, surname string
		want                   string
	}{
		{"John", "Q", "Doe", "Doe, John Q."},
		{"John", "", "Doe", "Doe, John"},
		{"Jane", "Marie", "Smith", "Smith, Jane M."},
	}
	for _, tt := range tests {
		c := CandidateUser{GivenName: tt.given, MiddleName: tt.middle, Surname: tt.surname}
		if got := c.DisplayName(); got != tt.want {
			t.Fatalf("DisplayName(%q,%q,%q) = %q, want %q", tt.given, tt.middle, tt.surname, got, tt.want)
		}
	}
}

func TestDigitsOf(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"johndoe1124@example.com", "1124"},
		{"janedoe@example.com", ""},
		{"a1b2c3@x.com", "123"},
	}
	for _, tt := range tests {
		if got := digitsOf(tt.in); got != tt.want {
			t.Fatalf("digitsOf(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
