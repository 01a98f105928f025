// Package provision implements batch Active Directory account provisioning:
// CSV ingestion, duplicate detection against a directory snapshot, account
// creation with a bounded display-name retry, group assignment, and
// per-partition reporting.
package provision

import (
	"fmt"
	"strings"
)

// Indicator classifies a candidate's account type. CSV values are matched
// exactly; anything else is routed to an error partition downstream.
type Indicator string

const (
	IndicatorStaff   Indicator = "Staff"
	IndicatorStudent Indicator = "Student"
)

// KnownIndicator reports whether the raw CSV value names a supported
// account type.
func KnownIndicator(raw string) bool {
	return raw == string(IndicatorStaff) || raw == string(IndicatorStudent)
}

// shortNameMax is the directory's sAMAccountName length limit.
const shortNameMax = 20

// CandidateUser is one parsed input row. Immutable after parse; the only
// mutation is the short-name truncation applied while parsing.
type CandidateUser struct {
	EmployeeID    string
	ShortName     string // sAMAccountName, truncated to 20 chars at parse
	PrincipalName string
	GivenName     string
	MiddleName    string // optional
	Surname       string
	Indicator     string // raw CSV value; validated downstream
}

// DisplayName derives the directory display name:
// "Surname, Given" plus " M." when a middle name is present.
func (c CandidateUser) DisplayName() string {
	name := c.Surname + ", " + c.GivenName
	if c.MiddleName != "" {
		initial := []rune(c.MiddleName)[0]
		name += fmt.Sprintf(" %c.", initial)
	}
	return name
}

// truncateShortName enforces the sAMAccountName limit.
func truncateShortName(s string) string {
	runes := []rune(s)
	if len(runes) <= shortNameMax {
		return s
	}
	return string(runes[:shortNameMax])
}

// digitsOf extracts every digit character of s, in order.
func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
