package provision

import "sort"

// SuccessRecord is the outcome for a candidate whose account was created.
type SuccessRecord struct {
	EmployeeID  string
	AccountName string
	Email       string
	FirstName   string
	LastName    string
}

// ErrorRecord is the outcome for a candidate that was blocked or whose
// creation failed. Errors holds one or more reason lines in order.
type ErrorRecord struct {
	EmployeeID  string
	AccountName string
	Errors      []string
}

// ResultSet accumulates the outcomes of one partition. It is owned by the
// processor for the duration of that partition and replaced at the start
// of the next.
type ResultSet struct {
	Errors    []ErrorRecord
	Successes []SuccessRecord
}

// AddError appends an error outcome. The reasons slice is copied so later
// caller mutations cannot reach the record.
func (rs *ResultSet) AddError(employeeID, accountName string, reasons []string) {
	errs := make([]string, len(reasons))
	copy(errs, reasons)
	rs.Errors = append(rs.Errors, ErrorRecord{
		EmployeeID:  employeeID,
		AccountName: accountName,
		Errors:      errs,
	})
}

// AddSuccess appends a success outcome.
func (rs *ResultSet) AddSuccess(employeeID, accountName, email, firstName, lastName string) {
	rs.Successes = append(rs.Successes, SuccessRecord{
		EmployeeID:  employeeID,
		AccountName: accountName,
		Email:       email,
		FirstName:   firstName,
		LastName:    lastName,
	})
}

// Total is the processed count: every candidate lands in exactly one list.
func (rs *ResultSet) Total() int {
	return len(rs.Errors) + len(rs.Successes)
}

// SortedErrors returns the error records ascending by employee id. Both
// report renderings use this, keeping their ordering identical.
func (rs *ResultSet) SortedErrors() []ErrorRecord {
	out := make([]ErrorRecord, len(rs.Errors))
	copy(out, rs.Errors)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EmployeeID < out[j].EmployeeID
	})
	return out
}

// SortedSuccesses returns the success records ascending by employee id.
func (rs *ResultSet) SortedSuccesses() []SuccessRecord {
	out := make([]SuccessRecord, len(rs.Successes))
	copy(out, rs.Successes)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EmployeeID < out[j].EmployeeID
	})
	return out
}
