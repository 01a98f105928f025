package provision

import (
	"context"
	"log"

	"github.com/osiriscare/winops/internal/config"
	"github.com/osiriscare/winops/internal/directory"
)

// AccountCreator is the directory mutation the builder depends on.
type AccountCreator interface {
	CreateUser(ctx context.Context, req directory.CreateRequest) error
}

// Builder attempts to create one account per candidate, with a single
// retry under a disambiguated display name when the first attempt fails
// and the principal name carries digits to disambiguate with.
type Builder struct {
	creator AccountCreator
}

// NewBuilder creates a builder over the given directory mutation.
func NewBuilder(creator AccountCreator) *Builder {
	return &Builder{creator: creator}
}

// Build runs the two-stage creation for one candidate and appends exactly
// one record (Success or Error) to results.
//
// Two people with identical names collide on the display-name uniqueness
// constraint within a container. When the principal name already carries
// distinguishing digits (assigned upstream), appending them is a
// deterministic disambiguator requiring no extra input. Without digits
// there is nothing to retry with.
func (b *Builder) Build(ctx context.Context, c CandidateUser, placement config.Placement, results *ResultSet) {
	req := directory.CreateRequest{
		DisplayName:    c.DisplayName(),
		GivenName:      c.GivenName,
		Surname:        c.Surname,
		SAMAccountName: c.ShortName,
		PrincipalName:  c.PrincipalName,
		EmployeeID:     c.EmployeeID,
		Password:       c.EmployeeID,
		Container:      placement.Container,
		MailNickname:   c.ShortName,
		ProxyAddress:   "SMTP:" + c.PrincipalName,
	}
	if c.MiddleName != "" {
		req.Initials = string([]rune(c.MiddleName)[:1])
	}

	err := b.creator.CreateUser(ctx, req)
	if err == nil {
		results.AddSuccess(c.EmployeeID, c.ShortName, c.PrincipalName, c.GivenName, c.Surname)
		return
	}

	digits := digitsOf(c.PrincipalName)
	if digits == "" {
		log.Printf("[provision] Create failed for %s, no digits to disambiguate with: %v", c.ShortName, err)
		results.AddError(c.EmployeeID, c.ShortName, []string{err.Error()})
		return
	}

	req.DisplayName = req.DisplayName + " - " + digits
	log.Printf("[provision] Create failed for %s, retrying as %q: %v", c.ShortName, req.DisplayName, err)

	if retryErr := b.creator.CreateUser(ctx, req); retryErr != nil {
		results.AddError(c.EmployeeID, c.ShortName, []string{retryErr.Error()})
		return
	}
	results.AddSuccess(c.EmployeeID, c.ShortName, c.PrincipalName, c.GivenName, c.Surname)
}
