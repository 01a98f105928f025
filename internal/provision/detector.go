package provision

import (
	"fmt"
	"strings"

	"github.com/osiriscare/winops/internal/directory"
)

// DuplicateHeader opens every duplicate reason list in reports.
const DuplicateHeader = "Another account exists with matching properties:"

// DetectDuplicates checks a candidate against every account in the
// snapshot. All six rules are evaluated — no short-circuit — so operators
// see every matching attribute, not just the first. Returns nil when the
// candidate is clean; otherwise the header line followed by one reason per
// matching rule. Pure function: no side effects, stable across calls.
func DetectDuplicates(c CandidateUser, snap *directory.Snapshot) []string {
	var (
		employeeID    bool
		shortName     bool
		principal     bool
		principalMail bool
		nickname      bool
		proxy         bool
	)

	for _, acct := range snap.Accounts {
		if matchFold(c.EmployeeID, acct.EmployeeID) {
			employeeID = true
		}
		if matchFold(c.ShortName, acct.SAMAccountName) {
			shortName = true
		}
		if matchFold(c.PrincipalName, acct.UserPrincipalName) {
			principal = true
		}
		if matchFold(c.PrincipalName, acct.Mail) {
			principalMail = true
		}
		if matchFold(c.ShortName, acct.MailNickname) {
			nickname = true
		}
		if c.PrincipalName != "" {
			needle := strings.ToLower(c.PrincipalName)
			for _, addr := range acct.ProxyAddresses {
				if strings.Contains(strings.ToLower(addr), needle) {
					proxy = true
					break
				}
			}
		}
	}

	var reasons []string
	if employeeID {
		reasons = append(reasons, fmt.Sprintf("EmployeeID %s", c.EmployeeID))
	}
	if shortName {
		reasons = append(reasons, fmt.Sprintf("SamAccountName %s", c.ShortName))
	}
	if principal {
		reasons = append(reasons, fmt.Sprintf("UserPrincipalName %s", c.PrincipalName))
	}
	if principalMail {
		reasons = append(reasons, fmt.Sprintf("Mail %s", c.PrincipalName))
	}
	if nickname {
		reasons = append(reasons, fmt.Sprintf("MailNickname %s", c.ShortName))
	}
	if proxy {
		reasons = append(reasons, fmt.Sprintf("ProxyAddresses contains %s", c.PrincipalName))
	}

	if len(reasons) == 0 {
		return nil
	}
	return append([]string{DuplicateHeader}, reasons...)
}

// matchFold compares two directory attribute values case-insensitively,
// treating empty values as non-matching.
func matchFold(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(a, b)
}
