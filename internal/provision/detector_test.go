package provision

import (
	"reflect"
	"strings"
	"testing"

	"github.com/osiriscare/winops/internal/directory"
)

func testSnapshot() *directory.Snapshot {
	return &directory.Snapshot{
		Accounts: []directory.Account{
			{
				EmployeeID:        "1234567",
				SAMAccountName:    "jdoe",
				UserPrincipalName: "jdoe@corp.example.com",
				Mail:              "john.doe@corp.example.com",
				MailNickname:      "johnd",
				ProxyAddresses:    []string{"SMTP:jdoe@corp.example.com", "smtp:john.doe@corp.example.com"},
			},
			{
				EmployeeID:        "7654321",
				SAMAccountName:    "asmith",
				UserPrincipalName: "asmith@corp.example.com",
				Mail:              "asmith@corp.example.com",
				MailNickname:      "asmith",
				ProxyAddresses:    []string{"SMTP:asmith@corp.example.com"},
			},
		},
	}
}

func TestDetectDuplicatesClean(t *testing.T) {
	c := CandidateUser{
		EmployeeID:    "9999999",
		ShortName:     "bnew",
		PrincipalName: "bnew@corp.example.com",
	}
	if reasons := DetectDuplicates(c, testSnapshot()); reasons != nil {
		t.Fatalf("expected no reasons, got %v", reasons)
	}
}

func TestDetectDuplicatesEachRule(t *testing.T) {
	tests := []struct {
		name      string
		candidate CandidateUser
		want      string
	}{
		{
			name:      "employee id",
			candidate: CandidateUser{EmployeeID: "1234567", ShortName: "x", PrincipalName: "x@x.com"},
			want:      "EmployeeID 1234567",
		},
		{
			name:      "short name",
			candidate: CandidateUser{EmployeeID: "0", ShortName: "jdoe", PrincipalName: "x@x.com"},
			want:      "SamAccountName jdoe",
		},
		{
			name:      "principal name",
			candidate: CandidateUser{EmployeeID: "0", ShortName: "x", PrincipalName: "jdoe@corp.example.com"},
			want:      "UserPrincipalName jdoe@corp.example.com",
		},
		{
			name:      "principal matches mail",
			candidate: CandidateUser{EmployeeID: "0", ShortName: "x", PrincipalName: "john.doe@corp.example.com"},
			want:      "Mail john.doe@corp.example.com",
		},
		{
			name:      "short name matches nickname",
			candidate: CandidateUser{EmployeeID: "0", ShortName: "johnd", PrincipalName: "x@x.com"},
			want:      "MailNickname johnd",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reasons := DetectDuplicates(tt.candidate, testSnapshot())
			if len(reasons) < 2 {
				t.Fatalf("expected header plus at least one reason, got %v", reasons)
			}
			if reasons[0] != DuplicateHeader {
				t.Fatalf("missing header line, got %q", reasons[0])
			}
			found := false
			for _, r := range reasons[1:] {
				if r == tt.want {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected reason %q in %v", tt.want, reasons)
			}
		})
	}
}

func TestDetectDuplicatesProxyAddressSubstring(t *testing.T) {
	// Case-insensitive substring match against proxy addresses
	c := CandidateUser{
		EmployeeID:    "0",
		ShortName:     "x",
		PrincipalName: "JOHN.DOE@corp.example.com",
	}
	reasons := DetectDuplicates(c, testSnapshot())
	found := false
	for _, r := range reasons {
		if strings.HasPrefix(r, "ProxyAddresses contains") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected proxy-address reason in %v", reasons)
	}
}

func TestDetectDuplicatesReportsAllRules(t *testing.T) {
	// A candidate that trips every rule must see every reason, not just
	// the first match.
	c := CandidateUser{
		EmployeeID:    "1234567",
		ShortName:     "jdoe",
		PrincipalName: "jdoe@corp.example.com",
	}
	reasons := DetectDuplicates(c, testSnapshot())
	// header + employee id + short name + principal + proxy
	if len(reasons) < 5 {
		t.Fatalf("expected all matching reasons, got %v", reasons)
	}
}

func TestDetectDuplicatesCaseInsensitive(t *testing.T) {
	c := CandidateUser{
		EmployeeID:    "0",
		ShortName:     "JDOE",
		PrincipalName: "x@x.com",
	}
	reasons := DetectDuplicates(c, testSnapshot())
	if len(reasons) == 0 {
		t.Fatal("expected short-name match to be case-insensitive")
	}
}

func TestDetectDuplicatesEmptyAttributesNeverMatch(t *testing.T) {
	snap := &directory.Snapshot{
		Accounts: []directory.Account{{SAMAccountName: "someone"}},
	}
	c := CandidateUser{EmployeeID: "", ShortName: "", PrincipalName: ""}
	if reasons := DetectDuplicates(c, snap); reasons != nil {
		t.Fatalf("empty attributes must not match empty directory fields: %v", reasons)
	}
}

func TestDetectDuplicatesPure(t *testing.T) {
	snap := testSnapshot()
	c := CandidateUser{EmployeeID: "1234567", ShortName: "jdoe", PrincipalName: "jdoe@corp.example.com"}

	first := DetectDuplicates(c, snap)
	second := DetectDuplicates(c, snap)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("detector is not stable across calls: %v vs %v", first, second)
	}
}
