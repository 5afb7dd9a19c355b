package enums

import "fmt"

// LoanStatus tracks the lifecycle of a loan aggregate.
type LoanStatus string

const (
	LoanStatusPendingDisbursement LoanStatus = "pending_disbursement"
	LoanStatusActive              LoanStatus = "active"
	LoanStatusCompleted           LoanStatus = "completed"
	LoanStatusDefaulted           LoanStatus = "defaulted"
	LoanStatusCancelled           LoanStatus = "cancelled"
)

var validLoanStatuses = []LoanStatus{
	LoanStatusPendingDisbursement,
	LoanStatusActive,
	LoanStatusCompleted,
	LoanStatusDefaulted,
	LoanStatusCancelled,
}

// String implements fmt.Stringer.
func (s LoanStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known LoanStatus.
func (s LoanStatus) IsValid() bool {
	for _, candidate := range validLoanStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseLoanStatus converts raw input into a LoanStatus.
func ParseLoanStatus(value string) (LoanStatus, error) {
	for _, candidate := range validLoanStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid loan status %q", value)
}
