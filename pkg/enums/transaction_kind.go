package enums

import "fmt"

// TransactionKind distinguishes money moving out to a borrower from money
// collected back against the schedule.
type TransactionKind string

const (
	TransactionKindDisbursement TransactionKind = "disbursement"
	TransactionKindCollection   TransactionKind = "collection"
)

// DisbursementSlot is the implicit schedule slot for disbursements.
const DisbursementSlot = 0

var validTransactionKinds = []TransactionKind{
	TransactionKindDisbursement,
	TransactionKindCollection,
}

// String implements fmt.Stringer.
func (k TransactionKind) String() string {
	return string(k)
}

// IsValid reports whether the value is a known TransactionKind.
func (k TransactionKind) IsValid() bool {
	for _, candidate := range validTransactionKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseTransactionKind converts raw input into a TransactionKind.
func ParseTransactionKind(value string) (TransactionKind, error) {
	for _, candidate := range validTransactionKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction kind %q", value)
}
