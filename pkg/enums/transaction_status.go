package enums

import "fmt"

// TransactionStatus tracks the lifecycle of a payment transaction.
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusInitiated  TransactionStatus = "initiated"
	TransactionStatusAuthorized TransactionStatus = "authorized"
	TransactionStatusCompleted  TransactionStatus = "completed"
	TransactionStatusFailed     TransactionStatus = "failed"
	TransactionStatusCancelled  TransactionStatus = "cancelled"
)

var validTransactionStatuses = []TransactionStatus{
	TransactionStatusPending,
	TransactionStatusInitiated,
	TransactionStatusAuthorized,
	TransactionStatusCompleted,
	TransactionStatusFailed,
	TransactionStatusCancelled,
}

// transactionStatusRank orders the success path; terminal failures carry no rank.
var transactionStatusRank = map[TransactionStatus]int{
	TransactionStatusPending:    0,
	TransactionStatusInitiated:  1,
	TransactionStatusAuthorized: 2,
	TransactionStatusCompleted:  3,
}

var transactionStatusEdges = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending:    {TransactionStatusInitiated, TransactionStatusCancelled},
	TransactionStatusInitiated:  {TransactionStatusAuthorized, TransactionStatusFailed},
	TransactionStatusAuthorized: {TransactionStatusCompleted, TransactionStatusFailed},
}

// String implements fmt.Stringer.
func (s TransactionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known TransactionStatus.
func (s TransactionStatus) IsValid() bool {
	for _, candidate := range validTransactionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is permitted.
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusCancelled:
		return true
	default:
		return false
	}
}

// Rank returns the position on the success path, or -1 for failure terminals.
func (s TransactionStatus) Rank() int {
	rank, ok := transactionStatusRank[s]
	if !ok {
		return -1
	}
	return rank
}

// CanTransitionTo reports whether the edge from s to target is legal.
func (s TransactionStatus) CanTransitionTo(target TransactionStatus) bool {
	for _, next := range transactionStatusEdges[s] {
		if next == target {
			return true
		}
	}
	return false
}

// ParseTransactionStatus converts raw input into a TransactionStatus.
func ParseTransactionStatus(value string) (TransactionStatus, error) {
	for _, candidate := range validTransactionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction status %q", value)
}

// ActiveTransactionStatuses lists the non-terminal statuses that hold an
// idempotency slot for a (loan, kind, schedule slot) tuple.
func ActiveTransactionStatuses() []TransactionStatus {
	return []TransactionStatus{
		TransactionStatusPending,
		TransactionStatusInitiated,
		TransactionStatusAuthorized,
	}
}
