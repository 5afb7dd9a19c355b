package processor

import (
	"strings"
	"time"
)

// RemoteState is the closed set of normalized processor statuses. Raw
// processor vocabulary never leaves this package.
type RemoteState string

const (
	// StateAccepted: the processor accepted the request and assigned an id.
	StateAccepted RemoteState = "accepted"
	// StateAuthorized: funds movement is cleared to proceed, not yet settled.
	StateAuthorized RemoteState = "authorized"
	// StateSettled: the processor reports final settlement.
	StateSettled RemoteState = "settled"
	StateFailed  RemoteState = "failed"
	StateCanceled RemoteState = "canceled"
	// StateUnknown: the processor returned a status this package does not
	// recognize; callers must treat the record as still in flight.
	StateUnknown RemoteState = "unknown"
)

// RemoteStatus is the authoritative processor view of one transaction.
type RemoteStatus struct {
	ExternalID string
	State      RemoteState
	ErrorCode  *string
	SettledAt  *time.Time
}

// InitiateResult carries the processor-assigned id for a new transaction.
type InitiateResult struct {
	ExternalID string
	State      RemoteState
}

func normalizeRemoteState(raw string) RemoteState {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "APPROVED":
		return StateAccepted
	case "PENDING":
		return StateAuthorized
	case "COMPLETED":
		return StateSettled
	case "FAILED":
		return StateFailed
	case "CANCELED":
		return StateCanceled
	default:
		return StateUnknown
	}
}
