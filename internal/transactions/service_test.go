package transactions

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanvale/loanbridge-backend/pkg/enums"
	pkgerrors "github.com/jordanvale/loanbridge-backend/pkg/errors"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	ledger, err := NewLedger(NewRepository(setupTransactionsTestDB(t)))
	require.NoError(t, err)
	return ledger
}

func TestClaimSlotIdempotency(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	loanID := uuid.New()

	first, claimed, err := ledger.ClaimSlot(ctx, ClaimSlotInput{
		LoanID: loanID,
		Kind:   enums.TransactionKindDisbursement,
		Amount: decimal.RequireFromString("500.00"),
	})
	require.NoError(t, err)
	require.True(t, claimed)
	assert.Equal(t, enums.TransactionStatusPending, first.Status)
	assert.Zero(t, first.RetryCount)

	second, claimed, err := ledger.ClaimSlot(ctx, ClaimSlotInput{
		LoanID: loanID,
		Kind:   enums.TransactionKindDisbursement,
		Amount: decimal.RequireFromString("500.00"),
	})
	require.NoError(t, err)
	assert.False(t, claimed, "second claim must observe the existing record")
	assert.Equal(t, first.ID, second.ID)
}

func TestClaimSlotConcurrentInitiationSingleWinner(t *testing.T) {
	ledger := newTestLedger(t)
	loanID := uuid.New()

	const attempts = 8
	var wg sync.WaitGroup
	winners := make(chan uuid.UUID, attempts)
	claims := make(chan bool, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			txn, claimed, err := ledger.ClaimSlot(context.Background(), ClaimSlotInput{
				LoanID: loanID,
				Kind:   enums.TransactionKindCollection,
				ScheduleSlot: 1,
				Amount: decimal.RequireFromString("110.00"),
			})
			if err != nil {
				return
			}
			winners <- txn.ID
			claims <- claimed
		}()
	}
	wg.Wait()
	close(winners)
	close(claims)

	ids := map[uuid.UUID]bool{}
	for id := range winners {
		ids[id] = true
	}
	require.Len(t, ids, 1, "every concurrent claim must converge on one record")

	claimedCount := 0
	for claimed := range claims {
		if claimed {
			claimedCount++
		}
	}
	assert.Equal(t, 1, claimedCount, "exactly one claim may win")
}

func TestClaimSlotValidation(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	_, _, err := ledger.ClaimSlot(ctx, ClaimSlotInput{
		Kind:   enums.TransactionKindDisbursement,
		Amount: decimal.RequireFromString("10.00"),
	})
	require.Error(t, err)

	_, _, err = ledger.ClaimSlot(ctx, ClaimSlotInput{
		LoanID:       uuid.New(),
		Kind:         enums.TransactionKindDisbursement,
		ScheduleSlot: 2,
		Amount:       decimal.RequireFromString("10.00"),
	})
	require.Error(t, err, "disbursement slot is fixed")

	_, _, err = ledger.ClaimSlot(ctx, ClaimSlotInput{
		LoanID: uuid.New(),
		Kind:   enums.TransactionKindCollection,
		Amount: decimal.RequireFromString("10.00"),
	})
	require.Error(t, err, "collection slot must be positive")

	_, _, err = ledger.ClaimSlot(ctx, ClaimSlotInput{
		LoanID: uuid.New(),
		Kind:   enums.TransactionKindCollection,
		ScheduleSlot: 1,
		Amount: decimal.Zero,
	})
	require.Error(t, err)
}

func TestClaimSlotRetryCountAfterFailure(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	loanID := uuid.New()

	txn, claimed, err := ledger.ClaimSlot(ctx, ClaimSlotInput{
		LoanID: loanID,
		Kind:   enums.TransactionKindDisbursement,
		Amount: decimal.RequireFromString("500.00"),
	})
	require.NoError(t, err)
	require.True(t, claimed)

	_, err = ledger.MarkInitiated(ctx, txn, "X1")
	require.NoError(t, err)
	_, err = ledger.MarkFailed(ctx, txn, "INSUFFICIENT_FUNDS")
	require.NoError(t, err)

	retry, claimed, err := ledger.ClaimSlot(ctx, ClaimSlotInput{
		LoanID: loanID,
		Kind:   enums.TransactionKindDisbursement,
		Amount: decimal.RequireFromString("500.00"),
	})
	require.NoError(t, err)
	require.True(t, claimed)
	assert.NotEqual(t, txn.ID, retry.ID, "retry must be a brand-new record")
	assert.Equal(t, 1, retry.RetryCount)
	assert.Nil(t, retry.ExternalID, "retry must never reuse an external id")

	// The failed record stays visible and unchanged.
	original, err := ledger.Get(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusFailed, original.Status)
	require.NotNil(t, original.ErrorCode)
	assert.Equal(t, "INSUFFICIENT_FUNDS", *original.ErrorCode)
}

func TestForwardOnlyStateMachine(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	loanID := uuid.New()

	txn, _, err := ledger.ClaimSlot(ctx, ClaimSlotInput{
		LoanID: loanID,
		Kind:   enums.TransactionKindDisbursement,
		Amount: decimal.RequireFromString("500.00"),
	})
	require.NoError(t, err)

	// authorized before initiated is illegal.
	_, err = ledger.MarkAuthorized(ctx, txn)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())

	applied, err := ledger.MarkInitiated(ctx, txn, "X1")
	require.NoError(t, err)
	assert.True(t, applied)
	require.NotNil(t, txn.InitiatedAt)

	applied, err = ledger.MarkAuthorized(ctx, txn)
	require.NoError(t, err)
	assert.True(t, applied)
	require.NotNil(t, txn.AuthorizedAt)
	assert.False(t, txn.AuthorizedAt.Before(*txn.InitiatedAt))

	applied, err = ledger.MarkCompleted(ctx, txn, nil)
	require.NoError(t, err)
	assert.True(t, applied)
	require.NotNil(t, txn.CompletedAt)

	// No transition leaves a terminal state.
	_, err = ledger.MarkFailed(ctx, txn, "LATE_FAILURE")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())
	_, err = ledger.Cancel(ctx, txn)
	require.Error(t, err)
}

func TestTransitionIdempotentReplay(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	loanID := uuid.New()

	txn, _, err := ledger.ClaimSlot(ctx, ClaimSlotInput{
		LoanID: loanID,
		Kind:   enums.TransactionKindDisbursement,
		Amount: decimal.RequireFromString("500.00"),
	})
	require.NoError(t, err)

	_, err = ledger.MarkInitiated(ctx, txn, "X1")
	require.NoError(t, err)

	// Replaying the same transition is a no-op, not an error.
	applied, err := ledger.MarkInitiated(ctx, txn, "X1")
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestTransitionLostRaceReloads(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	loanID := uuid.New()

	txn, _, err := ledger.ClaimSlot(ctx, ClaimSlotInput{
		LoanID: loanID,
		Kind:   enums.TransactionKindDisbursement,
		Amount: decimal.RequireFromString("500.00"),
	})
	require.NoError(t, err)
	_, err = ledger.MarkInitiated(ctx, txn, "X1")
	require.NoError(t, err)

	// Simulate a concurrent writer holding a stale snapshot.
	stale := *txn
	_, err = ledger.MarkAuthorized(ctx, txn)
	require.NoError(t, err)

	applied, err := ledger.MarkAuthorized(ctx, &stale)
	require.NoError(t, err, "losing the race to the same target is idempotent")
	assert.False(t, applied)
	assert.Equal(t, enums.TransactionStatusAuthorized, stale.Status, "stale snapshot must be reloaded")
}

func TestCancelOnlyFromPending(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	loanID := uuid.New()

	txn, _, err := ledger.ClaimSlot(ctx, ClaimSlotInput{
		LoanID: loanID,
		Kind:   enums.TransactionKindDisbursement,
		Amount: decimal.RequireFromString("500.00"),
	})
	require.NoError(t, err)

	applied, err := ledger.Cancel(ctx, txn)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, enums.TransactionStatusCancelled, txn.Status)

	other, _, err := ledger.ClaimSlot(ctx, ClaimSlotInput{
		LoanID: loanID,
		Kind:   enums.TransactionKindDisbursement,
		Amount: decimal.RequireFromString("500.00"),
	})
	require.NoError(t, err)
	_, err = ledger.MarkInitiated(ctx, other, "X2")
	require.NoError(t, err)

	_, err = ledger.Cancel(ctx, other)
	require.Error(t, err, "cancel after processor contact is illegal")
}
