package transactions

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/jordanvale/loanbridge-backend/pkg/db/models"
	"github.com/jordanvale/loanbridge-backend/pkg/enums"
)

func setupTransactionsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_busy_timeout=5000"), &gorm.Config{})
	require.NoError(t, err)

	ddl := `
CREATE TABLE IF NOT EXISTS payment_transactions (
  id TEXT PRIMARY KEY,
  loan_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  amount NUMERIC NOT NULL,
  schedule_slot INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL DEFAULT 'pending',
  external_id TEXT,
  error_code TEXT,
  retry_count INTEGER NOT NULL DEFAULT 0,
  due_date DATETIME,
  initiated_at DATETIME,
  authorized_at DATETIME,
  completed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	activeSlotIndex := `
CREATE UNIQUE INDEX IF NOT EXISTS ux_payment_transactions_active_slot
  ON payment_transactions (loan_id, kind, schedule_slot)
  WHERE status IN ('pending', 'initiated', 'authorized');`
	require.NoError(t, db.Exec(ddl).Error)
	require.NoError(t, db.Exec(activeSlotIndex).Error)
	return db
}

func newTestTransaction(loanID uuid.UUID, kind enums.TransactionKind, slot int, status enums.TransactionStatus) *models.PaymentTransaction {
	return &models.PaymentTransaction{
		ID:           uuid.New(),
		LoanID:       loanID,
		Kind:         kind,
		ScheduleSlot: slot,
		Amount:       decimal.RequireFromString("100.00"),
		Status:       status,
	}
}

func TestRepositoryActiveSlotUniqueness(t *testing.T) {
	db := setupTransactionsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	loanID := uuid.New()

	first := newTestTransaction(loanID, enums.TransactionKindCollection, 1, enums.TransactionStatusPending)
	require.NoError(t, repo.Create(ctx, first))

	duplicate := newTestTransaction(loanID, enums.TransactionKindCollection, 1, enums.TransactionStatusPending)
	err := repo.Create(ctx, duplicate)
	require.Error(t, err, "second active record for the same slot must be rejected")

	// A terminal record does not hold the slot.
	failed := newTestTransaction(loanID, enums.TransactionKindCollection, 2, enums.TransactionStatusFailed)
	require.NoError(t, repo.Create(ctx, failed))
	retry := newTestTransaction(loanID, enums.TransactionKindCollection, 2, enums.TransactionStatusPending)
	require.NoError(t, repo.Create(ctx, retry))
}

func TestRepositoryFindActiveSlot(t *testing.T) {
	db := setupTransactionsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	loanID := uuid.New()

	_, err := repo.FindActiveSlot(ctx, loanID, enums.TransactionKindDisbursement, 0)
	assert.Equal(t, gorm.ErrRecordNotFound, err)

	txn := newTestTransaction(loanID, enums.TransactionKindDisbursement, 0, enums.TransactionStatusInitiated)
	require.NoError(t, repo.Create(ctx, txn))

	found, err := repo.FindActiveSlot(ctx, loanID, enums.TransactionKindDisbursement, 0)
	require.NoError(t, err)
	assert.Equal(t, txn.ID, found.ID)

	// Completed records are invisible to the active lookup.
	done := newTestTransaction(loanID, enums.TransactionKindCollection, 3, enums.TransactionStatusCompleted)
	require.NoError(t, repo.Create(ctx, done))
	_, err = repo.FindActiveSlot(ctx, loanID, enums.TransactionKindCollection, 3)
	assert.Equal(t, gorm.ErrRecordNotFound, err)
}

func TestRepositoryUpdateStatusCAS(t *testing.T) {
	db := setupTransactionsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	loanID := uuid.New()

	txn := newTestTransaction(loanID, enums.TransactionKindDisbursement, 0, enums.TransactionStatusPending)
	require.NoError(t, repo.Create(ctx, txn))

	now := time.Now().UTC()
	applied, err := repo.UpdateStatusCAS(ctx, txn.ID, enums.TransactionStatusPending, enums.TransactionStatusInitiated, map[string]any{
		"external_id":  "X1",
		"initiated_at": now,
	})
	require.NoError(t, err)
	assert.True(t, applied)

	// Stale expected status loses the swap.
	applied, err = repo.UpdateStatusCAS(ctx, txn.ID, enums.TransactionStatusPending, enums.TransactionStatusCancelled, nil)
	require.NoError(t, err)
	assert.False(t, applied)

	stored, err := repo.FindByID(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusInitiated, stored.Status)
	require.NotNil(t, stored.ExternalID)
	assert.Equal(t, "X1", *stored.ExternalID)
	require.NotNil(t, stored.InitiatedAt)
}

func TestRepositoryListOpenWithExternalID(t *testing.T) {
	db := setupTransactionsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	loanID := uuid.New()

	pending := newTestTransaction(loanID, enums.TransactionKindCollection, 11, enums.TransactionStatusPending)
	require.NoError(t, repo.Create(ctx, pending))

	externalID := "EXT-OPEN"
	initiated := newTestTransaction(loanID, enums.TransactionKindCollection, 12, enums.TransactionStatusInitiated)
	initiated.ExternalID = &externalID
	require.NoError(t, repo.Create(ctx, initiated))

	doneID := "EXT-DONE"
	completed := newTestTransaction(loanID, enums.TransactionKindCollection, 13, enums.TransactionStatusCompleted)
	completed.ExternalID = &doneID
	require.NoError(t, repo.Create(ctx, completed))

	open, err := repo.ListOpenWithExternalID(ctx, 50)
	require.NoError(t, err)

	ids := make(map[uuid.UUID]bool, len(open))
	for _, txn := range open {
		ids[txn.ID] = true
	}
	assert.True(t, ids[initiated.ID], "initiated record with external id must be listed")
	assert.False(t, ids[pending.ID], "pending record without external id must not be listed")
	assert.False(t, ids[completed.ID], "terminal record must not be listed")
}

func TestRepositoryCountFailedAttempts(t *testing.T) {
	db := setupTransactionsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	loanID := uuid.New()

	count, err := repo.CountFailedAttempts(ctx, loanID, enums.TransactionKindDisbursement, 0)
	require.NoError(t, err)
	assert.Zero(t, count)

	failed := newTestTransaction(loanID, enums.TransactionKindDisbursement, 0, enums.TransactionStatusFailed)
	require.NoError(t, repo.Create(ctx, failed))

	count, err = repo.CountFailedAttempts(ctx, loanID, enums.TransactionKindDisbursement, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}
