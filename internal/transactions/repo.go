package transactions

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jordanvale/loanbridge-backend/pkg/db/models"
	"github.com/jordanvale/loanbridge-backend/pkg/enums"
)

// Repository manages persistence for payment transactions. The partial unique
// index on (loan_id, kind, schedule_slot) over non-terminal statuses backs the
// idempotency guarantee: Create loses the race with a unique violation, never
// with a duplicate row.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, txn *models.PaymentTransaction) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error)
	FindActiveSlot(ctx context.Context, loanID uuid.UUID, kind enums.TransactionKind, slot int) (*models.PaymentTransaction, error)
	ListByLoan(ctx context.Context, loanID uuid.UUID) ([]models.PaymentTransaction, error)
	ListOpenWithExternalID(ctx context.Context, limit int) ([]models.PaymentTransaction, error)
	CountFailedAttempts(ctx context.Context, loanID uuid.UUID, kind enums.TransactionKind, slot int) (int64, error)
	UpdateStatusCAS(ctx context.Context, id uuid.UUID, from, to enums.TransactionStatus, updates map[string]any) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a transaction repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, txn *models.PaymentTransaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) FindActiveSlot(ctx context.Context, loanID uuid.UUID, kind enums.TransactionKind, slot int) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("loan_id = ? AND kind = ? AND schedule_slot = ?", loanID, kind, slot).
		Where("status IN ?", activeStatusStrings()).
		First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) ListByLoan(ctx context.Context, loanID uuid.UUID) ([]models.PaymentTransaction, error) {
	var txns []models.PaymentTransaction
	if err := r.db.WithContext(ctx).
		Where("loan_id = ?", loanID).
		Order("kind ASC, schedule_slot ASC, created_at ASC").
		Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

func (r *repository) ListOpenWithExternalID(ctx context.Context, limit int) ([]models.PaymentTransaction, error) {
	var txns []models.PaymentTransaction
	query := r.db.WithContext(ctx).
		Where("status IN ?", []string{
			string(enums.TransactionStatusInitiated),
			string(enums.TransactionStatusAuthorized),
		}).
		Where("external_id IS NOT NULL").
		Order("updated_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

func (r *repository) CountFailedAttempts(ctx context.Context, loanID uuid.UUID, kind enums.TransactionKind, slot int) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("loan_id = ? AND kind = ? AND schedule_slot = ?", loanID, kind, slot).
		Where("status = ?", enums.TransactionStatusFailed).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// UpdateStatusCAS applies the transition only if the row is still in the
// expected prior status. Returns false when another writer got there first.
func (r *repository) UpdateStatusCAS(ctx context.Context, id uuid.UUID, from, to enums.TransactionStatus, updates map[string]any) (bool, error) {
	values := map[string]any{"status": to}
	for column, value := range updates {
		values[column] = value
	}
	res := r.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func activeStatusStrings() []string {
	statuses := enums.ActiveTransactionStatuses()
	out := make([]string, 0, len(statuses))
	for _, status := range statuses {
		out = append(out, string(status))
	}
	return out
}
