package loans

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/jordanvale/loanbridge-backend/pkg/db/models"
	"github.com/jordanvale/loanbridge-backend/pkg/enums"
)

// Repository manages persistence for loans.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, loan *models.Loan) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	List(ctx context.Context, limit int) ([]models.Loan, error)
	UpdateStatusCAS(ctx context.Context, id uuid.UUID, from, to enums.LoanStatus, updates map[string]any) (bool, error)
	UpdateBalanceCAS(ctx context.Context, id uuid.UUID, expected, balance decimal.Decimal, updates map[string]any) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a loan repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, loan *models.Loan) error {
	return r.db.WithContext(ctx).Create(loan).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	var loan models.Loan
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&loan).Error; err != nil {
		return nil, err
	}
	return &loan, nil
}

func (r *repository) List(ctx context.Context, limit int) ([]models.Loan, error) {
	var loans []models.Loan
	query := r.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&loans).Error; err != nil {
		return nil, err
	}
	return loans, nil
}

// UpdateStatusCAS moves the loan status only from the expected prior status.
func (r *repository) UpdateStatusCAS(ctx context.Context, id uuid.UUID, from, to enums.LoanStatus, updates map[string]any) (bool, error) {
	values := map[string]any{"status": to}
	for column, value := range updates {
		values[column] = value
	}
	res := r.db.WithContext(ctx).
		Model(&models.Loan{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// UpdateBalanceCAS writes the new balance only while the stored balance still
// matches the snapshot the caller computed from. Concurrent payment
// applications lose the swap instead of losing an update.
func (r *repository) UpdateBalanceCAS(ctx context.Context, id uuid.UUID, expected, balance decimal.Decimal, updates map[string]any) (bool, error) {
	values := map[string]any{"remaining_balance": balance}
	for column, value := range updates {
		values[column] = value
	}
	res := r.db.WithContext(ctx).
		Model(&models.Loan{}).
		Where("id = ? AND remaining_balance = ?", id, expected).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
