package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jordanvale/loanbridge-backend/pkg/enums"
)

// PaymentTransaction is a single money movement against the payment processor.
// Disbursements occupy the implicit schedule slot 0; collections occupy slots
// 1..N of the loan's repayment schedule.
type PaymentTransaction struct {
	ID           uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	LoanID       uuid.UUID               `gorm:"column:loan_id;type:uuid;not null"`
	Kind         enums.TransactionKind   `gorm:"column:kind;type:transaction_kind;not null"`
	Amount       decimal.Decimal         `gorm:"column:amount;type:numeric(14,2);not null"`
	ScheduleSlot int                     `gorm:"column:schedule_slot;not null;default:0"`
	Status       enums.TransactionStatus `gorm:"column:status;type:transaction_status;not null;default:'pending'"`
	ExternalID   *string                 `gorm:"column:external_id"`
	ErrorCode    *string                 `gorm:"column:error_code"`
	RetryCount   int                     `gorm:"column:retry_count;not null;default:0"`
	DueDate      *time.Time              `gorm:"column:due_date"`
	InitiatedAt  *time.Time              `gorm:"column:initiated_at"`
	AuthorizedAt *time.Time              `gorm:"column:authorized_at"`
	CompletedAt  *time.Time              `gorm:"column:completed_at"`
	CreatedAt    time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName pins the table name used by GORM.
func (PaymentTransaction) TableName() string {
	return "payment_transactions"
}
