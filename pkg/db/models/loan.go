package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jordanvale/loanbridge-backend/pkg/enums"
)

// Loan is the approved loan aggregate. Transactions reference it by id only;
// the disbursement and collection flows never mutate it through an embedded
// association.
type Loan struct {
	ID               uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BorrowerRef      string                   `gorm:"column:borrower_ref;not null"`
	PrincipalAmount  decimal.Decimal          `gorm:"column:principal_amount;type:numeric(14,2);not null"`
	RemainingBalance decimal.Decimal          `gorm:"column:remaining_balance;type:numeric(14,2);not null"`
	InterestRate     decimal.Decimal          `gorm:"column:interest_rate;type:numeric(7,4);not null"`
	TermInstallments int                      `gorm:"column:term_installments;not null"`
	Frequency        enums.RepaymentFrequency `gorm:"column:frequency;type:repayment_frequency;not null"`
	Status           enums.LoanStatus         `gorm:"column:status;type:loan_status;not null;default:'pending_disbursement'"`
	FirstDueDate     *time.Time               `gorm:"column:first_due_date"`
	ActivatedAt      *time.Time               `gorm:"column:activated_at"`
	ClosedAt         *time.Time               `gorm:"column:closed_at"`
	CreatedAt        time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName pins the table name used by GORM.
func (Loan) TableName() string {
	return "loans"
}
