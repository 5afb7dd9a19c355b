package loans

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/jordanvale/loanbridge-backend/internal/money"
	"github.com/jordanvale/loanbridge-backend/internal/schedule"
	"github.com/jordanvale/loanbridge-backend/internal/transactions"
	"github.com/jordanvale/loanbridge-backend/pkg/db/models"
	"github.com/jordanvale/loanbridge-backend/pkg/enums"
	pkgerrors "github.com/jordanvale/loanbridge-backend/pkg/errors"
)

// Service owns the loan aggregate: creation after approval, the activation
// trigger that materializes the collection schedule, and balance movement as
// collections settle.
type Service struct {
	repo   Repository
	ledger *transactions.Ledger
	now    func() time.Time
}

// CreateLoanInput carries the terms the approval workflow hands over.
type CreateLoanInput struct {
	BorrowerRef      string
	PrincipalAmount  decimal.Decimal
	InterestRate     decimal.Decimal
	TermInstallments int
	Frequency        enums.RepaymentFrequency
	FirstDueDate     time.Time
}

// NewService wires the loan service.
func NewService(repo Repository, ledger *transactions.Ledger) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("loans repository required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("transactions ledger required")
	}
	return &Service{repo: repo, ledger: ledger, now: time.Now}, nil
}

// WithNow overrides the clock; used by tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	if now == nil {
		return s
	}
	return &Service{repo: s.repo, ledger: s.ledger, now: now}
}

// WithTx rebinds the service to a database transaction.
func (s *Service) WithTx(tx *gorm.DB) *Service {
	if tx == nil {
		return s
	}
	return &Service{repo: s.repo.WithTx(tx), ledger: s.ledger.WithTx(tx), now: s.now}
}

// Create records an approved loan awaiting disbursement. The remaining
// balance is seeded with the full repayable amount so the materialized
// collection schedule sums exactly to it.
func (s *Service) Create(ctx context.Context, input CreateLoanInput) (*models.Loan, error) {
	if input.BorrowerRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "borrower reference required")
	}

	installments, err := schedule.Build(schedule.Params{
		Principal:    input.PrincipalAmount,
		InterestRate: input.InterestRate,
		Installments: input.TermInstallments,
		Frequency:    input.Frequency,
		FirstDueDate: input.FirstDueDate,
	})
	if err != nil {
		return nil, err
	}

	firstDue := input.FirstDueDate.UTC()
	loan := &models.Loan{
		ID:               uuid.New(),
		BorrowerRef:      input.BorrowerRef,
		PrincipalAmount:  money.Round(input.PrincipalAmount),
		RemainingBalance: schedule.Total(installments),
		InterestRate:     input.InterestRate,
		TermInstallments: input.TermInstallments,
		Frequency:        input.Frequency,
		Status:           enums.LoanStatusPendingDisbursement,
		FirstDueDate:     &firstDue,
	}
	if err := s.repo.Create(ctx, loan); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create loan")
	}
	return loan, nil
}

// Get loads a loan by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "loan id required")
	}
	loan, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "loan not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load loan")
	}
	return loan, nil
}

// List returns recent loans for admin display.
func (s *Service) List(ctx context.Context, limit int) ([]models.Loan, error) {
	loans, err := s.repo.List(ctx, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list loans")
	}
	return loans, nil
}

// Activate flips the loan to active and materializes the collection schedule
// as pending transactions. The status swap fires at most once; the
// materialization is idempotent so a crash between the two heals on replay.
// Callers run this inside the same unit of work that completes the
// disbursement.
func (s *Service) Activate(ctx context.Context, loan *models.Loan) error {
	if loan == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "loan required")
	}

	now := s.now().UTC()
	swapped, err := s.repo.UpdateStatusCAS(ctx, loan.ID, enums.LoanStatusPendingDisbursement, enums.LoanStatusActive, map[string]any{
		"activated_at": now,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "activate loan")
	}
	if !swapped {
		current, loadErr := s.repo.FindByID(ctx, loan.ID)
		if loadErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, loadErr, "reload loan after lost activation race")
		}
		*loan = *current
		if loan.Status != enums.LoanStatusActive {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("loan cannot activate from %s", loan.Status))
		}
		// Already active: fall through and re-run the idempotent
		// materialization in case an earlier attempt crashed mid-way.
	} else {
		loan.Status = enums.LoanStatusActive
		loan.ActivatedAt = &now
	}

	return s.materializeSchedule(ctx, loan)
}

func (s *Service) materializeSchedule(ctx context.Context, loan *models.Loan) error {
	firstDue := s.now().UTC()
	if loan.FirstDueDate != nil {
		firstDue = loan.FirstDueDate.UTC()
	}
	installments, err := schedule.Build(schedule.Params{
		Principal:    loan.PrincipalAmount,
		InterestRate: loan.InterestRate,
		Installments: loan.TermInstallments,
		Frequency:    loan.Frequency,
		FirstDueDate: firstDue,
	})
	if err != nil {
		return err
	}

	for _, installment := range installments {
		due := installment.DueDate
		if _, _, err := s.ledger.ClaimSlot(ctx, transactions.ClaimSlotInput{
			LoanID:       loan.ID,
			Kind:         enums.TransactionKindCollection,
			ScheduleSlot: installment.Slot,
			Amount:       installment.Amount,
			DueDate:      &due,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err,
				fmt.Sprintf("materialize collection slot %d", installment.Slot))
		}
	}
	return nil
}

// ApplyPayment reduces the remaining balance by a settled collection amount
// and closes the loan when it reaches zero.
func (s *Service) ApplyPayment(ctx context.Context, loan *models.Loan, amount decimal.Decimal) (money.BalanceResult, error) {
	if loan == nil {
		return money.BalanceResult{}, pkgerrors.New(pkgerrors.CodeValidation, "loan required")
	}
	if loan.Status != enums.LoanStatusActive {
		return money.BalanceResult{}, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("payments do not apply to a %s loan", loan.Status))
	}

	if err := money.ValidatePaymentAmount(amount, loan.RemainingBalance); err != nil {
		return money.BalanceResult{}, err
	}

	result := money.CalculateNewBalance(loan.RemainingBalance, amount)
	updates := map[string]any{}
	if result.IsPaidOff {
		updates["status"] = enums.LoanStatusCompleted
		updates["closed_at"] = s.now().UTC()
	}
	swapped, err := s.repo.UpdateBalanceCAS(ctx, loan.ID, loan.RemainingBalance, result.NewBalance, updates)
	if err != nil {
		return money.BalanceResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply payment to balance")
	}
	if !swapped {
		return money.BalanceResult{}, pkgerrors.New(pkgerrors.CodeConflict, "loan balance changed concurrently").
			WithDetails(map[string]any{"loan_id": loan.ID})
	}

	loan.RemainingBalance = result.NewBalance
	if result.IsPaidOff {
		loan.Status = enums.LoanStatusCompleted
	}
	return result, nil
}
