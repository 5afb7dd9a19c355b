package transactions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/jordanvale/loanbridge-backend/internal/money"
	"github.com/jordanvale/loanbridge-backend/pkg/db"
	"github.com/jordanvale/loanbridge-backend/pkg/db/models"
	"github.com/jordanvale/loanbridge-backend/pkg/enums"
	pkgerrors "github.com/jordanvale/loanbridge-backend/pkg/errors"
)

// Ledger enforces the payment transaction state machine on top of the
// repository's atomic primitives. Transitions only ever move forward:
//
//	pending    -> initiated | cancelled
//	initiated  -> authorized | failed
//	authorized -> completed | failed
//
// Terminal rows are immutable; recovery after failure is a brand-new record
// with an incremented retry count, never a rewind.
type Ledger struct {
	repo Repository
	now  func() time.Time
}

// NewLedger builds a ledger over the provided repository.
func NewLedger(repo Repository) (*Ledger, error) {
	if repo == nil {
		return nil, fmt.Errorf("transactions repository required")
	}
	return &Ledger{repo: repo, now: time.Now}, nil
}

// WithNow overrides the clock; used by tests.
func (l *Ledger) WithNow(now func() time.Time) *Ledger {
	if now == nil {
		return l
	}
	return &Ledger{repo: l.repo, now: now}
}

// WithTx rebinds the ledger to a database transaction.
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	if tx == nil {
		return l
	}
	return &Ledger{repo: l.repo.WithTx(tx), now: l.now}
}

// Repo exposes the underlying repository for read paths.
func (l *Ledger) Repo() Repository {
	return l.repo
}

// ClaimSlotInput identifies the idempotency slot a new transaction occupies.
type ClaimSlotInput struct {
	LoanID       uuid.UUID
	Kind         enums.TransactionKind
	ScheduleSlot int
	Amount       decimal.Decimal
	DueDate      *time.Time
}

// ClaimSlot atomically creates a pending transaction for the slot unless an
// active one already exists. Exactly one concurrent caller wins; the losers
// receive the existing record unchanged with claimed=false.
func (l *Ledger) ClaimSlot(ctx context.Context, input ClaimSlotInput) (*models.PaymentTransaction, bool, error) {
	if input.LoanID == uuid.Nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "loan id required")
	}
	if !input.Kind.IsValid() {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "invalid transaction kind")
	}
	if input.Kind == enums.TransactionKindDisbursement && input.ScheduleSlot != enums.DisbursementSlot {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "disbursements use the implicit slot")
	}
	if input.Kind == enums.TransactionKindCollection && input.ScheduleSlot < 1 {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "collection slot must be 1 or greater")
	}
	if input.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "transaction amount must be positive")
	}

	if existing, err := l.repo.FindActiveSlot(ctx, input.LoanID, input.Kind, input.ScheduleSlot); err == nil {
		return existing, false, nil
	} else if err != gorm.ErrRecordNotFound {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup active slot")
	}

	retries, err := l.repo.CountFailedAttempts(ctx, input.LoanID, input.Kind, input.ScheduleSlot)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count failed attempts")
	}

	txn := &models.PaymentTransaction{
		ID:           uuid.New(),
		LoanID:       input.LoanID,
		Kind:         input.Kind,
		ScheduleSlot: input.ScheduleSlot,
		Amount:       money.Round(input.Amount),
		Status:       enums.TransactionStatusPending,
		RetryCount:   int(retries),
		DueDate:      input.DueDate,
	}
	if err := l.repo.Create(ctx, txn); err != nil {
		if db.IsUniqueViolation(err, "") {
			// Lost the race; the winner's record is authoritative.
			existing, findErr := l.repo.FindActiveSlot(ctx, input.LoanID, input.Kind, input.ScheduleSlot)
			if findErr != nil {
				return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load winning slot record")
			}
			return existing, false, nil
		}
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create transaction")
	}
	return txn, true, nil
}

// Get loads a transaction by id.
func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id required")
	}
	txn, err := l.repo.FindByID(ctx, id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	return txn, nil
}

// ListByLoan returns every transaction for a loan, schedule order.
func (l *Ledger) ListByLoan(ctx context.Context, loanID uuid.UUID) ([]models.PaymentTransaction, error) {
	if loanID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "loan id required")
	}
	txns, err := l.repo.ListByLoan(ctx, loanID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list loan transactions")
	}
	return txns, nil
}

// MarkInitiated records the processor-assigned external id and moves the
// record from pending to initiated.
func (l *Ledger) MarkInitiated(ctx context.Context, txn *models.PaymentTransaction, externalID string) (bool, error) {
	if externalID == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "external id required")
	}
	now := l.now().UTC()
	return l.transition(ctx, txn, enums.TransactionStatusInitiated, map[string]any{
		"external_id":  externalID,
		"initiated_at": now,
	}, func() {
		txn.ExternalID = &externalID
		txn.InitiatedAt = &now
	})
}

// MarkAuthorized moves initiated to authorized.
func (l *Ledger) MarkAuthorized(ctx context.Context, txn *models.PaymentTransaction) (bool, error) {
	now := l.now().UTC()
	return l.transition(ctx, txn, enums.TransactionStatusAuthorized, map[string]any{
		"authorized_at": now,
	}, func() {
		txn.AuthorizedAt = &now
	})
}

// MarkCompleted moves authorized to completed.
func (l *Ledger) MarkCompleted(ctx context.Context, txn *models.PaymentTransaction, settledAt *time.Time) (bool, error) {
	completed := l.now().UTC()
	if settledAt != nil {
		completed = settledAt.UTC()
	}
	return l.transition(ctx, txn, enums.TransactionStatusCompleted, map[string]any{
		"completed_at": completed,
	}, func() {
		txn.CompletedAt = &completed
	})
}

// MarkFailed records a terminal failure with the processor's error code.
func (l *Ledger) MarkFailed(ctx context.Context, txn *models.PaymentTransaction, errorCode string) (bool, error) {
	if errorCode == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "error code required on failure")
	}
	return l.transition(ctx, txn, enums.TransactionStatusFailed, map[string]any{
		"error_code": errorCode,
	}, func() {
		txn.ErrorCode = &errorCode
	})
}

// Cancel is only legal before any processor contact.
func (l *Ledger) Cancel(ctx context.Context, txn *models.PaymentTransaction) (bool, error) {
	return l.transition(ctx, txn, enums.TransactionStatusCancelled, nil, nil)
}

// transition applies a compare-and-swap status move. applied=false with a nil
// error means the record already reached the target status (idempotent
// replay); an illegal edge returns a state conflict.
func (l *Ledger) transition(ctx context.Context, txn *models.PaymentTransaction, target enums.TransactionStatus, updates map[string]any, commit func()) (bool, error) {
	if txn == nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "transaction required")
	}
	if txn.Status == target {
		return false, nil
	}
	if !txn.Status.CanTransitionTo(target) {
		return false, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("transition %s -> %s not permitted", txn.Status, target)).
			WithDetails(map[string]any{
				"transaction_id": txn.ID,
				"from":           txn.Status,
				"to":             target,
			})
	}

	applied, err := l.repo.UpdateStatusCAS(ctx, txn.ID, txn.Status, target, updates)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply status transition")
	}
	if !applied {
		// Another writer moved the record first; reload so the caller sees
		// the current truth and can decide whether its goal is already met.
		current, loadErr := l.repo.FindByID(ctx, txn.ID)
		if loadErr != nil {
			return false, pkgerrors.Wrap(pkgerrors.CodeDependency, loadErr, "reload after lost transition race")
		}
		*txn = *current
		if txn.Status == target {
			return false, nil
		}
		return false, pkgerrors.New(pkgerrors.CodeConflict, "transaction modified concurrently").
			WithDetails(map[string]any{
				"transaction_id": txn.ID,
				"status":         txn.Status,
			})
	}

	txn.Status = target
	if commit != nil {
		commit()
	}
	return true, nil
}
