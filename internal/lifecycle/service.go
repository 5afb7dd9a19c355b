package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jordanvale/loanbridge-backend/internal/loans"
	"github.com/jordanvale/loanbridge-backend/internal/schedule"
	"github.com/jordanvale/loanbridge-backend/internal/transactions"
	"github.com/jordanvale/loanbridge-backend/pkg/db/models"
	"github.com/jordanvale/loanbridge-backend/pkg/enums"
	pkgerrors "github.com/jordanvale/loanbridge-backend/pkg/errors"
	"github.com/jordanvale/loanbridge-backend/pkg/logger"
	"github.com/jordanvale/loanbridge-backend/pkg/metrics"
	"github.com/jordanvale/loanbridge-backend/pkg/processor"
)

// Gateway is the processor surface the lifecycle drives. The concrete
// implementation lives in pkg/processor.
type Gateway interface {
	Initiate(ctx context.Context, params processor.InitiateParams) (*processor.InitiateResult, error)
	Authorize(ctx context.Context, externalID string) error
	FetchStatus(ctx context.Context, externalID string) (*processor.RemoteStatus, error)
}

// Notifier receives terminal transaction outcomes. Delivery is best effort;
// implementations must never block or fail the lifecycle.
type Notifier interface {
	TransactionCompleted(ctx context.Context, txn *models.PaymentTransaction)
	TransactionFailed(ctx context.Context, txn *models.PaymentTransaction)
}

// TxRunner runs a function inside one database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Params wires the lifecycle service.
type Params struct {
	Runner   TxRunner
	Loans    *loans.Service
	Ledger   *transactions.Ledger
	Gateway  Gateway
	Notifier Notifier
	Logger   *logger.Logger
	Metrics  *metrics.ReconcileMetrics
}

// Service orchestrates disbursements and collections end to end: claiming the
// idempotency slot, driving the processor, and applying the ledger side
// effects when money actually moves.
type Service struct {
	runner   TxRunner
	loans    *loans.Service
	ledger   *transactions.Ledger
	gateway  Gateway
	notifier Notifier
	logger   *logger.Logger
	metrics  *metrics.ReconcileMetrics
}

// NewService validates dependencies and builds the orchestrator.
func NewService(params Params) (*Service, error) {
	if params.Runner == nil {
		return nil, fmt.Errorf("transaction runner is required")
	}
	if params.Loans == nil {
		return nil, fmt.Errorf("loans service is required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("transactions ledger is required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("processor gateway is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Service{
		runner:   params.Runner,
		loans:    params.Loans,
		ledger:   params.Ledger,
		gateway:  params.Gateway,
		notifier: params.Notifier,
		logger:   params.Logger,
		metrics:  params.Metrics,
	}, nil
}

// RequestDisbursement initiates the principal payout for an approved loan.
// Replays and concurrent requests converge on the single active disbursement
// record; a prior failure yields a fresh record with an incremented retry
// count.
func (s *Service) RequestDisbursement(ctx context.Context, loanID uuid.UUID) (*models.PaymentTransaction, error) {
	loan, err := s.loans.Get(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != enums.LoanStatusPendingDisbursement {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("loan is %s; disbursement only applies before activation", loan.Status))
	}

	txn, _, err := s.ledger.ClaimSlot(ctx, transactions.ClaimSlotInput{
		LoanID: loan.ID,
		Kind:   enums.TransactionKindDisbursement,
		Amount: loan.PrincipalAmount,
	})
	if err != nil {
		return nil, err
	}
	return s.initiate(ctx, loan, txn)
}

// RequestCollection initiates the installment payment for one schedule slot.
func (s *Service) RequestCollection(ctx context.Context, loanID uuid.UUID, slot int) (*models.PaymentTransaction, error) {
	loan, err := s.loans.Get(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != enums.LoanStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("loan is %s; collections only apply to active loans", loan.Status))
	}
	if slot < 1 || slot > loan.TermInstallments {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("schedule slot must be between 1 and %d", loan.TermInstallments))
	}
	if err := s.ensureSlotNotCollected(ctx, loan.ID, slot); err != nil {
		return nil, err
	}

	installment, err := s.installmentForSlot(loan, slot)
	if err != nil {
		return nil, err
	}

	due := installment.DueDate
	txn, _, err := s.ledger.ClaimSlot(ctx, transactions.ClaimSlotInput{
		LoanID:       loan.ID,
		Kind:         enums.TransactionKindCollection,
		ScheduleSlot: slot,
		Amount:       installment.Amount,
		DueDate:      &due,
	})
	if err != nil {
		return nil, err
	}
	return s.initiate(ctx, loan, txn)
}

// Authorize clears an initiated transaction for settlement with the
// processor.
func (s *Service) Authorize(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	txn, err := s.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.Status == enums.TransactionStatusAuthorized {
		return txn, nil
	}
	if txn.Status != enums.TransactionStatusInitiated || txn.ExternalID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("transaction is %s; only initiated transactions authorize", txn.Status))
	}

	if err := s.gateway.Authorize(ctx, *txn.ExternalID); err != nil {
		if code := processor.RejectionCode(err); code != "" {
			s.failTransaction(ctx, txn, code)
		}
		return nil, err
	}

	if _, err := s.ledger.MarkAuthorized(ctx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

// ConfirmCompletion verifies settlement with the processor and finalizes the
// transaction: the disbursement path activates the loan and materializes its
// collection schedule, the collection path applies the payment to the
// remaining balance. Replays on a completed record are no-ops.
func (s *Service) ConfirmCompletion(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	txn, err := s.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.Status == enums.TransactionStatusCompleted {
		return txn, nil
	}
	if txn.Status != enums.TransactionStatusAuthorized || txn.ExternalID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("transaction is %s; only authorized transactions complete", txn.Status))
	}

	remote, err := s.gateway.FetchStatus(ctx, *txn.ExternalID)
	if err != nil {
		return nil, err
	}
	switch remote.State {
	case processor.StateSettled:
		if err := s.completeTransaction(ctx, txn, remote.SettledAt); err != nil {
			return nil, err
		}
		return txn, nil
	case processor.StateFailed, processor.StateCanceled:
		s.failTransaction(ctx, txn, remoteErrorCode(remote))
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("processor reports the payment %s", remote.State))
	default:
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "processor has not settled the payment yet").
			WithDetails(map[string]any{"remote_state": remote.State})
	}
}

// Get loads one payment transaction.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	return s.ledger.Get(ctx, id)
}

// Cancel withdraws a pending transaction before any processor contact.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	txn, err := s.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.ledger.Cancel(ctx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

// ApplyRemote folds the authoritative processor status into the local record,
// stepping through intermediate states so timestamps stay coherent. The
// remote view only ever moves the record forward; a remote state trailing the
// local one is rejected and counted. Returns whether the local record
// changed.
func (s *Service) ApplyRemote(ctx context.Context, txn *models.PaymentTransaction, remote *processor.RemoteStatus) (bool, error) {
	if txn == nil || remote == nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "transaction and remote status required")
	}
	ctx = s.logger.WithFields(ctx, map[string]any{
		"transaction_id": txn.ID,
		"remote_state":   remote.State,
		"local_status":   txn.Status,
	})

	switch remote.State {
	case processor.StateUnknown:
		// Unrecognized processor vocabulary: leave the record in flight.
		s.logger.Warn(ctx, "processor returned unrecognized status; skipping")
		return false, nil

	case processor.StateAccepted:
		// Records under sync already carry an external id, so local state is
		// at least initiated; nothing to advance.
		if txn.Status.Rank() > enums.TransactionStatusInitiated.Rank() || txn.Status.IsTerminal() {
			return s.rejectRegression(ctx), nil
		}
		return false, nil

	case processor.StateAuthorized:
		if txn.Status == enums.TransactionStatusInitiated {
			applied, err := s.ledger.MarkAuthorized(ctx, txn)
			return applied, err
		}
		if txn.Status == enums.TransactionStatusAuthorized {
			return false, nil
		}
		return s.rejectRegression(ctx), nil

	case processor.StateSettled:
		if txn.Status == enums.TransactionStatusCompleted {
			return false, nil
		}
		if txn.Status == enums.TransactionStatusInitiated {
			if _, err := s.ledger.MarkAuthorized(ctx, txn); err != nil {
				return false, err
			}
		}
		if txn.Status != enums.TransactionStatusAuthorized {
			return s.rejectRegression(ctx), nil
		}
		if err := s.completeTransaction(ctx, txn, remote.SettledAt); err != nil {
			return false, err
		}
		if s.metrics != nil {
			s.metrics.IncSynced(string(remote.State))
		}
		return true, nil

	case processor.StateFailed, processor.StateCanceled:
		if txn.Status.IsTerminal() {
			if txn.Status != enums.TransactionStatusFailed {
				return s.rejectRegression(ctx), nil
			}
			return false, nil
		}
		if applied := s.failTransaction(ctx, txn, remoteErrorCode(remote)); applied {
			if s.metrics != nil {
				s.metrics.IncSynced(string(remote.State))
			}
			return true, nil
		}
		return false, nil
	}

	return false, nil
}

// initiate submits a claimed pending record to the processor. The idempotency
// key is derived from the record id so a retry after an ambiguous outcome
// never double-charges.
func (s *Service) initiate(ctx context.Context, loan *models.Loan, txn *models.PaymentTransaction) (*models.PaymentTransaction, error) {
	switch txn.Status {
	case enums.TransactionStatusInitiated, enums.TransactionStatusAuthorized:
		// Already with the processor; replay returns the live record.
		return txn, nil
	case enums.TransactionStatusPending:
	default:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("transaction is %s; cannot initiate", txn.Status))
	}

	result, err := s.gateway.Initiate(ctx, processor.InitiateParams{
		TransactionID:  txn.ID,
		LoanID:         loan.ID,
		Kind:           txn.Kind,
		Amount:         txn.Amount,
		IdempotencyKey: fmt.Sprintf("txn-initiate-%s", txn.ID),
	})
	if err != nil {
		if code := processor.RejectionCode(err); code != "" {
			s.failTransaction(ctx, txn, code)
		}
		// Timeouts and transport failures leave the record pending; the
		// deterministic idempotency key makes the next attempt safe.
		return nil, err
	}

	if _, err := s.ledger.MarkInitiated(ctx, txn, result.ExternalID); err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *Service) completeTransaction(ctx context.Context, txn *models.PaymentTransaction, settledAt *time.Time) error {
	err := s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		ledger := s.ledger.WithTx(tx)
		applied, err := ledger.MarkCompleted(ctx, txn, settledAt)
		if err != nil {
			return err
		}
		if !applied {
			return nil
		}

		loanSvc := s.loans.WithTx(tx)
		loan, err := loanSvc.Get(ctx, txn.LoanID)
		if err != nil {
			return err
		}
		if txn.Kind == enums.TransactionKindDisbursement {
			return loanSvc.Activate(ctx, loan)
		}
		_, err = loanSvc.ApplyPayment(ctx, loan, txn.Amount)
		return err
	})
	if err != nil {
		return err
	}

	if s.notifier != nil {
		s.notifier.TransactionCompleted(ctx, txn)
	}
	return nil
}

func (s *Service) failTransaction(ctx context.Context, txn *models.PaymentTransaction, errorCode string) bool {
	applied, err := s.ledger.MarkFailed(ctx, txn, errorCode)
	if err != nil {
		s.logger.Error(s.logger.WithField(ctx, "transaction_id", txn.ID),
			"recording transaction failure", err)
		return false
	}
	if applied && s.notifier != nil {
		s.notifier.TransactionFailed(ctx, txn)
	}
	return applied
}

func (s *Service) rejectRegression(ctx context.Context) bool {
	s.logger.Warn(ctx, "remote status trails local state; ignoring")
	if s.metrics != nil {
		s.metrics.IncRegressionRejected()
	}
	return false
}

func (s *Service) ensureSlotNotCollected(ctx context.Context, loanID uuid.UUID, slot int) error {
	txns, err := s.ledger.ListByLoan(ctx, loanID)
	if err != nil {
		return err
	}
	for _, txn := range txns {
		if txn.Kind == enums.TransactionKindCollection &&
			txn.ScheduleSlot == slot &&
			txn.Status == enums.TransactionStatusCompleted {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "installment already collected").
				WithDetails(map[string]any{"schedule_slot": slot})
		}
	}
	return nil
}

func (s *Service) installmentForSlot(loan *models.Loan, slot int) (schedule.Installment, error) {
	firstDue := time.Now().UTC()
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
		return schedule.Installment{}, err
	}
	return installments[slot-1], nil
}

func remoteErrorCode(remote *processor.RemoteStatus) string {
	if remote.ErrorCode != nil && *remote.ErrorCode != "" {
		return *remote.ErrorCode
	}
	if remote.State == processor.StateCanceled {
		return "PROCESSOR_CANCELED"
	}
	return "PROCESSOR_FAILED"
}
