package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jordanvale/loanbridge-backend/api/responses"
	"github.com/jordanvale/loanbridge-backend/api/validators"
	"github.com/jordanvale/loanbridge-backend/internal/lifecycle"
	"github.com/jordanvale/loanbridge-backend/pkg/db/models"
	"github.com/jordanvale/loanbridge-backend/pkg/logger"
)

type requestCollectionRequest struct {
	ScheduleSlot int `json:"schedule_slot" validate:"required,min=1"`
}

type transactionResponse struct {
	ID           uuid.UUID  `json:"id"`
	LoanID       uuid.UUID  `json:"loan_id"`
	Kind         string     `json:"kind"`
	Amount       string     `json:"amount"`
	ScheduleSlot int        `json:"schedule_slot"`
	Status       string     `json:"status"`
	ExternalID   *string    `json:"external_id,omitempty"`
	ErrorCode    *string    `json:"error_code,omitempty"`
	RetryCount   int        `json:"retry_count"`
	DueDate      *time.Time `json:"due_date,omitempty"`
	InitiatedAt  *time.Time `json:"initiated_at,omitempty"`
	AuthorizedAt *time.Time `json:"authorized_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func newTransactionResponse(txn *models.PaymentTransaction) transactionResponse {
	return transactionResponse{
		ID:           txn.ID,
		LoanID:       txn.LoanID,
		Kind:         txn.Kind.String(),
		Amount:       txn.Amount.StringFixed(2),
		ScheduleSlot: txn.ScheduleSlot,
		Status:       txn.Status.String(),
		ExternalID:   txn.ExternalID,
		ErrorCode:    txn.ErrorCode,
		RetryCount:   txn.RetryCount,
		DueDate:      txn.DueDate,
		InitiatedAt:  txn.InitiatedAt,
		AuthorizedAt: txn.AuthorizedAt,
		CompletedAt:  txn.CompletedAt,
		CreatedAt:    txn.CreatedAt,
	}
}

// DisbursementRequest initiates the principal payout for a loan.
func DisbursementRequest(svc *lifecycle.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loanID, err := pathUUID(r, "loanId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		txn, err := svc.RequestDisbursement(r.Context(), loanID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, newTransactionResponse(txn))
	}
}

// CollectionRequest initiates an installment collection for one schedule
// slot.
func CollectionRequest(svc *lifecycle.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loanID, err := pathUUID(r, "loanId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body requestCollectionRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		txn, err := svc.RequestCollection(r.Context(), loanID, body.ScheduleSlot)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, newTransactionResponse(txn))
	}
}

// TransactionDetail returns one payment transaction.
func TransactionDetail(svc *lifecycle.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		txn, err := loadTransaction(r, svc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newTransactionResponse(txn))
	}
}

// TransactionAuthorize clears an initiated transaction for settlement.
func TransactionAuthorize(svc *lifecycle.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathUUID(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		txn, err := svc.Authorize(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newTransactionResponse(txn))
	}
}

// TransactionConfirm verifies settlement with the processor and finalizes
// the transaction.
func TransactionConfirm(svc *lifecycle.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathUUID(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		txn, err := svc.ConfirmCompletion(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newTransactionResponse(txn))
	}
}

// TransactionCancel withdraws a pending transaction.
func TransactionCancel(svc *lifecycle.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathUUID(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		txn, err := svc.Cancel(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newTransactionResponse(txn))
	}
}

func loadTransaction(r *http.Request, svc *lifecycle.Service) (*models.PaymentTransaction, error) {
	id, err := pathUUID(r, "transactionId")
	if err != nil {
		return nil, err
	}
	return svc.Get(r.Context(), id)
}
