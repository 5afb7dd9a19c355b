package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jordanvale/loanbridge-backend/api/responses"
	"github.com/jordanvale/loanbridge-backend/api/validators"
	"github.com/jordanvale/loanbridge-backend/internal/loans"
	"github.com/jordanvale/loanbridge-backend/internal/transactions"
	"github.com/jordanvale/loanbridge-backend/pkg/db/models"
	"github.com/jordanvale/loanbridge-backend/pkg/enums"
	pkgerrors "github.com/jordanvale/loanbridge-backend/pkg/errors"
	"github.com/jordanvale/loanbridge-backend/pkg/logger"
)

type createLoanRequest struct {
	BorrowerRef      string          `json:"borrower_ref" validate:"required"`
	PrincipalAmount  decimal.Decimal `json:"principal_amount" validate:"required"`
	InterestRate     decimal.Decimal `json:"interest_rate"`
	TermInstallments int             `json:"term_installments" validate:"required,min=1"`
	Frequency        string          `json:"frequency" validate:"required"`
	FirstDueDate     time.Time       `json:"first_due_date" validate:"required"`
}

type loanResponse struct {
	ID               uuid.UUID  `json:"id"`
	BorrowerRef      string     `json:"borrower_ref"`
	PrincipalAmount  string     `json:"principal_amount"`
	RemainingBalance string     `json:"remaining_balance"`
	InterestRate     string     `json:"interest_rate"`
	TermInstallments int        `json:"term_installments"`
	Frequency        string     `json:"frequency"`
	Status           string     `json:"status"`
	FirstDueDate     *time.Time `json:"first_due_date,omitempty"`
	ActivatedAt      *time.Time `json:"activated_at,omitempty"`
	ClosedAt         *time.Time `json:"closed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func newLoanResponse(loan *models.Loan) loanResponse {
	return loanResponse{
		ID:               loan.ID,
		BorrowerRef:      loan.BorrowerRef,
		PrincipalAmount:  loan.PrincipalAmount.StringFixed(2),
		RemainingBalance: loan.RemainingBalance.StringFixed(2),
		InterestRate:     loan.InterestRate.String(),
		TermInstallments: loan.TermInstallments,
		Frequency:        loan.Frequency.String(),
		Status:           loan.Status.String(),
		FirstDueDate:     loan.FirstDueDate,
		ActivatedAt:      loan.ActivatedAt,
		ClosedAt:         loan.ClosedAt,
		CreatedAt:        loan.CreatedAt,
	}
}

// LoanCreate registers an approved loan awaiting disbursement.
func LoanCreate(svc *loans.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body createLoanRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		frequency, err := enums.ParseRepaymentFrequency(body.Frequency)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid frequency"))
			return
		}

		loan, err := svc.Create(r.Context(), loans.CreateLoanInput{
			BorrowerRef:      validators.SanitizeString(body.BorrowerRef, 120),
			PrincipalAmount:  body.PrincipalAmount,
			InterestRate:     body.InterestRate,
			TermInstallments: body.TermInstallments,
			Frequency:        frequency,
			FirstDueDate:     body.FirstDueDate,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newLoanResponse(loan))
	}
}

// LoanDetail returns one loan by id.
func LoanDetail(svc *loans.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loanID, err := pathUUID(r, "loanId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		loan, err := svc.Get(r.Context(), loanID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newLoanResponse(loan))
	}
}

// LoanList returns recent loans.
func LoanList(svc *loans.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", 0, 1, 500)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		all, err := svc.List(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		items := make([]loanResponse, 0, len(all))
		for i := range all {
			items = append(items, newLoanResponse(&all[i]))
		}
		responses.WriteSuccess(w, map[string]any{"items": items})
	}
}

// LoanTransactions returns the full payment history for a loan, schedule
// order.
func LoanTransactions(svc *loans.Service, ledger *transactions.Ledger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loanID, err := pathUUID(r, "loanId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if _, err := svc.Get(r.Context(), loanID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		txns, err := ledger.ListByLoan(r.Context(), loanID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		items := make([]transactionResponse, 0, len(txns))
		for i := range txns {
			items = append(items, newTransactionResponse(&txns[i]))
		}
		responses.WriteSuccess(w, map[string]any{"items": items})
	}
}

func pathUUID(r *http.Request, param string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, param))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, param+" is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+param)
	}
	return id, nil
}
