package schedule

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jordanvale/loanbridge-backend/internal/money"
	pkgerrors "github.com/jordanvale/loanbridge-backend/pkg/errors"
	"github.com/jordanvale/loanbridge-backend/pkg/enums"
)

// Installment is one entry of a loan's collection schedule. Slots run 1..N.
type Installment struct {
	Slot    int
	DueDate time.Time
	Amount  decimal.Decimal
}

// Params describe the loan terms a schedule is derived from.
type Params struct {
	Principal    decimal.Decimal
	InterestRate decimal.Decimal // flat rate over the loan term, e.g. 0.10
	Installments int
	Frequency    enums.RepaymentFrequency
	FirstDueDate time.Time
}

// Build computes the full collection schedule. The total repayable is the
// principal plus flat interest; each installment is the rounded even split,
// with the rounding remainder folded into the final installment so the
// schedule always sums to the exact total. Identical inputs always produce
// identical schedules.
func Build(params Params) ([]Installment, error) {
	if params.Principal.LessThanOrEqual(decimal.Zero) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "principal must be positive")
	}
	if params.InterestRate.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "interest rate must not be negative")
	}
	if params.Installments <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "installment count must be positive")
	}
	if !params.Frequency.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid repayment frequency")
	}
	if params.FirstDueDate.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "first due date required")
	}

	principal := money.Round(params.Principal)
	total := money.Round(principal.Add(principal.Mul(params.InterestRate)))
	count := decimal.NewFromInt(int64(params.Installments))
	base := money.Round(total.Div(count))

	installments := make([]Installment, 0, params.Installments)
	accumulated := decimal.Zero
	due := params.FirstDueDate.UTC()
	for slot := 1; slot <= params.Installments; slot++ {
		amount := base
		if slot == params.Installments {
			amount = money.Round(total.Sub(accumulated))
		}
		installments = append(installments, Installment{
			Slot:    slot,
			DueDate: due,
			Amount:  amount,
		})
		accumulated = accumulated.Add(amount)
		due = nextDueDate(due, params.Frequency)
	}
	return installments, nil
}

// Total returns the sum of all installment amounts.
func Total(installments []Installment) decimal.Decimal {
	total := decimal.Zero
	for _, installment := range installments {
		total = total.Add(installment.Amount)
	}
	return money.Round(total)
}

func nextDueDate(current time.Time, frequency enums.RepaymentFrequency) time.Time {
	switch frequency {
	case enums.RepaymentFrequencyWeekly:
		return current.AddDate(0, 0, 7)
	case enums.RepaymentFrequencyBiweekly:
		return current.AddDate(0, 0, 14)
	default:
		return current.AddDate(0, 1, 0)
	}
}
