package money

import (
	"github.com/shopspring/decimal"

	pkgerrors "github.com/jordanvale/loanbridge-backend/pkg/errors"
)

// Reason identifies why a payment amount was rejected.
type Reason string

const (
	ReasonAmountNotPositive   Reason = "AMOUNT_NOT_POSITIVE"
	ReasonAmountExceedsBalance Reason = "AMOUNT_EXCEEDS_BALANCE"
)

// Round normalizes an amount to two decimal places, half away from zero.
// Every amount passes through here before persistence or comparison.
func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// ValidatePaymentAmount rejects non-positive amounts and overpayment against
// the remaining balance.
func ValidatePaymentAmount(amount, remainingBalance decimal.Decimal) error {
	amount = Round(amount)
	if amount.LessThanOrEqual(decimal.Zero) {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment amount must be positive").
			WithDetails(map[string]any{"reason": ReasonAmountNotPositive})
	}
	if amount.GreaterThan(Round(remainingBalance)) {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment amount exceeds remaining balance").
			WithDetails(map[string]any{"reason": ReasonAmountExceedsBalance})
	}
	return nil
}

// BalanceResult carries the outcome of applying a payment.
type BalanceResult struct {
	NewBalance decimal.Decimal
	IsPaidOff  bool
}

// CalculateNewBalance applies a payment to the current balance, clamping at
// zero. Deterministic; no clock or randomness.
func CalculateNewBalance(currentBalance, paymentAmount decimal.Decimal) BalanceResult {
	newBalance := Round(Round(currentBalance).Sub(Round(paymentAmount)))
	paidOff := newBalance.LessThanOrEqual(decimal.Zero)
	if paidOff {
		newBalance = decimal.Zero.Round(2)
	}
	return BalanceResult{NewBalance: newBalance, IsPaidOff: paidOff}
}
