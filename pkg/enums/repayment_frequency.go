package enums

import "fmt"

// RepaymentFrequency is the cadence of a loan's collection schedule.
type RepaymentFrequency string

const (
	RepaymentFrequencyWeekly   RepaymentFrequency = "weekly"
	RepaymentFrequencyBiweekly RepaymentFrequency = "biweekly"
	RepaymentFrequencyMonthly  RepaymentFrequency = "monthly"
)

var validRepaymentFrequencies = []RepaymentFrequency{
	RepaymentFrequencyWeekly,
	RepaymentFrequencyBiweekly,
	RepaymentFrequencyMonthly,
}

// String implements fmt.Stringer.
func (f RepaymentFrequency) String() string {
	return string(f)
}

// IsValid reports whether the value is a known RepaymentFrequency.
func (f RepaymentFrequency) IsValid() bool {
	for _, candidate := range validRepaymentFrequencies {
		if candidate == f {
			return true
		}
	}
	return false
}

// ParseRepaymentFrequency converts raw input into a RepaymentFrequency.
func ParseRepaymentFrequency(value string) (RepaymentFrequency, error) {
	for _, candidate := range validRepaymentFrequencies {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid repayment frequency %q", value)
}
