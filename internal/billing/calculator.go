package billing

import (
	"github.com/septivank/water-billing/internal/apperr"
	"github.com/shopspring/decimal"
)

// Result holds the derived fields of a reading
type Result struct {
	UnitsUsed   float64
	TotalAmount float64
}

// Calculate computes units consumed and the amount due.
// No rounding is applied; see RoundForDisplay.
func Calculate(previous, current, rate float64) (Result, error) {
	if previous < 0 || current < 0 {
		return Result{}, apperr.Validation("meter readings must not be negative")
	}
	if current < previous {
		return Result{}, apperr.Validation("current reading %v must not be less than previous reading %v", current, previous)
	}
	if rate <= 0 {
		return Result{}, apperr.Validation("rate per unit must be greater than 0")
	}

	units := current - previous
	return Result{
		UnitsUsed:   units,
		TotalAmount: units * rate,
	}, nil
}

// RoundForDisplay rounds an amount half away from zero to 2 decimal places
func RoundForDisplay(amount float64) decimal.Decimal {
	return decimal.NewFromFloat(amount).Round(2)
}
