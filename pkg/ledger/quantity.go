package ledger

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Quantity is Significand × 10^Exponent units of a single asset.
type Quantity struct {
	Significand int64 `json:"significand"`
	Exponent    int   `json:"exponent"`
}

// NewQuantity builds a quantity from its parts.
func NewQuantity(significand int64, exponent int) Quantity {
	return Quantity{Significand: significand, Exponent: exponent}
}

// Decimal returns the exact decimal value of the quantity.
func (quantity Quantity) Decimal() decimal.Decimal {
	return decimal.New(quantity.Significand, int32(quantity.Exponent))
}

// Float64 returns the (possibly inexact) floating point value.
func (quantity Quantity) Float64() float64 {
	return quantity.Decimal().InexactFloat64()
}

// IsZero reports whether the quantity holds nothing.
func (quantity Quantity) IsZero() bool {
	return quantity.Significand == 0
}

// UnmarshalJSON requires both fields to be present.
func (quantity *Quantity) UnmarshalJSON(data []byte) error {
	var raw struct {
		Significand *int64 `json:"significand"`
		Exponent    *int   `json:"exponent"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: quantity: %v", ErrInvalidAmount, err)
	}
	if raw.Significand == nil {
		return fmt.Errorf("%w: quantity missing significand", ErrInvalidAmount)
	}
	if raw.Exponent == nil {
		return fmt.Errorf("%w: quantity missing exponent", ErrInvalidAmount)
	}
	quantity.Significand = *raw.Significand
	quantity.Exponent = *raw.Exponent
	return nil
}

// rescaled expresses the quantity at a smaller or equal exponent.
func (quantity Quantity) rescaled(exponent int) (int64, error) {
	if exponent > quantity.Exponent {
		return 0, fmt.Errorf("%w: cannot raise exponent %d to %d", ErrAmountOverflow, quantity.Exponent, exponent)
	}
	return scaleSignificand(quantity.Significand, quantity.Exponent-exponent)
}

func scaleSignificand(significand int64, power int) (int64, error) {
	if significand == 0 {
		return 0, nil
	}
	result := significand
	for step := 0; step < power; step++ {
		if result > math.MaxInt64/10 || result < math.MinInt64/10 {
			return 0, fmt.Errorf("%w: significand %d at scale 10^%d", ErrAmountOverflow, significand, power)
		}
		result *= 10
	}
	return result, nil
}

func addSignificands(left int64, right int64) (int64, error) {
	sum := left + right
	if (right > 0 && sum < left) || (right < 0 && sum > left) {
		return 0, fmt.Errorf("%w: %d + %d", ErrAmountOverflow, left, right)
	}
	return sum, nil
}

// quantityFromDecimal approximates value with an integer significand, adding
// decimal places until the dropped fraction is within 0.1% of the value.
func quantityFromDecimal(value decimal.Decimal) (Quantity, error) {
	tolerance := decimal.New(1, -3)
	significand := value
	exponent := 0
	for digit := 0; digit < conversionMaxDigits; digit++ {
		fraction := significand.Sub(significand.Truncate(0)).Abs()
		if !fraction.GreaterThan(significand.Abs().Mul(tolerance)) {
			break
		}
		significand = significand.Shift(1)
		exponent--
	}
	whole := significand.Truncate(0)
	if !whole.BigInt().IsInt64() {
		return Quantity{}, fmt.Errorf("%w: %s", ErrAmountOverflow, value.String())
	}
	return Quantity{Significand: whole.IntPart(), Exponent: exponent}, nil
}
