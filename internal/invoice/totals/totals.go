// Package totals computes invoice monetary breakdowns. All amounts are
// int64 minor units; the package is pure and touches no storage.
package totals

import "errors"

var (
	ErrNegativeAmount   = errors.New("negative_amount")
	ErrInvalidTaxRate   = errors.New("invalid_tax_rate")
	ErrNegativeTotal    = errors.New("negative_total")
	ErrInvalidQuantity  = errors.New("invalid_quantity")
	ErrInvalidLineTotal = errors.New("invalid_line_total")
)

type Input struct {
	Subtotal int64
	// TaxRate is a percentage, e.g. 10 for 10%. Nil means no tax.
	TaxRate        *float64
	DiscountAmount int64
	Gratuity       int64
}

type Breakdown struct {
	Subtotal       int64
	TaxAmount      int64
	DiscountAmount int64
	TotalAmount    int64
	// Gratuity is carried through untouched; it is collected at payment
	// time and never part of TotalAmount.
	Gratuity int64
}

// Compute applies tax then discount to the subtotal. Tax rounds half to
// even at the minor unit.
func Compute(in Input) (Breakdown, error) {
	if in.Subtotal < 0 || in.DiscountAmount < 0 || in.Gratuity < 0 {
		return Breakdown{}, ErrNegativeAmount
	}

	var tax int64
	if in.TaxRate != nil {
		rate := *in.TaxRate
		if rate < 0 || rate > 100 {
			return Breakdown{}, ErrInvalidTaxRate
		}
		bps := roundToBps(rate)
		tax = bankersDiv(in.Subtotal*bps, 10000)
	}

	total := in.Subtotal + tax - in.DiscountAmount
	if total < 0 {
		return Breakdown{}, ErrNegativeTotal
	}

	return Breakdown{
		Subtotal:       in.Subtotal,
		TaxAmount:      tax,
		DiscountAmount: in.DiscountAmount,
		TotalAmount:    total,
		Gratuity:       in.Gratuity,
	}, nil
}

// LineTotal resolves a line item amount: quantity x unit amount unless an
// explicit override is given.
func LineTotal(quantity, unitAmount int64, override *int64) (int64, error) {
	if quantity <= 0 {
		return 0, ErrInvalidQuantity
	}
	if unitAmount < 0 {
		return 0, ErrNegativeAmount
	}
	if override != nil {
		if *override < 0 {
			return 0, ErrInvalidLineTotal
		}
		return *override, nil
	}
	return quantity * unitAmount, nil
}

// BalanceDue derives the open balance; a fully paid invoice never reports
// a negative balance.
func BalanceDue(totalAmount, amountPaid int64) int64 {
	balance := totalAmount - amountPaid
	if balance < 0 {
		return 0
	}
	return balance
}

func roundToBps(ratePercent float64) int64 {
	bps := ratePercent * 100
	return int64(bps + 0.5)
}

// bankersDiv divides n by d rounding half to even. Both operands are
// expected non-negative.
func bankersDiv(n, d int64) int64 {
	q := n / d
	r := n % d
	switch {
	case 2*r > d:
		return q + 1
	case 2*r == d && q%2 != 0:
		return q + 1
	default:
		return q
	}
}
