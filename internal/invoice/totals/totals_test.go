package totals_test

import (
	"testing"

	"github.com/smallbiznis/paylink/internal/invoice/totals"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ratePtr(v float64) *float64 { return &v }

func TestComputeTenPercentTax(t *testing.T) {
	breakdown, err := totals.Compute(totals.Input{
		Subtotal: 10000,
		TaxRate:  ratePtr(10),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), breakdown.TaxAmount)
	assert.Equal(t, int64(11000), breakdown.TotalAmount)
}

func TestComputeFullDiscountIsFree(t *testing.T) {
	breakdown, err := totals.Compute(totals.Input{
		Subtotal:       5000,
		DiscountAmount: 5000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), breakdown.TotalAmount)
}

func TestComputeGratuityStaysOffTotal(t *testing.T) {
	breakdown, err := totals.Compute(totals.Input{
		Subtotal: 2000,
		Gratuity: 300,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2000), breakdown.TotalAmount)
	assert.Equal(t, int64(300), breakdown.Gratuity)
}

func TestComputeTaxRoundsHalfToEven(t *testing.T) {
	cases := []struct {
		subtotal int64
		rate     float64
		tax      int64
	}{
		{125, 10, 12}, // 12.5 rounds down to even
		{135, 10, 14}, // 13.5 rounds up to even
		{10000, 7.25, 725},
		{333, 10, 33}, // 33.3 rounds down
	}
	for _, tc := range cases {
		breakdown, err := totals.Compute(totals.Input{Subtotal: tc.subtotal, TaxRate: ratePtr(tc.rate)})
		require.NoError(t, err)
		assert.Equal(t, tc.tax, breakdown.TaxAmount, "subtotal %d rate %v", tc.subtotal, tc.rate)
	}
}

func TestComputeRejectsNegatives(t *testing.T) {
	_, err := totals.Compute(totals.Input{Subtotal: -1})
	assert.ErrorIs(t, err, totals.ErrNegativeAmount)

	_, err = totals.Compute(totals.Input{Subtotal: 100, DiscountAmount: -5})
	assert.ErrorIs(t, err, totals.ErrNegativeAmount)

	_, err = totals.Compute(totals.Input{Subtotal: 100, DiscountAmount: 500})
	assert.ErrorIs(t, err, totals.ErrNegativeTotal)

	_, err = totals.Compute(totals.Input{Subtotal: 100, TaxRate: ratePtr(-1)})
	assert.ErrorIs(t, err, totals.ErrInvalidTaxRate)
}

func TestLineTotal(t *testing.T) {
	total, err := totals.LineTotal(3, 250, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(750), total)

	override := int64(700)
	total, err = totals.LineTotal(3, 250, &override)
	require.NoError(t, err)
	assert.Equal(t, int64(700), total)

	_, err = totals.LineTotal(0, 250, nil)
	assert.ErrorIs(t, err, totals.ErrInvalidQuantity)
}

func TestBalanceDueNeverNegative(t *testing.T) {
	assert.Equal(t, int64(400), totals.BalanceDue(1000, 600))
	assert.Equal(t, int64(0), totals.BalanceDue(1000, 1000))
	assert.Equal(t, int64(0), totals.BalanceDue(1000, 1500))
}
