package billing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/milkround/internal/schedule"
)

func line(productID int64, amount int64) schedule.DeliveryLine {
	return schedule.DeliveryLine{ProductID: productID, Quantity: 1, UnitPrice: dec(amount), Amount: dec(amount)}
}

func TestRoundDown10(t *testing.T) {
	cases := map[string]string{
		"3755":  "3750",
		"3750":  "3750",
		"9":     "0",
		"19.99": "10",
		"0":     "0",
	}
	for in, want := range cases {
		got := RoundDown10(decimal.RequireFromString(in))
		assert.True(t, got.Equal(decimal.RequireFromString(want)), "%s -> %s", in, got)
	}
}

func TestAggregateInclusiveTaxPortion(t *testing.T) {
	products := map[int64]schedule.Product{300: {ID: 300, TaxTreatment: schedule.TaxInclusive}}
	days := []schedule.CalendarDay{{Date: date(2024, 1, 1), Lines: []schedule.DeliveryLine{line(300, 1100)}}}

	agg := AggregateCalendar(days, products, false)
	require.Len(t, agg.Breakdown, 1)
	assert.True(t, agg.Breakdown[0].Tax.Equal(dec(100)), agg.Breakdown[0].Tax.String())
	assert.True(t, agg.Total.Equal(dec(1100)), "tax display never changes the billed total")
}

func TestAggregateCalendarBreakdown(t *testing.T) {
	products := map[int64]schedule.Product{
		100: {ID: 100, TaxTreatment: schedule.TaxReducedExclusive},
		200: {ID: 200, TaxTreatment: schedule.TaxStandardExclusive},
		300: {ID: 300, TaxTreatment: schedule.TaxInclusive},
	}
	days := []schedule.CalendarDay{
		{Date: date(2024, 1, 1), Lines: []schedule.DeliveryLine{line(100, 199), line(200, 155)}},
		{Date: date(2024, 1, 2)},
		{Date: date(2024, 1, 3), Lines: []schedule.DeliveryLine{line(300, 120), line(400, 50)}},
	}

	agg := AggregateCalendar(days, products, true)
	assert.True(t, agg.RawTotal.Equal(dec(524)), agg.RawTotal.String())
	assert.True(t, agg.Total.Equal(dec(520)))
	assert.True(t, agg.RoundingAdjustment.Equal(dec(-4)))
	assert.True(t, agg.RoundingEnabled)

	require.Len(t, agg.Breakdown, 3)
	byTreatment := make(map[schedule.TaxTreatment]TaxBucket)
	for _, b := range agg.Breakdown {
		byTreatment[b.Treatment] = b
	}
	// Unknown product 400 counts as inclusive.
	assert.True(t, byTreatment[schedule.TaxInclusive].Subtotal.Equal(dec(170)))
	assert.True(t, byTreatment[schedule.TaxInclusive].Tax.Equal(dec(15)), "floor(170*0.10/1.10)")
	assert.True(t, byTreatment[schedule.TaxInclusive].Rate.Equal(decimal.New(10, -2)))
	assert.True(t, byTreatment[schedule.TaxReducedExclusive].Tax.Equal(dec(15)), "floor(199*0.08)")
	assert.True(t, byTreatment[schedule.TaxStandardExclusive].Tax.Equal(dec(15)), "floor(155*0.10)")

	plain := AggregateCalendar(days, products, false)
	assert.True(t, plain.Total.Equal(plain.RawTotal))
	assert.True(t, plain.RoundingAdjustment.IsZero())
}

func TestAggregateCalendarEmptyMonth(t *testing.T) {
	agg := AggregateCalendar(nil, nil, true)
	assert.True(t, agg.Total.IsZero())
	assert.Empty(t, agg.Breakdown)
}
