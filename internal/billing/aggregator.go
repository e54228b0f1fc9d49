package billing

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/milkround/internal/schedule"
)

var ten = decimal.NewFromInt(10)

// TaxBucket is the display breakdown for one tax treatment.
type TaxBucket struct {
	Treatment schedule.TaxTreatment `json:"treatment"`
	Rate      decimal.Decimal       `json:"rate"`
	Subtotal  decimal.Decimal       `json:"subtotal"`
	Tax       decimal.Decimal       `json:"tax"`
}

// Aggregate is the monthly total plus its display breakdown.
type Aggregate struct {
	RawTotal           decimal.Decimal `json:"raw_total"`
	Total              decimal.Decimal `json:"total"`
	RoundingEnabled    bool            `json:"rounding_enabled"`
	RoundingAdjustment decimal.Decimal `json:"rounding_adjustment"`
	Breakdown          []TaxBucket     `json:"breakdown"`
}

// RoundDown10 floors amount to a multiple of ten.
func RoundDown10(amount decimal.Decimal) decimal.Decimal {
	return amount.Div(ten).Floor().Mul(ten)
}

// AggregateCalendar sums line amounts across days. Tax treatment only
// shapes the breakdown; the billed total is always the line sum, rounded
// down to ten when rounding is enabled. Products missing from the map are
// treated as tax inclusive.
func AggregateCalendar(days []schedule.CalendarDay, products map[int64]schedule.Product, rounding bool) Aggregate {
	raw := decimal.Zero
	subtotals := make(map[schedule.TaxTreatment]decimal.Decimal)
	for _, day := range days {
		for _, line := range day.Lines {
			raw = raw.Add(line.Amount)
			treatment := schedule.TaxInclusive
			if p, ok := products[line.ProductID]; ok && p.TaxTreatment != "" {
				treatment = p.TaxTreatment
			}
			subtotals[treatment] = subtotals[treatment].Add(line.Amount)
		}
	}

	agg := Aggregate{
		RawTotal:           raw,
		Total:              raw,
		RoundingEnabled:    rounding,
		RoundingAdjustment: decimal.Zero,
		Breakdown:          make([]TaxBucket, 0, len(subtotals)),
	}
	if rounding {
		agg.Total = RoundDown10(raw)
		agg.RoundingAdjustment = agg.Total.Sub(raw)
	}

	for treatment, subtotal := range subtotals {
		rate := treatment.Rate()
		tax := subtotal.Mul(rate)
		if treatment.Inclusive() {
			// portion of a tax-included subtotal: subtotal x rate / (1 + rate)
			tax = tax.Div(decimal.NewFromInt(1).Add(rate))
		}
		agg.Breakdown = append(agg.Breakdown, TaxBucket{
			Treatment: treatment,
			Rate:      rate,
			Subtotal:  subtotal,
			Tax:       tax.Floor(),
		})
	}
	sort.Slice(agg.Breakdown, func(i, j int) bool {
		return agg.Breakdown[i].Treatment < agg.Breakdown[j].Treatment
	})
	return agg
}
