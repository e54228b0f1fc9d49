package schedule

import (
	"time"

	"github.com/shopspring/decimal"
)

// WeeklyQuantities maps a weekday (time.Sunday=0 .. time.Saturday=6) to the
// quantity delivered on that weekday. A missing key or zero means no delivery.
type WeeklyQuantities map[time.Weekday]int

// For returns the quantity for the weekday, treating negatives as zero.
func (q WeeklyQuantities) For(day time.Weekday) int {
	if q == nil {
		return 0
	}
	if v := q[day]; v > 0 {
		return v
	}
	return 0
}

// Clone returns an independent copy.
func (q WeeklyQuantities) Clone() WeeklyQuantities {
	if q == nil {
		return nil
	}
	out := make(WeeklyQuantities, len(q))
	for k, v := range q {
		out[k] = v
	}
	return out
}

// PatternVersion is a date-bounded weekly delivery schedule for one customer/product pair.
type PatternVersion struct {
	ID         int64            `json:"id"`
	CustomerID int64            `json:"customer_id"`
	ProductID  int64            `json:"product_id"`
	UnitPrice  decimal.Decimal  `json:"unit_price"`
	Quantities WeeklyQuantities `json:"quantities"`
	StartDate  time.Time        `json:"start_date"`
	EndDate    *time.Time       `json:"end_date,omitempty"`
	IsActive   bool             `json:"is_active"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// Covers reports whether the version's inclusive range contains date.
func (v PatternVersion) Covers(date time.Time) bool {
	d := DateOf(date)
	if d.Before(DateOf(v.StartDate)) {
		return false
	}
	if v.EndDate != nil && d.After(DateOf(*v.EndDate)) {
		return false
	}
	return true
}

// Overlaps reports whether the version range intersects [from, to]. A nil to is open-ended.
func (v PatternVersion) Overlaps(from time.Time, to *time.Time) bool {
	if to != nil && DateOf(*to).Before(DateOf(v.StartDate)) {
		return false
	}
	if v.EndDate != nil && DateOf(*v.EndDate).Before(DateOf(from)) {
		return false
	}
	return true
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (v PatternVersion) Clone() PatternVersion {
	out := v
	out.Quantities = v.Quantities.Clone()
	if v.EndDate != nil {
		end := *v.EndDate
		out.EndDate = &end
	}
	return out
}

// ChangeType enumerates temporary change kinds.
type ChangeType string

const (
	ChangeSkip   ChangeType = "skip"
	ChangeAdd    ChangeType = "add"
	ChangeModify ChangeType = "modify"
)

// IsValid checks if the change type is known.
func (t ChangeType) IsValid() bool {
	switch t {
	case ChangeSkip, ChangeAdd, ChangeModify:
		return true
	default:
		return false
	}
}

// TemporaryChange overrides the recurring pattern on a single date.
type TemporaryChange struct {
	ID         int64            `json:"id"`
	CustomerID int64            `json:"customer_id"`
	ChangeDate time.Time        `json:"change_date"`
	Type       ChangeType       `json:"change_type"`
	ProductID  *int64           `json:"product_id,omitempty"`
	Quantity   *int             `json:"quantity,omitempty"`
	UnitPrice  *decimal.Decimal `json:"unit_price,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// SkipsAll reports whether the change is a full stop-delivery day.
func (c TemporaryChange) SkipsAll() bool {
	return c.Type == ChangeSkip && c.ProductID == nil
}

// TaxTreatment describes how a product's price relates to consumption tax.
type TaxTreatment string

const (
	TaxInclusive         TaxTreatment = "inclusive"
	TaxStandardExclusive TaxTreatment = "standard_exclusive"
	TaxReducedExclusive  TaxTreatment = "reduced_exclusive"
)

// Rate returns the consumption tax rate. Inclusive prices embed the
// standard rate.
func (t TaxTreatment) Rate() decimal.Decimal {
	if t == TaxReducedExclusive {
		return decimal.New(8, -2)
	}
	return decimal.New(10, -2)
}

// Inclusive reports whether the price already contains the tax. Unknown
// treatments count as inclusive.
func (t TaxTreatment) Inclusive() bool {
	return t != TaxStandardExclusive && t != TaxReducedExclusive
}

// Product is the master-data slice the engine needs for display and pricing.
type Product struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	Unit         string          `json:"unit"`
	DefaultPrice decimal.Decimal `json:"default_price"`
	TaxTreatment TaxTreatment    `json:"tax_treatment"`
}

// LineKind distinguishes contracted deliveries from ad hoc extras.
type LineKind string

const (
	LineContracted LineKind = "contracted"
	LineExtra      LineKind = "extra"
)

// ExtraLabelPrefix marks ad hoc deliveries in display names.
const ExtraLabelPrefix = "(extra) "

// DeliveryLine is a single resolved delivery for a day.
type DeliveryLine struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Kind        LineKind        `json:"kind"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Unit        string          `json:"unit"`
	Amount      decimal.Decimal `json:"amount"`
	Modified    bool            `json:"modified,omitempty"`
}

// CalendarDay is the derived delivery list for one date.
type CalendarDay struct {
	Date    time.Time      `json:"date"`
	Weekday time.Weekday   `json:"weekday"`
	Lines   []DeliveryLine `json:"lines"`
}

// DateOf strips the clock component, keeping the calendar date in UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MonthBounds returns the first and last date of the month.
func MonthBounds(year int, month time.Month) (time.Time, time.Time) {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return first, first.AddDate(0, 1, -1)
}
