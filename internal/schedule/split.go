package schedule

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidRange indicates a version range would be inverted.
	ErrInvalidRange = errors.New("schedule: invalid pattern range")
	// ErrInactiveVersion indicates an edit against a historical version.
	ErrInactiveVersion = errors.New("schedule: pattern version is not active")
	// ErrNegativeQuantity indicates a weekday quantity below zero.
	ErrNegativeQuantity = errors.New("schedule: quantity cannot be negative")
)

// PatternFields are the editable attributes of a version.
type PatternFields struct {
	UnitPrice  decimal.Decimal  `json:"unit_price"`
	Quantities WeeklyQuantities `json:"quantities"`
}

// Validate checks the fields are storable.
func (f PatternFields) Validate() error {
	if f.UnitPrice.IsNegative() {
		return errors.New("schedule: unit price cannot be negative")
	}
	for day, qty := range f.Quantities {
		if day < time.Sunday || day > time.Saturday {
			return errors.New("schedule: weekday out of range")
		}
		if qty < 0 {
			return ErrNegativeQuantity
		}
	}
	return nil
}

// SplitResult is the closed/new pair produced by a split, plus the
// pre-split snapshot needed to reverse it.
type SplitResult struct {
	Original PatternVersion `json:"original"`
	Closed   PatternVersion `json:"closed"`
	New      PatternVersion `json:"new"`
}

// Restored returns the row that undoing the split writes back.
func (r SplitResult) Restored() PatternVersion {
	restored := r.Closed.Clone()
	restored.EndDate = nil
	if r.Original.EndDate != nil {
		end := *r.Original.EndDate
		restored.EndDate = &end
	}
	restored.IsActive = r.Original.IsActive
	return restored
}

// IsSplit reports whether an edit effective on newStart must split history
// instead of editing in place.
func IsSplit(existing PatternVersion, newStart time.Time) bool {
	return DateOf(newStart).After(DateOf(existing.StartDate))
}

// Split closes existing the day before newStart and opens a new version
// carrying fields from newStart to the original end date.
func Split(existing PatternVersion, newStart time.Time, fields PatternFields) (SplitResult, error) {
	if !existing.IsActive {
		return SplitResult{}, ErrInactiveVersion
	}
	if err := fields.Validate(); err != nil {
		return SplitResult{}, err
	}
	start := DateOf(newStart)
	if !start.After(DateOf(existing.StartDate)) {
		return SplitResult{}, ErrInvalidRange
	}
	if existing.EndDate != nil && start.After(DateOf(*existing.EndDate)) {
		return SplitResult{}, ErrInvalidRange
	}

	original := existing.Clone()
	closed := existing.Clone()
	closedEnd := start.AddDate(0, 0, -1)
	closed.EndDate = &closedEnd

	next := PatternVersion{
		CustomerID: existing.CustomerID,
		ProductID:  existing.ProductID,
		UnitPrice:  fields.UnitPrice,
		Quantities: fields.Quantities.Clone(),
		StartDate:  start,
		IsActive:   true,
	}
	if existing.EndDate != nil {
		end := DateOf(*existing.EndDate)
		next.EndDate = &end
	}
	return SplitResult{Original: original, Closed: closed, New: next}, nil
}

// EditInPlace applies fields without touching the version's range.
func EditInPlace(existing PatternVersion, fields PatternFields) (PatternVersion, error) {
	if !existing.IsActive {
		return PatternVersion{}, ErrInactiveVersion
	}
	if err := fields.Validate(); err != nil {
		return PatternVersion{}, err
	}
	edited := existing.Clone()
	edited.UnitPrice = fields.UnitPrice
	edited.Quantities = fields.Quantities.Clone()
	return edited, nil
}
