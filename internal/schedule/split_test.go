package schedule

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitOpenEnded(t *testing.T) {
	existing := milkVersion()
	res, err := Split(existing, date(2024, 3, 1), PatternFields{
		UnitPrice:  decimal.NewFromInt(220),
		Quantities: WeeklyQuantities{time.Monday: 3},
	})
	require.NoError(t, err)

	require.NotNil(t, res.Closed.EndDate)
	assert.Equal(t, date(2024, 2, 29), *res.Closed.EndDate)
	assert.True(t, res.Closed.IsActive)
	assert.Equal(t, existing.ID, res.Closed.ID)
	assert.True(t, res.Closed.UnitPrice.Equal(decimal.NewFromInt(200)))

	assert.Zero(t, res.New.ID)
	assert.Equal(t, date(2024, 3, 1), res.New.StartDate)
	assert.Nil(t, res.New.EndDate)
	assert.True(t, res.New.IsActive)
	assert.Equal(t, 3, res.New.Quantities.For(time.Monday))

	assert.Nil(t, res.Original.EndDate)
}

func TestSplitBoundedKeepsOriginalEnd(t *testing.T) {
	existing := milkVersion()
	end := date(2024, 12, 31)
	existing.EndDate = &end

	res, err := Split(existing, date(2024, 6, 1), PatternFields{UnitPrice: decimal.NewFromInt(210)})
	require.NoError(t, err)
	require.NotNil(t, res.New.EndDate)
	assert.Equal(t, end, *res.New.EndDate)
	assert.Equal(t, date(2024, 5, 31), *res.Closed.EndDate)

	// The snapshot must not alias the closed row.
	assert.Equal(t, end, *res.Original.EndDate)
}

func TestSplitRejectsInvalidRanges(t *testing.T) {
	existing := milkVersion()
	end := date(2024, 2, 15)
	existing.EndDate = &end

	_, err := Split(existing, date(2024, 1, 1), PatternFields{})
	assert.ErrorIs(t, err, ErrInvalidRange)
	_, err = Split(existing, date(2023, 12, 1), PatternFields{})
	assert.ErrorIs(t, err, ErrInvalidRange)
	_, err = Split(existing, date(2024, 2, 16), PatternFields{})
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = Split(existing, date(2024, 2, 15), PatternFields{})
	assert.NoError(t, err, "splitting on the last day leaves a one-day new version")
}

func TestSplitRejectsInactiveAndNegative(t *testing.T) {
	existing := milkVersion()
	existing.IsActive = false
	_, err := Split(existing, date(2024, 3, 1), PatternFields{})
	assert.ErrorIs(t, err, ErrInactiveVersion)

	_, err = Split(milkVersion(), date(2024, 3, 1), PatternFields{Quantities: WeeklyQuantities{time.Friday: -1}})
	assert.ErrorIs(t, err, ErrNegativeQuantity)
}

func TestSplitRestoredUndoesClose(t *testing.T) {
	res, err := Split(milkVersion(), date(2024, 3, 1), PatternFields{UnitPrice: decimal.NewFromInt(220)})
	require.NoError(t, err)
	restored := res.Restored()
	assert.Nil(t, restored.EndDate)
	assert.True(t, restored.IsActive)
	assert.Equal(t, res.Closed.ID, restored.ID)
}

func TestIsSplit(t *testing.T) {
	v := milkVersion()
	assert.False(t, IsSplit(v, date(2024, 1, 1)))
	assert.False(t, IsSplit(v, date(2023, 6, 1)))
	assert.True(t, IsSplit(v, date(2024, 1, 2)))
}

func TestEditInPlaceKeepsRange(t *testing.T) {
	v := milkVersion()
	edited, err := EditInPlace(v, PatternFields{UnitPrice: decimal.NewFromInt(205), Quantities: WeeklyQuantities{time.Tuesday: 1}})
	require.NoError(t, err)
	assert.Equal(t, v.StartDate, edited.StartDate)
	assert.Nil(t, edited.EndDate)
	assert.Equal(t, 1, edited.Quantities.For(time.Tuesday))
	assert.Equal(t, 0, edited.Quantities.For(time.Monday))
	assert.Equal(t, 2, v.Quantities.For(time.Monday), "original untouched")
}
