package schedule

import (
	"fmt"
	"time"
)

// ResolutionWarning reports overlapping active versions for one date.
// Resolution still succeeds using the version with the latest start date.
type ResolutionWarning struct {
	CustomerID int64
	ProductID  int64
	Date       time.Time
	VersionIDs []int64
	ChosenID   int64
}

func (w ResolutionWarning) String() string {
	return fmt.Sprintf("schedule: ambiguous resolution customer=%d product=%d date=%s versions=%v chosen=%d",
		w.CustomerID, w.ProductID, w.Date.Format(time.DateOnly), w.VersionIDs, w.ChosenID)
}

// Resolve selects the version of (customerID, productID) covering date.
// Active versions take precedence over inactive history. The returned warning
// is non-nil only when more than one active version covers the date.
func Resolve(versions []PatternVersion, customerID, productID int64, date time.Time) (*PatternVersion, *ResolutionWarning) {
	var (
		active   []*PatternVersion
		inactive []*PatternVersion
	)
	for i := range versions {
		v := &versions[i]
		if v.CustomerID != customerID || v.ProductID != productID || !v.Covers(date) {
			continue
		}
		if v.IsActive {
			active = append(active, v)
		} else {
			inactive = append(inactive, v)
		}
	}
	if len(active) == 0 {
		if len(inactive) == 0 {
			return nil, nil
		}
		return latest(inactive), nil
	}
	chosen := latest(active)
	if len(active) == 1 {
		return chosen, nil
	}
	warning := &ResolutionWarning{
		CustomerID: customerID,
		ProductID:  productID,
		Date:       DateOf(date),
		ChosenID:   chosen.ID,
	}
	for _, v := range active {
		warning.VersionIDs = append(warning.VersionIDs, v.ID)
	}
	return chosen, warning
}

func latest(candidates []*PatternVersion) *PatternVersion {
	best := candidates[0]
	for _, v := range candidates[1:] {
		switch {
		case v.StartDate.After(best.StartDate):
			best = v
		case v.StartDate.Equal(best.StartDate) && v.ID > best.ID:
			best = v
		}
	}
	return best
}

// productIDs returns the distinct products referenced by versions in a stable order.
func productIDs(versions []PatternVersion) []int64 {
	seen := make(map[int64]struct{}, len(versions))
	out := make([]int64, 0, len(versions))
	for _, v := range versions {
		if _, ok := seen[v.ProductID]; ok {
			continue
		}
		seen[v.ProductID] = struct{}{}
		out = append(out, v.ProductID)
	}
	return out
}
