package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/milkround/internal/schedule"
)

// PatternInput describes a new pattern version.
type PatternInput struct {
	CustomerID int64
	ProductID  int64
	UnitPrice  decimal.Decimal
	Quantities schedule.WeeklyQuantities
	StartDate  time.Time
	EndDate    *time.Time
}

// EditMode tells callers how an edit was persisted.
type EditMode string

const (
	EditInPlace EditMode = "in_place"
	EditSplit   EditMode = "split"
)

// EditResult is the outcome of EditPattern.
type EditResult struct {
	Mode      EditMode                `json:"mode"`
	Version   schedule.PatternVersion `json:"version"`
	Split     *schedule.SplitResult   `json:"split,omitempty"`
	UndoToken string                  `json:"undo_token,omitempty"`
}

// ListPatterns returns the customer's versions, optionally for one product.
func (s *Service) ListPatterns(ctx context.Context, customerID int64, productID *int64) ([]schedule.PatternVersion, error) {
	if _, err := s.customer(ctx, customerID); err != nil {
		return nil, err
	}
	return call(ctx, s, func(ctx context.Context) ([]schedule.PatternVersion, error) {
		return s.store.ListPatternVersions(ctx, customerID, productID)
	})
}

// CreatePattern opens a new active version for a customer/product.
func (s *Service) CreatePattern(ctx context.Context, in PatternInput) (schedule.PatternVersion, error) {
	fields := schedule.PatternFields{UnitPrice: in.UnitPrice, Quantities: in.Quantities}
	if err := fields.Validate(); err != nil {
		return schedule.PatternVersion{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if in.StartDate.IsZero() {
		return schedule.PatternVersion{}, fmt.Errorf("%w: start date required", ErrValidation)
	}
	start := schedule.DateOf(in.StartDate)
	var end *time.Time
	if in.EndDate != nil {
		e := schedule.DateOf(*in.EndDate)
		if e.Before(start) {
			return schedule.PatternVersion{}, schedule.ErrInvalidRange
		}
		end = &e
	}
	if _, err := s.customer(ctx, in.CustomerID); err != nil {
		return schedule.PatternVersion{}, err
	}
	products, err := call(ctx, s, func(ctx context.Context) (map[int64]schedule.Product, error) {
		return s.store.ListProducts(ctx, []int64{in.ProductID})
	})
	if err != nil {
		return schedule.PatternVersion{}, fmt.Errorf("billing: load product: %w", err)
	}
	if _, ok := products[in.ProductID]; !ok {
		return schedule.PatternVersion{}, fmt.Errorf("%w: product %d", ErrNotFound, in.ProductID)
	}

	productID := in.ProductID
	existing, err := call(ctx, s, func(ctx context.Context) ([]schedule.PatternVersion, error) {
		return s.store.ListPatternVersions(ctx, in.CustomerID, &productID)
	})
	if err != nil {
		return schedule.PatternVersion{}, fmt.Errorf("billing: list pattern versions: %w", err)
	}
	for _, v := range existing {
		if v.IsActive && v.Overlaps(start, end) {
			return schedule.PatternVersion{}, fmt.Errorf("%w: version %d", ErrOverlap, v.ID)
		}
	}
	if err := s.ensureWritable(ctx, in.CustomerID, start, end); err != nil {
		return schedule.PatternVersion{}, err
	}

	created, err := call(ctx, s, func(ctx context.Context) (schedule.PatternVersion, error) {
		return s.store.InsertPatternVersion(ctx, schedule.PatternVersion{
			CustomerID: in.CustomerID,
			ProductID:  in.ProductID,
			UnitPrice:  in.UnitPrice,
			Quantities: in.Quantities.Clone(),
			StartDate:  start,
			EndDate:    end,
			IsActive:   true,
		})
	})
	if err != nil {
		return schedule.PatternVersion{}, fmt.Errorf("billing: insert pattern version: %w", err)
	}
	s.invalidate(ctx, in.CustomerID)
	s.record(ctx, "pattern.create", "pattern_version", fmt.Sprint(created.ID), map[string]any{
		"product_id": created.ProductID,
		"start_date": start.Format(time.DateOnly),
	})
	return created, nil
}

func (s *Service) patternVersion(ctx context.Context, id int64) (schedule.PatternVersion, error) {
	if id <= 0 {
		return schedule.PatternVersion{}, fmt.Errorf("%w: pattern id required", ErrValidation)
	}
	return call(ctx, s, func(ctx context.Context) (schedule.PatternVersion, error) {
		return s.store.GetPatternVersion(ctx, id)
	})
}

// EditPattern applies fields from effective onwards. Effective dates on or
// before the version start edit the row in place; later dates split the
// version so earlier months keep their billed values.
func (s *Service) EditPattern(ctx context.Context, versionID int64, effective time.Time, fields schedule.PatternFields) (EditResult, error) {
	existing, err := s.patternVersion(ctx, versionID)
	if err != nil {
		return EditResult{}, err
	}
	if err := fields.Validate(); err != nil {
		return EditResult{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if !schedule.IsSplit(existing, effective) {
		edited, err := schedule.EditInPlace(existing, fields)
		if err != nil {
			return EditResult{}, err
		}
		if err := s.ensureWritable(ctx, existing.CustomerID, existing.StartDate, existing.EndDate); err != nil {
			return EditResult{}, err
		}
		if err := s.exec(ctx, func(ctx context.Context) error { return s.store.UpdatePatternVersion(ctx, edited) }); err != nil {
			return EditResult{}, fmt.Errorf("billing: update pattern version: %w", err)
		}
		s.invalidate(ctx, existing.CustomerID)
		s.record(ctx, "pattern.edit", "pattern_version", fmt.Sprint(edited.ID), map[string]any{"mode": string(EditInPlace)})
		return EditResult{Mode: EditInPlace, Version: edited}, nil
	}

	res, err := schedule.Split(existing, effective, fields)
	if err != nil {
		return EditResult{}, err
	}
	if err := s.ensureWritable(ctx, existing.CustomerID, res.New.StartDate, res.New.EndDate); err != nil {
		return EditResult{}, err
	}
	res, err = s.persistSplit(ctx, res)
	if err != nil {
		return EditResult{}, err
	}
	s.invalidate(ctx, existing.CustomerID)
	s.record(ctx, "pattern.split", "pattern_version", fmt.Sprint(existing.ID), map[string]any{
		"new_version_id": res.New.ID,
		"effective":      res.New.StartDate.Format(time.DateOnly),
	})

	token, err := s.undo.Put(ctx, res)
	if err != nil {
		s.logger.Warn("split undo not recorded", slog.Int64("version_id", existing.ID), slog.Any("error", err))
	}
	return EditResult{Mode: EditSplit, Version: res.New, Split: &res, UndoToken: token}, nil
}

// persistSplit writes the closed and new rows as a pair. Without an atomic
// store it updates then inserts, restoring the original row when the
// insert fails.
func (s *Service) persistSplit(ctx context.Context, res schedule.SplitResult) (schedule.SplitResult, error) {
	if atomic, ok := s.store.(AtomicPatternWriter); ok {
		inserted, err := call(ctx, s, func(ctx context.Context) ([]schedule.PatternVersion, error) {
			return atomic.WritePatternVersions(ctx, PatternBatch{
				Updates: []schedule.PatternVersion{res.Closed},
				Inserts: []schedule.PatternVersion{res.New},
			})
		})
		if err != nil {
			return res, fmt.Errorf("billing: persist split of %d: %w", res.Original.ID, err)
		}
		if len(inserted) != 1 {
			return res, fmt.Errorf("billing: persist split of %d: expected 1 inserted row, got %d", res.Original.ID, len(inserted))
		}
		res.New = inserted[0]
		return res, nil
	}

	if err := s.exec(ctx, func(ctx context.Context) error { return s.store.UpdatePatternVersion(ctx, res.Closed) }); err != nil {
		return res, fmt.Errorf("billing: close version %d: %w", res.Original.ID, err)
	}
	created, err := call(ctx, s, func(ctx context.Context) (schedule.PatternVersion, error) {
		return s.store.InsertPatternVersion(ctx, res.New)
	})
	if err != nil {
		if rbErr := s.compensate(ctx, func(ctx context.Context) error {
			return s.store.UpdatePatternVersion(ctx, res.Original)
		}); rbErr != nil {
			return res, s.integrityAlarm("split", res, err, rbErr)
		}
		return res, fmt.Errorf("%w: insert new version after %d: %w", ErrPartialWrite, res.Original.ID, err)
	}
	res.New = created
	return res, nil
}

// UndoSplit reverses the split recorded under token. The token survives a
// rejected undo so the operator can retry after fixing the month.
func (s *Service) UndoSplit(ctx context.Context, token string) (schedule.PatternVersion, error) {
	res, err := s.undo.Peek(ctx, token)
	if err != nil {
		return schedule.PatternVersion{}, err
	}
	if err := s.checkUndo(ctx, res); err != nil {
		return schedule.PatternVersion{}, err
	}
	if _, err := s.undo.Take(ctx, token); err != nil {
		return schedule.PatternVersion{}, err
	}
	return s.applyUndo(ctx, res)
}

// UndoSplitResult deletes the new version and restores the closed one to
// its pre-split range.
func (s *Service) UndoSplitResult(ctx context.Context, res schedule.SplitResult) (schedule.PatternVersion, error) {
	if err := s.checkUndo(ctx, res); err != nil {
		return schedule.PatternVersion{}, err
	}
	return s.applyUndo(ctx, res)
}

// checkUndo rejects an undo unless both rows still look exactly as the split
// left them. Restoring over a later edit would leave two active versions
// covering the same dates.
func (s *Service) checkUndo(ctx context.Context, res schedule.SplitResult) error {
	if res.New.ID == 0 || res.Closed.ID == 0 {
		return fmt.Errorf("%w: split result has no persisted versions", ErrValidation)
	}
	if err := s.ensureWritable(ctx, res.Closed.CustomerID, res.New.StartDate, res.Original.EndDate); err != nil {
		return err
	}
	productID := res.Closed.ProductID
	current, err := call(ctx, s, func(ctx context.Context) ([]schedule.PatternVersion, error) {
		return s.store.ListPatternVersions(ctx, res.Closed.CustomerID, &productID)
	})
	if err != nil {
		return fmt.Errorf("billing: load versions for undo: %w", err)
	}
	var closedOK, newOK bool
	for _, v := range current {
		switch v.ID {
		case res.Closed.ID:
			closedOK = sameRange(v, res.Closed)
		case res.New.ID:
			newOK = sameRange(v, res.New)
		}
	}
	if !closedOK || !newOK {
		return fmt.Errorf("%w: versions %d/%d", ErrStaleUndo, res.Closed.ID, res.New.ID)
	}
	return nil
}

func sameRange(a, b schedule.PatternVersion) bool {
	if a.IsActive != b.IsActive || !schedule.DateOf(a.StartDate).Equal(schedule.DateOf(b.StartDate)) {
		return false
	}
	if a.EndDate == nil || b.EndDate == nil {
		return a.EndDate == nil && b.EndDate == nil
	}
	return schedule.DateOf(*a.EndDate).Equal(schedule.DateOf(*b.EndDate))
}

func (s *Service) applyUndo(ctx context.Context, res schedule.SplitResult) (schedule.PatternVersion, error) {
	restored := res.Restored()

	if atomic, ok := s.store.(AtomicPatternWriter); ok {
		_, err := call(ctx, s, func(ctx context.Context) ([]schedule.PatternVersion, error) {
			return atomic.WritePatternVersions(ctx, PatternBatch{
				Updates: []schedule.PatternVersion{restored},
				Deletes: []int64{res.New.ID},
			})
		})
		if err != nil {
			return schedule.PatternVersion{}, fmt.Errorf("billing: undo split of %d: %w", res.Closed.ID, err)
		}
	} else {
		if err := s.exec(ctx, func(ctx context.Context) error { return s.store.UpdatePatternVersion(ctx, restored) }); err != nil {
			return schedule.PatternVersion{}, fmt.Errorf("billing: restore version %d: %w", res.Closed.ID, err)
		}
		if err := s.exec(ctx, func(ctx context.Context) error { return s.store.DeletePatternVersion(ctx, res.New.ID) }); err != nil {
			if rbErr := s.compensate(ctx, func(ctx context.Context) error {
				return s.store.UpdatePatternVersion(ctx, res.Closed)
			}); rbErr != nil {
				return schedule.PatternVersion{}, s.integrityAlarm("undo_split", res, err, rbErr)
			}
			return schedule.PatternVersion{}, fmt.Errorf("%w: delete version %d: %w", ErrPartialWrite, res.New.ID, err)
		}
	}
	s.invalidate(ctx, restored.CustomerID)
	s.record(ctx, "pattern.undo_split", "pattern_version", fmt.Sprint(restored.ID), map[string]any{
		"deleted_version_id": res.New.ID,
	})
	return restored, nil
}

// DeletePattern removes a version whose range touches no confirmed month.
func (s *Service) DeletePattern(ctx context.Context, versionID int64) error {
	existing, err := s.patternVersion(ctx, versionID)
	if err != nil {
		return err
	}
	if err := s.ensureWritable(ctx, existing.CustomerID, existing.StartDate, existing.EndDate); err != nil {
		return err
	}
	if err := s.exec(ctx, func(ctx context.Context) error { return s.store.DeletePatternVersion(ctx, versionID) }); err != nil {
		return fmt.Errorf("billing: delete pattern version: %w", err)
	}
	s.invalidate(ctx, existing.CustomerID)
	s.record(ctx, "pattern.delete", "pattern_version", fmt.Sprint(versionID), nil)
	return nil
}

// compensate runs a rollback write detached from the caller's cancellation.
func (s *Service) compensate(ctx context.Context, fn func(context.Context) error) error {
	return s.exec(context.WithoutCancel(ctx), fn)
}

func (s *Service) integrityAlarm(operation string, res schedule.SplitResult, cause, rbErr error) error {
	s.metrics.IntegrityAlarm(operation)
	s.logger.Error("data integrity alarm",
		slog.String("operation", operation),
		slog.Int64("version_id", res.Original.ID),
		slog.Int64("new_version_id", res.New.ID),
		slog.Int64("customer_id", res.Original.CustomerID),
		slog.Any("error", cause),
		slog.Any("compensation_error", rbErr))
	return fmt.Errorf("%w: %s of version %d: %w", ErrDataIntegrity, operation, res.Original.ID, errors.Join(cause, rbErr))
}
