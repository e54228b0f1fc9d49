package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/milkround/internal/schedule"
)

// ChangeInput carries the editable attributes of a temporary change.
type ChangeInput struct {
	CustomerID int64
	ChangeDate time.Time
	Type       schedule.ChangeType
	ProductID  *int64
	Quantity   *int
	UnitPrice  *decimal.Decimal
	Reason     string
}

// Validate checks the shape each change type requires.
func (in ChangeInput) Validate() error {
	if in.CustomerID <= 0 {
		return fmt.Errorf("%w: customer id required", ErrValidation)
	}
	if in.ChangeDate.IsZero() {
		return fmt.Errorf("%w: change date required", ErrValidation)
	}
	if !in.Type.IsValid() {
		return fmt.Errorf("%w: unknown change type %q", ErrValidation, in.Type)
	}
	if in.UnitPrice != nil && in.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: unit price cannot be negative", ErrValidation)
	}
	switch in.Type {
	case schedule.ChangeSkip:
		if in.Quantity != nil || in.UnitPrice != nil {
			return fmt.Errorf("%w: skip carries no quantity or price", ErrValidation)
		}
	case schedule.ChangeAdd:
		if in.ProductID == nil || in.Quantity == nil {
			return fmt.Errorf("%w: add requires product and quantity", ErrValidation)
		}
		if *in.Quantity <= 0 {
			return fmt.Errorf("%w: add quantity must be positive", ErrValidation)
		}
	case schedule.ChangeModify:
		if in.ProductID == nil || in.Quantity == nil {
			return fmt.Errorf("%w: modify requires product and quantity", ErrValidation)
		}
		if *in.Quantity < 0 {
			return fmt.Errorf("%w: modify quantity cannot be negative", ErrValidation)
		}
	}
	return nil
}

func (in ChangeInput) apply(c schedule.TemporaryChange) schedule.TemporaryChange {
	c.CustomerID = in.CustomerID
	c.ChangeDate = schedule.DateOf(in.ChangeDate)
	c.Type = in.Type
	c.ProductID = in.ProductID
	c.Quantity = in.Quantity
	c.UnitPrice = in.UnitPrice
	c.Reason = in.Reason
	return c
}

func (s *Service) ensureDayWritable(ctx context.Context, customerID int64, day time.Time) error {
	d := schedule.DateOf(day)
	return s.ensureWritable(ctx, customerID, d, &d)
}

// ListTemporaryChanges returns the customer's changes dated in the month.
func (s *Service) ListTemporaryChanges(ctx context.Context, customerID int64, year int, month time.Month) ([]schedule.TemporaryChange, error) {
	period := Period{Year: year, Month: month}
	if err := period.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.customer(ctx, customerID); err != nil {
		return nil, err
	}
	first, last := period.Bounds()
	return call(ctx, s, func(ctx context.Context) ([]schedule.TemporaryChange, error) {
		return s.store.ListTemporaryChanges(ctx, customerID, first, last)
	})
}

// CreateTemporaryChange records a one-day override.
func (s *Service) CreateTemporaryChange(ctx context.Context, in ChangeInput) (schedule.TemporaryChange, error) {
	if err := in.Validate(); err != nil {
		return schedule.TemporaryChange{}, err
	}
	if _, err := s.customer(ctx, in.CustomerID); err != nil {
		return schedule.TemporaryChange{}, err
	}
	if err := s.ensureDayWritable(ctx, in.CustomerID, in.ChangeDate); err != nil {
		return schedule.TemporaryChange{}, err
	}
	created, err := call(ctx, s, func(ctx context.Context) (schedule.TemporaryChange, error) {
		return s.store.InsertTemporaryChange(ctx, in.apply(schedule.TemporaryChange{}))
	})
	if err != nil {
		return schedule.TemporaryChange{}, fmt.Errorf("billing: insert temporary change: %w", err)
	}
	s.invalidate(ctx, in.CustomerID)
	s.record(ctx, "change.create", "temporary_change", fmt.Sprint(created.ID), map[string]any{
		"type": string(created.Type),
		"date": created.ChangeDate.Format(time.DateOnly),
	})
	return created, nil
}

func (s *Service) temporaryChange(ctx context.Context, id int64) (schedule.TemporaryChange, error) {
	if id <= 0 {
		return schedule.TemporaryChange{}, fmt.Errorf("%w: change id required", ErrValidation)
	}
	return call(ctx, s, func(ctx context.Context) (schedule.TemporaryChange, error) {
		return s.store.GetTemporaryChange(ctx, id)
	})
}

// UpdateTemporaryChange rewrites a change. Both the old and the new date
// must be in editable months.
func (s *Service) UpdateTemporaryChange(ctx context.Context, id int64, in ChangeInput) (schedule.TemporaryChange, error) {
	existing, err := s.temporaryChange(ctx, id)
	if err != nil {
		return schedule.TemporaryChange{}, err
	}
	if in.CustomerID == 0 {
		in.CustomerID = existing.CustomerID
	}
	if in.CustomerID != existing.CustomerID {
		return schedule.TemporaryChange{}, fmt.Errorf("%w: change %d belongs to another customer", ErrValidation, id)
	}
	if err := in.Validate(); err != nil {
		return schedule.TemporaryChange{}, err
	}
	if err := s.ensureDayWritable(ctx, existing.CustomerID, existing.ChangeDate); err != nil {
		return schedule.TemporaryChange{}, err
	}
	if !schedule.DateOf(in.ChangeDate).Equal(schedule.DateOf(existing.ChangeDate)) {
		if err := s.ensureDayWritable(ctx, existing.CustomerID, in.ChangeDate); err != nil {
			return schedule.TemporaryChange{}, err
		}
	}
	updated := in.apply(existing)
	if err := s.exec(ctx, func(ctx context.Context) error { return s.store.UpdateTemporaryChange(ctx, updated) }); err != nil {
		return schedule.TemporaryChange{}, fmt.Errorf("billing: update temporary change: %w", err)
	}
	s.invalidate(ctx, existing.CustomerID)
	s.record(ctx, "change.update", "temporary_change", fmt.Sprint(id), nil)
	return updated, nil
}

// DeleteTemporaryChange removes a change from an editable month.
func (s *Service) DeleteTemporaryChange(ctx context.Context, id int64) error {
	existing, err := s.temporaryChange(ctx, id)
	if err != nil {
		return err
	}
	if err := s.ensureDayWritable(ctx, existing.CustomerID, existing.ChangeDate); err != nil {
		return err
	}
	if err := s.exec(ctx, func(ctx context.Context) error { return s.store.DeleteTemporaryChange(ctx, id) }); err != nil {
		return fmt.Errorf("billing: delete temporary change: %w", err)
	}
	s.invalidate(ctx, existing.CustomerID)
	s.record(ctx, "change.delete", "temporary_change", fmt.Sprint(id), nil)
	return nil
}
