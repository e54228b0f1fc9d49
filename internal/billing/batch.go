package billing

import (
	"context"
	"fmt"
	"log/slog"
)

// BatchResult summarises a whole-month run.
type BatchResult struct {
	Period    Period  `json:"period"`
	Processed []int64 `json:"processed"`
	Failed    []int64 `json:"failed"`
}

func (s *Service) billableCustomers(ctx context.Context, period Period) ([]int64, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}
	ids, err := call(ctx, s, func(ctx context.Context) ([]int64, error) {
		return s.store.ListBillableCustomers(ctx, period)
	})
	if err != nil {
		return nil, fmt.Errorf("billing: list billable customers: %w", err)
	}
	return ids, nil
}

// ConfirmMonth confirms every billable customer using each customer's
// rounding setting. Per-customer failures are logged and reported, not fatal.
func (s *Service) ConfirmMonth(ctx context.Context, period Period) (BatchResult, error) {
	ids, err := s.billableCustomers(ctx, period)
	if err != nil {
		return BatchResult{}, err
	}
	result := BatchResult{Period: period}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		customer, err := s.customer(ctx, id)
		if err == nil {
			_, err = s.ConfirmInvoice(ctx, id, period.Year, period.Month, customer.RoundingEnabled)
		}
		if err != nil {
			s.logger.Error("batch confirm failed",
				slog.Int64("customer_id", id),
				slog.String("period", period.String()),
				slog.Any("error", err))
			result.Failed = append(result.Failed, id)
			continue
		}
		result.Processed = append(result.Processed, id)
	}
	return result, nil
}

// WarmTotals precomputes cached totals for every billable customer.
func (s *Service) WarmTotals(ctx context.Context, period Period) (BatchResult, error) {
	ids, err := s.billableCustomers(ctx, period)
	if err != nil {
		return BatchResult{}, err
	}
	result := BatchResult{Period: period}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		customer, err := s.customer(ctx, id)
		if err == nil {
			_, err = s.MonthlyAggregate(ctx, id, period.Year, period.Month, customer.RoundingEnabled)
		}
		if err != nil {
			s.logger.Warn("totals warm-up failed", slog.Int64("customer_id", id), slog.Any("error", err))
			result.Failed = append(result.Failed, id)
			continue
		}
		result.Processed = append(result.Processed, id)
	}
	return result, nil
}
