package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/milkround/internal/shared"
)

const paymentIdempotencyModule = "billing.payments"

// PaymentInput registers money received against a month.
type PaymentInput struct {
	CustomerID     int64
	Year           int
	Month          time.Month
	Amount         decimal.Decimal
	Method         PaymentMethod
	Note           string
	IdempotencyKey string
}

// Validate checks the payment is registrable.
func (in PaymentInput) Validate() error {
	if in.CustomerID <= 0 {
		return fmt.Errorf("%w: customer id required", ErrValidation)
	}
	if err := (Period{Year: in.Year, Month: in.Month}).Validate(); err != nil {
		return err
	}
	if !in.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if !in.Method.IsValid() {
		return fmt.Errorf("%w: unknown payment method %q", ErrValidation, in.Method)
	}
	return nil
}

// RegisterPayment appends a payment. Confirmed months accept payments too.
func (s *Service) RegisterPayment(ctx context.Context, in PaymentInput) (PaymentRecord, error) {
	if err := in.Validate(); err != nil {
		return PaymentRecord{}, err
	}
	if _, err := s.customer(ctx, in.CustomerID); err != nil {
		return PaymentRecord{}, err
	}

	key := in.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}
	if s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, key, paymentIdempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return PaymentRecord{}, fmt.Errorf("%w: payment %s already registered", ErrDuplicate, key)
			}
			return PaymentRecord{}, fmt.Errorf("billing: idempotency check: %w", err)
		}
	}

	record := PaymentRecord{
		CustomerID: in.CustomerID,
		Year:       in.Year,
		Month:      in.Month,
		Amount:     in.Amount,
		Method:     in.Method,
		Note:       in.Note,
		CreatedAt:  s.now().UTC(),
	}
	id, err := call(ctx, s, func(ctx context.Context) (int64, error) {
		return s.store.InsertPaymentRecord(ctx, record)
	})
	if err != nil {
		if s.idem != nil {
			if delErr := s.idem.Delete(context.WithoutCancel(ctx), key); delErr != nil {
				s.logger.Warn("idempotency key rollback failed", slog.String("key", key), slog.Any("error", delErr))
			}
		}
		return PaymentRecord{}, fmt.Errorf("billing: insert payment: %w", err)
	}
	record.ID = id
	s.record(ctx, "payment.register", "payment", fmt.Sprint(id), map[string]any{
		"amount": record.Amount.String(),
		"period": Period{Year: in.Year, Month: in.Month}.String(),
	})
	return record, nil
}

// ListPayments returns payments registered against the month.
func (s *Service) ListPayments(ctx context.Context, customerID int64, year int, month time.Month) ([]PaymentRecord, error) {
	if err := (Period{Year: year, Month: month}).Validate(); err != nil {
		return nil, err
	}
	if _, err := s.customer(ctx, customerID); err != nil {
		return nil, err
	}
	return call(ctx, s, func(ctx context.Context) ([]PaymentRecord, error) {
		return s.store.ListPaymentRecords(ctx, customerID, year, month)
	})
}
