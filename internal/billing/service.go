package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/milkround/internal/observability"
	"github.com/odyssey-erp/milkround/internal/schedule"
	"github.com/odyssey-erp/milkround/internal/shared"
)

// ServiceConfig tunes the engine's collaborator calls.
type ServiceConfig struct {
	// StoreTimeout bounds every store round-trip. Zero disables the bound.
	StoreTimeout time.Duration
}

// Service is the billing engine facade: calendar, totals, invoice
// lifecycle, ledger and the guarded write paths.
type Service struct {
	store     Store
	logger    *slog.Logger
	cfg       ServiceConfig
	generator *schedule.Generator
	cache     *TotalsCache
	undo      *UndoJournal
	locker    MonthLocker
	audit     AuditRecorder
	idem      IdempotencyGuard
	metrics   *observability.BillingMetrics
	group     singleflight.Group
	now       func() time.Time
}

// NewService constructs the engine over store.
func NewService(store Store, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		logger:    logger,
		cfg:       cfg,
		generator: schedule.NewGenerator(nil),
		now:       time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// SetCache wires the monthly totals cache.
func (s *Service) SetCache(cache *TotalsCache) { s.cache = cache }

// SetUndoJournal wires the split undo journal.
func (s *Service) SetUndoJournal(journal *UndoJournal) { s.undo = journal }

// SetLocker wires the confirm/unconfirm month lock.
func (s *Service) SetLocker(locker MonthLocker) { s.locker = locker }

// SetAuditRecorder wires the audit trail.
func (s *Service) SetAuditRecorder(audit AuditRecorder) { s.audit = audit }

// SetIdempotency wires the payment replay guard.
func (s *Service) SetIdempotency(guard IdempotencyGuard) { s.idem = guard }

// SetMetrics wires the billing collectors.
func (s *Service) SetMetrics(metrics *observability.BillingMetrics) { s.metrics = metrics }

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.StoreTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}

// call runs one store operation under the configured timeout.
func call[T any](ctx context.Context, s *Service, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return fn(ctx)
}

func (s *Service) exec(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return fn(ctx)
}

func (s *Service) customer(ctx context.Context, customerID int64) (Customer, error) {
	if customerID <= 0 {
		return Customer{}, fmt.Errorf("%w: customer id required", ErrValidation)
	}
	return call(ctx, s, func(ctx context.Context) (Customer, error) {
		return s.store.GetCustomer(ctx, customerID)
	})
}

// monthData is everything fetched for a range of months at call start.
type monthData struct {
	customer Customer
	versions []schedule.PatternVersion
	changes  []schedule.TemporaryChange
	products map[int64]schedule.Product
}

// load fetches versions, changes in [from, to] and the products both reference.
func (s *Service) load(ctx context.Context, customerID int64, from, to time.Time) (monthData, error) {
	var data monthData
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := s.customer(gctx, customerID)
		if err != nil {
			return err
		}
		data.customer = c
		return nil
	})
	g.Go(func() error {
		versions, err := call(gctx, s, func(ctx context.Context) ([]schedule.PatternVersion, error) {
			return s.store.ListPatternVersions(ctx, customerID, nil)
		})
		if err != nil {
			return fmt.Errorf("billing: list pattern versions: %w", err)
		}
		data.versions = versions
		return nil
	})
	g.Go(func() error {
		changes, err := call(gctx, s, func(ctx context.Context) ([]schedule.TemporaryChange, error) {
			return s.store.ListTemporaryChanges(ctx, customerID, from, to)
		})
		if err != nil {
			return fmt.Errorf("billing: list temporary changes: %w", err)
		}
		data.changes = changes
		return nil
	})
	if err := g.Wait(); err != nil {
		return monthData{}, err
	}

	seen := make(map[int64]struct{})
	ids := make([]int64, 0, len(data.versions))
	add := func(id int64) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, v := range data.versions {
		add(v.ProductID)
	}
	for _, c := range data.changes {
		if c.ProductID != nil {
			add(*c.ProductID)
		}
	}
	products, err := call(ctx, s, func(ctx context.Context) (map[int64]schedule.Product, error) {
		return s.store.ListProducts(ctx, ids)
	})
	if err != nil {
		return monthData{}, fmt.Errorf("billing: list products: %w", err)
	}
	data.products = products
	return data, nil
}

func (s *Service) generate(customerID int64, period Period, data monthData) schedule.Calendar {
	cal := s.generator.Generate(schedule.MonthInput{
		CustomerID: customerID,
		Year:       period.Year,
		Month:      period.Month,
		Versions:   data.versions,
		Changes:    data.changes,
		Products:   data.products,
	})
	if len(cal.Warnings) > 0 {
		s.metrics.AddAmbiguous(len(cal.Warnings))
		for _, w := range cal.Warnings {
			s.logger.Warn("ambiguous pattern resolution",
				slog.Int64("customer_id", w.CustomerID),
				slog.Int64("product_id", w.ProductID),
				slog.String("date", w.Date.Format(time.DateOnly)),
				slog.Any("version_ids", w.VersionIDs),
				slog.Int64("chosen_id", w.ChosenID))
		}
	}
	return cal
}

// GenerateCalendar returns one CalendarDay per date of the month.
func (s *Service) GenerateCalendar(ctx context.Context, customerID int64, year int, month time.Month) (schedule.Calendar, error) {
	period := Period{Year: year, Month: month}
	if err := period.Validate(); err != nil {
		return schedule.Calendar{}, err
	}
	first, last := period.Bounds()
	data, err := s.load(ctx, customerID, first, last)
	if err != nil {
		return schedule.Calendar{}, err
	}
	return s.generate(customerID, period, data), nil
}

// MonthlyAggregate computes the month's total and tax breakdown from
// current data, consulting the totals cache.
func (s *Service) MonthlyAggregate(ctx context.Context, customerID int64, year int, month time.Month, rounding bool) (Aggregate, error) {
	period := Period{Year: year, Month: month}
	if err := period.Validate(); err != nil {
		return Aggregate{}, err
	}
	key, err := s.cache.Key(ctx, customerID, period, rounding)
	if err != nil {
		s.logger.Warn("totals cache version unavailable", slog.Int64("customer_id", customerID), slog.Any("error", err))
		return s.computeAggregate(ctx, customerID, period, rounding)
	}
	v, err, _ := s.group.Do(key, func() (any, error) {
		agg, hit, err := s.cache.Fetch(ctx, key, func(ctx context.Context) (Aggregate, error) {
			return s.computeAggregate(ctx, customerID, period, rounding)
		})
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			s.metrics.CacheLookup(hit)
		}
		return agg, nil
	})
	if err != nil {
		return Aggregate{}, err
	}
	return v.(Aggregate), nil
}

func (s *Service) computeAggregate(ctx context.Context, customerID int64, period Period, rounding bool) (Aggregate, error) {
	first, last := period.Bounds()
	data, err := s.load(ctx, customerID, first, last)
	if err != nil {
		return Aggregate{}, err
	}
	cal := s.generate(customerID, period, data)
	return AggregateCalendar(cal.Days, data.products, rounding), nil
}

// ComputeMonthlyTotal returns the billed amount for the month.
func (s *Service) ComputeMonthlyTotal(ctx context.Context, customerID int64, year int, month time.Month, rounding bool) (decimal.Decimal, error) {
	agg, err := s.MonthlyAggregate(ctx, customerID, year, month, rounding)
	if err != nil {
		return decimal.Zero, err
	}
	return agg.Total, nil
}

func (s *Service) invoiceStatus(ctx context.Context, customerID int64, period Period) (*InvoiceStatus, error) {
	status, err := call(ctx, s, func(ctx context.Context) (*InvoiceStatus, error) {
		return s.store.GetInvoiceStatus(ctx, customerID, period.Year, period.Month)
	})
	if err != nil {
		return nil, fmt.Errorf("billing: load invoice status: %w", err)
	}
	return status, nil
}

// GetInvoice returns the month's status with its aggregate. Confirmed
// months report the locked snapshot amount and rounding flag.
func (s *Service) GetInvoice(ctx context.Context, customerID int64, year int, month time.Month) (InvoiceView, error) {
	period := Period{Year: year, Month: month}
	if err := period.Validate(); err != nil {
		return InvoiceView{}, err
	}
	customer, err := s.customer(ctx, customerID)
	if err != nil {
		return InvoiceView{}, err
	}
	status, err := s.invoiceStatus(ctx, customerID, period)
	if err != nil {
		return InvoiceView{}, err
	}
	if status != nil && status.Confirmed {
		first, last := period.Bounds()
		data, err := s.load(ctx, customerID, first, last)
		if err != nil {
			return InvoiceView{}, err
		}
		agg := AggregateCalendar(s.generate(customerID, period, data).Days, data.products, status.RoundingEnabled)
		agg.Total = status.Amount
		agg.RoundingAdjustment = status.Amount.Sub(agg.RawTotal)
		return InvoiceView{Status: *status, Aggregate: agg, ReadOnly: true}, nil
	}

	agg, err := s.MonthlyAggregate(ctx, customerID, year, month, customer.RoundingEnabled)
	if err != nil {
		return InvoiceView{}, err
	}
	view := InvoiceView{
		Status: InvoiceStatus{
			CustomerID:      customerID,
			Year:            year,
			Month:           month,
			RoundingEnabled: customer.RoundingEnabled,
			Amount:          agg.Total,
		},
		Aggregate: agg,
	}
	if status != nil {
		view.Status.UpdatedAt = status.UpdatedAt
	}
	return view, nil
}

func (s *Service) lock(ctx context.Context, key string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	return s.locker.Lock(ctx, key)
}

// ConfirmInvoice locks the month's total as an immutable snapshot.
// Confirming a confirmed month returns the stored snapshot unchanged.
func (s *Service) ConfirmInvoice(ctx context.Context, customerID int64, year int, month time.Month, rounding bool) (InvoiceStatus, error) {
	period := Period{Year: year, Month: month}
	if err := period.Validate(); err != nil {
		return InvoiceStatus{}, err
	}
	release, err := s.lock(ctx, shared.InvoiceLockKey(customerID, year, month))
	if err != nil {
		s.metrics.Transition(string(EventConfirm), "error")
		return InvoiceStatus{}, fmt.Errorf("billing: lock %s: %w", period, err)
	}
	defer release()

	current, err := s.invoiceStatus(ctx, customerID, period)
	if err != nil {
		return InvoiceStatus{}, err
	}
	_, changed, err := Transition(current.State(), EventConfirm)
	if err != nil {
		return InvoiceStatus{}, err
	}
	if !changed {
		s.metrics.Transition(string(EventConfirm), "noop")
		return *current, nil
	}

	first, last := period.Bounds()
	data, err := s.load(ctx, customerID, first, last)
	if err != nil {
		return InvoiceStatus{}, err
	}
	agg := AggregateCalendar(s.generate(customerID, period, data).Days, data.products, rounding)
	now := s.now().UTC()
	status := InvoiceStatus{
		CustomerID:      customerID,
		Year:            year,
		Month:           month,
		Confirmed:       true,
		ConfirmedAt:     &now,
		RoundingEnabled: rounding,
		Amount:          agg.Total,
		UpdatedAt:       now,
	}
	if err := s.exec(ctx, func(ctx context.Context) error { return s.store.WriteInvoiceStatus(ctx, status) }); err != nil {
		s.metrics.Transition(string(EventConfirm), "error")
		return InvoiceStatus{}, fmt.Errorf("billing: write invoice status: %w", err)
	}
	s.metrics.Transition(string(EventConfirm), "applied")
	s.invalidate(ctx, customerID)
	s.record(ctx, "invoice.confirm", "invoice", invoiceEntityID(customerID, period), map[string]any{
		"amount":   status.Amount.String(),
		"rounding": rounding,
	})
	s.logger.Info("invoice confirmed",
		slog.Int64("customer_id", customerID),
		slog.String("period", period.String()),
		slog.String("amount", status.Amount.String()))
	return status, nil
}

// UnconfirmInvoice reopens the month. Payments stay registered.
func (s *Service) UnconfirmInvoice(ctx context.Context, customerID int64, year int, month time.Month) (InvoiceStatus, error) {
	period := Period{Year: year, Month: month}
	if err := period.Validate(); err != nil {
		return InvoiceStatus{}, err
	}
	release, err := s.lock(ctx, shared.InvoiceLockKey(customerID, year, month))
	if err != nil {
		s.metrics.Transition(string(EventUnconfirm), "error")
		return InvoiceStatus{}, fmt.Errorf("billing: lock %s: %w", period, err)
	}
	defer release()

	current, err := s.invoiceStatus(ctx, customerID, period)
	if err != nil {
		return InvoiceStatus{}, err
	}
	_, changed, err := Transition(current.State(), EventUnconfirm)
	if err != nil {
		return InvoiceStatus{}, err
	}
	if !changed {
		s.metrics.Transition(string(EventUnconfirm), "noop")
		if current != nil {
			return *current, nil
		}
		if _, err := s.customer(ctx, customerID); err != nil {
			return InvoiceStatus{}, err
		}
		return InvoiceStatus{CustomerID: customerID, Year: year, Month: month, Amount: decimal.Zero}, nil
	}

	status := *current
	status.Confirmed = false
	status.ConfirmedAt = nil
	status.Amount = decimal.Zero
	status.UpdatedAt = s.now().UTC()
	if err := s.exec(ctx, func(ctx context.Context) error { return s.store.WriteInvoiceStatus(ctx, status) }); err != nil {
		s.metrics.Transition(string(EventUnconfirm), "error")
		return InvoiceStatus{}, fmt.Errorf("billing: write invoice status: %w", err)
	}
	s.metrics.Transition(string(EventUnconfirm), "applied")
	s.invalidate(ctx, customerID)
	s.record(ctx, "invoice.unconfirm", "invoice", invoiceEntityID(customerID, period), map[string]any{
		"previous_amount": current.Amount.String(),
	})
	return status, nil
}

// IsMonthReadOnly reports whether the month is confirmed.
func (s *Service) IsMonthReadOnly(ctx context.Context, customerID int64, year int, month time.Month) (bool, error) {
	period := Period{Year: year, Month: month}
	if err := period.Validate(); err != nil {
		return false, err
	}
	status, err := s.invoiceStatus(ctx, customerID, period)
	if err != nil {
		return false, err
	}
	return status.State() == StateConfirmed, nil
}

// ensureWritable rejects a mutation whose affected range [from, to]
// touches a confirmed month of the customer. A nil to is open-ended.
func (s *Service) ensureWritable(ctx context.Context, customerID int64, from time.Time, to *time.Time) error {
	statuses, err := call(ctx, s, func(ctx context.Context) ([]InvoiceStatus, error) {
		return s.store.ListInvoiceStatuses(ctx, customerID)
	})
	if err != nil {
		return fmt.Errorf("billing: list invoice statuses: %w", err)
	}
	from = schedule.DateOf(from)
	for _, st := range statuses {
		if !st.Confirmed {
			continue
		}
		first, last := st.Period().Bounds()
		if last.Before(from) {
			continue
		}
		if to != nil && schedule.DateOf(*to).Before(first) {
			continue
		}
		return fmt.Errorf("%w: %s", ErrReadOnlyMonth, st.Period())
	}
	return nil
}

// ComputeLedgerSummary derives the month's balance. Balances accumulate
// forward from the customer's first month of activity, using locked
// amounts for confirmed months and projected totals otherwise.
func (s *Service) ComputeLedgerSummary(ctx context.Context, customerID int64, year int, month time.Month) (LedgerSummary, error) {
	target := Period{Year: year, Month: month}
	if err := target.Validate(); err != nil {
		return LedgerSummary{}, err
	}

	var (
		statuses []InvoiceStatus
		payments map[Period]decimal.Decimal
		versions []schedule.PatternVersion
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		statuses, err = call(gctx, s, func(ctx context.Context) ([]InvoiceStatus, error) {
			return s.store.ListInvoiceStatuses(ctx, customerID)
		})
		return err
	})
	g.Go(func() error {
		var err error
		payments, err = call(gctx, s, func(ctx context.Context) (map[Period]decimal.Decimal, error) {
			return s.store.SumPaymentsByMonth(ctx, customerID, target)
		})
		return err
	})
	g.Go(func() error {
		var err error
		versions, err = call(gctx, s, func(ctx context.Context) ([]schedule.PatternVersion, error) {
			return s.store.ListPatternVersions(ctx, customerID, nil)
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return LedgerSummary{}, fmt.Errorf("billing: load ledger inputs: %w", err)
	}

	start := target
	consider := func(p Period) {
		if p.Before(start) {
			start = p
		}
	}
	for _, v := range versions {
		consider(PeriodOf(v.StartDate))
	}
	for p := range payments {
		consider(p)
	}
	confirmed := make(map[Period]InvoiceStatus, len(statuses))
	for _, st := range statuses {
		consider(st.Period())
		if st.Confirmed {
			confirmed[st.Period()] = st
		}
	}

	first, _ := start.Bounds()
	_, last := target.Bounds()
	data, err := s.load(ctx, customerID, first, last)
	if err != nil {
		return LedgerSummary{}, err
	}

	opening := decimal.Zero
	var summary LedgerSummary
	for p := start; !target.Before(p); p = p.Next() {
		invoice := decimal.Zero
		st, isConfirmed := confirmed[p]
		if isConfirmed {
			invoice = st.Amount
		} else {
			cal := s.generate(customerID, p, data)
			invoice = AggregateCalendar(cal.Days, data.products, data.customer.RoundingEnabled).Total
		}
		paid := payments[p]
		summary = LedgerSummary{
			CustomerID:      customerID,
			Year:            p.Year,
			Month:           p.Month,
			OpeningBalance:  opening,
			InvoiceAmount:   invoice,
			PaymentAmount:   paid,
			CarryoverAmount: opening.Add(invoice).Sub(paid),
			Confirmed:       isConfirmed,
		}
		opening = summary.CarryoverAmount
	}
	return summary, nil
}

// invalidate drops cached totals after a mutation. Cache failures only log;
// stale entries expire with the TTL.
func (s *Service) invalidate(ctx context.Context, customerID int64) {
	if err := s.cache.Bump(ctx, customerID); err != nil {
		s.logger.Warn("totals cache bump failed", slog.Int64("customer_id", customerID), slog.Any("error", err))
	}
}

// InvalidateCatalog drops every cached total. Product master data lives
// outside this service, so its owner calls this after a price or tax
// treatment change.
func (s *Service) InvalidateCatalog(ctx context.Context) error {
	if err := s.cache.BumpCatalog(ctx); err != nil {
		return fmt.Errorf("billing: invalidate catalog: %w", err)
	}
	s.record(ctx, "catalog.invalidate", "products", "", nil)
	return nil
}

func (s *Service) record(ctx context.Context, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
		At:       s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func invoiceEntityID(customerID int64, period Period) string {
	return fmt.Sprintf("%d:%s", customerID, period)
}
