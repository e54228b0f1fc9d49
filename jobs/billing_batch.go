package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/milkround/internal/billing"
	jobmetrics "github.com/odyssey-erp/milkround/internal/jobs"
	"github.com/odyssey-erp/milkround/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// BillingBatchService is the slice of billing.Service the batch jobs drive.
type BillingBatchService interface {
	ConfirmMonth(ctx context.Context, period billing.Period) (billing.BatchResult, error)
	WarmTotals(ctx context.Context, period billing.Period) (billing.BatchResult, error)
}

// BatchLocker serialises batch runs for the same month across workers.
type BatchLocker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// BillingBatchJob runs whole-month billing work off the request path.
type BillingBatchJob struct {
	Service BillingBatchService
	Locker  BatchLocker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewBillingBatchJob constructs the job handlers. locker may be nil.
func NewBillingBatchJob(service BillingBatchService, locker BatchLocker, logger *slog.Logger, metrics *jobmetrics.Metrics) *BillingBatchJob {
	return &BillingBatchJob{
		Service: service,
		Locker:  locker,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handlers returns the asynq registrations for both billing tasks.
func (j *BillingBatchJob) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskBillingConfirmMonth, Handler: j.HandleConfirmMonth},
		{Type: TaskBillingWarmTotals, Handler: j.HandleWarmTotals},
	}
}

// HandleConfirmMonth confirms every billable customer. Customers that fail
// make the task error so asynq retries; already confirmed months are no-ops
// on the retry.
func (j *BillingBatchJob) HandleConfirmMonth(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("billing confirm month: dependencies not configured")
	}
	period, err := j.period(task)
	if err != nil {
		j.log(TaskBillingConfirmMonth).Warn("invalid payload", slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	tracker := j.metrics().Track(TaskBillingConfirmMonth)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.log(TaskBillingConfirmMonth).With(slog.String("period", period.String()))
	release, err := j.lock(ctx, shared.BatchLockKey(period.Year, period.Month))
	if err != nil {
		resultErr = err
		logger.Warn("batch lock unavailable", slog.Any("error", err))
		return resultErr
	}
	defer release()

	start := j.now()
	result, err := j.Service.ConfirmMonth(ctx, period)
	if err != nil {
		resultErr = err
		logger.Error("confirm month", slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddBatchFailures(TaskBillingConfirmMonth, len(result.Failed))
	logger.Info("confirmed month",
		slog.Int("processed", len(result.Processed)),
		slog.Int("failed", len(result.Failed)),
		slog.Duration("duration", time.Since(start)))
	if len(result.Failed) > 0 {
		resultErr = fmt.Errorf("billing confirm month %s: %d customers failed", period, len(result.Failed))
	}
	return resultErr
}

// HandleWarmTotals fills the totals cache. Failures are reported but never
// retried; the next request computes the total anyway.
func (j *BillingBatchJob) HandleWarmTotals(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("billing warm totals: dependencies not configured")
	}
	period, err := j.period(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	tracker := j.metrics().Track(TaskBillingWarmTotals)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.log(TaskBillingWarmTotals).With(slog.String("period", period.String()))
	result, err := j.Service.WarmTotals(ctx, period)
	if err != nil {
		resultErr = err
		logger.Error("warm totals", slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddBatchFailures(TaskBillingWarmTotals, len(result.Failed))
	logger.Info("warmed totals", slog.Int("processed", len(result.Processed)), slog.Int("failed", len(result.Failed)))
	return resultErr
}

func (j *BillingBatchJob) period(task *asynq.Task) (billing.Period, error) {
	var payload BillingPeriodPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return billing.Period{}, err
		}
	}
	return payload.resolve(j.now())
}

func (j *BillingBatchJob) lock(ctx context.Context, key string) (func(), error) {
	if j.Locker == nil {
		return func() {}, nil
	}
	return j.Locker.Lock(ctx, key)
}

func (j *BillingBatchJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *BillingBatchJob) log(job string) *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", job))
	}
	return slog.Default().With(slog.String("job", job))
}

func (j *BillingBatchJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *BillingBatchJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
