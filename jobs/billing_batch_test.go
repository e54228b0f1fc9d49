package jobs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/milkround/internal/billing"
	jobmetrics "github.com/odyssey-erp/milkround/internal/jobs"
)

type stubBatchService struct {
	confirmFn func(ctx context.Context, period billing.Period) (billing.BatchResult, error)
	warmFn    func(ctx context.Context, period billing.Period) (billing.BatchResult, error)
}

func (s *stubBatchService) ConfirmMonth(ctx context.Context, period billing.Period) (billing.BatchResult, error) {
	if s.confirmFn != nil {
		return s.confirmFn(ctx, period)
	}
	return billing.BatchResult{Period: period}, nil
}

func (s *stubBatchService) WarmTotals(ctx context.Context, period billing.Period) (billing.BatchResult, error) {
	if s.warmFn != nil {
		return s.warmFn(ctx, period)
	}
	return billing.BatchResult{Period: period}, nil
}

type stubLocker struct {
	keys []string
	err  error
}

func (l *stubLocker) Lock(_ context.Context, key string) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.keys = append(l.keys, key)
	return func() {}, nil
}

func newTestJob(svc BillingBatchService, locker BatchLocker) *BillingBatchJob {
	job := NewBillingBatchJob(svc, locker, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	job.WithClock(func() time.Time { return time.Date(2024, 5, 20, 3, 0, 0, 0, time.UTC) })
	return job
}

func TestConfirmMonthHandlesPayloadPeriod(t *testing.T) {
	var got billing.Period
	svc := &stubBatchService{
		confirmFn: func(_ context.Context, period billing.Period) (billing.BatchResult, error) {
			got = period
			return billing.BatchResult{Period: period, Processed: []int64{1, 2}}, nil
		},
	}
	locker := &stubLocker{}
	task, err := NewConfirmMonthTask(billing.Period{Year: 2024, Month: time.April})
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	if err := newTestJob(svc, locker).HandleConfirmMonth(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got != (billing.Period{Year: 2024, Month: time.April}) {
		t.Fatalf("unexpected period %v", got)
	}
	if len(locker.keys) != 1 || locker.keys[0] != "billing:batch:2024-04:lock" {
		t.Fatalf("unexpected lock keys %v", locker.keys)
	}
}

func TestConfirmMonthRetriesOnCustomerFailures(t *testing.T) {
	svc := &stubBatchService{
		confirmFn: func(_ context.Context, period billing.Period) (billing.BatchResult, error) {
			return billing.BatchResult{Period: period, Processed: []int64{1}, Failed: []int64{2}}, nil
		},
	}
	task, _ := NewConfirmMonthTask(billing.Period{Year: 2024, Month: time.April})
	err := newTestJob(svc, nil).HandleConfirmMonth(context.Background(), task)
	if err == nil || errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestConfirmMonthLockBusy(t *testing.T) {
	called := false
	svc := &stubBatchService{
		confirmFn: func(context.Context, billing.Period) (billing.BatchResult, error) {
			called = true
			return billing.BatchResult{}, nil
		},
	}
	task, _ := NewConfirmMonthTask(billing.Period{Year: 2024, Month: time.April})
	err := newTestJob(svc, &stubLocker{err: errors.New("busy")}).HandleConfirmMonth(context.Background(), task)
	if err == nil || called {
		t.Fatalf("expected lock error without service call, got %v", err)
	}
}

func TestBadPayloadSkipsRetry(t *testing.T) {
	job := newTestJob(&stubBatchService{}, nil)
	for _, payload := range []string{`not json`, `{"year":2024,"month":13}`} {
		task := asynq.NewTask(TaskBillingConfirmMonth, []byte(payload))
		if err := job.HandleConfirmMonth(context.Background(), task); !errors.Is(err, asynq.SkipRetry) {
			t.Fatalf("%s: expected SkipRetry, got %v", payload, err)
		}
		task = asynq.NewTask(TaskBillingWarmTotals, []byte(payload))
		if err := job.HandleWarmTotals(context.Background(), task); !errors.Is(err, asynq.SkipRetry) {
			t.Fatalf("%s: expected SkipRetry for warm-up, got %v", payload, err)
		}
	}
}

func TestWarmTotalsDefaultsToCurrentMonth(t *testing.T) {
	var got billing.Period
	svc := &stubBatchService{
		warmFn: func(_ context.Context, period billing.Period) (billing.BatchResult, error) {
			got = period
			return billing.BatchResult{Period: period, Failed: []int64{9}}, nil
		},
	}
	task, err := NewWarmTotalsTask(nil)
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	if err := newTestJob(svc, nil).HandleWarmTotals(context.Background(), task); err != nil {
		t.Fatalf("warm-up failures must not fail the task: %v", err)
	}
	if got != (billing.Period{Year: 2024, Month: time.May}) {
		t.Fatalf("unexpected period %v", got)
	}
}

func TestNewConfirmMonthTaskValidatesPeriod(t *testing.T) {
	if _, err := NewConfirmMonthTask(billing.Period{Year: 2024}); !errors.Is(err, billing.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	task, err := NewConfirmMonthTask(billing.Period{Year: 2024, Month: time.December})
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	if task.Type() != TaskBillingConfirmMonth || !strings.Contains(string(task.Payload()), `"month":12`) {
		t.Fatalf("unexpected task %s %s", task.Type(), task.Payload())
	}
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func TestJobsHealthEndpoint(t *testing.T) {
	cases := []struct {
		inspector QueueInspector
		status    int
		body      string
	}{
		{nil, http.StatusOK, `"pending":0`},
		{stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 4}}, http.StatusOK, `"pending":4`},
		{stubInspector{err: errors.New("redis down")}, http.StatusServiceUnavailable, "Queue Unavailable"},
	}
	for _, tc := range cases {
		r := chi.NewRouter()
		NewHandler(tc.inspector, nil).MountRoutes(r)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rr.Code != tc.status || !strings.Contains(rr.Body.String(), tc.body) {
			t.Fatalf("unexpected response %d %s", rr.Code, rr.Body.String())
		}
	}
}
