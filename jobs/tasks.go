package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/milkround/internal/billing"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskBillingConfirmMonth confirms every billable customer for one month.
	TaskBillingConfirmMonth = "billing:confirm-month"
	// TaskBillingWarmTotals precomputes cached monthly totals.
	TaskBillingWarmTotals = "billing:warm-totals"

	confirmMonthRetries = 3
)

// BillingPeriodPayload selects the month a billing batch runs for. A zero
// payload means the month containing the run time.
type BillingPeriodPayload struct {
	Year  int `json:"year,omitempty"`
	Month int `json:"month,omitempty"`
}

func (p BillingPeriodPayload) resolve(now time.Time) (billing.Period, error) {
	if p.Year == 0 && p.Month == 0 {
		return billing.PeriodOf(now), nil
	}
	period := billing.Period{Year: p.Year, Month: time.Month(p.Month)}
	return period, period.Validate()
}

func payloadFor(period billing.Period) ([]byte, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(BillingPeriodPayload{Year: period.Year, Month: int(period.Month)})
}

// NewConfirmMonthTask creates the whole-month confirmation task. Runs for the
// same month are deduplicated while one is queued.
func NewConfirmMonthTask(period billing.Period) (*asynq.Task, error) {
	body, err := payloadFor(period)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBillingConfirmMonth, body,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(confirmMonthRetries),
		asynq.TaskID(fmt.Sprintf("%s:%s", TaskBillingConfirmMonth, period)),
	), nil
}

// NewWarmTotalsTask creates a warm-up task. A nil period warms the month
// current when the task runs, which is what the cron entry wants.
func NewWarmTotalsTask(period *billing.Period) (*asynq.Task, error) {
	body := []byte(`{}`)
	if period != nil {
		var err error
		if body, err = payloadFor(*period); err != nil {
			return nil, err
		}
	}
	return asynq.NewTask(TaskBillingWarmTotals, body, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}
