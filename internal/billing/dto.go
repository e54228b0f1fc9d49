package billing

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/milkround/internal/schedule"
)

// weekdayKeys accepts "0".."6" as well as short English names.
var weekdayKeys = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

func parseQuantities(raw map[string]int) (schedule.WeeklyQuantities, error) {
	out := make(schedule.WeeklyQuantities, len(raw))
	for key, qty := range raw {
		day, ok := weekdayKeys[key]
		if !ok {
			n, err := strconv.Atoi(key)
			if err != nil || n < 0 || n > 6 {
				return nil, fmt.Errorf("%w: unknown weekday %q", ErrValidation, key)
			}
			day = time.Weekday(n)
		}
		out[day] = qty
	}
	return out, nil
}

func parseDate(value string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrValidation, value)
	}
	return t, nil
}

func parseOptionalDate(value *string) (*time.Time, error) {
	if value == nil || *value == "" {
		return nil, nil
	}
	t, err := parseDate(*value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type confirmRequest struct {
	RoundingEnabled *bool `json:"rounding_enabled"`
}

type createPatternRequest struct {
	ProductID  int64           `json:"product_id" validate:"required,gt=0"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Quantities map[string]int  `json:"quantities" validate:"dive,gte=0"`
	StartDate  string          `json:"start_date" validate:"required"`
	EndDate    *string         `json:"end_date"`
}

func (req createPatternRequest) toInput(customerID int64) (PatternInput, error) {
	qty, err := parseQuantities(req.Quantities)
	if err != nil {
		return PatternInput{}, err
	}
	start, err := parseDate(req.StartDate)
	if err != nil {
		return PatternInput{}, err
	}
	end, err := parseOptionalDate(req.EndDate)
	if err != nil {
		return PatternInput{}, err
	}
	return PatternInput{
		CustomerID: customerID,
		ProductID:  req.ProductID,
		UnitPrice:  req.UnitPrice,
		Quantities: qty,
		StartDate:  start,
		EndDate:    end,
	}, nil
}

type editPatternRequest struct {
	EffectiveDate string          `json:"effective_date" validate:"required"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Quantities    map[string]int  `json:"quantities" validate:"dive,gte=0"`
}

type undoRequest struct {
	Token string `json:"token" validate:"required,uuid"`
}

type changeRequest struct {
	ChangeDate string           `json:"change_date" validate:"required"`
	ChangeType string           `json:"change_type" validate:"required,oneof=skip add modify"`
	ProductID  *int64           `json:"product_id" validate:"omitempty,gt=0"`
	Quantity   *int             `json:"quantity" validate:"omitempty,gte=0"`
	UnitPrice  *decimal.Decimal `json:"unit_price"`
	Reason     string           `json:"reason" validate:"max=500"`
}

func (req changeRequest) toInput(customerID int64) (ChangeInput, error) {
	day, err := parseDate(req.ChangeDate)
	if err != nil {
		return ChangeInput{}, err
	}
	return ChangeInput{
		CustomerID: customerID,
		ChangeDate: day,
		Type:       schedule.ChangeType(req.ChangeType),
		ProductID:  req.ProductID,
		Quantity:   req.Quantity,
		UnitPrice:  req.UnitPrice,
		Reason:     req.Reason,
	}, nil
}

type paymentRequest struct {
	Year           int             `json:"year" validate:"required,gte=1900,lte=9999"`
	Month          int             `json:"month" validate:"required,gte=1,lte=12"`
	Amount         decimal.Decimal `json:"amount"`
	Method         string          `json:"method" validate:"required,oneof=collection debit"`
	Note           string          `json:"note" validate:"max=500"`
	IdempotencyKey string          `json:"idempotency_key" validate:"omitempty,max=128"`
}

type batchRequest struct {
	Year  int `json:"year" validate:"required,gte=1900,lte=9999"`
	Month int `json:"month" validate:"required,gte=1,lte=12"`
}

type totalResponse struct {
	CustomerID int64           `json:"customer_id"`
	Year       int             `json:"year"`
	Month      time.Month      `json:"month"`
	Rounding   bool            `json:"rounding_enabled"`
	Total      decimal.Decimal `json:"total"`
}

type readOnlyResponse struct {
	ReadOnly bool `json:"read_only"`
}

type batchResponse struct {
	TaskID string `json:"task_id"`
	Period Period `json:"period"`
}
