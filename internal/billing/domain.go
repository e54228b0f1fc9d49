package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/milkround/internal/schedule"
)

// Period identifies a billing month.
type Period struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
}

// PeriodOf returns the billing month containing t.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

// Validate checks the period is a real month.
func (p Period) Validate() error {
	if p.Year < 1900 || p.Year > 9999 {
		return fmt.Errorf("%w: year %d out of range", ErrValidation, p.Year)
	}
	if p.Month < time.January || p.Month > time.December {
		return fmt.Errorf("%w: month %d out of range", ErrValidation, p.Month)
	}
	return nil
}

// Bounds returns the first and last date of the period.
func (p Period) Bounds() (time.Time, time.Time) {
	return schedule.MonthBounds(p.Year, p.Month)
}

// Prev returns the preceding month.
func (p Period) Prev() Period {
	first, _ := p.Bounds()
	return PeriodOf(first.AddDate(0, -1, 0))
}

// Next returns the following month.
func (p Period) Next() Period {
	first, _ := p.Bounds()
	return PeriodOf(first.AddDate(0, 1, 0))
}

// Before reports whether p is earlier than other.
func (p Period) Before(other Period) bool {
	if p.Year != other.Year {
		return p.Year < other.Year
	}
	return p.Month < other.Month
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// Customer is the master-data slice the engine reads.
type Customer struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	RoundingEnabled bool   `json:"rounding_enabled"`
}

// InvoiceStatus is the confirmation snapshot for a customer-month.
type InvoiceStatus struct {
	CustomerID      int64           `json:"customer_id"`
	Year            int             `json:"year"`
	Month           time.Month      `json:"month"`
	Confirmed       bool            `json:"confirmed"`
	ConfirmedAt     *time.Time      `json:"confirmed_at,omitempty"`
	RoundingEnabled bool            `json:"rounding_enabled"`
	Amount          decimal.Decimal `json:"amount"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Period returns the status month.
func (s InvoiceStatus) Period() Period {
	return Period{Year: s.Year, Month: s.Month}
}

// State maps the stored flag onto the invoice state machine.
func (s *InvoiceStatus) State() InvoiceState {
	if s != nil && s.Confirmed {
		return StateConfirmed
	}
	return StateUnconfirmed
}

// PaymentMethod enumerates how a payment was collected.
type PaymentMethod string

const (
	PaymentCollection PaymentMethod = "collection"
	PaymentDebit      PaymentMethod = "debit"
)

// IsValid checks if the payment method is known.
func (m PaymentMethod) IsValid() bool {
	return m == PaymentCollection || m == PaymentDebit
}

// PaymentRecord is an append-only payment registered against a month.
type PaymentRecord struct {
	ID         int64           `json:"id"`
	CustomerID int64           `json:"customer_id"`
	Year       int             `json:"year"`
	Month      time.Month      `json:"month"`
	Amount     decimal.Decimal `json:"amount"`
	Method     PaymentMethod   `json:"method"`
	Note       string          `json:"note,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// LedgerSummary is the derived balance for a customer-month.
type LedgerSummary struct {
	CustomerID      int64           `json:"customer_id"`
	Year            int             `json:"year"`
	Month           time.Month      `json:"month"`
	OpeningBalance  decimal.Decimal `json:"opening_balance"`
	InvoiceAmount   decimal.Decimal `json:"invoice_amount"`
	PaymentAmount   decimal.Decimal `json:"payment_amount"`
	CarryoverAmount decimal.Decimal `json:"carryover_amount"`
	Confirmed       bool            `json:"confirmed"`
}

// InvoiceView combines the status with the current or locked totals.
type InvoiceView struct {
	Status    InvoiceStatus `json:"status"`
	Aggregate Aggregate     `json:"aggregate"`
	ReadOnly  bool          `json:"read_only"`
}
