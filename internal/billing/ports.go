package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/milkround/internal/schedule"
	"github.com/odyssey-erp/milkround/internal/shared"
)

// PatternReader loads pattern versions.
type PatternReader interface {
	ListPatternVersions(ctx context.Context, customerID int64, productID *int64) ([]schedule.PatternVersion, error)
	GetPatternVersion(ctx context.Context, id int64) (schedule.PatternVersion, error)
}

// PatternWriter persists single pattern rows. Stores offering only this
// interface get compensating rollback for paired writes.
type PatternWriter interface {
	InsertPatternVersion(ctx context.Context, v schedule.PatternVersion) (schedule.PatternVersion, error)
	UpdatePatternVersion(ctx context.Context, v schedule.PatternVersion) error
	DeletePatternVersion(ctx context.Context, id int64) error
}

// PatternBatch groups writes that must commit together.
type PatternBatch struct {
	Updates []schedule.PatternVersion
	Inserts []schedule.PatternVersion
	Deletes []int64
}

// AtomicPatternWriter applies a batch all-or-nothing and returns the
// inserted rows with their identities.
type AtomicPatternWriter interface {
	WritePatternVersions(ctx context.Context, batch PatternBatch) ([]schedule.PatternVersion, error)
}

// ChangeStore persists temporary changes.
type ChangeStore interface {
	ListTemporaryChanges(ctx context.Context, customerID int64, from, to time.Time) ([]schedule.TemporaryChange, error)
	GetTemporaryChange(ctx context.Context, id int64) (schedule.TemporaryChange, error)
	InsertTemporaryChange(ctx context.Context, c schedule.TemporaryChange) (schedule.TemporaryChange, error)
	UpdateTemporaryChange(ctx context.Context, c schedule.TemporaryChange) error
	DeleteTemporaryChange(ctx context.Context, id int64) error
}

// LedgerStore persists invoice statuses and payments.
type LedgerStore interface {
	GetInvoiceStatus(ctx context.Context, customerID int64, year int, month time.Month) (*InvoiceStatus, error)
	ListInvoiceStatuses(ctx context.Context, customerID int64) ([]InvoiceStatus, error)
	WriteInvoiceStatus(ctx context.Context, status InvoiceStatus) error
	ListPaymentRecords(ctx context.Context, customerID int64, year int, month time.Month) ([]PaymentRecord, error)
	SumPaymentsByMonth(ctx context.Context, customerID int64, through Period) (map[Period]decimal.Decimal, error)
	InsertPaymentRecord(ctx context.Context, p PaymentRecord) (int64, error)
}

// CatalogStore exposes the master data the engine reads.
type CatalogStore interface {
	GetCustomer(ctx context.Context, id int64) (Customer, error)
	ListProducts(ctx context.Context, ids []int64) (map[int64]schedule.Product, error)
	ListBillableCustomers(ctx context.Context, period Period) ([]int64, error)
}

// Store is the record-store collaborator.
type Store interface {
	PatternReader
	PatternWriter
	ChangeStore
	LedgerStore
	CatalogStore
}

// MonthLocker serialises confirm/unconfirm for one key.
type MonthLocker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// AuditRecorder writes audit trail entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyGuard rejects replayed requests.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}
