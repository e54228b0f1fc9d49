package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/milkround/internal/platform/db"
	"github.com/odyssey-erp/milkround/internal/schedule"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides PostgreSQL backed persistence for the billing engine.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var (
	_ Store               = (*Repository)(nil)
	_ AtomicPatternWriter = (*Repository)(nil)
)

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("%w: %s", ErrNotFound, pgErr.ConstraintName)
		case "23514":
			return fmt.Errorf("%w: %s", ErrValidation, pgErr.ConstraintName)
		}
	}
	return err
}

func affected(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Catalog ---

// GetCustomer loads a customer.
func (r *Repository) GetCustomer(ctx context.Context, id int64) (Customer, error) {
	var c Customer
	err := r.pool.QueryRow(ctx, `SELECT id, name, rounding_enabled FROM customers WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.RoundingEnabled)
	if err != nil {
		return Customer{}, fmt.Errorf("customer %d: %w", id, mapError(err))
	}
	return c, nil
}

// ListProducts loads products keyed by id. Unknown ids are absent.
func (r *Repository) ListProducts(ctx context.Context, ids []int64) (map[int64]schedule.Product, error) {
	out := make(map[int64]schedule.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, COALESCE(unit, ''), default_price, COALESCE(tax_treatment, 'inclusive')
		FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var p schedule.Product
		var treatment string
		if err := rows.Scan(&p.ID, &p.Name, &p.Unit, &p.DefaultPrice, &treatment); err != nil {
			return nil, err
		}
		p.TaxTreatment = schedule.TaxTreatment(treatment)
		out[p.ID] = p
	}
	return out, rows.Err()
}

// ListBillableCustomers returns active customers with a pattern covering
// part of the month or a change dated in it.
func (r *Repository) ListBillableCustomers(ctx context.Context, period Period) ([]int64, error) {
	first, last := period.Bounds()
	rows, err := r.pool.Query(ctx, `
		SELECT c.id FROM customers c
		WHERE c.active AND (
			EXISTS (SELECT 1 FROM delivery_patterns p
				WHERE p.customer_id = c.id AND p.is_active
				AND p.start_date <= $2 AND (p.end_date IS NULL OR p.end_date >= $1))
			OR EXISTS (SELECT 1 FROM temporary_changes t
				WHERE t.customer_id = c.id AND t.change_date BETWEEN $1 AND $2)
		)
		ORDER BY c.id`, first, last)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Pattern versions ---

const patternColumns = `id, customer_id, product_id, unit_price, quantities, start_date, end_date, is_active, created_at, updated_at`

func scanPattern(row pgx.Row) (schedule.PatternVersion, error) {
	var (
		v   schedule.PatternVersion
		raw []byte
	)
	if err := row.Scan(&v.ID, &v.CustomerID, &v.ProductID, &v.UnitPrice, &raw, &v.StartDate, &v.EndDate, &v.IsActive, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return schedule.PatternVersion{}, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &v.Quantities); err != nil {
			return schedule.PatternVersion{}, fmt.Errorf("pattern %d quantities: %w", v.ID, err)
		}
	}
	return v, nil
}

// ListPatternVersions returns every version of the customer, optionally
// narrowed to one product.
func (r *Repository) ListPatternVersions(ctx context.Context, customerID int64, productID *int64) ([]schedule.PatternVersion, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+patternColumns+` FROM delivery_patterns
		WHERE customer_id = $1 AND ($2::bigint IS NULL OR product_id = $2)
		ORDER BY product_id, start_date, id`, customerID, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []schedule.PatternVersion
	for rows.Next() {
		v, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetPatternVersion loads one version.
func (r *Repository) GetPatternVersion(ctx context.Context, id int64) (schedule.PatternVersion, error) {
	v, err := scanPattern(r.pool.QueryRow(ctx, `SELECT `+patternColumns+` FROM delivery_patterns WHERE id = $1`, id))
	if err != nil {
		return schedule.PatternVersion{}, fmt.Errorf("pattern version %d: %w", id, mapError(err))
	}
	return v, nil
}

func insertPattern(ctx context.Context, q querier, v schedule.PatternVersion) (schedule.PatternVersion, error) {
	raw, err := json.Marshal(v.Quantities)
	if err != nil {
		return schedule.PatternVersion{}, err
	}
	err = q.QueryRow(ctx, `
		INSERT INTO delivery_patterns (customer_id, product_id, unit_price, quantities, start_date, end_date, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		v.CustomerID, v.ProductID, v.UnitPrice, raw, v.StartDate, v.EndDate, v.IsActive,
	).Scan(&v.ID, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return schedule.PatternVersion{}, mapError(err)
	}
	return v, nil
}

func updatePattern(ctx context.Context, q querier, v schedule.PatternVersion) error {
	raw, err := json.Marshal(v.Quantities)
	if err != nil {
		return err
	}
	return affected(q.Exec(ctx, `
		UPDATE delivery_patterns
		SET unit_price = $2, quantities = $3, start_date = $4, end_date = $5, is_active = $6, updated_at = NOW()
		WHERE id = $1`,
		v.ID, v.UnitPrice, raw, v.StartDate, v.EndDate, v.IsActive))
}

func deletePattern(ctx context.Context, q querier, id int64) error {
	return affected(q.Exec(ctx, `DELETE FROM delivery_patterns WHERE id = $1`, id))
}

// InsertPatternVersion stores a new version.
func (r *Repository) InsertPatternVersion(ctx context.Context, v schedule.PatternVersion) (schedule.PatternVersion, error) {
	return insertPattern(ctx, r.pool, v)
}

// UpdatePatternVersion rewrites a version row.
func (r *Repository) UpdatePatternVersion(ctx context.Context, v schedule.PatternVersion) error {
	return updatePattern(ctx, r.pool, v)
}

// DeletePatternVersion removes a version row.
func (r *Repository) DeletePatternVersion(ctx context.Context, id int64) error {
	return deletePattern(ctx, r.pool, id)
}

// WritePatternVersions applies the batch in one transaction.
func (r *Repository) WritePatternVersions(ctx context.Context, batch PatternBatch) ([]schedule.PatternVersion, error) {
	inserted := make([]schedule.PatternVersion, 0, len(batch.Inserts))
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, v := range batch.Updates {
			if err := updatePattern(ctx, tx, v); err != nil {
				return fmt.Errorf("update pattern %d: %w", v.ID, err)
			}
		}
		for _, id := range batch.Deletes {
			if err := deletePattern(ctx, tx, id); err != nil {
				return fmt.Errorf("delete pattern %d: %w", id, err)
			}
		}
		for _, v := range batch.Inserts {
			created, err := insertPattern(ctx, tx, v)
			if err != nil {
				return fmt.Errorf("insert pattern: %w", err)
			}
			inserted = append(inserted, created)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// --- Temporary changes ---

const changeColumns = `id, customer_id, change_date, change_type, product_id, quantity, unit_price, COALESCE(reason, ''), created_at, updated_at`

func scanChange(row pgx.Row) (schedule.TemporaryChange, error) {
	var (
		c     schedule.TemporaryChange
		kind  string
		qty   *int32
		price decimal.NullDecimal
	)
	if err := row.Scan(&c.ID, &c.CustomerID, &c.ChangeDate, &kind, &c.ProductID, &qty, &price, &c.Reason, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return schedule.TemporaryChange{}, err
	}
	c.Type = schedule.ChangeType(kind)
	if qty != nil {
		q := int(*qty)
		c.Quantity = &q
	}
	if price.Valid {
		p := price.Decimal
		c.UnitPrice = &p
	}
	return c, nil
}

func changeArgs(c schedule.TemporaryChange) (any, any) {
	var qty any
	if c.Quantity != nil {
		qty = int32(*c.Quantity)
	}
	price := decimal.NullDecimal{}
	if c.UnitPrice != nil {
		price = decimal.NewNullDecimal(*c.UnitPrice)
	}
	return qty, price
}

// ListTemporaryChanges returns the customer's changes dated within [from, to].
func (r *Repository) ListTemporaryChanges(ctx context.Context, customerID int64, from, to time.Time) ([]schedule.TemporaryChange, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+changeColumns+` FROM temporary_changes
		WHERE customer_id = $1 AND change_date BETWEEN $2 AND $3
		ORDER BY change_date, id`, customerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []schedule.TemporaryChange
	for rows.Next() {
		c, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetTemporaryChange loads one change.
func (r *Repository) GetTemporaryChange(ctx context.Context, id int64) (schedule.TemporaryChange, error) {
	c, err := scanChange(r.pool.QueryRow(ctx, `SELECT `+changeColumns+` FROM temporary_changes WHERE id = $1`, id))
	if err != nil {
		return schedule.TemporaryChange{}, fmt.Errorf("temporary change %d: %w", id, mapError(err))
	}
	return c, nil
}

// InsertTemporaryChange stores a change. One change per customer, date,
// type and product is allowed.
func (r *Repository) InsertTemporaryChange(ctx context.Context, c schedule.TemporaryChange) (schedule.TemporaryChange, error) {
	qty, price := changeArgs(c)
	err := r.pool.QueryRow(ctx, `
		INSERT INTO temporary_changes (customer_id, change_date, change_type, product_id, quantity, unit_price, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		c.CustomerID, c.ChangeDate, string(c.Type), c.ProductID, qty, price, c.Reason,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return schedule.TemporaryChange{}, mapError(err)
	}
	return c, nil
}

// UpdateTemporaryChange rewrites a change.
func (r *Repository) UpdateTemporaryChange(ctx context.Context, c schedule.TemporaryChange) error {
	qty, price := changeArgs(c)
	return affected(r.pool.Exec(ctx, `
		UPDATE temporary_changes
		SET change_date = $2, change_type = $3, product_id = $4, quantity = $5, unit_price = $6, reason = NULLIF($7, ''), updated_at = NOW()
		WHERE id = $1`,
		c.ID, c.ChangeDate, string(c.Type), c.ProductID, qty, price, c.Reason))
}

// DeleteTemporaryChange removes a change.
func (r *Repository) DeleteTemporaryChange(ctx context.Context, id int64) error {
	return affected(r.pool.Exec(ctx, `DELETE FROM temporary_changes WHERE id = $1`, id))
}

// --- Ledger ---

const statusColumns = `customer_id, year, month, confirmed, confirmed_at, rounding_enabled, amount, updated_at`

func scanStatus(row pgx.Row) (InvoiceStatus, error) {
	var (
		s     InvoiceStatus
		month int32
	)
	if err := row.Scan(&s.CustomerID, &s.Year, &month, &s.Confirmed, &s.ConfirmedAt, &s.RoundingEnabled, &s.Amount, &s.UpdatedAt); err != nil {
		return InvoiceStatus{}, err
	}
	s.Month = time.Month(month)
	return s, nil
}

// GetInvoiceStatus returns nil when the month was never confirmed.
func (r *Repository) GetInvoiceStatus(ctx context.Context, customerID int64, year int, month time.Month) (*InvoiceStatus, error) {
	s, err := scanStatus(r.pool.QueryRow(ctx, `SELECT `+statusColumns+` FROM invoice_statuses
		WHERE customer_id = $1 AND year = $2 AND month = $3`, customerID, year, int32(month)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListInvoiceStatuses returns every stored status of the customer.
func (r *Repository) ListInvoiceStatuses(ctx context.Context, customerID int64) ([]InvoiceStatus, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+statusColumns+` FROM invoice_statuses
		WHERE customer_id = $1 ORDER BY year, month`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []InvoiceStatus
	for rows.Next() {
		s, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// WriteInvoiceStatus upserts the month's status.
func (r *Repository) WriteInvoiceStatus(ctx context.Context, s InvoiceStatus) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO invoice_statuses (customer_id, year, month, confirmed, confirmed_at, rounding_enabled, amount, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (customer_id, year, month) DO UPDATE
		SET confirmed = EXCLUDED.confirmed, confirmed_at = EXCLUDED.confirmed_at,
			rounding_enabled = EXCLUDED.rounding_enabled, amount = EXCLUDED.amount, updated_at = EXCLUDED.updated_at`,
		s.CustomerID, s.Year, int32(s.Month), s.Confirmed, s.ConfirmedAt, s.RoundingEnabled, s.Amount, s.UpdatedAt)
	return mapError(err)
}

// ListPaymentRecords returns payments registered against the month.
func (r *Repository) ListPaymentRecords(ctx context.Context, customerID int64, year int, month time.Month) ([]PaymentRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, customer_id, year, month, amount, method, COALESCE(note, ''), created_at
		FROM payment_records WHERE customer_id = $1 AND year = $2 AND month = $3
		ORDER BY created_at, id`, customerID, year, int32(month))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PaymentRecord
	for rows.Next() {
		var (
			p      PaymentRecord
			m      int32
			method string
		)
		if err := rows.Scan(&p.ID, &p.CustomerID, &p.Year, &m, &p.Amount, &method, &p.Note, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Month = time.Month(m)
		p.Method = PaymentMethod(method)
		out = append(out, p)
	}
	return out, rows.Err()
}

// SumPaymentsByMonth totals payments per month up to and including through.
func (r *Repository) SumPaymentsByMonth(ctx context.Context, customerID int64, through Period) (map[Period]decimal.Decimal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT year, month, SUM(amount) FROM payment_records
		WHERE customer_id = $1 AND (year < $2 OR (year = $2 AND month <= $3))
		GROUP BY year, month`, customerID, through.Year, int32(through.Month))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[Period]decimal.Decimal)
	for rows.Next() {
		var (
			year  int
			month int32
			sum   decimal.Decimal
		)
		if err := rows.Scan(&year, &month, &sum); err != nil {
			return nil, err
		}
		out[Period{Year: year, Month: time.Month(month)}] = sum
	}
	return out, rows.Err()
}

// InsertPaymentRecord appends a payment.
func (r *Repository) InsertPaymentRecord(ctx context.Context, p PaymentRecord) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO payment_records (customer_id, year, month, amount, method, note, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
		RETURNING id`,
		p.CustomerID, p.Year, int32(p.Month), p.Amount, string(p.Method), p.Note, p.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, mapError(err)
	}
	return id, nil
}
