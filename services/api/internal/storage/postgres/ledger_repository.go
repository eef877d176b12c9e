package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/antonio12761/roxy-bar-sub005/services/api/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// LedgerRepository stores orders, their lines and payments, batch records
// and customer credit. Allocation transactions are serializable.
type LedgerRepository struct {
	db
	breaker *Breaker
}

func NewLedgerRepository(pool *pgxpool.Pool, breaker *Breaker) *LedgerRepository {
	return &LedgerRepository{db: db{pool: pool}, breaker: breaker}
}

func (r *LedgerRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.guard(ctx, func() error {
		return withTx(ctx, r.pool, serializable, fn)
	})
}

// guard sends top-level calls through the breaker. Calls inside a
// transaction are covered by the breaker around WithTx.
func (r *LedgerRepository) guard(ctx context.Context, fn func() error) error {
	if r.breaker == nil || txFromContext(ctx) != nil {
		return fn()
	}
	return r.breaker.Execute(fn)
}

func (r *LedgerRepository) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	var order domain.Order
	err := r.guard(ctx, func() error {
		var err error
		order, err = r.loadOrder(ctx, orderID, false)
		return err
	})
	return order, err
}

func (r *LedgerRepository) LockOrderNoWait(ctx context.Context, orderID string) (domain.Order, error) {
	if txFromContext(ctx) == nil {
		return domain.Order{}, errors.New("lock order: no transaction in context")
	}
	return r.loadOrder(ctx, orderID, true)
}

const orderColumns = `
SELECT o.id, o.order_number, o.tenant_id, COALESCE(o.table_id::text, ''), COALESCE(t.label, ''),
	o.payment_status, o.lifecycle_status, o.created_at, o.closed_at
FROM orders o
LEFT JOIN dining_tables t ON t.id = o.table_id
WHERE o.id = $1`

func (r *LedgerRepository) loadOrder(ctx context.Context, orderID string, lock bool) (domain.Order, error) {
	query := orderColumns
	if lock {
		query += `
FOR UPDATE OF o NOWAIT`
	}

	var (
		o         domain.Order
		payStatus string
		lifecycle string
	)
	err := r.queryRow(ctx, query, orderID).Scan(
		&o.ID, &o.Number, &o.TenantID, &o.TableID, &o.TableLabel,
		&payStatus, &lifecycle, &o.CreatedAt, &o.ClosedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
		}
		return domain.Order{}, translateError(err, "load order")
	}
	o.PaymentStatus = domain.PaymentStatus(payStatus)
	o.LifecycleStatus = domain.LifecycleStatus(lifecycle)

	if o.Lines, err = r.listLines(ctx, `WHERE order_id = $1`, orderID); err != nil {
		return domain.Order{}, err
	}
	if o.Payments, err = r.listPayments(ctx, orderID); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

const lineColumns = `
SELECT id, order_id, position, product_id, product_name, unit_price::text, quantity, note, station,
	paid, COALESCE(paid_by, ''), COALESCE(origin_line_id::text, ''), is_split, created_at
FROM order_lines
`

func (r *LedgerRepository) listLines(ctx context.Context, where string, args ...any) ([]domain.OrderLine, error) {
	rows, err := r.query(ctx, lineColumns+where+`
ORDER BY position ASC`, args...)
	if err != nil {
		return nil, translateError(err, "list lines")
	}
	defer rows.Close()

	var lines []domain.OrderLine
	for rows.Next() {
		var (
			l     domain.OrderLine
			price string
		)
		if err := rows.Scan(
			&l.ID, &l.OrderID, &l.Position, &l.ProductID, &l.ProductName, &price, &l.Quantity,
			&l.Note, &l.Station, &l.Paid, &l.PaidBy, &l.OriginLineID, &l.IsSplit, &l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan line: %w", err)
		}
		if l.UnitPrice, err = parseNumeric(price); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError(err, "iterate lines")
	}
	return lines, nil
}

func (r *LedgerRepository) listPayments(ctx context.Context, orderID string) ([]domain.Payment, error) {
	const query = `
SELECT id, order_id, batch_id, amount::text, method, payer_name, operator_id,
	line_allocation, unallocated_amount::text, created_at
FROM payments
WHERE order_id = $1
ORDER BY created_at ASC, id ASC`

	rows, err := r.query(ctx, query, orderID)
	if err != nil {
		return nil, translateError(err, "list payments")
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		var (
			p           domain.Payment
			amount      string
			method      string
			unallocated *string
		)
		if err := rows.Scan(
			&p.ID, &p.OrderID, &p.BatchID, &amount, &method, &p.PayerName, &p.OperatorID,
			&p.LineAllocation, &unallocated, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		p.Method = domain.PaymentMethod(method)
		if p.Amount, err = parseNumeric(amount); err != nil {
			return nil, err
		}
		if unallocated != nil {
			d, err := parseNumeric(*unallocated)
			if err != nil {
				return nil, err
			}
			p.UnallocatedAmount = decimal.NewNullDecimal(d)
		}
		if p.LineAllocation == nil {
			p.LineAllocation = map[string]int{}
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError(err, "iterate payments")
	}
	return payments, nil
}

func (r *LedgerRepository) FindBatch(ctx context.Context, orderID, batchID string) (*domain.BatchRecord, error) {
	const query = `
SELECT result, created_at
FROM payment_batches
WHERE order_id = $1 AND batch_id = $2`

	var (
		rec   *domain.BatchRecord
		found bool
	)
	err := r.guard(ctx, func() error {
		var (
			result    []byte
			createdAt time.Time
		)
		err := r.queryRow(ctx, query, orderID, batchID).Scan(&result, &createdAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return translateError(err, "find batch")
		}
		found = true
		rec = &domain.BatchRecord{OrderID: orderID, BatchID: batchID, Result: result, CreatedAt: createdAt}
		return nil
	})
	if err != nil || !found {
		return nil, err
	}
	return rec, nil
}

func (r *LedgerRepository) SaveBatch(ctx context.Context, rec domain.BatchRecord) error {
	const stmt = `
INSERT INTO payment_batches (order_id, batch_id, result, created_at)
VALUES ($1, $2, $3, $4)`

	if _, err := r.exec(ctx, stmt, rec.OrderID, rec.BatchID, rec.Result, rec.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: batch %s was recorded concurrently", domain.ErrConcurrentModification, rec.BatchID)
		}
		return translateError(err, "save batch")
	}
	return nil
}

func (r *LedgerRepository) CreatePayment(ctx context.Context, p domain.Payment) error {
	const stmt = `
INSERT INTO payments (id, order_id, batch_id, amount, method, payer_name, operator_id,
	line_allocation, unallocated_amount, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	allocation := p.LineAllocation
	if allocation == nil {
		allocation = map[string]int{}
	}
	_, err := r.exec(ctx, stmt,
		p.ID, p.OrderID, p.BatchID, p.Amount, string(p.Method), p.PayerName, p.OperatorID,
		allocation, p.UnallocatedAmount, p.CreatedAt,
	)
	if err != nil {
		return translateError(err, "create payment")
	}
	return nil
}

func (r *LedgerRepository) UpdatePaymentAllocation(ctx context.Context, p domain.Payment) error {
	const stmt = `
UPDATE payments
SET line_allocation = $2, unallocated_amount = $3
WHERE id = $1`

	tag, err := r.exec(ctx, stmt, p.ID, p.LineAllocation, p.UnallocatedAmount)
	if err != nil {
		return translateError(err, "update payment allocation")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update payment allocation: payment %s not found", p.ID)
	}
	return nil
}

func (r *LedgerRepository) InsertLine(ctx context.Context, l domain.OrderLine) error {
	const stmt = `
INSERT INTO order_lines (id, order_id, position, product_id, product_name, unit_price, quantity,
	note, station, paid, paid_by, origin_line_id, is_split, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.exec(ctx, stmt,
		l.ID, l.OrderID, l.Position, l.ProductID, l.ProductName, l.UnitPrice, l.Quantity,
		l.Note, l.Station, l.Paid, nullIfEmpty(l.PaidBy), nullIfEmpty(l.OriginLineID), l.IsSplit, l.CreatedAt,
	)
	if err != nil {
		return translateError(err, "insert line")
	}
	return nil
}

func (r *LedgerRepository) UpdateLine(ctx context.Context, l domain.OrderLine) error {
	const stmt = `
UPDATE order_lines
SET quantity = $3, paid = $4, paid_by = $5
WHERE id = $1 AND order_id = $2`

	tag, err := r.exec(ctx, stmt, l.ID, l.OrderID, l.Quantity, l.Paid, nullIfEmpty(l.PaidBy))
	if err != nil {
		return translateError(err, "update line")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrLineNotFound, l.ID)
	}
	return nil
}

func (r *LedgerRepository) UpdateOrderStatus(ctx context.Context, o domain.Order) error {
	const stmt = `
UPDATE orders
SET payment_status = $2, lifecycle_status = $3, closed_at = $4
WHERE id = $1`

	tag, err := r.exec(ctx, stmt, o.ID, string(o.PaymentStatus), string(o.LifecycleStatus), o.ClosedAt)
	if err != nil {
		return translateError(err, "update order status")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, o.ID)
	}
	return nil
}

// ListLineage returns the line and the lines split from it. Splits never
// nest, so one level of origin_line_id covers the whole lineage.
func (r *LedgerRepository) ListLineage(ctx context.Context, orderID, lineID string) ([]domain.OrderLine, error) {
	var lines []domain.OrderLine
	err := r.guard(ctx, func() error {
		var err error
		lines, err = r.listLines(ctx, `WHERE order_id = $1 AND (id = $2 OR origin_line_id = $2)`, orderID, lineID)
		return err
	})
	return lines, err
}
