package postgres

import (
	"context"
	"fmt"

	"github.com/antonio12761/roxy-bar-sub005/services/api/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TableRepository struct {
	db
}

func NewTableRepository(pool *pgxpool.Pool) *TableRepository {
	return &TableRepository{db: db{pool: pool}}
}

// FreeTableIfIdle marks the table free unless an open order other than
// excludingOrderID still sits at it. Inside an allocation it runs in the
// allocation's transaction.
func (r *TableRepository) FreeTableIfIdle(ctx context.Context, tableID, excludingOrderID string) error {
	const stmt = `
UPDATE dining_tables t
SET status = 'free', updated_at = NOW()
WHERE t.id = $1
	AND t.status <> 'free'
	AND NOT EXISTS (
		SELECT 1 FROM orders o
		WHERE o.table_id = t.id
			AND o.lifecycle_status = 'OPEN'
			AND o.id <> $2
	)`

	if _, err := r.exec(ctx, stmt, tableID, excludingOrderID); err != nil {
		return translateError(err, "free table")
	}
	return nil
}

func (r *TableRepository) ListTables(ctx context.Context) ([]domain.Table, error) {
	const query = `
SELECT t.id, t.label, t.status, t.updated_at,
	(SELECT COUNT(*) FROM orders o WHERE o.table_id = t.id AND o.lifecycle_status = 'OPEN')
FROM dining_tables t
ORDER BY t.label ASC`

	rows, err := r.query(ctx, query)
	if err != nil {
		return nil, translateError(err, "list tables")
	}
	defer rows.Close()

	var tables []domain.Table
	for rows.Next() {
		var (
			t      domain.Table
			status string
		)
		if err := rows.Scan(&t.ID, &t.Label, &status, &t.UpdatedAt, &t.OpenOrders); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		t.Status = domain.TableStatus(status)
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError(err, "iterate tables")
	}
	return tables, nil
}
