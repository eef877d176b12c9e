package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/antonio12761/roxy-bar-sub005/services/api/internal/domain"
	"github.com/jackc/pgx/v5"
)

// FindOrCreateCredit inserts candidate unless an account with the same
// customer key exists, and returns the stored account either way.
func (r *LedgerRepository) FindOrCreateCredit(ctx context.Context, candidate domain.CustomerCredit) (domain.CustomerCredit, error) {
	const stmt = `
INSERT INTO customer_credits (id, customer_key, customer_name, balance, created_at, updated_at)
VALUES ($1, $2, $3, 0, $4, $4)
ON CONFLICT (customer_key) DO UPDATE SET updated_at = customer_credits.updated_at
RETURNING id, customer_key, customer_name, balance::text, created_at, updated_at`

	c, err := scanCredit(r.queryRow(ctx, stmt,
		candidate.ID, candidate.CustomerKey, candidate.CustomerName, candidate.CreatedAt,
	))
	if err != nil {
		return domain.CustomerCredit{}, translateError(err, "find or create credit")
	}
	return c, nil
}

func (r *LedgerRepository) AppendCreditEntry(ctx context.Context, e domain.CreditEntry) error {
	const insert = `
INSERT INTO customer_credit_entries (id, credit_id, kind, amount, order_id, payment_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	const bump = `
UPDATE customer_credits
SET balance = balance + $2, updated_at = $3
WHERE id = $1`

	if _, err := r.exec(ctx, insert,
		e.ID, e.CreditID, string(e.Kind), e.Amount, nullIfEmpty(e.OrderID), nullIfEmpty(e.PaymentID), e.CreatedAt,
	); err != nil {
		return translateError(err, "insert credit entry")
	}
	tag, err := r.exec(ctx, bump, e.CreditID, e.Amount, e.CreatedAt)
	if err != nil {
		return translateError(err, "update credit balance")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrCreditNotFound, e.CreditID)
	}
	return nil
}

func (r *LedgerRepository) GetCreditByKey(ctx context.Context, customerKey string) (domain.CustomerCredit, error) {
	const query = `
SELECT id, customer_key, customer_name, balance::text, created_at, updated_at
FROM customer_credits
WHERE customer_key = $1`
	const entries = `
SELECT id, credit_id, kind, amount::text, COALESCE(order_id::text, ''), COALESCE(payment_id::text, ''), created_at
FROM customer_credit_entries
WHERE credit_id = $1
ORDER BY created_at ASC, id ASC`

	var c domain.CustomerCredit
	err := r.guard(ctx, func() error {
		var err error
		c, err = scanCredit(r.queryRow(ctx, query, customerKey))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", domain.ErrCreditNotFound, customerKey)
		}
		if err != nil {
			return translateError(err, "get credit")
		}

		rows, err := r.query(ctx, entries, c.ID)
		if err != nil {
			return translateError(err, "list credit entries")
		}
		defer rows.Close()
		for rows.Next() {
			var (
				e      domain.CreditEntry
				kind   string
				amount string
			)
			if err := rows.Scan(&e.ID, &e.CreditID, &kind, &amount, &e.OrderID, &e.PaymentID, &e.CreatedAt); err != nil {
				return fmt.Errorf("scan credit entry: %w", err)
			}
			e.Kind = domain.CreditEntryKind(kind)
			if e.Amount, err = parseNumeric(amount); err != nil {
				return err
			}
			c.Entries = append(c.Entries, e)
		}
		return translateError(rows.Err(), "iterate credit entries")
	})
	if err != nil {
		return domain.CustomerCredit{}, err
	}
	return c, nil
}

func scanCredit(row pgx.Row) (domain.CustomerCredit, error) {
	var (
		c       domain.CustomerCredit
		balance string
	)
	if err := row.Scan(&c.ID, &c.CustomerKey, &c.CustomerName, &balance, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return domain.CustomerCredit{}, err
	}
	b, err := parseNumeric(balance)
	if err != nil {
		return domain.CustomerCredit{}, err
	}
	c.Balance = b
	return c, nil
}
