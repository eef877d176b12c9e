package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/antonio12761/roxy-bar-sub005/services/api/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type txKey struct{}

var serializable = pgx.TxOptions{IsoLevel: pgx.Serializable}

// withTx runs fn in a transaction carried by the context. A context that
// already carries one is reused as is.
func withTx(ctx context.Context, pool *pgxpool.Pool, opts pgx.TxOptions, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := pool.BeginTx(ctx, opts)
	if err != nil {
		return translateError(err, "begin transaction")
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx); err != nil {
		// ctx may already be past its deadline.
		_ = tx.Rollback(context.Background())
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return translateError(err, "commit")
	}
	return nil
}

func txFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

const (
	codeUniqueViolation      = "23505"
	codeInvalidText          = "22P02"
	codeLockNotAvailable     = "55P03"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeQueryCanceled        = "57014"
	codeAdminShutdown        = "57P01"
	codeCannotConnectNow     = "57P03"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == codeUniqueViolation
}

func isInvalidUUID(err error) bool {
	return pgCode(err) == codeInvalidText
}

// translateError maps driver failures onto the domain taxonomy. Errors it
// does not recognise are wrapped with op.
func translateError(err error, op string) error {
	if err == nil {
		return nil
	}

	switch code := pgCode(err); {
	case code == codeLockNotAvailable:
		return fmt.Errorf("%w: order is locked by another terminal, retry shortly", domain.ErrConcurrentModification)
	case code == codeSerializationFailure, code == codeDeadlockDetected:
		return fmt.Errorf("%w: %s conflicted with a concurrent transaction", domain.ErrConcurrentModification, op)
	case code == codeInvalidText:
		return domain.ErrInvalidID
	case code == codeQueryCanceled, code == codeAdminShutdown, code == codeCannotConnectNow,
		len(code) == 5 && code[:2] == "08":
		return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, op, err)
	case code != "":
		return fmt.Errorf("%s: %w", op, err)
	}

	var connErr *pgconn.ConnectError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, op, err)
	case errors.As(err, &connErr), pgconn.Timeout(err), pgconn.SafeToRetry(err):
		return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
