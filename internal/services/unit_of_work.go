package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
)

// UnitOfWork runs a function as one all-or-nothing unit across the balance
// store and the journal. The ledger's credit, debit and finalize operations
// depend on this: a balance effect committed while the status stays pending
// would be re-applied on the next at-least-once delivery.
type UnitOfWork interface {
	Atomically(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}

func txFrom(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(txKey{}).(*sql.Tx)
	return tx
}

// querier is the subset of sql.DB and sql.Tx the stores run their
// statements on.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLUnitOfWork implements UnitOfWork on one MySQL database. It puts the
// transaction into the context; the stores pick it up and run on it instead
// of opening their own.
type SQLUnitOfWork struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewSQLUnitOfWork(db *sql.DB, logger zerolog.Logger) *SQLUnitOfWork {
	return &SQLUnitOfWork{
		db:     db,
		logger: logger,
	}
}

func (u *SQLUnitOfWork) Atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	// Nested units join the enclosing transaction.
	if txFrom(ctx) != nil {
		return fn(ctx)
	}

	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		u.logger.Error().Err(err).Msg("Error starting unit of work")
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		u.logger.Error().Err(err).Msg("Error committing unit of work")
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
