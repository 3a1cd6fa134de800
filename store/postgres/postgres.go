// Package postgres implements store.Store on top of pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrEthical07/authcore/store"
)

const (
	uniqueViolation       = "23505"
	checkViolation        = "23514"
	credentialsConstraint = "users_credential_check"
)

// DB is the subset of *pgxpool.Pool the store needs. pgxmock pools satisfy it
// as well.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// DBTX is implemented by pgx.Tx and by pools.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a Postgres backed store.Store.
type Store struct {
	db DB
}

var _ store.Store = (*Store)(nil)

func New(db DB) *Store {
	return &Store{db: db}
}

// InTx begins a transaction, runs fn and commits on success. Any error or
// panic rolls back; panics are re-raised.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, q store.Queries) error) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if cerr := tx.Commit(ctx); cerr != nil {
			err = fmt.Errorf("commit tx: %w", mapError(cerr))
		}
	}()

	return fn(ctx, &Queries{db: tx})
}

// Queries runs statements against a transaction.
type Queries struct {
	db DBTX
}

var _ store.Queries = (*Queries)(nil)

// NewQueries wraps db directly, outside of any transaction.
func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == uniqueViolation:
			return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.ConstraintName)
		case pgErr.Code == checkViolation && pgErr.ConstraintName == credentialsConstraint:
			return store.ErrCredentialRequired
		}
	}
	return fmt.Errorf("db error: %w", err)
}

func requireRows(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
