package mysql

import (
	"context"
	"database/sql"
	"errors"

	"padu/internal/adapters/observability"
	"padu/internal/domain"
)

// Repo is a KV over the client_state table.
type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

// EnsureSchema creates client_state when missing.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, createClientStateSQL)
	return err
}

func (r *Repo) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	if err := r.db.QueryRowContext(ctx, getStateSQL, key).Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			observability.ObserveKV("mysql", "miss")
			return nil, domain.ErrNotFound
		}
		observability.ObserveKV("mysql", "error")
		return nil, err
	}
	observability.ObserveKV("mysql", "hit")
	return v, nil
}

func (r *Repo) Put(ctx context.Context, key string, value []byte) error {
	observability.ObserveKV("mysql", "put")
	_, err := r.db.ExecContext(ctx, putStateSQL, key, string(value))
	return err
}

func (r *Repo) Delete(ctx context.Context, key string) error {
	observability.ObserveKV("mysql", "del")
	_, err := r.db.ExecContext(ctx, deleteStateSQL, key)
	return err
}
