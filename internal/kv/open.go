package kv

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	redisad "padu/internal/adapters/redis"
	"padu/internal/domain"
	"padu/internal/shared"
	mysqlrepo "padu/internal/storage/mysql"
)

// Open connects the backend named by cfg.StateBackend and scopes it to
// cfg.KVNamespace. The returned close func releases the connection.
func Open(ctx context.Context, cfg shared.Config) (domain.KV, func() error, error) {
	var (
		backend domain.KV
		closeFn = func() error { return nil }
	)
	switch cfg.StateBackend {
	case shared.BackendRedis:
		r := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		if err := r.Ping(ctx); err != nil {
			_ = r.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		backend, closeFn = r, r.Close

	case shared.BackendMySQL:
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("sql.Open: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("db ping: %w", err)
		}
		repo := mysqlrepo.New(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		backend, closeFn = repo, db.Close

	default:
		backend = NewMemory()
	}
	log.Info().Str("backend", cfg.StateBackend).Str("namespace", cfg.KVNamespace).Msg("state backend ready")
	return WithNamespace(backend, cfg.KVNamespace), closeFn, nil
}
