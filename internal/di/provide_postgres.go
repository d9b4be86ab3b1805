package di

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/cdcops/dms-replicator/internal/dao/tabledao"
	"github.com/cdcops/dms-replicator/internal/services"
)

// ProvidePgxPool connects to the target Postgres database. The pool is only
// constructed for commands that actually write or count rows.
func ProvidePgxPool(ctx context.Context, config *services.Config) (*pgxpool.Pool, error) {
	if config.TargetDatabaseURL == "" {
		return nil, fmt.Errorf("TARGET_DATABASE_URL required")
	}

	pool, err := pgxpool.New(ctx, config.TargetDatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping target database: %w", err)
	}

	zerolog.Ctx(ctx).Info().Msg("Connected to target database")
	return pool, nil
}

func ProvideTableDAO(pool *pgxpool.Pool) tabledao.TableOperator {
	return tabledao.New(pool)
}
