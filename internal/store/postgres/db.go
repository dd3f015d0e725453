package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// MustOpen builds the pgx pool backing the fulfillment store and verifies
// connectivity before the service starts taking orders.
func MustOpen(ctx context.Context, dsn string) *pgxpool.Pool {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres pool init failed")
	}
	if err := pool.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("postgres unreachable")
	}
	return pool
}
