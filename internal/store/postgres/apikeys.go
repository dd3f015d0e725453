package postgres

import (
	"context"
	"errors"

	"esimflow/internal/store/repositories"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// APIKeyRepo backs bearer-key authentication for the order API.
type APIKeyRepo struct {
	db *pgxpool.Pool
}

func (r *APIKeyRepo) FindClientByKeyHash(ctx context.Context, keyHash string) (int64, error) {
	var clientID int64
	err := r.db.QueryRow(ctx, `SELECT client_id FROM api_keys
		WHERE key_hash=$1 AND revoked=false`, keyHash).Scan(&clientID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, repositories.ErrNotFound
	}
	return clientID, err
}
