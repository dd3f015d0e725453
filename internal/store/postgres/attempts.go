package postgres

import (
	"context"

	"esimflow/internal/store/repositories"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AttemptRepo records the failover audit trail plus the provider error
// channel used for alerting and future ranking.
type AttemptRepo struct {
	db *pgxpool.Pool
}

func (r *AttemptRepo) Record(ctx context.Context, a repositories.Attempt) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO order_attempts (request_id, provider_id, seq, success, error_message)
		VALUES ($1,$2,$3,$4,$5)`,
		a.RequestID, a.ProviderID, a.Seq, a.Success, a.ErrorMessage)
	return err
}

func (r *AttemptRepo) ListByRequestID(ctx context.Context, requestID string) ([]repositories.Attempt, error) {
	rows, err := r.db.Query(ctx, `SELECT request_id, provider_id, seq, success, error_message
		FROM order_attempts WHERE request_id=$1 ORDER BY seq`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repositories.Attempt
	for rows.Next() {
		var a repositories.Attempt
		if err := rows.Scan(&a.RequestID, &a.ProviderID, &a.Seq, &a.Success, &a.ErrorMessage); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *AttemptRepo) RecordProviderError(ctx context.Context, providerID int64, code, message string, transient bool) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO provider_errors (provider_id, code, message, transient)
		VALUES ($1,$2,$3,$4)`,
		providerID, code, message, transient)
	return err
}
