package postgres

import (
	"context"

	"esimflow/internal/domain/notification"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NotificationRepo is the append-only webhook log. Rows are never deleted and
// only MarkProcessed mutates them.
type NotificationRepo struct {
	db *pgxpool.Pool
}

func (r *NotificationRepo) Create(ctx context.Context, rec *notification.Record) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO notification_records (
			provider_id, type, iccid, request_id, provider_order_id,
			signature, payload, processed, error_message, received_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id`,
		rec.ProviderID, string(rec.Type), rec.ICCID, rec.RequestID, rec.ProviderOrderID,
		rec.Signature, rec.Payload, rec.Processed, rec.ErrorMessage, rec.ReceivedAt,
	).Scan(&rec.ID)
}

func (r *NotificationRepo) MarkProcessed(ctx context.Context, id int64, errMsg string) error {
	_, err := r.db.Exec(ctx, `UPDATE notification_records
		SET processed=true, error_message=$2, processed_at=now()
		WHERE id=$1`, id, errMsg)
	return err
}

func (r *NotificationRepo) List(ctx context.Context, limit, offset int) ([]*notification.Record, error) {
	rows, err := r.db.Query(ctx, `SELECT id, provider_id, type, iccid, request_id,
			provider_order_id, signature, payload, processed, error_message, received_at, processed_at
		FROM notification_records ORDER BY id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*notification.Record
	for rows.Next() {
		var rec notification.Record
		var typ string
		if err := rows.Scan(&rec.ID, &rec.ProviderID, &typ, &rec.ICCID, &rec.RequestID,
			&rec.ProviderOrderID, &rec.Signature, &rec.Payload, &rec.Processed,
			&rec.ErrorMessage, &rec.ReceivedAt, &rec.ProcessedAt); err != nil {
			return nil, err
		}
		rec.Type = notification.Type(typ)
		out = append(out, &rec)
	}
	return out, rows.Err()
}
