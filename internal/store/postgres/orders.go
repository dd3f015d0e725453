package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"esimflow/internal/domain/order"
	"esimflow/internal/store/repositories"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OrderRepo implements repositories.OrderRepository.
type OrderRepo struct {
	db *pgxpool.Pool
}

const orderColumns = `id, request_id, provider_order_id, order_type, quantity,
	package_id, customer_ref, source,
	original_provider_id, final_provider_id, failover_attempts,
	status, iccid, qr_code, qr_code_url, smdp_address, activation_code, extras,
	webhook_received_at, installation_sent, created_at, updated_at`

func (r *OrderRepo) Create(ctx context.Context, o *order.Order) error {
	return r.insertOrder(ctx, r.db, o)
}

// CreateBatch inserts all rows of one purchase in a single transaction so a
// batch is never half-persisted.
func (r *OrderRepo) CreateBatch(ctx context.Context, os []*order.Order) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, o := range os {
		if err := r.insertOrder(ctx, tx, o); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

type execQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *OrderRepo) insertOrder(ctx context.Context, q execQuerier, o *order.Order) error {
	extras, err := marshalExtras(o.Fulfillment.Extras)
	if err != nil {
		return err
	}
	return q.QueryRow(ctx, `
		INSERT INTO orders (
			request_id, provider_order_id, order_type, quantity,
			package_id, customer_ref, source,
			original_provider_id, final_provider_id, failover_attempts,
			status, iccid, qr_code, qr_code_url, smdp_address, activation_code, extras
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING id, created_at, updated_at`,
		o.RequestID, o.ProviderOrderID, string(o.Type), o.Quantity,
		o.PackageID, o.CustomerRef, o.Source,
		o.OriginalProviderID, o.FinalProviderID, o.FailoverAttempts,
		string(o.Status), o.Fulfillment.ICCID, o.Fulfillment.QRCode,
		o.Fulfillment.QRCodeURL, o.Fulfillment.SMDPAddress, o.Fulfillment.ActivationCode, extras,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
}

func (r *OrderRepo) FindByID(ctx context.Context, id int64) (*order.Order, error) {
	row := r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repositories.ErrNotFound
	}
	return o, err
}

func (r *OrderRepo) FindByRequestID(ctx context.Context, requestID string) ([]*order.Order, error) {
	rows, err := r.db.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE request_id=$1 ORDER BY id`, requestID)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

func (r *OrderRepo) FindByProviderOrderID(ctx context.Context, providerID int64, providerOrderID string) ([]*order.Order, error) {
	rows, err := r.db.Query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE final_provider_id=$1 AND provider_order_id=$2 ORDER BY id`, providerID, providerOrderID)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

func (r *OrderRepo) FindProcessingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*order.Order, error) {
	rows, err := r.db.Query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE status='processing' AND updated_at < $1 ORDER BY id LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

func (r *OrderRepo) List(ctx context.Context, limit, offset int) ([]*order.Order, error) {
	rows, err := r.db.Query(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

// MarkDispatched stamps the winning provider and moves pending -> processing.
func (r *OrderRepo) MarkDispatched(ctx context.Context, id int64, d repositories.Dispatch) error {
	tag, err := r.db.Exec(ctx, `UPDATE orders
		SET provider_order_id=$2, original_provider_id=$3, final_provider_id=$4,
		    failover_attempts=$5, status='processing', updated_at=now()
		WHERE id=$1 AND status='pending'`,
		id, d.ProviderOrderID, d.OriginalProviderID, d.FinalProviderID, d.FailoverAttempts)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

// Complete writes the fulfillment payload and transitions to completed. The
// status guard makes the transition single-shot: a concurrent webhook and
// poll tick cannot both win.
func (r *OrderRepo) Complete(ctx context.Context, id int64, f order.Fulfillment, receivedAt *time.Time) (bool, error) {
	extras, err := marshalExtras(f.Extras)
	if err != nil {
		return false, err
	}
	tag, err := r.db.Exec(ctx, `UPDATE orders
		SET status='completed', iccid=$2, qr_code=$3, qr_code_url=$4,
		    smdp_address=$5, activation_code=$6, extras=$7,
		    webhook_received_at=$8, updated_at=now()
		WHERE id=$1 AND status IN ('pending','processing')`,
		id, f.ICCID, f.QRCode, f.QRCodeURL, f.SMDPAddress, f.ActivationCode, extras, receivedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Fail transitions to failed with no payload, same single-shot guard.
func (r *OrderRepo) Fail(ctx context.Context, id int64, receivedAt *time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `UPDATE orders
		SET status='failed', webhook_received_at=$2, updated_at=now()
		WHERE id=$1 AND status IN ('pending','processing')`,
		id, receivedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkInstallationSent flips the dispatch guard exactly once.
func (r *OrderRepo) MarkInstallationSent(ctx context.Context, id int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `UPDATE orders
		SET installation_sent=true, updated_at=now()
		WHERE id=$1 AND installation_sent=false`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func collectOrders(rows pgx.Rows) ([]*order.Order, error) {
	defer rows.Close()
	var out []*order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (*order.Order, error) {
	var o order.Order
	var orderType, status string
	var extras []byte
	err := row.Scan(
		&o.ID, &o.RequestID, &o.ProviderOrderID, &orderType, &o.Quantity,
		&o.PackageID, &o.CustomerRef, &o.Source,
		&o.OriginalProviderID, &o.FinalProviderID, &o.FailoverAttempts,
		&status, &o.Fulfillment.ICCID, &o.Fulfillment.QRCode, &o.Fulfillment.QRCodeURL,
		&o.Fulfillment.SMDPAddress, &o.Fulfillment.ActivationCode, &extras,
		&o.WebhookReceivedAt, &o.InstallationSent, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Type = order.Type(orderType)
	o.Status = order.Status(status)
	if len(extras) > 0 {
		if err := json.Unmarshal(extras, &o.Fulfillment.Extras); err != nil {
			return nil, err
		}
	}
	return &o, nil
}

func marshalExtras(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}
