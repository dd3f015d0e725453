package notify

import (
	"context"
	"fmt"
	"time"

	"esimflow/internal/domain/order"
	"esimflow/internal/provider"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Service is the boundary to customer notification delivery (email/push),
// which lives outside this core. Implementations must be safe for concurrent
// use.
type Service interface {
	SendInstallation(ctx context.Context, o *order.Order) error
	SendLowDataAlert(ctx context.Context, iccid string, data provider.WebhookData) error
}

// Log is the default Service: it records the dispatch and does nothing else.
type Log struct{}

func (Log) SendInstallation(_ context.Context, o *order.Order) error {
	log.Info().
		Int64("order_id", o.ID).
		Str("iccid", o.Fulfillment.ICCID).
		Msg("installation notification dispatched")
	return nil
}

func (Log) SendLowDataAlert(_ context.Context, iccid string, data provider.WebhookData) error {
	log.Info().
		Str("iccid", iccid).
		Int64("remaining", data.DataRemaining).
		Int64("threshold", data.Threshold).
		Msg("low data alert dispatched")
	return nil
}

// Deduped wraps a Service with a redis SETNX guard so a replayed low-data
// webhook for the same iccid+threshold cannot double-notify the customer
// within one alerting cycle.
type Deduped struct {
	inner Service
	rdb   *redis.Client
	ttl   time.Duration
}

// NewDeduped creates a dedup wrapper. ttl defines the alerting cycle.
func NewDeduped(inner Service, rdb *redis.Client, ttl time.Duration) *Deduped {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &Deduped{inner: inner, rdb: rdb, ttl: ttl}
}

func (d *Deduped) SendInstallation(ctx context.Context, o *order.Order) error {
	return d.inner.SendInstallation(ctx, o)
}

func (d *Deduped) SendLowDataAlert(ctx context.Context, iccid string, data provider.WebhookData) error {
	if d.rdb != nil {
		key := fmt.Sprintf("lowdata:%s:%d", iccid, data.Threshold)
		ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
		if err != nil {
			// Redis being down should degrade to at-least-once, not drop alerts.
			log.Warn().Err(err).Str("iccid", iccid).Msg("low data dedup check failed")
		} else if !ok {
			log.Debug().Str("iccid", iccid).Msg("duplicate low data alert suppressed")
			return nil
		}
	}
	return d.inner.SendLowDataAlert(ctx, iccid, data)
}
