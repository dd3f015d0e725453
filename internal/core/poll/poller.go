package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"esimflow/internal/core/reconcile"
	"esimflow/internal/domain/order"
	"esimflow/internal/provider"
	"esimflow/internal/store/repositories"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// Poller is the correctness backstop for providers with unreliable or absent
// webhooks: it periodically queries the owning provider for orders stuck in
// processing and feeds the answer through the same updater the webhook
// reconciler uses, so the two paths cannot diverge.
type Poller struct {
	registry *provider.Registry
	orders   repositories.OrderRepository
	updater  *reconcile.Updater
	locker   Locker

	interval    time.Duration
	gracePeriod time.Duration
	batch       int
}

// NewPoller creates the status poller.
func NewPoller(
	registry *provider.Registry,
	orders repositories.OrderRepository,
	updater *reconcile.Updater,
	locker Locker,
	interval, gracePeriod time.Duration,
) *Poller {
	if interval == 0 {
		interval = 2 * time.Minute
	}
	if gracePeriod == 0 {
		gracePeriod = 5 * time.Minute
	}
	return &Poller{
		registry:    registry,
		orders:      orders,
		updater:     updater,
		locker:      locker,
		interval:    interval,
		gracePeriod: gracePeriod,
		batch:       50,
	}
}

// Run drives Sweep on a fixed interval until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	log.Info().Dur("interval", p.interval).Msg("status poller: started")
	t := time.NewTicker(p.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("status poller: stopping")
			return
		case <-t.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep checks every processing order older than the grace period. The sweep
// lock keeps overlapping ticks and multiple instances from double-polling;
// per-row transitions are still conditional, the lock only saves work.
func (p *Poller) Sweep(ctx context.Context) {
	release, acquired, err := p.locker.Acquire(ctx, "poller:sweep", 2*p.interval)
	if err != nil {
		log.Error().Err(err).Msg("poller: sweep lock failed")
		return
	}
	if !acquired {
		log.Debug().Msg("poller: sweep already running elsewhere")
		return
	}
	defer release()

	cutoff := time.Now().Add(-p.gracePeriod)
	rows, err := p.orders.FindProcessingOlderThan(ctx, cutoff, p.batch)
	if err != nil {
		log.Error().Err(err).Msg("poller: fetch stuck orders failed")
		return
	}
	if len(rows) == 0 {
		return
	}
	log.Info().Int("count", len(rows)).Msg("poller: checking stuck orders")

	for _, byOrder := range groupByProviderOrder(rows) {
		if err := p.checkGroup(ctx, byOrder); err != nil {
			// One provider failing must not abort the rest of the sweep.
			log.Warn().
				Err(err).
				Int64("provider_id", byOrder[0].FinalProviderID).
				Str("provider_order_id", byOrder[0].ProviderOrderID).
				Msg("poller: status check failed")
		}
	}
}

// CheckOrder refreshes a single order on demand (admin trigger).
func (p *Poller) CheckOrder(ctx context.Context, orderID int64) error {
	row, err := p.orders.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	if row.Status.Terminal() {
		return nil
	}
	if row.ProviderOrderID == "" {
		return fmt.Errorf("order %d has no provider order id to poll", orderID)
	}
	return p.checkGroup(ctx, []*order.Order{row})
}

// checkGroup polls one provider order and applies the result to all local
// rows attached to it (a batch shares one provider order id).
func (p *Poller) checkGroup(ctx context.Context, rows []*order.Order) error {
	entry, err := p.registry.ByID(ctx, rows[0].FinalProviderID)
	if err != nil {
		return err
	}

	st, err := p.fetchStatus(ctx, entry.Adapter, rows[0].ProviderOrderID)
	if err != nil {
		return err
	}
	if st.Status == provider.StatusPending {
		return nil
	}

	receivedAt := time.Now()
	outcome := p.updater.Apply(ctx, rows, st.Status, st.Profiles, &receivedAt)
	log.Info().
		Str("provider", entry.Config.Slug).
		Str("provider_order_id", rows[0].ProviderOrderID).
		Str("status", st.Status).
		Int("completed", outcome.Completed).
		Int("failed", outcome.Failed).
		Int("skipped", outcome.Skipped).
		Msg("poller: order reconciled")
	return nil
}

// fetchStatus retries transient failures with exponential backoff. Status
// reads are idempotent so retry-in-place is safe here, unlike order creation.
func (p *Poller) fetchStatus(ctx context.Context, a provider.Adapter, providerOrderID string) (*provider.OrderStatus, error) {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)

	var st *provider.OrderStatus
	op := func() error {
		var err error
		st, err = a.GetOrderStatus(ctx, providerOrderID)
		if err == nil {
			return nil
		}
		var perr *provider.Error
		if errors.As(err, &perr) && !perr.Transient {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}
	return st, nil
}

func groupByProviderOrder(rows []*order.Order) [][]*order.Order {
	type key struct {
		providerID int64
		orderID    string
	}
	idx := make(map[key]int)
	var out [][]*order.Order
	for _, row := range rows {
		if row.ProviderOrderID == "" {
			continue
		}
		k := key{row.FinalProviderID, row.ProviderOrderID}
		if i, ok := idx[k]; ok {
			out[i] = append(out[i], row)
			continue
		}
		idx[k] = len(out)
		out = append(out, []*order.Order{row})
	}
	return out
}
