package reconcile

import (
	"context"
	"sort"
	"time"

	"esimflow/internal/domain/order"
	"esimflow/internal/notify"
	"esimflow/internal/provider"
	"esimflow/internal/provider/base"
	"esimflow/internal/store/repositories"

	"github.com/rs/zerolog/log"
)

// Updater applies terminal status transitions to order rows. It is the single
// write path shared by the ordering engine (synchronous success), the webhook
// reconciler and the status poller, so the three callers cannot diverge.
//
// Every transition is a conditional write: the store only moves a row out of
// pending/processing once, and the loser of a webhook-vs-poll race observes
// won=false and skips downstream side effects.
type Updater struct {
	orders   repositories.OrderRepository
	notifier notify.Service
}

// Outcome summarizes what one apply call actually changed.
type Outcome struct {
	Completed  int
	Failed     int
	Skipped    int // rows already terminal
	Unresolved int // rows left untouched for lack of a profile
}

// NewUpdater creates the shared updater.
func NewUpdater(orders repositories.OrderRepository, notifier notify.Service) *Updater {
	return &Updater{orders: orders, notifier: notifier}
}

// Apply transitions the matched rows according to a normalized provider
// status. Profiles are assigned to rows in stable id order; if fewer profiles
// than rows arrive (partial batch), the surplus rows are left unresolved and
// the mismatch is logged, never silently completed.
func (u *Updater) Apply(ctx context.Context, rows []*order.Order, status string, profiles []provider.Profile, receivedAt *time.Time) Outcome {
	var out Outcome

	sorted := make([]*order.Order, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	switch status {
	case provider.StatusCompleted:
		if len(profiles) < len(sorted) {
			log.Warn().
				Int("rows", len(sorted)).
				Int("profiles", len(profiles)).
				Msg("partial batch fulfillment: fewer profiles than order rows")
		}
		for i, row := range sorted {
			if i >= len(profiles) {
				out.Unresolved++
				continue
			}
			if !base.ValidICCID(profiles[i].ICCID) {
				log.Warn().Int64("order_id", row.ID).Str("iccid", profiles[i].ICCID).Msg("completed status without usable iccid, leaving row unresolved")
				out.Unresolved++
				continue
			}
			won, err := u.orders.Complete(ctx, row.ID, fulfillmentFromProfile(profiles[i]), receivedAt)
			if err != nil {
				log.Error().Err(err).Int64("order_id", row.ID).Msg("complete transition failed")
				out.Unresolved++
				continue
			}
			if !won {
				out.Skipped++
				continue
			}
			out.Completed++
			u.dispatchInstallation(ctx, row, profiles[i])
		}

	case provider.StatusFailed:
		for _, row := range sorted {
			won, err := u.orders.Fail(ctx, row.ID, receivedAt)
			if err != nil {
				log.Error().Err(err).Int64("order_id", row.ID).Msg("fail transition failed")
				continue
			}
			if !won {
				out.Skipped++
				continue
			}
			out.Failed++
		}

	default:
		// Still pending on the provider side; nothing to do.
	}

	return out
}

// dispatchInstallation notifies the customer once per row. The
// installation_sent flag is its own conditional write so a replayed event
// cannot double-dispatch even if it reaches here.
func (u *Updater) dispatchInstallation(ctx context.Context, row *order.Order, p provider.Profile) {
	won, err := u.orders.MarkInstallationSent(ctx, row.ID)
	if err != nil {
		log.Error().Err(err).Int64("order_id", row.ID).Msg("installation_sent flag update failed")
		return
	}
	if !won {
		return
	}
	notified := *row
	notified.Fulfillment = fulfillmentFromProfile(p)
	if err := u.notifier.SendInstallation(ctx, &notified); err != nil {
		// Notification delivery is external; fulfillment stays correct either way.
		log.Error().Err(err).Int64("order_id", row.ID).Msg("installation notification failed")
	}
}

func fulfillmentFromProfile(p provider.Profile) order.Fulfillment {
	return order.Fulfillment{
		ICCID:          p.ICCID,
		QRCode:         p.QRCode,
		QRCodeURL:      p.QRCodeURL,
		SMDPAddress:    p.SMDPAddress,
		ActivationCode: p.ActivationCode,
		Extras:         p.Extras,
	}
}
