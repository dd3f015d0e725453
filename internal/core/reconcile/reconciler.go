package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"esimflow/internal/domain/notification"
	"esimflow/internal/domain/order"
	"esimflow/internal/notify"
	"esimflow/internal/provider"
	"esimflow/internal/store/repositories"

	"github.com/rs/zerolog/log"
)

// ErrNoMatchingOrder marks a webhook that references no local order. Expected
// under races (webhook beats the local commit); logged, recorded and acked.
var ErrNoMatchingOrder = errors.New("no matching order")

// Reconciler validates, normalizes and applies inbound provider webhooks.
// Every event is durably recorded before any order mutation; terminal
// transitions go through the shared Updater.
type Reconciler struct {
	registry      *provider.Registry
	orders        repositories.OrderRepository
	notifications repositories.NotificationRepository
	updater       *Updater
	notifier      notify.Service
}

// NewReconciler wires the webhook reconciliation path.
func NewReconciler(
	registry *provider.Registry,
	orders repositories.OrderRepository,
	notifications repositories.NotificationRepository,
	updater *Updater,
	notifier notify.Service,
) *Reconciler {
	return &Reconciler{
		registry:      registry,
		orders:        orders,
		notifications: notifications,
		updater:       updater,
		notifier:      notifier,
	}
}

// Handle processes one inbound webhook. The only error callers treat as
// non-acknowledgeable is provider.ErrUnknownProvider (routing failure, 404
// with no record created); every other path records the event and expects a
// 200 acknowledgement so the sender does not retry for issues on our side.
func (r *Reconciler) Handle(ctx context.Context, slug, eventType string, payload []byte, signature string) error {
	entry, err := r.registry.BySlug(ctx, slug)
	if err != nil {
		return err
	}

	if res := entry.Adapter.ValidateSignature(payload, signature); !res.Valid {
		log.Warn().Str("provider", slug).Str("reason", res.Reason).Msg("webhook signature invalid")
		r.record(ctx, entry.Config.ID, &provider.Webhook{Type: notification.TypeUnknown}, payload, signature, true, "invalid signature: "+res.Reason)
		return nil
	}

	wh, err := entry.Adapter.ParsePayload(payload)
	if err != nil {
		log.Warn().Str("provider", slug).Err(err).Msg("webhook payload unparseable")
		r.record(ctx, entry.Config.ID, &provider.Webhook{Type: notification.TypeUnknown}, payload, signature, true, "unparseable payload: "+err.Error())
		return nil
	}

	rec := r.record(ctx, entry.Config.ID, wh, payload, signature, false, "")

	var handleErr error
	switch wh.Type {
	case notification.TypeOrderStatus:
		handleErr = r.applyOrderStatus(ctx, entry, wh)
	case notification.TypeLowData:
		handleErr = r.applyLowData(ctx, wh)
	default:
		log.Warn().Str("provider", slug).Str("event_type", eventType).Msg("unknown webhook type, recorded and ignored")
	}

	if rec != nil {
		msg := ""
		if handleErr != nil {
			msg = handleErr.Error()
		}
		if err := r.notifications.MarkProcessed(ctx, rec.ID, msg); err != nil {
			log.Error().Err(err).Int64("notification_id", rec.ID).Msg("failed to mark notification processed")
		}
	}

	// Per-event failures are isolated; the webhook is still acknowledged.
	if handleErr != nil {
		log.Warn().Str("provider", slug).Err(handleErr).Msg("webhook recorded but not applied")
	}
	return nil
}

func (r *Reconciler) applyOrderStatus(ctx context.Context, entry *provider.Entry, wh *provider.Webhook) error {
	rows, err := r.matchOrders(ctx, entry.Config.ID, wh)
	if err != nil {
		return err
	}

	receivedAt := time.Now()
	outcome := r.updater.Apply(ctx, rows, wh.Status, wh.Profiles, &receivedAt)
	log.Info().
		Str("provider", entry.Config.Slug).
		Str("status", wh.Status).
		Int("matched", len(rows)).
		Int("completed", outcome.Completed).
		Int("failed", outcome.Failed).
		Int("skipped", outcome.Skipped).
		Int("unresolved", outcome.Unresolved).
		Msg("webhook reconciled")
	return nil
}

// matchOrders prefers the requestId grouping key (covers whole batches) and
// falls back to (providerOrderId, providerId) for providers that omit it.
func (r *Reconciler) matchOrders(ctx context.Context, providerID int64, wh *provider.Webhook) ([]*order.Order, error) {
	if wh.RequestID != "" {
		rows, err := r.orders.FindByRequestID(ctx, wh.RequestID)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			return rows, nil
		}
	}
	if wh.ProviderOrderID != "" {
		rows, err := r.orders.FindByProviderOrderID(ctx, providerID, wh.ProviderOrderID)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			return rows, nil
		}
	}
	return nil, fmt.Errorf("%w: requestId=%q providerOrderId=%q", ErrNoMatchingOrder, wh.RequestID, wh.ProviderOrderID)
}

func (r *Reconciler) applyLowData(ctx context.Context, wh *provider.Webhook) error {
	if wh.ICCID == "" {
		return fmt.Errorf("low data event without iccid")
	}
	return r.notifier.SendLowDataAlert(ctx, wh.ICCID, wh.Data)
}

// record persists the append-only notification row. A nil return means the
// write failed; processing continues anyway since losing the audit row must
// not lose the business event.
func (r *Reconciler) record(ctx context.Context, providerID int64, wh *provider.Webhook, payload []byte, signature string, processed bool, errMsg string) *notification.Record {
	rec := &notification.Record{
		ProviderID:      providerID,
		Type:            wh.Type,
		ICCID:           wh.ICCID,
		RequestID:       wh.RequestID,
		ProviderOrderID: wh.ProviderOrderID,
		Signature:       signature,
		Payload:         payload,
		Processed:       processed,
		ErrorMessage:    errMsg,
		ReceivedAt:      time.Now(),
	}
	if err := r.notifications.Create(ctx, rec); err != nil {
		log.Error().Err(err).Msg("failed to persist notification record")
		return nil
	}
	return rec
}
