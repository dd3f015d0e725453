package handlers

import (
	"errors"
	"io"
	"net/http"

	"esimflow/internal/core/reconcile"
	"esimflow/internal/provider"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// signatureHeaders lists the header names providers use for webhook
// signatures, checked in order.
var signatureHeaders = []string{"RT-Signature", "X-ESG-Signature", "X-Airhub-Signature", "X-Signature"}

// ProviderWebhook receives asynchronous provider events. Unroutable slugs get
// 404 with no record; everything else is acknowledged 200 once durably logged
// so the sender never retries for problems on our side.
func ProviderWebhook(rec *reconcile.Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slug := chi.URLParam(r, "provider_slug")
		eventType := chi.URLParam(r, "event_type")

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "unreadable body", http.StatusBadRequest)
			return
		}

		var signature string
		for _, h := range signatureHeaders {
			if v := r.Header.Get(h); v != "" {
				signature = v
				break
			}
		}

		if err := rec.Handle(r.Context(), slug, eventType, body, signature); err != nil {
			if errors.Is(err, provider.ErrUnknownProvider) {
				http.Error(w, "unknown provider", http.StatusNotFound)
				return
			}
			// Handle only errors for routing failures; anything else was
			// recorded and must still be acknowledged.
			log.Error().Err(err).Str("provider", slug).Msg("webhook handling error")
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"success":true}`))
	}
}
