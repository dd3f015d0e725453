package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"esimflow/internal/core/poll"
	"esimflow/internal/provider"
	"esimflow/internal/store/repositories"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// RefreshOrderStatus forces a provider status check for one order.
func RefreshOrderStatus(poller *poll.Poller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid order id", http.StatusBadRequest)
			return
		}
		if err := poller.CheckOrder(r.Context(), id); err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				http.Error(w, "order not found", http.StatusNotFound)
				return
			}
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"refreshed": true})
	}
}

// SweepPendingOrders triggers a poller sweep outside its schedule.
func SweepPendingOrders(poller *poll.Poller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Detached from the request context: the sweep outlives the response.
		go poller.Sweep(context.Background())
		writeJSON(w, http.StatusAccepted, map[string]bool{"sweeping": true})
	}
}

// SyncProviderCatalog acknowledges a catalog sync. The sync itself runs
// elsewhere; what matters here is dropping the registry's ranking cache so the
// next order sees fresh mappings.
func SyncProviderCatalog(registry *provider.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		registry.Invalidate()
		writeJSON(w, http.StatusOK, map[string]bool{"invalidated": true})
	}
}

type updateProviderRequest struct {
	Enabled       *bool    `json:"enabled"`
	Priority      *int     `json:"priority"`
	PricingMargin *float64 `json:"pricingMargin"`
}

// UpdateProvider applies an admin edit to a provider row and invalidates the
// ranking cache so the change takes effect on the next order.
func UpdateProvider(providers repositories.ProviderRepository, registry *provider.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid provider id", http.StatusBadRequest)
			return
		}
		var req updateProviderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}

		if err := providers.Update(r.Context(), id, req.Enabled, req.Priority, req.PricingMargin); err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				http.Error(w, "provider not found", http.StatusNotFound)
				return
			}
			writeError(w, http.StatusInternalServerError, "update failed")
			return
		}
		registry.Invalidate()
		log.Info().Int64("provider_id", id).Msg("provider configuration updated")
		writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
	}
}

// ListAttempts exposes the failover audit trail for one purchase.
func ListAttempts(attempts repositories.AttemptRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.URL.Query().Get("request_id")
		if requestID == "" {
			http.Error(w, "request_id is required", http.StatusBadRequest)
			return
		}
		out, err := attempts.ListByRequestID(r.Context(), requestID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"attempts": out})
	}
}

// GetUsage passes a consumption query through to the owning provider.
func GetUsage(registry *provider.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, err := strconv.ParseInt(r.URL.Query().Get("provider_id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid provider_id", http.StatusBadRequest)
			return
		}
		iccid := r.URL.Query().Get("iccid")
		if iccid == "" {
			http.Error(w, "iccid is required", http.StatusBadRequest)
			return
		}

		entry, err := registry.ByID(r.Context(), providerID)
		if err != nil {
			http.Error(w, "unknown provider", http.StatusNotFound)
			return
		}
		usage, err := entry.Adapter.GetUsage(r.Context(), iccid)
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, usage)
	}
}

// ListNotifications exposes the webhook audit log.
func ListNotifications(notifications repositories.NotificationRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := pagination(r, 50)
		out, err := notifications.List(r.Context(), limit, offset)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": out})
	}
}
