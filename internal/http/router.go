package httpx

import (
	"encoding/json"
	"net/http"

	"esimflow/internal/config"
	"esimflow/internal/core/ordering"
	"esimflow/internal/core/poll"
	"esimflow/internal/core/reconcile"
	"esimflow/internal/http/handlers"
	middlewarex "esimflow/internal/http/middleware"
	"esimflow/internal/provider"
	"esimflow/internal/store/repositories"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// RouterDependencies holds everything the HTTP surface needs.
type RouterDependencies struct {
	Config        config.Cfg
	Engine        *ordering.Engine
	Reconciler    *reconcile.Reconciler
	Poller        *poll.Poller
	Registry      *provider.Registry
	Orders        repositories.OrderRepository
	Providers     repositories.ProviderRepository
	Notifications repositories.NotificationRepository
	Attempts      repositories.AttemptRepository
	APIKeys       repositories.APIKeyRepository
}

// NewRouter builds the chi router.
func NewRouter(deps RouterDependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	// Webhook endpoints: public; authenticity comes from provider signatures.
	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/{provider_slug}/{event_type}", handlers.ProviderWebhook(deps.Reconciler))
	})

	// Order API, behind API-key auth.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middlewarex.APIKeyAuth(deps.APIKeys))

		r.Post("/orders", handlers.CreateOrder(deps.Engine))
		r.Get("/orders", handlers.ListOrders(deps.Orders))
		r.Get("/orders/{id}", handlers.GetOrder(deps.Orders))
	})

	// Administrative triggers.
	r.Route("/admin", func(r chi.Router) {
		r.Use(middlewarex.AdminAuth(deps.Config))

		r.Post("/orders/{id}/refresh", handlers.RefreshOrderStatus(deps.Poller))
		r.Post("/orders/sweep", handlers.SweepPendingOrders(deps.Poller))
		r.Post("/providers/{id}/sync", handlers.SyncProviderCatalog(deps.Registry))
		r.Patch("/providers/{id}", handlers.UpdateProvider(deps.Providers, deps.Registry))
		r.Get("/notifications", handlers.ListNotifications(deps.Notifications))
		r.Get("/attempts", handlers.ListAttempts(deps.Attempts))
		r.Get("/usage", handlers.GetUsage(deps.Registry))
	})

	return r
}
