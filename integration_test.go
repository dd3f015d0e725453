package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"esimflow/internal/config"
	"esimflow/internal/core/ordering"
	"esimflow/internal/core/poll"
	"esimflow/internal/core/reconcile"
	"esimflow/internal/domain/order"
	"esimflow/internal/notify"
	"esimflow/internal/provider"
	"esimflow/internal/provider/airhub"
	"esimflow/internal/provider/esimaccess"
	"esimflow/internal/provider/esimgo"
	"esimflow/internal/store/memory"
)

// TestAdapterRegistration wires the three real adapters and checks the
// registry sees them with the right capabilities.
func TestAdapterRegistration(t *testing.T) {
	cfg := config.Cfg{
		Ordering: config.OrderingCfg{MaxFailoverAttempts: 3, ProviderTimeout: 5 * time.Second},
		Providers: map[string]config.ProviderCreds{
			esimaccess.Slug: {APIKey: "k", APISecret: "s"},
			esimgo.Slug:     {APIKey: "k", APISecret: "s"},
			airhub.Slug:     {APIKey: "k", APISecret: "s"},
		},
	}

	providers := memory.NewProviderStore(
		provider.Config{ID: 1, Slug: esimaccess.Slug, Enabled: true, Priority: 1},
		provider.Config{ID: 2, Slug: esimgo.Slug, Enabled: true, Priority: 2},
		provider.Config{ID: 3, Slug: airhub.Slug, Enabled: true, Priority: 3},
	)
	registry := provider.NewRegistry(providers, memory.NewPackageStore())
	registry.Register(esimaccess.New(cfg))
	registry.Register(esimgo.New(cfg))
	registry.Register(airhub.New(cfg))

	slugs := registry.Slugs()
	sort.Strings(slugs)
	want := []string{airhub.Slug, esimaccess.Slug, esimgo.Slug}
	if len(slugs) != len(want) {
		t.Fatalf("registered slugs = %v, want %v", slugs, want)
	}
	for i := range want {
		if slugs[i] != want[i] {
			t.Fatalf("registered slugs = %v, want %v", slugs, want)
		}
	}

	ea, err := registry.AdapterBySlug(esimaccess.Slug)
	if err != nil {
		t.Fatalf("AdapterBySlug: %v", err)
	}
	if !ea.SupportsBatch() {
		t.Error("esimaccess must support native batch orders")
	}

	eg, err := registry.AdapterBySlug(esimgo.Slug)
	if err != nil {
		t.Fatalf("AdapterBySlug: %v", err)
	}
	if eg.SupportsBatch() {
		t.Error("esimgo is single-profile only")
	}
}

// TestOrderLifecycle runs the full path against a stub provider server:
// create through the engine, complete through a signed webhook, verify the
// poller then has nothing left to do.
func TestOrderLifecycle(t *testing.T) {
	const secret = "integration-secret"

	// Stub eSIM Access upstream: accepts the order, fulfills via webhook later.
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/open/esim/order" {
			http.NotFound(w, r)
			return
		}
		var body struct {
			TransactionID string `json:"transactionId"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"obj":     map[string]string{"orderNo": "B-INT-1", "transactionId": body.TransactionID},
		})
	}))
	defer upstream.Close()

	cfg := config.Cfg{
		Ordering: config.OrderingCfg{MaxFailoverAttempts: 3, ProviderTimeout: 5 * time.Second},
		Providers: map[string]config.ProviderCreds{
			esimaccess.Slug: {APIKey: "k", APISecret: secret, BaseURL: upstream.URL},
		},
	}

	providers := memory.NewProviderStore(
		provider.Config{ID: 1, Slug: esimaccess.Slug, Enabled: true, Priority: 1},
	)
	packages := memory.NewPackageStore().Map(1, "pkg-eu-5gb", "PKG-EU-5GB")
	registry := provider.NewRegistry(providers, packages)
	registry.Register(esimaccess.New(cfg))

	orders := memory.NewOrderStore()
	notifications := memory.NewNotificationStore()
	attempts := memory.NewAttemptStore()
	updater := reconcile.NewUpdater(orders, notify.Log{})
	engine := ordering.NewEngine(registry, orders, packages, attempts, updater,
		cfg.Ordering.MaxFailoverAttempts, cfg.Ordering.ProviderTimeout)
	reconciler := reconcile.NewReconciler(registry, orders, notifications, updater, notify.Log{})
	poller := poll.NewPoller(registry, orders, updater, poll.NoopLocker{}, time.Minute, -time.Second)

	ctx := context.Background()
	res, err := engine.CreateOrder(ctx, ordering.CreateRequest{PackageID: "pkg-eu-5gb", Quantity: 1, Source: "api"})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if res.FailoverAttempts != 1 {
		t.Errorf("failoverAttempts = %d, want 1", res.FailoverAttempts)
	}

	row, _ := orders.FindByID(ctx, res.Orders[0].ID)
	if row.Status != order.StatusProcessing {
		t.Fatalf("status after dispatch = %s, want processing", row.Status)
	}

	// The provider's fulfillment webhook arrives, HMAC-signed over the raw body.
	payload := []byte(fmt.Sprintf(`{
		"notifyType": "ORDER_STATUS",
		"content": {
			"orderNo": "B-INT-1",
			"transactionId": %q,
			"orderStatus": "ALLOCATED",
			"esimList": [{"iccid": "8944500000000000091", "smDpAddr": "smdp.example", "ac": "AC-91"}]
		}
	}`, res.RequestID))
	adapter, _ := registry.AdapterBySlug(esimaccess.Slug)
	sigRes := adapter.ValidateSignature(payload, "")
	if sigRes.Valid {
		t.Fatal("empty signature must not validate")
	}

	signature := signWith(secret, payload)
	if err := reconciler.Handle(ctx, esimaccess.Slug, "order_status", payload, signature); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	row, _ = orders.FindByID(ctx, res.Orders[0].ID)
	if row.Status != order.StatusCompleted {
		t.Fatalf("status after webhook = %s, want completed", row.Status)
	}
	if row.Fulfillment.ICCID != "8944500000000000091" {
		t.Errorf("iccid = %s", row.Fulfillment.ICCID)
	}
	if row.WebhookReceivedAt == nil {
		t.Error("webhookReceivedAt not stamped")
	}

	// Sweep after completion is a no-op: nothing left in processing.
	poller.Sweep(ctx)
	stuck, _ := orders.FindProcessingOlderThan(ctx, time.Now().Add(time.Hour), 100)
	if len(stuck) != 0 {
		t.Errorf("processing rows after completion = %d, want 0", len(stuck))
	}
}

func signWith(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
