package airhub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"esimflow/internal/config"
	"esimflow/internal/domain/notification"
	"esimflow/internal/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	baseURL := ""
	if handler != nil {
		srv := httptest.NewServer(handler)
		t.Cleanup(srv.Close)
		baseURL = srv.URL
	}

	return New(config.Cfg{
		Ordering: config.OrderingCfg{ProviderTimeout: 5 * time.Second},
		Providers: map[string]config.ProviderCreds{
			Slug: {APIKey: "client-id", APISecret: "client-secret", BaseURL: baseURL},
		},
	})
}

func TestAccessTokenIsCached(t *testing.T) {
	var tokenCalls int32

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "client-id", body["clientId"])
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"accessToken": "tok-1", "expiresIn": 3600})
	})
	mux.HandleFunc("/v1/orders", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "orderId": "AH-1"})
	})

	a := newTestAdapter(t, mux)

	for i := 0; i < 3; i++ {
		resp, err := a.CreateOrder(context.Background(), provider.CreateOrderReq{PackageSKU: "plan-eu-5", Quantity: 1, CustomerRef: "req-1"})
		require.NoError(t, err)
		assert.True(t, resp.Success)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls), "token must be fetched once and reused")
}

func TestAccessTokenRefreshesWhenNearExpiry(t *testing.T) {
	var tokenCalls int32

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)
		// Expires inside the 5 minute refresh margin.
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"accessToken": "tok", "expiresIn": 60})
	})
	mux.HandleFunc("/v1/orders", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "orderId": "AH-2"})
	})

	a := newTestAdapter(t, mux)

	for i := 0; i < 2; i++ {
		_, err := a.CreateOrder(context.Background(), provider.CreateOrderReq{PackageSKU: "plan-eu-5", Quantity: 1, CustomerRef: "req-2"})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&tokenCalls))
}

func TestCreateOrderAsync(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/token", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"accessToken": "tok", "expiresIn": 3600})
	})
	mux.HandleFunc("/v1/orders", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "orderId": "AH-77"})
	})

	a := newTestAdapter(t, mux)
	resp, err := a.CreateOrder(context.Background(), provider.CreateOrderReq{PackageSKU: "plan-eu-5", Quantity: 1, CustomerRef: "req-3"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "AH-77", resp.ProviderOrderID)
	assert.Empty(t, resp.Profiles, "profiles arrive later via webhook or poll")
}

func TestGetOrderStatusDelivered(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/token", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"accessToken": "tok", "expiresIn": 3600})
	})
	mux.HandleFunc("/v1/orders/AH-77", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "DELIVERED",
			"sim": map[string]string{
				"iccid":          "8944500000000000001",
				"smdpAddress":    "smdp.airhub.example",
				"activationCode": "AC-1",
			},
		})
	})

	a := newTestAdapter(t, mux)
	st, err := a.GetOrderStatus(context.Background(), "AH-77")
	require.NoError(t, err)
	assert.Equal(t, provider.StatusCompleted, st.Status)
	require.Len(t, st.Profiles, 1)
	assert.Equal(t, "8944500000000000001", st.Profiles[0].ICCID)
}

func TestParsePayload(t *testing.T) {
	a := newTestAdapter(t, nil)

	tests := []struct {
		name     string
		payload  string
		wantType notification.Type
		check    func(t *testing.T, wh *provider.Webhook)
	}{
		{
			name:     "delivered",
			payload:  `{"event": "order.delivered", "orderId": "AH-1", "sim": {"iccid": "8944500000000000001", "activationCode": "AC"}}`,
			wantType: notification.TypeOrderStatus,
			check: func(t *testing.T, wh *provider.Webhook) {
				assert.Equal(t, provider.StatusCompleted, wh.Status)
				require.Len(t, wh.Profiles, 1)
			},
		},
		{
			name:     "failed",
			payload:  `{"event": "order.failed", "orderId": "AH-2", "reason": "plan suspended"}`,
			wantType: notification.TypeOrderStatus,
			check: func(t *testing.T, wh *provider.Webhook) {
				assert.Equal(t, provider.StatusFailed, wh.Status)
				assert.Equal(t, "plan suspended", wh.ErrorMessage)
			},
		},
		{
			name:     "low data converts MB to bytes",
			payload:  `{"event": "sim.low_data", "thresholdMb": 100, "sim": {"iccid": "8944500000000000003", "remainingMb": 80, "totalMb": 1024}}`,
			wantType: notification.TypeLowData,
			check: func(t *testing.T, wh *provider.Webhook) {
				assert.Equal(t, int64(100*1024*1024), wh.Data.Threshold)
				assert.Equal(t, int64(80*1024*1024), wh.Data.DataRemaining)
			},
		},
		{
			name:     "unknown event",
			payload:  `{"event": "balance.low"}`,
			wantType: notification.TypeUnknown,
			check:    func(t *testing.T, wh *provider.Webhook) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wh, err := a.ParsePayload([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, wh.Type)
			tt.check(t, wh)
		})
	}
}
