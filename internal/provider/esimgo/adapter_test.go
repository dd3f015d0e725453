package esimgo

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"esimflow/internal/config"
	"esimflow/internal/domain/notification"
	"esimflow/internal/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "webhook-secret"

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
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
			Slug: {APIKey: "ak", APISecret: testSecret, BaseURL: baseURL},
		},
	})
}

func sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestCreateOrderSynchronousFulfillment(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2.4/orders", r.URL.Path)
		assert.Equal(t, "ak", r.Header.Get("X-API-Key"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "transaction", body["type"])
		assert.Equal(t, true, body["assign"])

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":         "completed",
			"orderReference": "ESG-42",
			"assignedSims": []map[string]string{
				{"iccid": "8944500000000000001", "matchingId": "MATCH-1", "smdpAddress": "rsp.esim-go.example", "qrCodeUrl": "https://q.example/1"},
			},
		})
	})

	resp, err := a.CreateOrder(context.Background(), provider.CreateOrderReq{PackageSKU: "esim_5GB_30D_EU", Quantity: 1, CustomerRef: "req-1"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "ESG-42", resp.ProviderOrderID)
	require.Len(t, resp.Profiles, 1, "profiles come back on the create call")
	assert.Equal(t, "8944500000000000001", resp.Profiles[0].ICCID)
	assert.Equal(t, "MATCH-1", resp.Profiles[0].ActivationCode)
}

func TestCreateOrderRejectsBatchQuantity(t *testing.T) {
	a := newTestAdapter(t, nil)

	resp, err := a.CreateOrder(context.Background(), provider.CreateOrderReq{PackageSKU: "esim_5GB_30D_EU", Quantity: 2, CustomerRef: "req-2"})
	require.NoError(t, err)
	assert.False(t, resp.Success, "quantity above 1 must be rejected before any remote call")
	assert.NotEmpty(t, resp.ErrorMessage)
}

func TestGetOrderStatusNotFound(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := a.GetOrderStatus(context.Background(), "ESG-404")
	var perr *provider.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, provider.ErrCodeOrderNotFound, perr.Code)
	assert.False(t, perr.Transient)
}

func TestValidateSignature(t *testing.T) {
	a := newTestAdapter(t, nil)
	payload := []byte(`{"alert":{"type":"Utilisation"}}`)

	assert.True(t, a.ValidateSignature(payload, sign(payload)).Valid)
	assert.False(t, a.ValidateSignature(payload, "").Valid)
	assert.False(t, a.ValidateSignature(payload, sign([]byte("other"))).Valid)
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
			name: "utilisation alert",
			payload: `{"alert": {"type": "Utilisation", "alertThreshold": 80,
				"sim": {"iccid": "8944500000000000001"},
				"bundle": {"remainingQuantity": 209715200, "initialQuantity": 1073741824, "endTime": "2026-09-30T00:00:00Z"}}}`,
			wantType: notification.TypeLowData,
			check: func(t *testing.T, wh *provider.Webhook) {
				assert.Equal(t, "8944500000000000001", wh.ICCID)
				assert.Equal(t, int64(80), wh.Data.Threshold)
				assert.Equal(t, int64(209715200), wh.Data.DataRemaining)
			},
		},
		{
			name: "order completed",
			payload: `{"alert": {"type": "OrderStatus", "orderReference": "ESG-42", "status": "completed",
				"sim": {"iccid": "8944500000000000002"}}}`,
			wantType: notification.TypeOrderStatus,
			check: func(t *testing.T, wh *provider.Webhook) {
				assert.Equal(t, provider.StatusCompleted, wh.Status)
				assert.Equal(t, "ESG-42", wh.ProviderOrderID)
				require.Len(t, wh.Profiles, 1)
			},
		},
		{
			name:     "order failed",
			payload:  `{"alert": {"type": "OrderStatus", "orderReference": "ESG-43", "status": "failed", "message": "bundle unavailable"}}`,
			wantType: notification.TypeOrderStatus,
			check: func(t *testing.T, wh *provider.Webhook) {
				assert.Equal(t, provider.StatusFailed, wh.Status)
				assert.Equal(t, "bundle unavailable", wh.ErrorMessage)
			},
		},
		{
			name:     "unknown alert type",
			payload:  `{"alert": {"type": "Balance"}}`,
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
