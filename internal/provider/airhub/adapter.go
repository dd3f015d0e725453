package airhub

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"esimflow/internal/config"
	"esimflow/internal/domain/notification"
	"esimflow/internal/provider"
	"esimflow/internal/provider/base"
)

const Slug = "airhub"

// Adapter implements the AirHub partner API. Fulfillment is asynchronous and
// the provider's webhooks are unreliable in practice, so the status poller is
// the primary completion path for AirHub orders.
type Adapter struct {
	creds      config.ProviderCreds
	httpClient *base.HTTPClient
	validator  *base.RequestValidator

	mu    sync.Mutex
	token *accessToken
}

// accessToken is a cached partner API bearer token.
type accessToken struct {
	Token     string
	ExpiresAt time.Time
}

// New creates an AirHub adapter instance.
func New(cfg config.Cfg) *Adapter {
	creds := cfg.Providers[Slug]
	client := base.NewHTTPClient(Slug, cfg.Ordering.ProviderTimeout)
	if creds.BaseURL != "" {
		client.SetBaseURL(creds.BaseURL)
	} else {
		client.SetBaseURL("https://api.airhubapp.com")
	}

	return &Adapter{
		creds:      creds,
		httpClient: client,
		validator:  base.NewRequestValidator(1),
	}
}

func (a *Adapter) Slug() string        { return Slug }
func (a *Adapter) Name() string        { return "AirHub" }
func (a *Adapter) SupportsBatch() bool { return false }

// CreateOrder places a single-profile order. The response carries only the
// provider's order id; the profile arrives later by webhook or poll.
func (a *Adapter) CreateOrder(ctx context.Context, req provider.CreateOrderReq) (*provider.CreateOrderResp, error) {
	if err := a.validator.ValidateCreateOrder(req.PackageSKU, req.Quantity); err != nil {
		return &provider.CreateOrderResp{Success: false, ErrorMessage: err.Error()}, nil
	}

	token, err := a.getAccessToken(ctx)
	if err != nil {
		return nil, &provider.Error{
			Code:    provider.ErrCodeAuthFailed,
			Message: fmt.Sprintf("failed to get access token: %v", err),
		}
	}

	payload := map[string]interface{}{
		"planId":    req.PackageSKU,
		"quantity":  1,
		"reference": req.CustomerRef,
	}
	resp, err := a.httpClient.PostJSON(ctx, "/v1/orders", payload, bearerHeaders(token))
	if err != nil {
		return nil, transportError(err)
	}
	if resp.StatusCode >= 500 {
		return nil, &provider.Error{
			Code:      provider.ErrCodeRequestFailed,
			Message:   fmt.Sprintf("airhub order API returned status %d", resp.StatusCode),
			Transient: true,
		}
	}

	var body struct {
		Success bool   `json:"success"`
		OrderID string `json:"orderId"`
		Error   string `json:"error"`
	}
	if err := resp.Decode(&body); err != nil {
		return nil, &provider.Error{Code: provider.ErrCodeBadResponse, Message: err.Error()}
	}
	if !resp.IsSuccess() || !body.Success {
		msg := body.Error
		if msg == "" {
			msg = fmt.Sprintf("order rejected with status %d", resp.StatusCode)
		}
		return &provider.CreateOrderResp{Success: false, ErrorMessage: msg}, nil
	}

	return &provider.CreateOrderResp{Success: true, ProviderOrderID: body.OrderID}, nil
}

// GetOrderStatus queries an order directly. This is the main completion path
// for AirHub given its webhook reliability.
func (a *Adapter) GetOrderStatus(ctx context.Context, providerOrderID string) (*provider.OrderStatus, error) {
	token, err := a.getAccessToken(ctx)
	if err != nil {
		return nil, &provider.Error{
			Code:    provider.ErrCodeAuthFailed,
			Message: fmt.Sprintf("failed to get access token: %v", err),
		}
	}

	resp, err := a.httpClient.Get(ctx, "/v1/orders/"+providerOrderID, bearerHeaders(token))
	if err != nil {
		return nil, transportError(err)
	}
	if resp.StatusCode == 404 {
		return nil, &provider.Error{Code: provider.ErrCodeOrderNotFound, Message: "order not found: " + providerOrderID}
	}
	if !resp.IsSuccess() {
		return nil, &provider.Error{
			Code:      provider.ErrCodeRequestFailed,
			Message:   fmt.Sprintf("airhub status API returned status %d", resp.StatusCode),
			Transient: resp.StatusCode >= 500,
		}
	}

	var body struct {
		Status string `json:"status"` // PROCESSING | DELIVERED | FAILED
		SIM    *struct {
			ICCID          string `json:"iccid"`
			QRCode         string `json:"qrCode"`
			SMDPAddress    string `json:"smdpAddress"`
			ActivationCode string `json:"activationCode"`
		} `json:"sim"`
	}
	if err := resp.Decode(&body); err != nil {
		return nil, &provider.Error{Code: provider.ErrCodeBadResponse, Message: err.Error()}
	}

	out := &provider.OrderStatus{Status: provider.StatusPending}
	switch body.Status {
	case "DELIVERED":
		out.Status = provider.StatusCompleted
		if body.SIM != nil {
			out.Profiles = []provider.Profile{{
				ICCID:          body.SIM.ICCID,
				QRCode:         body.SIM.QRCode,
				SMDPAddress:    body.SIM.SMDPAddress,
				ActivationCode: body.SIM.ActivationCode,
			}}
		}
	case "FAILED":
		out.Status = provider.StatusFailed
	}
	return out, nil
}

// GetUsage returns remaining data for an issued profile.
func (a *Adapter) GetUsage(ctx context.Context, iccid string) (*provider.Usage, error) {
	token, err := a.getAccessToken(ctx)
	if err != nil {
		return nil, &provider.Error{Code: provider.ErrCodeAuthFailed, Message: err.Error()}
	}
	resp, err := a.httpClient.Get(ctx, "/v1/sims/"+iccid+"/usage", bearerHeaders(token))
	if err != nil {
		return nil, transportError(err)
	}
	if !resp.IsSuccess() {
		return nil, &provider.Error{Code: provider.ErrCodeOrderNotFound, Message: "usage unavailable for iccid"}
	}

	var body struct {
		RemainingMB int64  `json:"remainingMb"`
		TotalMB     int64  `json:"totalMb"`
		ExpiresAt   string `json:"expiresAt"`
	}
	if err := resp.Decode(&body); err != nil {
		return nil, &provider.Error{Code: provider.ErrCodeBadResponse, Message: err.Error()}
	}
	return &provider.Usage{
		ICCID:         iccid,
		DataRemaining: body.RemainingMB * 1024 * 1024,
		TotalData:     body.TotalMB * 1024 * 1024,
		ExpiryDate:    body.ExpiresAt,
	}, nil
}

// ValidateSignature checks the X-Airhub-Signature header: HMAC-SHA256 of the
// raw body with the partner secret. Pure function.
func (a *Adapter) ValidateSignature(payload []byte, signature string) provider.SignatureResult {
	if signature == "" {
		return provider.SignatureResult{Valid: false, Reason: "missing signature header"}
	}
	mac := hmac.New(sha256.New, []byte(a.creds.APISecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return provider.SignatureResult{Valid: false, Reason: "signature mismatch"}
	}
	return provider.SignatureResult{Valid: true}
}

// ParsePayload normalizes an AirHub webhook.
func (a *Adapter) ParsePayload(payload []byte) (*provider.Webhook, error) {
	var body struct {
		Event   string `json:"event"` // order.delivered | order.failed | sim.low_data
		OrderID string `json:"orderId"`
		Reason  string `json:"reason"`
		SIM     *struct {
			ICCID          string `json:"iccid"`
			QRCode         string `json:"qrCode"`
			SMDPAddress    string `json:"smdpAddress"`
			ActivationCode string `json:"activationCode"`
			RemainingMB    int64  `json:"remainingMb"`
			TotalMB        int64  `json:"totalMb"`
			ExpiresAt      string `json:"expiresAt"`
		} `json:"sim"`
		ThresholdMB int64 `json:"thresholdMb"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, err
	}

	switch body.Event {
	case "order.delivered":
		wh := &provider.Webhook{
			Type:            notification.TypeOrderStatus,
			ProviderOrderID: body.OrderID,
			Status:          provider.StatusCompleted,
		}
		if body.SIM != nil {
			wh.ICCID = body.SIM.ICCID
			wh.Profiles = []provider.Profile{{
				ICCID:          body.SIM.ICCID,
				QRCode:         body.SIM.QRCode,
				SMDPAddress:    body.SIM.SMDPAddress,
				ActivationCode: body.SIM.ActivationCode,
			}}
		}
		return wh, nil

	case "order.failed":
		return &provider.Webhook{
			Type:            notification.TypeOrderStatus,
			ProviderOrderID: body.OrderID,
			Status:          provider.StatusFailed,
			ErrorMessage:    body.Reason,
		}, nil

	case "sim.low_data":
		wh := &provider.Webhook{
			Type: notification.TypeLowData,
			Data: provider.WebhookData{Threshold: body.ThresholdMB * 1024 * 1024},
		}
		if body.SIM != nil {
			wh.ICCID = body.SIM.ICCID
			wh.Data.DataRemaining = body.SIM.RemainingMB * 1024 * 1024
			wh.Data.TotalData = body.SIM.TotalMB * 1024 * 1024
			wh.Data.ExpiryDate = body.SIM.ExpiresAt
		}
		return wh, nil
	}

	return &provider.Webhook{Type: notification.TypeUnknown}, nil
}

// getAccessToken retrieves or refreshes the cached partner bearer token.
func (a *Adapter) getAccessToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token != nil && a.token.ExpiresAt.After(time.Now().Add(5*time.Minute)) {
		return a.token.Token, nil
	}

	payload := map[string]string{
		"clientId":     a.creds.APIKey,
		"clientSecret": a.creds.APISecret,
	}
	resp, err := a.httpClient.PostJSON(ctx, "/v1/auth/token", payload, nil)
	if err != nil {
		return "", fmt.Errorf("auth request failed: %w", err)
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("auth failed with status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"accessToken"`
		ExpiresIn   int    `json:"expiresIn"`
	}
	if err := resp.Decode(&body); err != nil {
		return "", fmt.Errorf("failed to parse auth response: %w", err)
	}
	if body.ExpiresIn <= 0 {
		body.ExpiresIn = 3600
	}

	a.token = &accessToken{
		Token:     body.AccessToken,
		ExpiresAt: time.Now().Add(time.Duration(body.ExpiresIn) * time.Second),
	}
	return body.AccessToken, nil
}

func bearerHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func transportError(err error) error {
	code := provider.ErrCodeRequestFailed
	if base.IsTimeout(err) {
		code = provider.ErrCodeTimeout
	}
	return &provider.Error{Code: code, Message: err.Error(), Transient: true}
}
