package esimgo

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"esimflow/internal/config"
	"esimflow/internal/domain/notification"
	"esimflow/internal/provider"
	"esimflow/internal/provider/base"
)

const Slug = "esimgo"

// Adapter implements the eSIM Go API. Fulfillment is synchronous: the profile
// payload comes back on the create call, so orders through this provider
// normally never wait on a webhook.
type Adapter struct {
	creds      config.ProviderCreds
	httpClient *base.HTTPClient
	validator  *base.RequestValidator
}

// New creates an eSIM Go adapter instance.
func New(cfg config.Cfg) *Adapter {
	creds := cfg.Providers[Slug]
	client := base.NewHTTPClient(Slug, cfg.Ordering.ProviderTimeout)
	if creds.BaseURL != "" {
		client.SetBaseURL(creds.BaseURL)
	} else {
		client.SetBaseURL("https://api.esim-go.com")
	}

	return &Adapter{
		creds:      creds,
		httpClient: client,
		validator:  base.NewRequestValidator(1),
	}
}

func (a *Adapter) Slug() string        { return Slug }
func (a *Adapter) Name() string        { return "eSIM Go" }
func (a *Adapter) SupportsBatch() bool { return false }

type orderResponse struct {
	Status   string `json:"status"` // completed | failed
	OrderRef string `json:"orderReference"`
	Message  string `json:"message"`
	Assigned []struct {
		ICCID       string `json:"iccid"`
		Matching    string `json:"matchingId"` // activation code
		SMDPAddress string `json:"smdpAddress"`
		QRCodeURL   string `json:"qrCodeUrl"`
	} `json:"assignedSims"`
}

// CreateOrder places a single-profile order. Quantity is capped at 1; the
// engine falls back to sequential calls for batch purchases.
func (a *Adapter) CreateOrder(ctx context.Context, req provider.CreateOrderReq) (*provider.CreateOrderResp, error) {
	if err := a.validator.ValidateCreateOrder(req.PackageSKU, req.Quantity); err != nil {
		return &provider.CreateOrderResp{Success: false, ErrorMessage: err.Error()}, nil
	}

	payload := map[string]interface{}{
		"type":      "transaction",
		"assign":    true,
		"reference": req.CustomerRef,
		"order": []map[string]interface{}{
			{"type": "bundle", "item": req.PackageSKU, "quantity": 1},
		},
	}

	resp, err := a.httpClient.PostJSON(ctx, "/v2.4/orders", payload, a.headers())
	if err != nil {
		return nil, transportError(err)
	}
	if resp.StatusCode == 401 || resp.StatusCode == 403 {
		return nil, &provider.Error{Code: provider.ErrCodeAuthFailed, Message: "esimgo rejected API key"}
	}
	if resp.StatusCode >= 500 {
		return nil, &provider.Error{
			Code:      provider.ErrCodeRequestFailed,
			Message:   fmt.Sprintf("esimgo order API returned status %d", resp.StatusCode),
			Transient: true,
		}
	}

	var body orderResponse
	if err := resp.Decode(&body); err != nil {
		return nil, &provider.Error{Code: provider.ErrCodeBadResponse, Message: err.Error()}
	}
	if !resp.IsSuccess() || body.Status == "failed" {
		msg := body.Message
		if msg == "" {
			msg = fmt.Sprintf("order rejected with status %d", resp.StatusCode)
		}
		return &provider.CreateOrderResp{Success: false, ErrorMessage: msg}, nil
	}

	out := &provider.CreateOrderResp{
		Success:         true,
		ProviderOrderID: body.OrderRef,
	}
	for _, sim := range body.Assigned {
		out.Profiles = append(out.Profiles, provider.Profile{
			ICCID:          sim.ICCID,
			ActivationCode: sim.Matching,
			SMDPAddress:    sim.SMDPAddress,
			QRCodeURL:      sim.QRCodeURL,
		})
	}
	return out, nil
}

// GetOrderStatus queries an order by reference. Rarely needed given
// synchronous fulfillment, but the poller still covers the edge where the
// create response was lost after the remote side committed.
func (a *Adapter) GetOrderStatus(ctx context.Context, providerOrderID string) (*provider.OrderStatus, error) {
	resp, err := a.httpClient.Get(ctx, "/v2.4/orders/"+providerOrderID, a.headers())
	if err != nil {
		return nil, transportError(err)
	}
	if resp.StatusCode == 404 {
		return nil, &provider.Error{Code: provider.ErrCodeOrderNotFound, Message: "order not found: " + providerOrderID}
	}
	if !resp.IsSuccess() {
		return nil, &provider.Error{
			Code:      provider.ErrCodeRequestFailed,
			Message:   fmt.Sprintf("esimgo status API returned status %d", resp.StatusCode),
			Transient: resp.StatusCode >= 500,
		}
	}

	var body orderResponse
	if err := resp.Decode(&body); err != nil {
		return nil, &provider.Error{Code: provider.ErrCodeBadResponse, Message: err.Error()}
	}

	out := &provider.OrderStatus{Status: provider.StatusPending}
	switch body.Status {
	case "completed":
		out.Status = provider.StatusCompleted
		for _, sim := range body.Assigned {
			out.Profiles = append(out.Profiles, provider.Profile{
				ICCID:          sim.ICCID,
				ActivationCode: sim.Matching,
				SMDPAddress:    sim.SMDPAddress,
				QRCodeURL:      sim.QRCodeURL,
			})
		}
	case "failed":
		out.Status = provider.StatusFailed
	}
	return out, nil
}

// GetUsage returns remaining data for an issued profile.
func (a *Adapter) GetUsage(ctx context.Context, iccid string) (*provider.Usage, error) {
	resp, err := a.httpClient.Get(ctx, "/v2.4/esims/"+iccid+"/bundles", a.headers())
	if err != nil {
		return nil, transportError(err)
	}
	if !resp.IsSuccess() {
		return nil, &provider.Error{Code: provider.ErrCodeOrderNotFound, Message: "usage unavailable for iccid"}
	}

	var body struct {
		Bundles []struct {
			RemainingQuantity int64  `json:"remainingQuantity"`
			InitialQuantity   int64  `json:"initialQuantity"`
			EndTime           string `json:"endTime"`
		} `json:"bundles"`
	}
	if err := resp.Decode(&body); err != nil {
		return nil, &provider.Error{Code: provider.ErrCodeBadResponse, Message: err.Error()}
	}

	usage := &provider.Usage{ICCID: iccid}
	for _, b := range body.Bundles {
		usage.DataRemaining += b.RemainingQuantity
		usage.TotalData += b.InitialQuantity
		if b.EndTime > usage.ExpiryDate {
			usage.ExpiryDate = b.EndTime
		}
	}
	return usage, nil
}

// ValidateSignature checks the X-ESG-Signature header: HMAC-SHA256 of the raw
// body with the webhook secret. Pure function.
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

type webhookBody struct {
	Alert struct {
		Type string `json:"type"` // Utilisation | OrderStatus
		SIM  struct {
			ICCID string `json:"iccid"`
		} `json:"sim"`
		Bundle struct {
			RemainingQuantity int64  `json:"remainingQuantity"`
			InitialQuantity   int64  `json:"initialQuantity"`
			EndTime           string `json:"endTime"`
		} `json:"bundle"`
		Threshold int64 `json:"alertThreshold"`

		OrderRef string `json:"orderReference"`
		Status   string `json:"status"`
		Message  string `json:"message"`
	} `json:"alert"`
}

// ParsePayload normalizes an eSIM Go alert webhook. Unknown alert types map to
// Type=unknown instead of failing.
func (a *Adapter) ParsePayload(payload []byte) (*provider.Webhook, error) {
	var body webhookBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, err
	}

	switch body.Alert.Type {
	case "Utilisation":
		return &provider.Webhook{
			Type:  notification.TypeLowData,
			ICCID: body.Alert.SIM.ICCID,
			Data: provider.WebhookData{
				Threshold:     body.Alert.Threshold,
				DataRemaining: body.Alert.Bundle.RemainingQuantity,
				TotalData:     body.Alert.Bundle.InitialQuantity,
				ExpiryDate:    body.Alert.Bundle.EndTime,
			},
		}, nil

	case "OrderStatus":
		wh := &provider.Webhook{
			Type:            notification.TypeOrderStatus,
			ProviderOrderID: body.Alert.OrderRef,
			ICCID:           body.Alert.SIM.ICCID,
			ErrorMessage:    body.Alert.Message,
		}
		switch body.Alert.Status {
		case "completed":
			wh.Status = provider.StatusCompleted
			if body.Alert.SIM.ICCID != "" {
				wh.Profiles = []provider.Profile{{ICCID: body.Alert.SIM.ICCID}}
			}
		case "failed":
			wh.Status = provider.StatusFailed
		}
		return wh, nil
	}

	return &provider.Webhook{Type: notification.TypeUnknown}, nil
}

func (a *Adapter) headers() map[string]string {
	return map[string]string{"X-API-Key": a.creds.APIKey}
}

func transportError(err error) error {
	code := provider.ErrCodeRequestFailed
	if base.IsTimeout(err) {
		code = provider.ErrCodeTimeout
	}
	return &provider.Error{Code: code, Message: err.Error(), Transient: true}
}
