package esimaccess

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"esimflow/internal/config"
	"esimflow/internal/provider"
	"esimflow/internal/provider/base"
)

const Slug = "esimaccess"

// Adapter implements the eSIM Access open API. Order fulfillment is
// asynchronous: creation returns an order number and the profile payload
// arrives later via webhook.
type Adapter struct {
	creds      config.ProviderCreds
	httpClient *base.HTTPClient
	validator  *base.RequestValidator
}

// New creates an eSIM Access adapter instance.
func New(cfg config.Cfg) *Adapter {
	creds := cfg.Providers[Slug]
	client := base.NewHTTPClient(Slug, cfg.Ordering.ProviderTimeout)
	if creds.BaseURL != "" {
		client.SetBaseURL(creds.BaseURL)
	} else {
		client.SetBaseURL("https://api.esimaccess.com")
	}

	return &Adapter{
		creds:      creds,
		httpClient: client,
		validator:  base.NewRequestValidator(50),
	}
}

func (a *Adapter) Slug() string        { return Slug }
func (a *Adapter) Name() string        { return "eSIM Access" }
func (a *Adapter) SupportsBatch() bool { return true }

type orderItem struct {
	PackageCode string `json:"packageCode"`
	Count       int    `json:"count"`
}

type createOrderPayload struct {
	TransactionID   string      `json:"transactionId"`
	PackageInfoList []orderItem `json:"packageInfoList"`
}

type createOrderResponse struct {
	Success   bool   `json:"success"`
	ErrorCode string `json:"errorCode"`
	ErrorMsg  string `json:"errorMsg"`
	Obj       *struct {
		OrderNo       string `json:"orderNo"`
		TransactionID string `json:"transactionId"`
	} `json:"obj"`
}

// CreateOrder places an order for one or more profiles in a single call.
// Business rejections (insufficient stock, unknown package) come back as
// Success=false; only transport/auth problems return an error.
func (a *Adapter) CreateOrder(ctx context.Context, req provider.CreateOrderReq) (*provider.CreateOrderResp, error) {
	if err := a.validator.ValidateCreateOrder(req.PackageSKU, req.Quantity); err != nil {
		return &provider.CreateOrderResp{Success: false, ErrorMessage: err.Error()}, nil
	}

	transactionID := req.CustomerRef
	payload := createOrderPayload{
		TransactionID: transactionID,
		PackageInfoList: []orderItem{
			{PackageCode: req.PackageSKU, Count: req.Quantity},
		},
	}

	resp, err := a.httpClient.PostJSON(ctx, "/api/v1/open/esim/order", payload, a.authHeaders(mustMarshal(payload)))
	if err != nil {
		return nil, transportError(err)
	}
	if resp.StatusCode == 401 || resp.StatusCode == 403 {
		return nil, &provider.Error{Code: provider.ErrCodeAuthFailed, Message: "esimaccess rejected credentials"}
	}
	if !resp.IsSuccess() {
		return nil, &provider.Error{
			Code:      provider.ErrCodeRequestFailed,
			Message:   fmt.Sprintf("esimaccess order API returned status %d", resp.StatusCode),
			Transient: resp.StatusCode >= 500,
		}
	}

	var body createOrderResponse
	if err := resp.Decode(&body); err != nil {
		return nil, &provider.Error{Code: provider.ErrCodeBadResponse, Message: err.Error()}
	}
	if !body.Success {
		return &provider.CreateOrderResp{
			Success:      false,
			ErrorMessage: fmt.Sprintf("%s: %s", body.ErrorCode, body.ErrorMsg),
		}, nil
	}

	out := &provider.CreateOrderResp{Success: true, RequestID: transactionID}
	if body.Obj != nil {
		out.ProviderOrderID = body.Obj.OrderNo
		if body.Obj.TransactionID != "" {
			out.RequestID = body.Obj.TransactionID
		}
	}
	return out, nil
}

type queryResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	Obj      *struct {
		OrderStatus string        `json:"orderStatus"` // CREATED | ALLOCATED | FAILED
		EsimList    []esimProfile `json:"esimList"`
	} `json:"obj"`
}

// GetOrderStatus queries the provider directly, used by the status poller for
// orders whose webhook never arrived.
func (a *Adapter) GetOrderStatus(ctx context.Context, providerOrderID string) (*provider.OrderStatus, error) {
	payload := map[string]string{"orderNo": providerOrderID}
	resp, err := a.httpClient.PostJSON(ctx, "/api/v1/open/esim/query", payload, a.authHeaders(mustMarshal(payload)))
	if err != nil {
		return nil, transportError(err)
	}
	if !resp.IsSuccess() {
		return nil, &provider.Error{
			Code:      provider.ErrCodeRequestFailed,
			Message:   fmt.Sprintf("esimaccess query API returned status %d", resp.StatusCode),
			Transient: resp.StatusCode >= 500,
		}
	}

	var body queryResponse
	if err := resp.Decode(&body); err != nil {
		return nil, &provider.Error{Code: provider.ErrCodeBadResponse, Message: err.Error()}
	}
	if !body.Success {
		return nil, &provider.Error{Code: provider.ErrCodeOrderNotFound, Message: body.ErrorMsg}
	}

	out := &provider.OrderStatus{Status: provider.StatusPending}
	if body.Obj != nil {
		switch body.Obj.OrderStatus {
		case "ALLOCATED":
			out.Status = provider.StatusCompleted
			out.Profiles = mapProfiles(body.Obj.EsimList)
		case "FAILED":
			out.Status = provider.StatusFailed
		}
	}
	return out, nil
}

type usageResponse struct {
	Success bool `json:"success"`
	Obj     *struct {
		ICCID      string `json:"iccid"`
		OrderUsage int64  `json:"orderUsage"`
		TotalData  int64  `json:"totalVolume"`
		ExpiredAt  string `json:"expiredTime"`
	} `json:"obj"`
}

// GetUsage returns a consumption snapshot for an issued profile.
func (a *Adapter) GetUsage(ctx context.Context, iccid string) (*provider.Usage, error) {
	payload := map[string]string{"iccid": iccid}
	resp, err := a.httpClient.PostJSON(ctx, "/api/v1/open/esim/usage", payload, a.authHeaders(mustMarshal(payload)))
	if err != nil {
		return nil, transportError(err)
	}
	var body usageResponse
	if err := resp.Decode(&body); err != nil {
		return nil, &provider.Error{Code: provider.ErrCodeBadResponse, Message: err.Error()}
	}
	if !body.Success || body.Obj == nil {
		return nil, &provider.Error{Code: provider.ErrCodeOrderNotFound, Message: "usage unavailable for iccid"}
	}
	remaining := body.Obj.TotalData - body.Obj.OrderUsage
	if remaining < 0 {
		remaining = 0
	}
	return &provider.Usage{
		ICCID:         body.Obj.ICCID,
		DataRemaining: remaining,
		TotalData:     body.Obj.TotalData,
		ExpiryDate:    body.Obj.ExpiredAt,
	}, nil
}

// authHeaders signs the request body the same way webhook signatures are
// verified: HMAC-SHA256 over raw bytes with the shared secret.
func (a *Adapter) authHeaders(body []byte) map[string]string {
	ts := fmt.Sprintf("%d", time.Now().Unix())
	return map[string]string{
		"RT-AccessCode": a.creds.APIKey,
		"RT-Timestamp":  ts,
		"RT-Signature":  signHex(a.creds.APISecret, body),
	}
}

func mustMarshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func transportError(err error) error {
	code := provider.ErrCodeRequestFailed
	if base.IsTimeout(err) {
		code = provider.ErrCodeTimeout
	}
	return &provider.Error{Code: code, Message: err.Error(), Transient: true}
}
