package provider

import (
	"context"
	"errors"
	"time"

	"esimflow/internal/domain/notification"
)

// Config is an administrator-managed fulfiller row. The ordering engine reads
// Enabled/Priority at selection time; PricingMargin only breaks priority ties.
type Config struct {
	ID            int64
	Slug          string
	Name          string
	Enabled       bool
	Priority      int // lower = tried first
	PricingMargin float64
	UpdatedAt     time.Time
}

// CreateOrderReq is the uniform order-creation request every adapter accepts.
// PackageSKU is the provider-native identifier already resolved from the
// unified package id by the catalog lookup.
type CreateOrderReq struct {
	PackageSKU  string
	Quantity    int
	CustomerRef string
}

// Profile is one provisioned eSIM returned by a provider.
type Profile struct {
	ICCID          string
	QRCode         string
	QRCodeURL      string
	SMDPAddress    string
	ActivationCode string
	Extras         map[string]string
}

// CreateOrderResp reports the outcome of an order-creation call. Ordinary
// business rejections (out of stock, invalid package) come back as
// Success=false with ErrorMessage set; only transport/auth failures are
// returned as errors from CreateOrder.
type CreateOrderResp struct {
	Success         bool
	ProviderOrderID string
	RequestID       string
	Profiles        []Profile // populated only when fulfillment is synchronous
	ErrorMessage    string
}

// SignatureResult is the outcome of webhook signature validation.
type SignatureResult struct {
	Valid  bool
	Reason string
}

// Webhook is the canonical normalized payload every adapter must produce from
// its provider's proprietary webhook body. Unparseable fields stay zero.
type Webhook struct {
	Type            notification.Type
	RequestID       string
	ProviderOrderID string
	ICCID           string
	Status          string // "completed" | "failed" for order_status events
	Profiles        []Profile
	Data            WebhookData
	ErrorMessage    string
}

// WebhookData carries side-channel fields (usage alerts, expiry).
type WebhookData struct {
	Threshold     int64
	DataRemaining int64
	TotalData     int64
	ExpiryDate    string
}

// OrderStatus is a polled provider-side view of an order, fed through the same
// update routine as webhook events.
type OrderStatus struct {
	Status   string // "pending" | "completed" | "failed"
	Profiles []Profile
}

// Usage is a point-in-time consumption snapshot for an issued profile.
type Usage struct {
	ICCID         string
	DataRemaining int64
	TotalData     int64
	ExpiryDate    string
}

// Adapter is the uniform capability contract implemented once per fulfiller.
// Implementations are registered at startup; there is no runtime module
// resolution by name.
type Adapter interface {
	Slug() string
	Name() string
	SupportsBatch() bool

	CreateOrder(ctx context.Context, req CreateOrderReq) (*CreateOrderResp, error)
	GetOrderStatus(ctx context.Context, providerOrderID string) (*OrderStatus, error)
	GetUsage(ctx context.Context, iccid string) (*Usage, error)

	// ValidateSignature is a pure function over the raw body and header.
	ValidateSignature(payload []byte, signature string) SignatureResult
	// ParsePayload must tolerate unknown fields and never fail on well-formed
	// JSON; unrecognized events normalize to Type=unknown.
	ParsePayload(payload []byte) (*Webhook, error)
}

// Order/status vocabulary shared with the reconciler and poller.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Error is a typed failure from a provider adapter. Transient distinguishes
// transport/timeout conditions from explicit provider rejections; both trigger
// failover, the flag only feeds the provider error channel.
type Error struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Transient bool   `json:"transient"`
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

// Error codes surfaced by adapters.
const (
	ErrCodeAuthFailed    = "auth_failed"
	ErrCodeRequestFailed = "request_failed"
	ErrCodeTimeout       = "provider_timeout"
	ErrCodeBadResponse   = "response_parse_failed"
	ErrCodeNotSupported  = "operation_not_supported"
	ErrCodeOrderNotFound = "order_not_found"
)

// Sentinel errors used outside the adapter boundary.
var (
	ErrUnknownProvider = errors.New("unknown provider")
)
