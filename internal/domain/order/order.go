package order

import (
	"time"
)

// Status is the lifecycle state of a single fulfillment row.
// pending -> processing -> {completed | failed}. Terminal states are immutable.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

type Type string

const (
	TypeSingle Type = "single"
	TypeBatch  Type = "batch"
)

// Fulfillment is the provisioning payload written when a row completes.
type Fulfillment struct {
	ICCID          string            `json:"iccid"`
	QRCode         string            `json:"qrCode,omitempty"`
	QRCodeURL      string            `json:"qrCodeUrl,omitempty"`
	SMDPAddress    string            `json:"smdpAddress,omitempty"`
	ActivationCode string            `json:"activationCode,omitempty"`
	Extras         map[string]string `json:"extras,omitempty"`
}

// Order is one fulfillment attempt-and-result record. A batch purchase of N
// profiles is N rows sharing one RequestID.
type Order struct {
	ID              int64
	RequestID       string
	ProviderOrderID string
	Type            Type
	Quantity        int // always 1 per row
	PackageID       string
	CustomerRef     string
	Source          string

	OriginalProviderID int64
	FinalProviderID    int64
	FailoverAttempts   int

	Status      Status
	Fulfillment Fulfillment

	WebhookReceivedAt *time.Time
	InstallationSent  bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether the row can no longer change state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition guards the state machine. A row never regresses from a
// terminal state; completion requires passing through pending/processing.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusPending:
		return to == StatusProcessing || to == StatusCompleted || to == StatusFailed
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	}
	return false
}

// HasPayload reports whether a fulfillment payload has been written.
func (o *Order) HasPayload() bool {
	return o.Fulfillment.ICCID != ""
}
