package notification

import "time"

// Type classifies an inbound asynchronous provider event.
type Type string

const (
	TypeOrderStatus Type = "order_status"
	TypeLowData     Type = "low_data"
	TypeUnknown     Type = "unknown"
)

// Record is the append-only log row for every inbound webhook. It is created
// before any side effect so failed processing is still auditable, and is never
// mutated except to set Processed/ErrorMessage after handling.
type Record struct {
	ID              int64
	ProviderID      int64
	Type            Type
	ICCID           string
	RequestID       string
	ProviderOrderID string
	Signature       string
	Payload         []byte
	Processed       bool
	ErrorMessage    string
	ReceivedAt      time.Time
	ProcessedAt     *time.Time
}
