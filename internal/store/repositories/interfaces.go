package repositories

import (
	"context"
	"errors"
	"time"

	"esimflow/internal/domain/notification"
	"esimflow/internal/domain/order"
	"esimflow/internal/provider"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrNoMapping is returned when a unified package has no SKU for a provider.
	ErrNoMapping = errors.New("no package mapping")
)

// Dispatch stamps the winning provider onto pending rows at engine dispatch,
// moving them pending -> processing.
type Dispatch struct {
	ProviderOrderID    string
	OriginalProviderID int64
	FinalProviderID    int64
	FailoverAttempts   int
}

// OrderRepository is the contract for order persistence. Complete and Fail are
// conditional writes: they transition a row out of pending/processing exactly
// once and report whether this call won the transition.
type OrderRepository interface {
	Create(ctx context.Context, o *order.Order) error
	CreateBatch(ctx context.Context, os []*order.Order) error
	FindByID(ctx context.Context, id int64) (*order.Order, error)
	FindByRequestID(ctx context.Context, requestID string) ([]*order.Order, error)
	FindByProviderOrderID(ctx context.Context, providerID int64, providerOrderID string) ([]*order.Order, error)
	FindProcessingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*order.Order, error)
	List(ctx context.Context, limit, offset int) ([]*order.Order, error)

	MarkDispatched(ctx context.Context, id int64, d Dispatch) error
	Complete(ctx context.Context, id int64, f order.Fulfillment, receivedAt *time.Time) (bool, error)
	Fail(ctx context.Context, id int64, receivedAt *time.Time) (bool, error)
	MarkInstallationSent(ctx context.Context, id int64) (bool, error)
}

// ProviderRepository is the contract for fulfiller configuration rows.
type ProviderRepository interface {
	ListEnabled(ctx context.Context) ([]provider.Config, error)
	FindByID(ctx context.Context, id int64) (*provider.Config, error)
	FindBySlug(ctx context.Context, slug string) (*provider.Config, error)
	Update(ctx context.Context, id int64, enabled *bool, priority *int, margin *float64) error
}

// PackageRepository resolves unified package ids to provider-native SKUs.
// The catalog itself is maintained elsewhere; this core reads it only.
type PackageRepository interface {
	ResolveSKU(ctx context.Context, providerID int64, packageID string) (string, error)
	ProviderIDsForPackage(ctx context.Context, packageID string) ([]int64, error)
}

// NotificationRepository is the append-only webhook log.
type NotificationRepository interface {
	Create(ctx context.Context, rec *notification.Record) error
	MarkProcessed(ctx context.Context, id int64, errMsg string) error
	List(ctx context.Context, limit, offset int) ([]*notification.Record, error)
}

// Attempt is one provider try inside a failover loop, recorded regardless of
// outcome.
type Attempt struct {
	RequestID    string
	ProviderID   int64
	Seq          int
	Success      bool
	ErrorMessage string
}

// AttemptRepository records the failover audit trail and feeds the provider
// error channel used for alerting and future ranking.
type AttemptRepository interface {
	Record(ctx context.Context, a Attempt) error
	ListByRequestID(ctx context.Context, requestID string) ([]Attempt, error)
	RecordProviderError(ctx context.Context, providerID int64, code, message string, transient bool) error
}

// APIKeyRepository backs bearer-key authentication for the order API.
type APIKeyRepository interface {
	FindClientByKeyHash(ctx context.Context, keyHash string) (int64, error)
}
