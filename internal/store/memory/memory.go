// Package memory provides in-memory repository implementations with the same
// conditional-update semantics as the postgres store. Used by unit tests and
// local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"esimflow/internal/domain/notification"
	"esimflow/internal/domain/order"
	"esimflow/internal/provider"
	"esimflow/internal/store/repositories"
)

// OrderStore implements repositories.OrderRepository.
type OrderStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*order.Order
}

func NewOrderStore() *OrderStore {
	return &OrderStore{rows: make(map[int64]*order.Order)}
}

func (s *OrderStore) Create(_ context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	o.ID = s.nextID
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	cp := *o
	s.rows[o.ID] = &cp
	return nil
}

func (s *OrderStore) CreateBatch(ctx context.Context, os []*order.Order) error {
	for _, o := range os {
		if err := s.Create(ctx, o); err != nil {
			return err
		}
	}
	return nil
}

func (s *OrderStore) FindByID(_ context.Context, id int64) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (s *OrderStore) FindByRequestID(_ context.Context, requestID string) ([]*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter(func(o *order.Order) bool { return o.RequestID == requestID }), nil
}

func (s *OrderStore) FindByProviderOrderID(_ context.Context, providerID int64, providerOrderID string) ([]*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter(func(o *order.Order) bool {
		return o.FinalProviderID == providerID && o.ProviderOrderID == providerOrderID
	}), nil
}

func (s *OrderStore) FindProcessingOlderThan(_ context.Context, cutoff time.Time, limit int) ([]*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.filter(func(o *order.Order) bool {
		return o.Status == order.StatusProcessing && o.UpdatedAt.Before(cutoff)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *OrderStore) List(_ context.Context, limit, offset int) ([]*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.filter(func(*order.Order) bool { return true })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *OrderStore) MarkDispatched(_ context.Context, id int64, d repositories.Dispatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok || row.Status != order.StatusPending {
		return repositories.ErrNotFound
	}
	row.ProviderOrderID = d.ProviderOrderID
	row.OriginalProviderID = d.OriginalProviderID
	row.FinalProviderID = d.FinalProviderID
	row.FailoverAttempts = d.FailoverAttempts
	row.Status = order.StatusProcessing
	row.UpdatedAt = time.Now()
	return nil
}

// Complete is a true compare-and-swap: exactly one caller wins the
// transition out of pending/processing.
func (s *OrderStore) Complete(_ context.Context, id int64, f order.Fulfillment, receivedAt *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return false, repositories.ErrNotFound
	}
	if row.Status.Terminal() {
		return false, nil
	}
	row.Status = order.StatusCompleted
	row.Fulfillment = f
	row.WebhookReceivedAt = receivedAt
	row.UpdatedAt = time.Now()
	return true, nil
}

func (s *OrderStore) Fail(_ context.Context, id int64, receivedAt *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return false, repositories.ErrNotFound
	}
	if row.Status.Terminal() {
		return false, nil
	}
	row.Status = order.StatusFailed
	row.WebhookReceivedAt = receivedAt
	row.UpdatedAt = time.Now()
	return true, nil
}

func (s *OrderStore) MarkInstallationSent(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return false, repositories.ErrNotFound
	}
	if row.InstallationSent {
		return false, nil
	}
	row.InstallationSent = true
	return true, nil
}

func (s *OrderStore) filter(keep func(*order.Order) bool) []*order.Order {
	var out []*order.Order
	for id := int64(1); id <= s.nextID; id++ {
		row, ok := s.rows[id]
		if !ok || !keep(row) {
			continue
		}
		cp := *row
		out = append(out, &cp)
	}
	return out
}

// ProviderStore implements repositories.ProviderRepository and the registry's
// ConfigSource.
type ProviderStore struct {
	mu   sync.Mutex
	rows map[int64]provider.Config
}

func NewProviderStore(cfgs ...provider.Config) *ProviderStore {
	s := &ProviderStore{rows: make(map[int64]provider.Config)}
	for _, c := range cfgs {
		s.rows[c.ID] = c
	}
	return s
}

func (s *ProviderStore) ListEnabled(context.Context) ([]provider.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []provider.Config
	for _, c := range s.rows {
		if c.Enabled {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *ProviderStore) FindByID(_ context.Context, id int64) (*provider.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rows[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &c, nil
}

func (s *ProviderStore) FindBySlug(_ context.Context, slug string) (*provider.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.rows {
		if c.Slug == slug {
			cp := c
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (s *ProviderStore) Update(_ context.Context, id int64, enabled *bool, priority *int, margin *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rows[id]
	if !ok {
		return repositories.ErrNotFound
	}
	if enabled != nil {
		c.Enabled = *enabled
	}
	if priority != nil {
		c.Priority = *priority
	}
	if margin != nil {
		c.PricingMargin = *margin
	}
	s.rows[id] = c
	return nil
}

// PackageStore implements repositories.PackageRepository over a static map of
// providerID -> packageID -> SKU.
type PackageStore struct {
	skus map[int64]map[string]string
}

func NewPackageStore() *PackageStore {
	return &PackageStore{skus: make(map[int64]map[string]string)}
}

func (s *PackageStore) Map(providerID int64, packageID, sku string) *PackageStore {
	if s.skus[providerID] == nil {
		s.skus[providerID] = make(map[string]string)
	}
	s.skus[providerID][packageID] = sku
	return s
}

func (s *PackageStore) ResolveSKU(_ context.Context, providerID int64, packageID string) (string, error) {
	sku, ok := s.skus[providerID][packageID]
	if !ok {
		return "", fmt.Errorf("%w: provider %d package %s", repositories.ErrNoMapping, providerID, packageID)
	}
	return sku, nil
}

func (s *PackageStore) ProviderIDsForPackage(_ context.Context, packageID string) ([]int64, error) {
	var out []int64
	for providerID, m := range s.skus {
		if _, ok := m[packageID]; ok {
			out = append(out, providerID)
		}
	}
	return out, nil
}

// NotificationStore implements repositories.NotificationRepository.
type NotificationStore struct {
	mu     sync.Mutex
	nextID int64
	Rows   []*notification.Record
}

func NewNotificationStore() *NotificationStore { return &NotificationStore{} }

func (s *NotificationStore) Create(_ context.Context, rec *notification.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec.ID = s.nextID
	s.Rows = append(s.Rows, rec)
	return nil
}

func (s *NotificationStore) MarkProcessed(_ context.Context, id int64, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.Rows {
		if rec.ID == id {
			rec.Processed = true
			rec.ErrorMessage = errMsg
			now := time.Now()
			rec.ProcessedAt = &now
			return nil
		}
	}
	return repositories.ErrNotFound
}

func (s *NotificationStore) List(_ context.Context, limit, offset int) ([]*notification.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]*notification.Record, len(s.Rows))
	copy(all, s.Rows)
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// AttemptStore implements repositories.AttemptRepository.
type AttemptStore struct {
	mu       sync.Mutex
	Attempts []repositories.Attempt
	Errors   []ProviderError
}

// ProviderError is one provider error channel entry.
type ProviderError struct {
	ProviderID int64
	Code       string
	Message    string
	Transient  bool
}

func NewAttemptStore() *AttemptStore { return &AttemptStore{} }

func (s *AttemptStore) Record(_ context.Context, a repositories.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Attempts = append(s.Attempts, a)
	return nil
}

func (s *AttemptStore) ListByRequestID(_ context.Context, requestID string) ([]repositories.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []repositories.Attempt
	for _, a := range s.Attempts {
		if a.RequestID == requestID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *AttemptStore) RecordProviderError(_ context.Context, providerID int64, code, message string, transient bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Errors = append(s.Errors, ProviderError{ProviderID: providerID, Code: code, Message: message, Transient: transient})
	return nil
}
