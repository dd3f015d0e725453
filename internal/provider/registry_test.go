package provider

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type stubAdapter struct {
	slug string
}

func (s stubAdapter) Slug() string        { return s.slug }
func (s stubAdapter) Name() string        { return s.slug }
func (s stubAdapter) SupportsBatch() bool { return false }

func (s stubAdapter) CreateOrder(context.Context, CreateOrderReq) (*CreateOrderResp, error) {
	return nil, &Error{Code: ErrCodeNotSupported, Message: "stub"}
}

func (s stubAdapter) GetOrderStatus(context.Context, string) (*OrderStatus, error) {
	return nil, &Error{Code: ErrCodeNotSupported, Message: "stub"}
}

func (s stubAdapter) GetUsage(context.Context, string) (*Usage, error) {
	return nil, &Error{Code: ErrCodeNotSupported, Message: "stub"}
}

func (s stubAdapter) ValidateSignature([]byte, string) SignatureResult {
	return SignatureResult{Valid: true}
}

func (s stubAdapter) ParsePayload([]byte) (*Webhook, error) { return &Webhook{}, nil }

// stubSource implements ConfigSource and CatalogSource over fixed slices, and
// counts ListEnabled calls to observe the cache.
type stubSource struct {
	mu        sync.Mutex
	configs   []Config
	catalog   map[string][]int64
	listCalls int
}

func (s *stubSource) ListEnabled(context.Context) ([]Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	var out []Config
	for _, c := range s.configs {
		if c.Enabled {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *stubSource) FindBySlug(_ context.Context, slug string) (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.configs {
		if c.Slug == slug {
			cp := c
			return &cp, nil
		}
	}
	return nil, errors.New("not found")
}

func (s *stubSource) FindByID(_ context.Context, id int64) (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.configs {
		if c.ID == id {
			cp := c
			return &cp, nil
		}
	}
	return nil, errors.New("not found")
}

func (s *stubSource) ProviderIDsForPackage(_ context.Context, packageID string) ([]int64, error) {
	return s.catalog[packageID], nil
}

func (s *stubSource) setEnabled(id int64, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.configs {
		if s.configs[i].ID == id {
			s.configs[i].Enabled = enabled
		}
	}
}

func newStubSource() *stubSource {
	return &stubSource{
		configs: []Config{
			{ID: 1, Slug: "alpha", Enabled: true, Priority: 2, PricingMargin: 0.10},
			{ID: 2, Slug: "beta", Enabled: true, Priority: 1, PricingMargin: 0.20},
			{ID: 3, Slug: "gamma", Enabled: true, Priority: 2, PricingMargin: 0.05},
			{ID: 4, Slug: "delta", Enabled: false, Priority: 0, PricingMargin: 0.01},
		},
		catalog: map[string][]int64{
			"pkg-all":   {1, 2, 3, 4},
			"pkg-alpha": {1},
		},
	}
}

func newTestRegistry(src *stubSource) *Registry {
	r := NewRegistry(src, src)
	for _, slug := range []string{"alpha", "beta", "gamma", "delta"} {
		r.Register(stubAdapter{slug: slug})
	}
	return r
}

func TestEligibleRankedOrdering(t *testing.T) {
	src := newStubSource()
	r := newTestRegistry(src)

	out, err := r.EligibleRanked(context.Background(), "pkg-all")
	if err != nil {
		t.Fatalf("EligibleRanked: %v", err)
	}

	// beta wins on priority; gamma beats alpha on margin at equal priority;
	// delta is disabled.
	want := []string{"beta", "gamma", "alpha"}
	if len(out) != len(want) {
		t.Fatalf("ranked = %d entries, want %d", len(out), len(want))
	}
	for i, slug := range want {
		if out[i].Config.Slug != slug {
			t.Errorf("ranked[%d] = %s, want %s", i, out[i].Config.Slug, slug)
		}
	}
}

func TestEligibleRankedFiltersByCatalog(t *testing.T) {
	src := newStubSource()
	r := newTestRegistry(src)

	out, err := r.EligibleRanked(context.Background(), "pkg-alpha")
	if err != nil {
		t.Fatalf("EligibleRanked: %v", err)
	}
	if len(out) != 1 || out[0].Config.Slug != "alpha" {
		t.Fatalf("ranked = %+v, want only alpha", out)
	}
}

func TestEligibleRankedSkipsUnregisteredAdapter(t *testing.T) {
	src := newStubSource()
	r := NewRegistry(src, src)
	r.Register(stubAdapter{slug: "alpha"})

	out, err := r.EligibleRanked(context.Background(), "pkg-all")
	if err != nil {
		t.Fatalf("EligibleRanked: %v", err)
	}
	if len(out) != 1 || out[0].Config.Slug != "alpha" {
		t.Fatalf("ranked = %+v, want only alpha (others have no adapter)", out)
	}
}

func TestRegistryCacheAndInvalidate(t *testing.T) {
	src := newStubSource()
	r := newTestRegistry(src)
	ctx := context.Background()

	if _, err := r.EligibleRanked(ctx, "pkg-all"); err != nil {
		t.Fatalf("EligibleRanked: %v", err)
	}
	if _, err := r.EligibleRanked(ctx, "pkg-all"); err != nil {
		t.Fatalf("EligibleRanked: %v", err)
	}
	if src.listCalls != 1 {
		t.Fatalf("ListEnabled calls = %d, want 1 (second ranking served from cache)", src.listCalls)
	}

	// Disabling a provider takes effect after Invalidate.
	src.setEnabled(2, false)
	out, _ := r.EligibleRanked(ctx, "pkg-all")
	if len(out) != 3 {
		t.Fatalf("stale cache should still rank 3 providers, got %d", len(out))
	}

	r.Invalidate()
	out, err := r.EligibleRanked(ctx, "pkg-all")
	if err != nil {
		t.Fatalf("EligibleRanked: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("ranked = %d entries after disabling beta, want 2", len(out))
	}
	for _, e := range out {
		if e.Config.Slug == "beta" {
			t.Error("disabled provider still ranked after invalidation")
		}
	}
}

func TestBySlugUnknown(t *testing.T) {
	src := newStubSource()
	r := newTestRegistry(src)

	_, err := r.BySlug(context.Background(), "omega")
	if !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("err = %v, want ErrUnknownProvider", err)
	}
}

func TestByIDResolvesAdapter(t *testing.T) {
	src := newStubSource()
	r := newTestRegistry(src)

	e, err := r.ByID(context.Background(), 3)
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if e.Config.Slug != "gamma" || e.Adapter.Slug() != "gamma" {
		t.Errorf("entry = config %s adapter %s, want gamma/gamma", e.Config.Slug, e.Adapter.Slug())
	}
}
