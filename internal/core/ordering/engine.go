package ordering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"esimflow/internal/core/reconcile"
	"esimflow/internal/domain/order"
	"esimflow/internal/provider"
	"esimflow/internal/store/repositories"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNoEligibleProvider means no enabled provider carries the package.
	ErrNoEligibleProvider = errors.New("no eligible provider")
	// ErrExhaustedFailover means every eligible candidate failed; the order is
	// terminally failed and refund handling is the caller's problem.
	ErrExhaustedFailover = errors.New("all providers exhausted")
)

// CreateRequest is a purchase entering the engine.
type CreateRequest struct {
	PackageID   string
	Quantity    int
	CustomerRef string
	Source      string
}

// Result is the engine's answer to a purchase.
type Result struct {
	RequestID          string
	Orders             []*order.Order
	OriginalProviderID int64
	FinalProviderID    int64
	FailoverAttempts   int
}

// Engine selects a ranked provider subset and attempts fulfillment in order.
// Attempts within one purchase are sequential on purpose: speculative parallel
// orders could leave an abandoned profile allocated on a losing provider.
// Distinct purchases run with full parallelism.
type Engine struct {
	registry *provider.Registry
	orders   repositories.OrderRepository
	packages repositories.PackageRepository
	attempts repositories.AttemptRepository
	updater  *reconcile.Updater

	maxFailoverAttempts int
	providerTimeout     time.Duration
}

// NewEngine wires the ordering engine.
func NewEngine(
	registry *provider.Registry,
	orders repositories.OrderRepository,
	packages repositories.PackageRepository,
	attempts repositories.AttemptRepository,
	updater *reconcile.Updater,
	maxFailoverAttempts int,
	providerTimeout time.Duration,
) *Engine {
	if maxFailoverAttempts < 1 {
		maxFailoverAttempts = 1
	}
	if providerTimeout == 0 {
		providerTimeout = 30 * time.Second
	}
	return &Engine{
		registry:            registry,
		orders:              orders,
		packages:            packages,
		attempts:            attempts,
		updater:             updater,
		maxFailoverAttempts: maxFailoverAttempts,
		providerTimeout:     providerTimeout,
	}
}

// CreateOrder runs the failover loop for one purchase. A batch purchase of
// quantity N creates exactly N order rows sharing one request id; rows are
// never deleted on failure, they end terminally failed for the refund flow.
func (e *Engine) CreateOrder(ctx context.Context, req CreateRequest) (*Result, error) {
	if req.Quantity < 1 {
		req.Quantity = 1
	}

	candidates, err := e.registry.EligibleRanked(ctx, req.PackageID)
	if err != nil {
		return nil, fmt.Errorf("provider ranking: %w", err)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: package %s", ErrNoEligibleProvider, req.PackageID)
	}
	if len(candidates) > e.maxFailoverAttempts {
		candidates = candidates[:e.maxFailoverAttempts]
	}

	requestID := uuid.NewString()
	rows, err := e.createPendingRows(ctx, req, requestID)
	if err != nil {
		return nil, fmt.Errorf("persist order rows: %w", err)
	}

	originalID := candidates[0].Config.ID
	var lastErr string

	for i, cand := range candidates {
		seq := i + 1
		resp, unitIDs, attemptErr := e.attemptProvider(ctx, cand, req, requestID)

		success := attemptErr == nil && resp != nil && resp.Success
		errMsg := lastErrMessage(resp, attemptErr)
		e.recordAttempt(ctx, requestID, cand.Config.ID, seq, success, errMsg, attemptErr)

		if !success {
			lastErr = errMsg
			log.Warn().
				Str("provider", cand.Config.Slug).
				Str("request_id", requestID).
				Int("attempt", seq).
				Str("error", errMsg).
				Msg("provider attempt failed, failing over")
			continue
		}

		return e.finishSuccess(ctx, req, rows, cand, resp, unitIDs, requestID, originalID, seq)
	}

	// Exhaustion is terminal from the engine's perspective; administrative
	// retry is a separate explicit action. No webhook was involved, so the
	// received-at stamp stays empty.
	e.updater.Apply(ctx, rows, provider.StatusFailed, nil, nil)
	return nil, fmt.Errorf("%w: last error: %s", ErrExhaustedFailover, lastErr)
}

// attemptProvider resolves the provider-native SKU and invokes the adapter
// under an explicit timeout. Failed attempts are not re-invoked; retry is
// failover to the next candidate, never the same one, to avoid duplicate
// remote-side orders.
//
// The second return value carries the per-unit provider order ids of a
// sequential fallback batch; it is nil when a single call covered the whole
// purchase and every row shares resp.ProviderOrderID.
func (e *Engine) attemptProvider(ctx context.Context, cand provider.Entry, req CreateRequest, requestID string) (*provider.CreateOrderResp, []string, error) {
	sku, err := e.packages.ResolveSKU(ctx, cand.Config.ID, req.PackageID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve SKU for provider %s: %w", cand.Config.Slug, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.providerTimeout)
	defer cancel()

	if req.Quantity == 1 || cand.Adapter.SupportsBatch() {
		resp, err := cand.Adapter.CreateOrder(callCtx, provider.CreateOrderReq{
			PackageSKU:  sku,
			Quantity:    req.Quantity,
			CustomerRef: requestID,
		})
		return resp, nil, err
	}
	return e.sequentialBatch(ctx, cand, sku, req.Quantity, requestID)
}

// sequentialBatch falls back to N single-unit calls for providers without a
// native batch primitive, merging the per-unit profiles under one response.
// Each fulfilled unit keeps its own provider order id so later webhooks and
// polls for that id match the right row. A unit failure after k successes
// reports partial success: the k fulfilled units are kept and the surplus
// rows stay pending for the refund flow.
func (e *Engine) sequentialBatch(ctx context.Context, cand provider.Entry, sku string, quantity int, requestID string) (*provider.CreateOrderResp, []string, error) {
	merged := &provider.CreateOrderResp{Success: true}
	unitIDs := make([]string, 0, quantity)
	for i := 0; i < quantity; i++ {
		callCtx, cancel := context.WithTimeout(ctx, e.providerTimeout)
		resp, err := cand.Adapter.CreateOrder(callCtx, provider.CreateOrderReq{
			PackageSKU:  sku,
			Quantity:    1,
			CustomerRef: fmt.Sprintf("%s-%d", requestID, i+1),
		})
		cancel()

		if err != nil || !resp.Success {
			if i == 0 {
				return resp, nil, err
			}
			log.Warn().
				Str("provider", cand.Config.Slug).
				Str("request_id", requestID).
				Int("fulfilled", i).
				Int("requested", quantity).
				Msg("sequential batch stopped early, keeping partial fulfillment")
			merged.ErrorMessage = lastErrMessage(resp, err)
			return merged, unitIDs, nil
		}
		if merged.ProviderOrderID == "" {
			merged.ProviderOrderID = resp.ProviderOrderID
		}
		unitIDs = append(unitIDs, resp.ProviderOrderID)
		merged.Profiles = append(merged.Profiles, resp.Profiles...)
	}
	return merged, unitIDs, nil
}

func (e *Engine) finishSuccess(
	ctx context.Context,
	req CreateRequest,
	rows []*order.Order,
	cand provider.Entry,
	resp *provider.CreateOrderResp,
	unitIDs []string,
	requestID string,
	originalID int64,
	attempts int,
) (*Result, error) {
	for i, row := range rows {
		// A partial sequential batch dispatched fewer units than rows; the
		// surplus rows hold no provider order and stay pending for the
		// refund flow.
		if unitIDs != nil && i >= len(unitIDs) {
			break
		}
		d := repositories.Dispatch{
			ProviderOrderID:    resp.ProviderOrderID,
			OriginalProviderID: originalID,
			FinalProviderID:    cand.Config.ID,
			FailoverAttempts:   attempts,
		}
		if unitIDs != nil {
			d.ProviderOrderID = unitIDs[i]
		}
		if err := e.orders.MarkDispatched(ctx, row.ID, d); err != nil {
			return nil, fmt.Errorf("mark dispatched: %w", err)
		}
		row.Status = order.StatusProcessing
		row.ProviderOrderID = d.ProviderOrderID
		row.OriginalProviderID = originalID
		row.FinalProviderID = cand.Config.ID
		row.FailoverAttempts = attempts
	}

	// Synchronous fulfillment completes rows immediately through the same
	// update routine the reconciler and poller use.
	if len(resp.Profiles) > 0 {
		e.updater.Apply(ctx, rows, provider.StatusCompleted, resp.Profiles, nil)
	}

	log.Info().
		Str("provider", cand.Config.Slug).
		Str("request_id", requestID).
		Str("provider_order_id", resp.ProviderOrderID).
		Int("quantity", req.Quantity).
		Int("attempts", attempts).
		Int("sync_profiles", len(resp.Profiles)).
		Msg("order fulfilled")

	return &Result{
		RequestID:          requestID,
		Orders:             rows,
		OriginalProviderID: originalID,
		FinalProviderID:    cand.Config.ID,
		FailoverAttempts:   attempts,
	}, nil
}

func (e *Engine) createPendingRows(ctx context.Context, req CreateRequest, requestID string) ([]*order.Order, error) {
	orderType := order.TypeSingle
	if req.Quantity > 1 {
		orderType = order.TypeBatch
	}

	rows := make([]*order.Order, 0, req.Quantity)
	for i := 0; i < req.Quantity; i++ {
		rows = append(rows, &order.Order{
			RequestID:   requestID,
			Type:        orderType,
			Quantity:    1,
			PackageID:   req.PackageID,
			CustomerRef: req.CustomerRef,
			Source:      req.Source,
			Status:      order.StatusPending,
		})
	}
	if len(rows) == 1 {
		return rows, e.orders.Create(ctx, rows[0])
	}
	return rows, e.orders.CreateBatch(ctx, rows)
}

// recordAttempt writes the audit row and, on failure, the provider error
// channel entry used for alerting and future ranking.
func (e *Engine) recordAttempt(ctx context.Context, requestID string, providerID int64, seq int, success bool, errMsg string, attemptErr error) {
	if err := e.attempts.Record(ctx, repositories.Attempt{
		RequestID:    requestID,
		ProviderID:   providerID,
		Seq:          seq,
		Success:      success,
		ErrorMessage: errMsg,
	}); err != nil {
		log.Error().Err(err).Str("request_id", requestID).Msg("failed to record attempt")
	}
	if success {
		return
	}

	code := "business_rejection"
	transient := false
	var perr *provider.Error
	if errors.As(attemptErr, &perr) {
		code = perr.Code
		transient = perr.Transient
	}
	if err := e.attempts.RecordProviderError(ctx, providerID, code, errMsg, transient); err != nil {
		log.Error().Err(err).Int64("provider_id", providerID).Msg("failed to record provider error")
	}
}

func lastErrMessage(resp *provider.CreateOrderResp, err error) string {
	if err != nil {
		return err.Error()
	}
	if resp != nil && resp.ErrorMessage != "" {
		return resp.ErrorMessage
	}
	if resp != nil && !resp.Success {
		return "provider rejected order"
	}
	return ""
}
