package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"demper-service/internal/marketplace"
	"demper-service/internal/models"
	"demper-service/internal/pricing"
	"demper-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Observer fetches the current competitor price for a listing
type Observer interface {
	Observe(ctx context.Context, sku string) (int64, error)
}

// PriceApplier pushes a new price to the seller's own listing
type PriceApplier interface {
	ApplyPrice(ctx context.Context, sku string, price int64) error
}

// Ledger appends confirmed price changes to the audit trail
type Ledger interface {
	RecordPriceChange(ctx context.Context, productID, oldPrice, newPrice int64, reason string) (*models.PriceHistoryEntry, error)
}

// PriceCache holds the last marketplace-confirmed price so an apply that
// could not be recorded is reconciled on the next cycle
type PriceCache interface {
	SetConfirmedPrice(ctx context.Context, productID, price int64, ttl time.Duration) error
	GetConfirmedPrice(ctx context.Context, productID int64) (int64, bool, error)
}

// PriceEventPublisher emits price-change events for downstream alerting
type PriceEventPublisher interface {
	PublishPriceChanged(ctx context.Context, event *models.PriceChangedEvent) error
}

// ErrCycleInFlight means a cycle for the product is already running; the
// tick is dropped, never queued
var ErrCycleInFlight = errors.New("pricing cycle already in flight for product")

// Cycle outcomes
const (
	OutcomeApplied       = "applied"
	OutcomeNoChange      = "no_change"
	OutcomeObserveFailed = "observe_failed"
	OutcomeApplyFailed   = "apply_failed"
	OutcomeRecordFailed  = "record_failed"
)

// CycleResult summarizes one pricing cycle for a product
type CycleResult struct {
	Outcome         string
	Reason          string
	OldPrice        int64
	NewPrice        int64
	CompetitorPrice *int64
}

// DemperService is the pricing decision engine. One cycle walks
// Observing -> Deciding -> Applying -> Recording; any failure short-circuits
// the cycle with no partial state change.
type DemperService struct {
	observer  Observer
	applier   PriceApplier
	ledger    Ledger
	cache     PriceCache
	publisher PriceEventPublisher
	logger    *zap.Logger

	observeTimeout time.Duration
	applyTimeout   time.Duration
	cacheTTL       time.Duration

	inflight sync.Map // productID -> struct{}
}

// NewDemperService creates the pricing decision engine
func NewDemperService(
	observer Observer,
	applier PriceApplier,
	ledger Ledger,
	cache PriceCache,
	publisher PriceEventPublisher,
	observeTimeout, applyTimeout time.Duration,
) *DemperService {
	return &DemperService{
		observer:       observer,
		applier:        applier,
		ledger:         ledger,
		cache:          cache,
		publisher:      publisher,
		logger:         util.Named("demper"),
		observeTimeout: observeTimeout,
		applyTimeout:   applyTimeout,
		cacheTTL:       24 * time.Hour,
	}
}

// RunCycle runs one pricing cycle for a product. At most one cycle per
// product runs at a time; overlapping calls get ErrCycleInFlight.
func (s *DemperService) RunCycle(ctx context.Context, product *models.TrackedProduct) (*CycleResult, error) {
	if _, loaded := s.inflight.LoadOrStore(product.ID, struct{}{}); loaded {
		util.CyclesSkippedTotal.WithLabelValues("in_flight").Inc()
		return nil, ErrCycleInFlight
	}
	defer s.inflight.Delete(product.ID)

	ctx, span := util.StartSpan(ctx, "DemperService.RunCycle")
	defer span.End()

	start := time.Now()
	defer func() {
		util.CycleDuration.Observe(time.Since(start).Seconds())
	}()

	currentPrice := s.confirmedPrice(ctx, product)
	result := &CycleResult{OldPrice: currentPrice}

	// Observing
	competitor, err := s.observe(ctx, product.SKU)
	if err != nil {
		kind := marketplace.KindTransient
		if oe, ok := marketplace.AsObservationError(err); ok {
			kind = oe.Kind
		}
		util.ObservationFailuresTotal.WithLabelValues(string(kind)).Inc()
		util.PriceCyclesTotal.WithLabelValues(OutcomeObserveFailed).Inc()
		s.logger.Warn("Observation failed, keeping last confirmed price",
			zap.Int64("product_id", product.ID),
			zap.String("sku", product.SKU),
			zap.String("kind", string(kind)),
			zap.Error(err))

		result.Outcome = OutcomeObserveFailed
		result.Reason = models.ReasonNoChange
		result.NewPrice = currentPrice
		return result, err
	}
	result.CompetitorPrice = competitor

	// Deciding
	decision := pricing.Decide(currentPrice, competitor, product.MinPrice(), product.MaxPrice, product.PriceStep)
	result.Reason = decision.Reason
	result.NewPrice = decision.NewPrice

	if !decision.Changed() {
		// No apply call and no ledger entry for a no-op cycle
		util.PriceCyclesTotal.WithLabelValues(OutcomeNoChange).Inc()
		result.Outcome = OutcomeNoChange
		return result, nil
	}

	// Applying
	applyCtx, cancel := context.WithTimeout(ctx, s.applyTimeout)
	defer cancel()

	if err := s.applier.ApplyPrice(applyCtx, product.SKU, decision.NewPrice); err != nil {
		util.ApplyFailuresTotal.Inc()
		util.PriceCyclesTotal.WithLabelValues(OutcomeApplyFailed).Inc()
		s.logger.Error("Failed to apply price to marketplace",
			zap.Int64("product_id", product.ID),
			zap.String("sku", product.SKU),
			zap.Int64("price", decision.NewPrice),
			zap.Error(err))

		result.Outcome = OutcomeApplyFailed
		return result, err
	}

	// The marketplace has the new price from here on. Cache it so a failed
	// recording does not leave the next cycle with a stale previous price.
	if err := s.cache.SetConfirmedPrice(ctx, product.ID, decision.NewPrice, s.cacheTTL); err != nil {
		s.logger.Warn("Failed to cache confirmed price",
			zap.Int64("product_id", product.ID),
			zap.Error(err))
	}

	// Recording
	entry, err := s.ledger.RecordPriceChange(ctx, product.ID, currentPrice, decision.NewPrice, decision.Reason)
	if err != nil {
		// Applied externally but not logged: reconciliation inconsistency.
		// Not retried here because the apply is not idempotent.
		util.ReconciliationWarningsTotal.Inc()
		util.PriceCyclesTotal.WithLabelValues(OutcomeRecordFailed).Inc()
		s.logger.Warn("Price applied but not recorded, ledger needs reconciliation",
			zap.Int64("product_id", product.ID),
			zap.Int64("old_price", currentPrice),
			zap.Int64("new_price", decision.NewPrice),
			zap.Error(err))

		product.CurrentPrice = decision.NewPrice
		result.Outcome = OutcomeRecordFailed
		s.publishPriceChanged(ctx, product, result)
		return result, fmt.Errorf("failed to record price change: %w", err)
	}

	product.CurrentPrice = decision.NewPrice
	util.PriceCyclesTotal.WithLabelValues(OutcomeApplied).Inc()
	util.PriceChangesTotal.WithLabelValues(decision.Reason).Inc()
	util.CumulativeLossTotal.Add(float64(entry.PriceDecrease))

	s.logger.Info("Демпер обновил цену",
		zap.Int64("product_id", product.ID),
		zap.String("sku", product.SKU),
		zap.Int64("old_price", currentPrice),
		zap.Int64("new_price", decision.NewPrice),
		zap.String("reason", decision.Reason),
		zap.Int64("cumulative_loss", entry.CumulativeLoss))

	result.Outcome = OutcomeApplied
	s.publishPriceChanged(ctx, product, result)
	return result, nil
}

// ManualOverride applies an explicit seller-chosen price, bypassing the
// policy but not the apply/record discipline
func (s *DemperService) ManualOverride(ctx context.Context, product *models.TrackedProduct, newPrice int64) (*CycleResult, error) {
	if _, loaded := s.inflight.LoadOrStore(product.ID, struct{}{}); loaded {
		return nil, ErrCycleInFlight
	}
	defer s.inflight.Delete(product.ID)

	ctx, span := util.StartSpan(ctx, "DemperService.ManualOverride")
	defer span.End()

	currentPrice := s.confirmedPrice(ctx, product)
	result := &CycleResult{
		OldPrice: currentPrice,
		NewPrice: newPrice,
		Reason:   models.ReasonManualOverride,
	}

	applyCtx, cancel := context.WithTimeout(ctx, s.applyTimeout)
	defer cancel()

	if err := s.applier.ApplyPrice(applyCtx, product.SKU, newPrice); err != nil {
		util.ApplyFailuresTotal.Inc()
		result.Outcome = OutcomeApplyFailed
		return result, err
	}

	if err := s.cache.SetConfirmedPrice(ctx, product.ID, newPrice, s.cacheTTL); err != nil {
		s.logger.Warn("Failed to cache confirmed price",
			zap.Int64("product_id", product.ID),
			zap.Error(err))
	}

	entry, err := s.ledger.RecordPriceChange(ctx, product.ID, currentPrice, newPrice, models.ReasonManualOverride)
	if err != nil {
		util.ReconciliationWarningsTotal.Inc()
		product.CurrentPrice = newPrice
		result.Outcome = OutcomeRecordFailed
		s.publishPriceChanged(ctx, product, result)
		return result, fmt.Errorf("failed to record price change: %w", err)
	}

	product.CurrentPrice = newPrice
	util.PriceChangesTotal.WithLabelValues(models.ReasonManualOverride).Inc()
	util.CumulativeLossTotal.Add(float64(entry.PriceDecrease))

	result.Outcome = OutcomeApplied
	s.publishPriceChanged(ctx, product, result)
	return result, nil
}

// observe fetches the competitor price. A delisted competitor (NotFound) is
// "no competitor", reported as a nil price rather than an error.
func (s *DemperService) observe(ctx context.Context, sku string) (*int64, error) {
	observeCtx, cancel := context.WithTimeout(ctx, s.observeTimeout)
	defer cancel()

	price, err := s.observer.Observe(observeCtx, sku)
	if err != nil {
		if marketplace.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &price, nil
}

// confirmedPrice returns the product's effective current price, preferring
// the marketplace-confirmed cache over the stored row when they disagree
func (s *DemperService) confirmedPrice(ctx context.Context, product *models.TrackedProduct) int64 {
	cached, found, err := s.cache.GetConfirmedPrice(ctx, product.ID)
	if err != nil {
		s.logger.Warn("Failed to read confirmed price cache",
			zap.Int64("product_id", product.ID),
			zap.Error(err))
		return product.CurrentPrice
	}
	if found && cached != product.CurrentPrice {
		s.logger.Warn("Stored price differs from confirmed price, reconciling",
			zap.Int64("product_id", product.ID),
			zap.Int64("stored", product.CurrentPrice),
			zap.Int64("confirmed", cached))
		return cached
	}
	return product.CurrentPrice
}

func (s *DemperService) publishPriceChanged(ctx context.Context, product *models.TrackedProduct, result *CycleResult) {
	var competitor int64
	if result.CompetitorPrice != nil {
		competitor = *result.CompetitorPrice
	}

	event := &models.PriceChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypePriceChanged,
			Timestamp: time.Now(),
		},
		ProductID:       product.ID,
		SKU:             product.SKU,
		OldPrice:        result.OldPrice,
		NewPrice:        result.NewPrice,
		CompetitorPrice: competitor,
		Reason:          result.Reason,
	}

	// Fire-and-forget: notification delivery never affects the cycle
	if err := s.publisher.PublishPriceChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish PriceChanged event",
			zap.Int64("product_id", product.ID),
			zap.Error(err))
	}
}
