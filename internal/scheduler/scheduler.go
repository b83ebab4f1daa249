package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"demper-service/internal/marketplace"
	"demper-service/internal/models"
	"demper-service/internal/service"
	"demper-service/internal/util"

	"go.uber.org/zap"
)

// CycleRunner runs one pricing cycle for a product
type CycleRunner interface {
	RunCycle(ctx context.Context, product *models.TrackedProduct) (*service.CycleResult, error)
}

// ProductSource loads the products to schedule
type ProductSource interface {
	GetActiveProducts(ctx context.Context) ([]models.TrackedProduct, error)
}

// CycleLocker guards per-product cycles across demper instances
type CycleLocker interface {
	AcquireCycleLock(ctx context.Context, productID int64, ttl time.Duration) (bool, error)
	ReleaseCycleLock(ctx context.Context, productID int64) error
}

// Config holds scheduler tuning knobs
type Config struct {
	// Workers is the fixed size of the cycle worker pool, independent of
	// product count
	Workers int
	// RefreshInterval is how often active products are reloaded, so config
	// edits take effect on the next cycle
	RefreshInterval time.Duration
	// BackoffCap limits the interval multiplier applied while the
	// marketplace is blocking observations
	BackoffCap int
	// LockTTL bounds how long a dead instance can hold a product lock
	LockTTL time.Duration
	// PollInterval is the due-check resolution
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = time.Minute
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 8
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 2 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	return c
}

type item struct {
	productID int64
	at        time.Time
	index     int
}

// scheduleHeap is a min-heap ordered by next-run time
type scheduleHeap []*item

func (h scheduleHeap) Len() int           { return len(h) }
func (h scheduleHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h scheduleHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }

func (h *scheduleHeap) Push(x interface{}) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *scheduleHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Scheduler drives periodic re-evaluation of all tracked products with
// bounded concurrency. One slow or stuck product never delays the others;
// a product whose previous cycle is still running gets its tick dropped,
// not queued.
type Scheduler struct {
	source ProductSource
	runner CycleRunner
	locks  CycleLocker
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	queue    scheduleHeap
	products map[int64]*models.TrackedProduct
	backoff  map[int64]int
	inflight map[int64]bool

	work chan *models.TrackedProduct
	wg   sync.WaitGroup
}

// New creates a scheduler
func New(source ProductSource, runner CycleRunner, locks CycleLocker, cfg Config) *Scheduler {
	cfg = cfg.withDefaults()
	return &Scheduler{
		source:   source,
		runner:   runner,
		locks:    locks,
		cfg:      cfg,
		logger:   util.Named("scheduler"),
		products: make(map[int64]*models.TrackedProduct),
		backoff:  make(map[int64]int),
		inflight: make(map[int64]bool),
		work:     make(chan *models.TrackedProduct, cfg.Workers),
	}
}

// Run blocks until ctx is cancelled, then waits for in-flight cycles to
// finish their current step before returning
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.refresh(ctx); err != nil {
		s.logger.Error("Initial product load failed", zap.Error(err))
	}

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}

	poll := time.NewTicker(s.cfg.PollInterval)
	defer poll.Stop()
	reload := time.NewTicker(s.cfg.RefreshInterval)
	defer reload.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopping, draining in-flight cycles")
			s.wg.Wait()
			return ctx.Err()
		case <-reload.C:
			if err := s.refresh(ctx); err != nil {
				s.logger.Error("Product reload failed", zap.Error(err))
			}
		case now := <-poll.C:
			s.dispatchDue(now)
		}
	}
}

// refresh reloads active products. New products are scheduled immediately,
// config edits replace the in-memory copy for the next cycle, deactivated
// products are dropped from the queue lazily.
func (s *Scheduler) refresh(ctx context.Context) error {
	products, err := s.source.GetActiveProducts(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[int64]bool, len(products))
	now := time.Now()
	for i := range products {
		p := products[i]
		seen[p.ID] = true

		if _, ok := s.products[p.ID]; ok {
			// The engine mutates the in-memory copy while a cycle runs;
			// swap it only between cycles, config lands next refresh
			if !s.inflight[p.ID] {
				s.products[p.ID] = &p
			}
			continue
		}

		s.products[p.ID] = &p
		heap.Push(&s.queue, &item{productID: p.ID, at: now})
		s.logger.Info("Tracking product",
			zap.Int64("product_id", p.ID),
			zap.String("sku", p.SKU),
			zap.Int("interval_seconds", p.CheckIntervalSeconds))
	}

	for id := range s.products {
		if !seen[id] && !s.inflight[id] {
			delete(s.products, id)
			delete(s.backoff, id)
			s.logger.Info("Stopped tracking product", zap.Int64("product_id", id))
		}
	}

	util.TrackedProductsActive.Set(float64(len(s.products)))
	return nil
}

// dispatchDue hands due products to the worker pool
func (s *Scheduler) dispatchDue(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.queue.Len() > 0 && !s.queue[0].at.After(now) {
		it := heap.Pop(&s.queue).(*item)

		product, ok := s.products[it.productID]
		if !ok {
			continue // deactivated since it was queued
		}

		if s.inflight[it.productID] {
			// Previous cycle still running: drop this tick and try again
			// one interval later
			util.CyclesSkippedTotal.WithLabelValues("in_flight").Inc()
			heap.Push(&s.queue, &item{productID: it.productID, at: now.Add(s.effectiveInterval(product))})
			continue
		}

		select {
		case s.work <- product:
			s.inflight[it.productID] = true
		default:
			// Worker pool saturated; retry shortly without blocking the loop
			util.CyclesSkippedTotal.WithLabelValues("pool_full").Inc()
			heap.Push(&s.queue, &item{productID: it.productID, at: now.Add(s.cfg.PollInterval)})
		}
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case product := <-s.work:
			s.runOne(ctx, product)
		}
	}
}

// runOne executes a single cycle for a product and reschedules it
func (s *Scheduler) runOne(ctx context.Context, product *models.TrackedProduct) {
	observed := false

	acquired, err := s.locks.AcquireCycleLock(ctx, product.ID, s.cfg.LockTTL)
	if err != nil {
		s.logger.Error("Cycle lock error",
			zap.Int64("product_id", product.ID),
			zap.Error(err))
	}
	if err == nil && !acquired {
		util.CyclesSkippedTotal.WithLabelValues("locked").Inc()
		s.complete(product, false, false)
		return
	}

	// The cycle runs on a detached context so shutdown never aborts it
	// mid-apply; the engine bounds each stage with its own deadline.
	result, runErr := s.runner.RunCycle(context.Background(), product)
	observed = result != nil && result.Outcome != service.OutcomeObserveFailed

	if acquired {
		if err := s.locks.ReleaseCycleLock(context.Background(), product.ID); err != nil {
			s.logger.Warn("Failed to release cycle lock",
				zap.Int64("product_id", product.ID),
				zap.Error(err))
		}
	}

	s.complete(product, observed, runErr != nil && marketplace.IsBlocked(runErr))
}

// complete reschedules a product after a cycle: next run is one effective
// interval after completion, never aligned to the wall clock
func (s *Scheduler) complete(product *models.TrackedProduct, observed, blocked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if blocked {
		mult := s.backoff[product.ID]
		if mult < 1 {
			mult = 1
		}
		mult *= 2
		if mult > s.cfg.BackoffCap {
			mult = s.cfg.BackoffCap
		}
		s.backoff[product.ID] = mult
		s.logger.Warn("Marketplace blocking requests, backing off",
			zap.Int64("product_id", product.ID),
			zap.Int("interval_multiplier", mult))
	} else if observed {
		delete(s.backoff, product.ID)
	}

	delete(s.inflight, product.ID)

	if _, ok := s.products[product.ID]; !ok {
		return // deactivated while running
	}

	heap.Push(&s.queue, &item{productID: product.ID, at: time.Now().Add(s.effectiveInterval(product))})
}

// effectiveInterval is the configured interval times the Blocked backoff
// multiplier. Callers must hold s.mu.
func (s *Scheduler) effectiveInterval(product *models.TrackedProduct) time.Duration {
	interval := time.Duration(models.ClampCheckInterval(product.CheckIntervalSeconds)) * time.Second
	if mult := s.backoff[product.ID]; mult > 1 {
		interval *= time.Duration(mult)
	}
	return interval
}
