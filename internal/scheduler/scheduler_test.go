package scheduler

import (
	"container/heap"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"demper-service/internal/marketplace"
	"demper-service/internal/models"
	"demper-service/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	calls   int32
	result  *service.CycleResult
	err     error
	block   chan struct{}
	started chan struct{}
}

func (r *stubRunner) RunCycle(ctx context.Context, product *models.TrackedProduct) (*service.CycleResult, error) {
	atomic.AddInt32(&r.calls, 1)
	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.block != nil {
		<-r.block
	}
	return r.result, r.err
}

type stubSource struct {
	products []models.TrackedProduct
	err      error
}

func (s *stubSource) GetActiveProducts(ctx context.Context) ([]models.TrackedProduct, error) {
	return s.products, s.err
}

type stubLocker struct {
	denied   bool
	acquires int32
	releases int32
}

func (l *stubLocker) AcquireCycleLock(ctx context.Context, productID int64, ttl time.Duration) (bool, error) {
	atomic.AddInt32(&l.acquires, 1)
	return !l.denied, nil
}

func (l *stubLocker) ReleaseCycleLock(ctx context.Context, productID int64) error {
	atomic.AddInt32(&l.releases, 1)
	return nil
}

func schedProduct(id int64) models.TrackedProduct {
	return models.TrackedProduct{
		ID:                   id,
		SKU:                  "SKU-SCHED",
		CurrentPrice:         10000,
		Cost:                 8000,
		MinMargin:            1000,
		PriceStep:            50,
		CheckIntervalSeconds: 300,
		IsActive:             true,
	}
}

func okResult() *service.CycleResult {
	return &service.CycleResult{Outcome: service.OutcomeNoChange, Reason: models.ReasonNoChange}
}

func TestDispatchDueDropsTickWhileInflight(t *testing.T) {
	runner := &stubRunner{result: okResult()}
	s := New(&stubSource{}, runner, &stubLocker{}, Config{Workers: 2})

	p := schedProduct(1)
	s.products[p.ID] = &p
	s.inflight[p.ID] = true
	heap.Push(&s.queue, &item{productID: p.ID, at: time.Now().Add(-time.Second)})

	s.dispatchDue(time.Now())

	// Nothing handed to the pool; the tick was dropped and rescheduled one
	// interval out
	select {
	case <-s.work:
		t.Fatal("in-flight product must not be dispatched")
	default:
	}

	require.Equal(t, 1, s.queue.Len())
	next := s.queue[0].at
	assert.True(t, next.After(time.Now().Add(4*time.Minute)),
		"dropped tick should be rescheduled a full interval later, got %v", next)
}

func TestDispatchDueHandsDueProductToPool(t *testing.T) {
	s := New(&stubSource{}, &stubRunner{result: okResult()}, &stubLocker{}, Config{Workers: 2})

	p := schedProduct(1)
	s.products[p.ID] = &p
	heap.Push(&s.queue, &item{productID: p.ID, at: time.Now().Add(-time.Second)})

	s.dispatchDue(time.Now())

	select {
	case got := <-s.work:
		assert.Equal(t, p.ID, got.ID)
	default:
		t.Fatal("due product was not dispatched")
	}
	assert.True(t, s.inflight[p.ID])
	assert.Zero(t, s.queue.Len())
}

func TestDispatchDueSkipsDeactivated(t *testing.T) {
	s := New(&stubSource{}, &stubRunner{result: okResult()}, &stubLocker{}, Config{Workers: 2})

	heap.Push(&s.queue, &item{productID: 42, at: time.Now().Add(-time.Second)})

	s.dispatchDue(time.Now())

	select {
	case <-s.work:
		t.Fatal("deactivated product must not be dispatched")
	default:
	}
	assert.Zero(t, s.queue.Len())
}

func TestBlockedBackoffDoublesAndCaps(t *testing.T) {
	s := New(&stubSource{}, &stubRunner{}, &stubLocker{}, Config{Workers: 1, BackoffCap: 8})

	p := schedProduct(1)
	s.products[p.ID] = &p

	base := p.CheckInterval()

	s.complete(&p, false, true)
	assert.Equal(t, 2*base, s.effectiveIntervalLocked(&p))

	s.complete(&p, false, true)
	assert.Equal(t, 4*base, s.effectiveIntervalLocked(&p))

	s.complete(&p, false, true)
	assert.Equal(t, 8*base, s.effectiveIntervalLocked(&p))

	// Capped
	s.complete(&p, false, true)
	assert.Equal(t, 8*base, s.effectiveIntervalLocked(&p))

	// A successful observation resets the backoff
	s.complete(&p, true, false)
	assert.Equal(t, base, s.effectiveIntervalLocked(&p))
}

func (s *Scheduler) effectiveIntervalLocked(p *models.TrackedProduct) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.effectiveInterval(p)
}

func TestRunOneExecutesCycleAndReschedules(t *testing.T) {
	runner := &stubRunner{result: okResult()}
	locker := &stubLocker{}
	s := New(&stubSource{}, runner, locker, Config{Workers: 1})

	p := schedProduct(1)
	s.products[p.ID] = &p
	s.inflight[p.ID] = true

	s.runOne(context.Background(), &p)

	assert.Equal(t, int32(1), runner.calls)
	assert.Equal(t, int32(1), locker.acquires)
	assert.Equal(t, int32(1), locker.releases)

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.False(t, s.inflight[p.ID])
	assert.Equal(t, 1, s.queue.Len())
}

func TestRunOneSkipsWhenLockHeldElsewhere(t *testing.T) {
	runner := &stubRunner{result: okResult()}
	locker := &stubLocker{denied: true}
	s := New(&stubSource{}, runner, locker, Config{Workers: 1})

	p := schedProduct(1)
	s.products[p.ID] = &p
	s.inflight[p.ID] = true

	s.runOne(context.Background(), &p)

	assert.Zero(t, runner.calls)
	assert.Zero(t, locker.releases)

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.False(t, s.inflight[p.ID])
	assert.Equal(t, 1, s.queue.Len())
}

func TestRunOneBlockedObservationBacksOff(t *testing.T) {
	runner := &stubRunner{
		result: &service.CycleResult{Outcome: service.OutcomeObserveFailed, Reason: models.ReasonNoChange},
		err:    &marketplace.ObservationError{Kind: marketplace.KindBlocked, SKU: "SKU-SCHED"},
	}
	s := New(&stubSource{}, runner, &stubLocker{}, Config{Workers: 1, BackoffCap: 8})

	p := schedProduct(1)
	s.products[p.ID] = &p
	s.inflight[p.ID] = true

	s.runOne(context.Background(), &p)

	assert.Equal(t, 2*p.CheckInterval(), s.effectiveIntervalLocked(&p))
}

func TestRefreshAddsUpdatesAndRemoves(t *testing.T) {
	source := &stubSource{products: []models.TrackedProduct{schedProduct(1), schedProduct(2)}}
	s := New(source, &stubRunner{result: okResult()}, &stubLocker{}, Config{Workers: 1})

	require.NoError(t, s.refresh(context.Background()))
	assert.Len(t, s.products, 2)
	assert.Equal(t, 2, s.queue.Len())

	// Config edit takes effect on next cycle; product 2 deactivated
	updated := schedProduct(1)
	updated.MinMargin = 1500
	source.products = []models.TrackedProduct{updated}

	require.NoError(t, s.refresh(context.Background()))
	assert.Len(t, s.products, 1)
	assert.Equal(t, int64(1500), s.products[1].MinMargin)

	// Already-tracked product is not scheduled a second time
	assert.Equal(t, 2, s.queue.Len())
}

func TestRunDispatchesAndDrainsOnShutdown(t *testing.T) {
	runner := &stubRunner{
		result:  okResult(),
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	source := &stubSource{products: []models.TrackedProduct{schedProduct(1)}}
	s := New(source, runner, &stubLocker{}, Config{
		Workers:      2,
		PollInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("cycle never started")
	}

	// Shutdown must wait for the in-flight cycle to finish
	cancel()
	select {
	case <-done:
		t.Fatal("Run returned while a cycle was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(runner.block)
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after draining")
	}

	assert.Equal(t, int32(1), runner.calls)
}
