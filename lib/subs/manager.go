package subs

import (
	"fmt"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"

	"github.com/alexanderwatt/corecache/lib/expr"
	"github.com/alexanderwatt/corecache/lib/item"
	"github.com/alexanderwatt/corecache/lib/store"
)

// --------------------------------------------------------------------------
// Metrics
// --------------------------------------------------------------------------

var (
	deliveriesTotal = metrics.GetOrCreateCounter(`corecache_subs_deliveries_total`)
	dropsTotal      = metrics.GetOrCreateCounter(`corecache_subs_drops_total`)
	expiredTotal    = metrics.GetOrCreateCounter(`corecache_subs_expired_total`)
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Subscription describes one live, leased subscription. The caller supplies
// the id (ids are client-generated in the wire protocol).
type Subscription struct {
	Id        uuid.UUID
	SessionId uuid.UUID
	DataType  string           // "" = any data type
	Filter    expr.IExpression // nil = match all
	Expiry    time.Time        // lease end
}

// Sink receives matched deltas for one subscription. Sinks are called from
// the subscription's own pump goroutine, so a slow sink delays only its own
// subscription.
type Sink func(subscriptionId uuid.UUID, it *item.Item)

// ISubscriptionManager tracks leased subscriptions and fans item changes
// out to them.
type ISubscriptionManager interface {
	// Create registers a subscription and starts its delivery pump.
	// Registering an id that already exists fails.
	Create(sub Subscription, sink Sink) error
	// Extend renews the lease of an active subscription. Extending an
	// expired or cancelled subscription fails with RetCNotFound.
	Extend(subscriptionId uuid.UUID, expiry time.Time) error
	// Cancel removes a subscription immediately. Deltas already queued are
	// still drained to the sink; nothing further is enqueued.
	Cancel(subscriptionId uuid.UUID) error
	// OnItemChanged evaluates every active subscription against the
	// changed item and enqueues matches. Wired as the store watcher.
	OnItemChanged(it *item.Item)
	// Count returns the number of active subscriptions.
	Count() int
	// Close cancels every subscription and stops the expiry sweep.
	Close()
}

// --------------------------------------------------------------------------
// Options and Construction
// --------------------------------------------------------------------------

const (
	defaultSweepInterval = 5 * time.Second
	defaultQueueDepth    = 1024
)

// Options configures the subscription manager during initialization.
type Options struct {
	SweepInterval time.Duration    // expiry sweep period (0 = default 5s)
	QueueDepth    int              // per-subscription delivery queue depth (0 = default 1024)
	Clock         func() time.Time // nil = time.Now
}

type entry struct {
	sub   Subscription
	sink  Sink
	queue chan *item.Item
	done  chan struct{} // closed when the pump has drained

	qmu    sync.Mutex // serializes enqueue against queue close
	closed bool
}

type managerImpl struct {
	mu         sync.RWMutex
	entries    map[uuid.UUID]*entry
	queueDepth int
	clock      func() time.Time
	sweepStop  chan struct{}
	closeOnce  sync.Once
}

// NewManager creates a subscription manager and starts its expiry sweep.
func NewManager(opts *Options) ISubscriptionManager {
	interval := defaultSweepInterval
	depth := defaultQueueDepth
	clock := time.Now
	if opts != nil {
		if opts.SweepInterval > 0 {
			interval = opts.SweepInterval
		}
		if opts.QueueDepth > 0 {
			depth = opts.QueueDepth
		}
		if opts.Clock != nil {
			clock = opts.Clock
		}
	}
	m := &managerImpl{
		entries:    make(map[uuid.UUID]*entry),
		queueDepth: depth,
		clock:      clock,
		sweepStop:  make(chan struct{}),
	}
	go m.sweepLoop(interval)
	return m
}

// --------------------------------------------------------------------------
// Interface Methods
// --------------------------------------------------------------------------

func (m *managerImpl) Create(sub Subscription, sink Sink) error {
	if sink == nil {
		return store.NewError(store.RetCInternalError, "subscription sink is required")
	}
	e := &entry{
		sub:   sub,
		sink:  sink,
		queue: make(chan *item.Item, m.queueDepth),
		done:  make(chan struct{}),
	}

	m.mu.Lock()
	if _, exists := m.entries[sub.Id]; exists {
		m.mu.Unlock()
		return store.NewError(store.RetCInternalError,
			fmt.Sprintf("subscription %s already exists", sub.Id))
	}
	m.entries[sub.Id] = e
	m.mu.Unlock()

	go e.pump()
	return nil
}

func (m *managerImpl) Extend(subscriptionId uuid.UUID, expiry time.Time) error {
	now := m.clock()

	m.mu.Lock()
	e, ok := m.entries[subscriptionId]
	if ok && now.Before(e.sub.Expiry) {
		e.sub.Expiry = expiry
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	// unknown, cancelled, or logically expired but not yet swept
	return store.NewError(store.RetCNotFound,
		fmt.Sprintf("subscription %s not found or expired", subscriptionId))
}

func (m *managerImpl) Cancel(subscriptionId uuid.UUID) error {
	m.mu.Lock()
	e, ok := m.entries[subscriptionId]
	if ok {
		delete(m.entries, subscriptionId)
	}
	m.mu.Unlock()

	if !ok {
		return store.NewError(store.RetCNotFound,
			fmt.Sprintf("subscription %s not found", subscriptionId))
	}
	e.shutdown() // pump drains queued deltas, then exits
	return nil
}

func (m *managerImpl) OnItemChanged(it *item.Item) {
	// snapshot under the read lock; matching and enqueueing happen outside
	m.mu.RLock()
	matches := make([]*entry, 0, 4)
	for _, e := range m.entries {
		if e.sub.DataType != "" && e.sub.DataType != it.DataType {
			continue
		}
		if e.sub.Filter != nil && !expr.MatchItem(e.sub.Filter, it) {
			continue
		}
		matches = append(matches, e)
	}
	m.mu.RUnlock()

	for _, e := range matches {
		if e.tryEnqueue(it) {
			deliveriesTotal.Inc()
		} else {
			dropsTotal.Inc()
		}
	}
}

func (m *managerImpl) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *managerImpl) Close() {
	m.closeOnce.Do(func() {
		close(m.sweepStop)

		m.mu.Lock()
		removed := make([]*entry, 0, len(m.entries))
		for id, e := range m.entries {
			removed = append(removed, e)
			delete(m.entries, id)
		}
		m.mu.Unlock()

		for _, e := range removed {
			e.shutdown()
			<-e.done
		}
	})
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// pump is the consumer side of the delivery queue: one goroutine per
// subscription draining queued deltas to the sink. It exits when shutdown
// closes the queue, after which done is closed so Close can wait for the
// final delivery to finish.
func (e *entry) pump() {
	defer close(e.done)
	for it := range e.queue {
		e.sink(e.sub.Id, it)
	}
}

// tryEnqueue offers a delta to the subscription queue without ever
// blocking the fanout. It returns false if the queue is full or the
// subscription is shutting down.
func (e *entry) tryEnqueue(it *item.Item) bool {
	e.qmu.Lock()
	defer e.qmu.Unlock()
	if e.closed {
		return false
	}
	select {
	case e.queue <- it:
		return true
	default:
		return false
	}
}

// shutdown stops further enqueues and closes the queue so the pump drains
// and exits. Safe to call more than once.
func (e *entry) shutdown() {
	e.qmu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.qmu.Unlock()
}

// sweepLoop periodically removes subscriptions whose lease has lapsed.
// The sweep is advisory liveness: a subscription may still receive deltas
// between its logical expiry and the next sweep.
func (m *managerImpl) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.sweepStop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *managerImpl) sweep() {
	now := m.clock()

	m.mu.Lock()
	var lapsed []*entry
	for id, e := range m.entries {
		if !now.Before(e.sub.Expiry) {
			lapsed = append(lapsed, e)
			delete(m.entries, id)
		}
	}
	m.mu.Unlock()

	for _, e := range lapsed {
		expiredTotal.Inc()
		e.shutdown()
	}
}
