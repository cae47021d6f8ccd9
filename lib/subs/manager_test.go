package subs

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexanderwatt/corecache/lib/expr"
	"github.com/alexanderwatt/corecache/lib/item"
	"github.com/alexanderwatt/corecache/lib/store"
)

// collector is a Sink that records deliveries.
type collector struct {
	mu    sync.Mutex
	items []*item.Item
}

func (c *collector) sink(_ uuid.UUID, it *item.Item) {
	c.mu.Lock()
	c.items = append(c.items, it)
	c.mu.Unlock()
}

func (c *collector) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.items))
	for i, it := range c.items {
		out[i] = it.Name
	}
	return out
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func tradeItem(name string) *item.Item {
	return &item.Item{Id: uuid.New(), Name: name, DataType: "Trade", Kind: item.KindObject}
}

func newTestManager(t *testing.T, clock func() time.Time) *managerImpl {
	t.Helper()
	m := NewManager(&Options{SweepInterval: time.Hour, Clock: clock}).(*managerImpl)
	t.Cleanup(m.Close)
	return m
}

func TestDeliveryMatchesFilter(t *testing.T) {
	m := newTestManager(t, nil)
	c := &collector{}

	require.NoError(t, m.Create(Subscription{
		Id:       uuid.New(),
		DataType: "Trade",
		Filter:   expr.NameStartsWith("ns.trade."),
		Expiry:   time.Now().Add(time.Minute),
	}, c.sink))

	m.OnItemChanged(tradeItem("ns.trade.T1"))
	m.OnItemChanged(tradeItem("ns.curve.AUD")) // name does not match
	other := tradeItem("ns.trade.T2")
	other.DataType = "Curve" // type scope does not match
	m.OnItemChanged(other)
	m.OnItemChanged(tradeItem("ns.trade.T3"))

	waitFor(t, func() bool { return len(c.names()) == 2 })
	assert.Equal(t, []string{"ns.trade.T1", "ns.trade.T3"}, c.names())
}

func TestFanoutIsIndependentPerSubscription(t *testing.T) {
	m := newTestManager(t, nil)

	// a subscriber that blocks until released
	release := make(chan struct{})
	var slowDelivered sync.WaitGroup
	slowDelivered.Add(2)
	slow := func(_ uuid.UUID, _ *item.Item) {
		<-release
		slowDelivered.Done()
	}
	fast := &collector{}

	require.NoError(t, m.Create(Subscription{Id: uuid.New(), Expiry: time.Now().Add(time.Minute)}, slow))
	require.NoError(t, m.Create(Subscription{Id: uuid.New(), Expiry: time.Now().Add(time.Minute)}, fast.sink))

	m.OnItemChanged(tradeItem("ns.trade.T1"))
	m.OnItemChanged(tradeItem("ns.trade.T2"))

	// the fast subscriber gets both while the slow one is stuck
	waitFor(t, func() bool { return len(fast.names()) == 2 })
	close(release)
	slowDelivered.Wait()
}

func TestCancelStopsDeltasImmediately(t *testing.T) {
	m := newTestManager(t, nil)
	c := &collector{}
	id := uuid.New()

	require.NoError(t, m.Create(Subscription{Id: id, Expiry: time.Now().Add(time.Minute)}, c.sink))
	m.OnItemChanged(tradeItem("ns.trade.T1"))
	waitFor(t, func() bool { return len(c.names()) == 1 })

	require.NoError(t, m.Cancel(id))
	assert.Equal(t, 0, m.Count())

	m.OnItemChanged(tradeItem("ns.trade.T2"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"ns.trade.T1"}, c.names())

	// cancelling again reports NotFound
	err := m.Cancel(id)
	assert.True(t, store.IsNotFound(err))
}

func TestLeaseExpiry(t *testing.T) {
	clock := struct {
		mu  sync.Mutex
		now time.Time
	}{now: time.Date(2021, 6, 1, 9, 0, 0, 0, time.UTC)}
	readClock := func() time.Time {
		clock.mu.Lock()
		defer clock.mu.Unlock()
		return clock.now
	}
	advance := func(d time.Duration) {
		clock.mu.Lock()
		clock.now = clock.now.Add(d)
		clock.mu.Unlock()
	}

	m := newTestManager(t, readClock)
	c := &collector{}
	id := uuid.New()

	require.NoError(t, m.Create(Subscription{Id: id, Expiry: readClock().Add(time.Minute)}, c.sink))

	// an extend before expiry keeps the subscription alive across a sweep
	require.NoError(t, m.Extend(id, readClock().Add(10*time.Minute)))
	advance(5 * time.Minute)
	m.sweep()
	assert.Equal(t, 1, m.Count())

	// after the lease lapses the next sweep removes it
	advance(10 * time.Minute)
	m.sweep()
	assert.Equal(t, 0, m.Count())

	m.OnItemChanged(tradeItem("ns.trade.T1"))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, c.names())

	// extend after expiry fails with NotFound
	err := m.Extend(id, readClock().Add(time.Minute))
	assert.True(t, store.IsNotFound(err))
}

func TestExtendLogicallyExpiredBeforeSweepFails(t *testing.T) {
	now := time.Date(2021, 6, 1, 9, 0, 0, 0, time.UTC)
	current := now
	m := newTestManager(t, func() time.Time { return current })
	id := uuid.New()

	require.NoError(t, m.Create(Subscription{Id: id, Expiry: now.Add(time.Minute)}, (&collector{}).sink))

	// lease lapsed but the sweep has not run yet
	current = now.Add(2 * time.Minute)
	err := m.Extend(id, current.Add(time.Minute))
	assert.True(t, store.IsNotFound(err))
}

func TestQueuedDeliveriesDrainAfterCancel(t *testing.T) {
	m := newTestManager(t, nil)

	release := make(chan struct{})
	c := &collector{}
	gated := func(id uuid.UUID, it *item.Item) {
		<-release
		c.sink(id, it)
	}
	id := uuid.New()
	require.NoError(t, m.Create(Subscription{Id: id, Expiry: time.Now().Add(time.Minute)}, gated))

	m.OnItemChanged(tradeItem("ns.trade.T1"))
	m.OnItemChanged(tradeItem("ns.trade.T2"))
	require.NoError(t, m.Cancel(id))

	// deltas enqueued before the cancel are still completed
	close(release)
	waitFor(t, func() bool { return len(c.names()) == 2 })
}

func TestCloseWaitsForInFlightDelivery(t *testing.T) {
	m := NewManager(&Options{SweepInterval: time.Hour}).(*managerImpl)

	entered := make(chan struct{})
	release := make(chan struct{})
	var delivered atomic.Bool
	slow := func(_ uuid.UUID, _ *item.Item) {
		close(entered)
		<-release
		delivered.Store(true)
	}
	require.NoError(t, m.Create(Subscription{Id: uuid.New(), Expiry: time.Now().Add(time.Minute)}, slow))

	m.OnItemChanged(tradeItem("ns.trade.T1"))
	<-entered

	closed := make(chan struct{})
	go func() {
		m.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a delivery was in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after the delivery completed")
	}
	assert.True(t, delivered.Load())
}
