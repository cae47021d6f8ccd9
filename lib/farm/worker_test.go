package farm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexanderwatt/corecache/lib/store"
	"github.com/alexanderwatt/corecache/lib/store/mstore"
)

// newTestWorker wires a worker to an in-memory store as the store watcher
// and starts it with test-friendly dispatch timings.
func newTestWorker(t *testing.T, flow IWorkflow, opts Options) (store.IItemStore, *Worker) {
	t.Helper()
	if opts.ThrottlePeriod == 0 {
		opts.ThrottlePeriod = time.Millisecond
	}
	if opts.FallbackInterval == 0 {
		opts.FallbackInterval = 10 * time.Millisecond
	}
	s := mstore.NewMemoryStore(nil)
	w := NewWorker(s, flow, opts)
	s.SetWatcher(w.OnItemChanged)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	return s, w
}

// waitForStatus polls the store until the request's result reaches want.
func waitForStatus(t *testing.T, s store.IItemStore, id uuid.UUID, want RequestStatus) *Result {
	t.Helper()
	var res *Result
	require.Eventually(t, func() bool {
		got, err := LoadResult(s, id)
		if err != nil {
			return false
		}
		res = got
		return got.Status == want
	}, 2*time.Second, time.Millisecond, "result for %s never reached %s", id, want)
	return res
}

func valuationWorkload(t *testing.T, portfolioId string, trades ...TradePosition) json.RawMessage {
	t.Helper()
	body, err := json.Marshal(&ValuationRequest{PortfolioId: portfolioId, Currency: "EUR", Trades: trades})
	require.NoError(t, err)
	return body
}

func TestWorkerCompletesValuationRequest(t *testing.T) {
	s, _ := newTestWorker(t, ValuationWorkflow{}, Options{})

	id, usn, err := SubmitRequest(s, Request{
		Requester: "UnitTest",
		Workload: valuationWorkload(t, "Book.A",
			TradePosition{TradeId: "T1", Notional: 1_000_000, Rate: 0.05},
			TradePosition{TradeId: "T2", Notional: 500_000, Rate: 0.04},
		),
	})
	require.NoError(t, err)
	assert.NotZero(t, usn)

	res := waitForStatus(t, s, id, StatusCompleted)
	require.NotNil(t, res.Outcome)

	var val ValuationResult
	require.NoError(t, json.Unmarshal(res.Outcome, &val))
	assert.Equal(t, "Book.A", val.PortfolioId)
	assert.Equal(t, 2, val.TradeCount)
	assert.InDelta(t, 70_000, val.Value, 1e-9)
}

func TestWorkerConvertsWorkflowErrorToFaultedResult(t *testing.T) {
	boom := WorkflowFunc(func(ctx context.Context, req *Request) (json.RawMessage, error) {
		return nil, errors.New("curve bootstrap failed")
	})
	s, _ := newTestWorker(t, boom, Options{})

	id, _, err := SubmitRequest(s, Request{})
	require.NoError(t, err)

	res := waitForStatus(t, s, id, StatusFaulted)
	require.NotNil(t, res.Fault)
	assert.Contains(t, res.Fault.Message, "curve bootstrap failed")
}

func TestWorkerConvertsWorkflowPanicToFaultedResult(t *testing.T) {
	boom := WorkflowFunc(func(ctx context.Context, req *Request) (json.RawMessage, error) {
		panic("index out of range")
	})
	s, _ := newTestWorker(t, boom, Options{})

	id, _, err := SubmitRequest(s, Request{})
	require.NoError(t, err)

	res := waitForStatus(t, s, id, StatusFaulted)
	require.NotNil(t, res.Fault)
	assert.Contains(t, res.Fault.Message, "workflow panic")

	// the loop survives and processes the next request
	next, _, err := SubmitRequest(s, Request{})
	require.NoError(t, err)
	waitForStatus(t, s, next, StatusFaulted)
}

func TestWorkerIgnoresUnownedRequests(t *testing.T) {
	id := uuid.New()
	owner := Owner(id, 2)

	// run the member that does NOT own the request
	flow := WorkflowFunc(func(ctx context.Context, req *Request) (json.RawMessage, error) {
		return nil, nil
	})
	s, w := newTestWorker(t, flow, Options{MemberIndex: 1 - owner, FarmSize: 2})

	_, _, err := SubmitRequest(s, Request{RequestId: id})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, w.Outstanding())
	_, err = LoadResult(s, id)
	assert.True(t, store.IsNotFound(err))
}

func TestWorkerResyncsRequestsSubmittedBeforeStart(t *testing.T) {
	s := mstore.NewMemoryStore(nil)
	id, _, err := SubmitRequest(s, Request{})
	require.NoError(t, err)

	w := NewWorker(s, ValuationWorkflow{}, Options{
		ThrottlePeriod:   time.Millisecond,
		FallbackInterval: 10 * time.Millisecond,
	})
	s.SetWatcher(w.OnItemChanged)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)

	// workload is empty so the valuation faults, but the request is found
	waitForStatus(t, s, id, StatusFaulted)
}

func TestWorkerRunsSingleActiveWorkflow(t *testing.T) {
	var active, maxActive, runs atomic.Int32
	flow := WorkflowFunc(func(ctx context.Context, req *Request) (json.RawMessage, error) {
		cur := active.Add(1)
		if cur > maxActive.Load() {
			maxActive.Store(cur)
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		runs.Add(1)
		return nil, nil
	})
	s, _ := newTestWorker(t, flow, Options{})

	const n = 8
	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		id, _, err := SubmitRequest(s, Request{})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for _, id := range ids {
		waitForStatus(t, s, id, StatusCompleted)
	}

	assert.Equal(t, int32(n), runs.Load())
	assert.Equal(t, int32(1), maxActive.Load(), "workflow executions must not overlap")
}

func TestWorkerCancelsInFlightWorkflow(t *testing.T) {
	started := make(chan struct{})
	flow := WorkflowFunc(func(ctx context.Context, req *Request) (json.RawMessage, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	s, _ := newTestWorker(t, flow, Options{})

	id, _, err := SubmitRequest(s, Request{})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("workflow never started")
	}

	_, err = SubmitCancellation(s, id, "UnitTest")
	require.NoError(t, err)

	res := waitForStatus(t, s, id, StatusCancelled)
	assert.Nil(t, res.Fault)
}

func TestWorkerCancelsRequestBeforeProcessing(t *testing.T) {
	// submit both items before the worker exists, so the cancellation is
	// already pending when the request is first dispatched
	s := mstore.NewMemoryStore(nil)
	id, _, err := SubmitRequest(s, Request{})
	require.NoError(t, err)
	_, err = SubmitCancellation(s, id, "UnitTest")
	require.NoError(t, err)

	executed := atomic.Bool{}
	flow := WorkflowFunc(func(ctx context.Context, req *Request) (json.RawMessage, error) {
		executed.Store(true)
		return nil, nil
	})
	w := NewWorker(s, flow, Options{
		ThrottlePeriod:   time.Millisecond,
		FallbackInterval: 10 * time.Millisecond,
	})
	s.SetWatcher(w.OnItemChanged)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)

	waitForStatus(t, s, id, StatusCancelled)
	assert.False(t, executed.Load(), "cancelled request must not execute")
}

func TestWorkerProcessesOldestReceivedFirst(t *testing.T) {
	// both requests are in the store before the worker starts, so the first
	// dispatch pass sees them together and must pick the older one
	s := mstore.NewMemoryStore(nil)
	base := time.Now()
	newer, _, err := SubmitRequest(s, Request{Requester: "newer", Created: base.Add(time.Second)})
	require.NoError(t, err)
	older, _, err := SubmitRequest(s, Request{Requester: "older", Created: base})
	require.NoError(t, err)

	var order []string
	flow := WorkflowFunc(func(ctx context.Context, req *Request) (json.RawMessage, error) {
		order = append(order, req.Requester) // dispatch loop is serial, no lock needed
		return nil, nil
	})
	w := NewWorker(s, flow, Options{
		ThrottlePeriod:   time.Millisecond,
		FallbackInterval: 10 * time.Millisecond,
	})
	s.SetWatcher(w.OnItemChanged)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)

	waitForStatus(t, s, newer, StatusCompleted)
	waitForStatus(t, s, older, StatusCompleted)
	require.Len(t, order, 2)
	assert.Equal(t, []string{"older", "newer"}, order[:2])
}

func TestRegistryGetSetForEach(t *testing.T) {
	reg := newRegistry()
	id := uuid.New()

	_, ok := reg.Get(id)
	assert.False(t, ok)

	reg.Set(id, func(e *entry) { e.request = &Request{RequestId: id} })
	got, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, id, got.request.RequestId)
	assert.Equal(t, 1, reg.Len())

	visited := 0
	reg.ForEach(func(_ uuid.UUID, _ *entry) bool {
		visited++
		return true
	})
	assert.Equal(t, 1, visited)
}

func TestStatusStrings(t *testing.T) {
	assert.Equal(t, "Received", StatusReceived.String())
	assert.Equal(t, "Cancelled", StatusCancelled.String())
	assert.Equal(t, fmt.Sprintf("Unknown(%d)", 99), RequestStatus(99).String())
	assert.False(t, StatusProcessing.Done())
	assert.True(t, StatusFaulted.Done())
}
