package farm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"

	"github.com/alexanderwatt/corecache/lib/item"
	"github.com/alexanderwatt/corecache/lib/store"
)

var log = logger.GetLogger("farm")

// --------------------------------------------------------------------------
// Metrics
// --------------------------------------------------------------------------

var (
	receivedTotal  = metrics.GetOrCreateCounter(`corecache_farm_requests_received_total`)
	completedTotal = metrics.GetOrCreateCounter(`corecache_farm_requests_completed_total`)
	faultedTotal   = metrics.GetOrCreateCounter(`corecache_farm_requests_faulted_total`)
	cancelledTotal = metrics.GetOrCreateCounter(`corecache_farm_requests_cancelled_total`)
)

// --------------------------------------------------------------------------
// Workflow Interface
// --------------------------------------------------------------------------

// IWorkflow is the unit of work the farm executes per request. Execute may
// block on external calls; it must honour ctx cancellation and return the
// outcome body for the Completed result.
type IWorkflow interface {
	Execute(ctx context.Context, req *Request) (json.RawMessage, error)
}

// WorkflowFunc adapts a plain function to IWorkflow.
type WorkflowFunc func(ctx context.Context, req *Request) (json.RawMessage, error)

func (f WorkflowFunc) Execute(ctx context.Context, req *Request) (json.RawMessage, error) {
	return f(ctx, req)
}

// --------------------------------------------------------------------------
// Worker
// --------------------------------------------------------------------------

// Options configures a farm worker.
type Options struct {
	// MemberIndex and FarmSize partition the request space. The worker only
	// processes requests with Owner(id, FarmSize) == MemberIndex.
	MemberIndex int
	FarmSize    int // 0 means 1

	// ThrottlePeriod bounds dispatch frequency: the loop runs at most once
	// per period regardless of how often it is woken. Zero means 5s.
	ThrottlePeriod time.Duration

	// FallbackInterval is the periodic wake that guarantees forward progress
	// when notifications are lost. Zero means 5s.
	FallbackInterval time.Duration

	// Clock is injectable for tests. Nil means time.Now.
	Clock func() time.Time
}

// Worker turns a stream of request items into result items. All workflow
// execution happens on a single dispatch goroutine, so at most one workflow
// is active per worker instance.
type Worker struct {
	store       store.IItemStore
	flow        IWorkflow
	reg         *registry
	memberIndex int
	farmSize    int
	throttle    time.Duration
	fallback    time.Duration
	clock       func() time.Time

	wake    chan struct{}
	stop    context.CancelFunc
	done    chan struct{}
	started bool
}

// NewWorker creates a farm worker processing requests from s with the given
// workflow. Call Start to begin dispatching.
func NewWorker(s store.IItemStore, flow IWorkflow, opts Options) *Worker {
	farmSize := opts.FarmSize
	if farmSize <= 0 {
		farmSize = 1
	}
	throttle := opts.ThrottlePeriod
	if throttle == 0 {
		throttle = 5 * time.Second
	}
	fallback := opts.FallbackInterval
	if fallback == 0 {
		fallback = 5 * time.Second
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Worker{
		store:       s,
		flow:        flow,
		reg:         newRegistry(),
		memberIndex: opts.MemberIndex,
		farmSize:    farmSize,
		throttle:    throttle,
		fallback:    fallback,
		clock:       clock,
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// Start resyncs the registry from the store and launches the dispatch loop.
func (w *Worker) Start(ctx context.Context) error {
	if w.started {
		return store.NewError(store.RetCInternalError, "worker already started")
	}
	w.started = true

	if err := w.resync(); err != nil {
		return err
	}

	ctx, w.stop = context.WithCancel(ctx)
	go w.run(ctx)
	w.Wake()
	return nil
}

// Stop cancels the in-flight workflow cooperatively and waits for the
// dispatch loop to exit.
func (w *Worker) Stop() {
	if w.stop == nil {
		return
	}
	w.stop()
	<-w.done
}

// Outstanding returns the number of requests the worker is tracking.
func (w *Worker) Outstanding() int { return w.reg.Len() }

// Wake nudges the dispatch loop. Safe from any goroutine; coalesces with a
// pending wake.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// --------------------------------------------------------------------------
// Change Notification Intake
// --------------------------------------------------------------------------

// OnItemChanged records request, result and cancellation items the worker
// owns and wakes the dispatch loop. It never blocks and never calls back
// into the store, so it can be wired directly as a store watcher or a
// subscription sink.
func (w *Worker) OnItemChanged(it *item.Item) {
	if it.Deleted {
		return
	}
	switch it.DataType {
	case RequestDataType:
		w.noteRequest(it)
	case ResultDataType:
		w.noteResult(it)
	case CancellationDataType:
		w.noteCancellation(it)
	}
}

// Sink adapts OnItemChanged to the subscription delivery signature.
func (w *Worker) Sink(_ uuid.UUID, it *item.Item) { w.OnItemChanged(it) }

func (w *Worker) noteRequest(it *item.Item) {
	req, err := decodeRequest(it)
	if err != nil {
		log.Warningf("ignoring malformed request item %q: %v", it.Name, err)
		return
	}
	if !Owns(req.RequestId, w.memberIndex, w.farmSize) {
		return
	}
	w.reg.Set(req.RequestId, func(e *entry) {
		if e.request == nil {
			e.request = req
			e.received = w.clock()
			receivedTotal.Inc()
		}
	})
	w.Wake()
}

func (w *Worker) noteResult(it *item.Item) {
	res, err := decodeResult(it)
	if err != nil {
		log.Warningf("ignoring malformed result item %q: %v", it.Name, err)
		return
	}
	if !Owns(res.RequestId, w.memberIndex, w.farmSize) {
		return
	}
	w.reg.Set(res.RequestId, func(e *entry) {
		// never step back from a terminal status on a stale echo
		if e.latest != nil && e.latest.Status.Done() && !res.Status.Done() {
			return
		}
		e.latest = res
	})
	w.Wake()
}

func (w *Worker) noteCancellation(it *item.Item) {
	c, err := decodeCancellation(it)
	if err != nil {
		log.Warningf("ignoring malformed cancellation item %q: %v", it.Name, err)
		return
	}
	if !Owns(c.RequestId, w.memberIndex, w.farmSize) {
		return
	}
	var cancel context.CancelFunc
	w.reg.Set(c.RequestId, func(e *entry) {
		e.cancelRequested = true
		cancel = e.cancel
	})
	if cancel != nil {
		cancel()
	}
	w.Wake()
}

// resync rebuilds the registry from the store, so requests submitted while
// the worker was down are picked up on start.
func (w *Worker) resync() error {
	for _, dataType := range []string{RequestDataType, ResultDataType, CancellationDataType} {
		items, err := w.store.Select(store.Query{DataType: dataType})
		if err != nil {
			return err
		}
		for _, it := range items {
			w.OnItemChanged(it)
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Dispatch Loop
// --------------------------------------------------------------------------

// run is the single-consumer dispatch loop. Notifications and the fallback
// timer both funnel into one serialized pass, throttled to at most one run
// per period.
func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.fallback)
	defer ticker.Stop()

	var lastRun time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		case <-ticker.C:
		}
		if !lastRun.IsZero() && w.clock().Sub(lastRun) < w.throttle {
			continue // throttled, the fallback timer retriggers later
		}
		lastRun = w.clock()
		w.dispatch(ctx)
	}
}

// dispatch acknowledges newly seen requests, resolves pre-start
// cancellations, then executes the oldest Received request it owns. At most
// one workflow runs per call; a remaining backlog re-wakes the loop.
func (w *Worker) dispatch(ctx context.Context) {
	// acknowledge requests with no result yet
	var acks []*Request
	w.reg.ForEach(func(id uuid.UUID, e *entry) bool {
		if e.request != nil && e.latest == nil {
			acks = append(acks, e.request)
		}
		return true
	})
	for _, req := range acks {
		w.publishResult(&Result{
			RequestId: req.RequestId,
			Status:    StatusReceived,
			Submitted: req.Created,
			Updated:   w.clock(),
		})
	}

	// resolve cancellations that arrived before processing started, then
	// pick the oldest Received request
	var lapsed []*Request
	var next *Request
	w.reg.ForEach(func(id uuid.UUID, e *entry) bool {
		if e.request == nil || e.latest == nil || e.latest.Status != StatusReceived {
			return true
		}
		if e.cancelRequested {
			lapsed = append(lapsed, e.request)
			return true
		}
		if next == nil || e.request.Created.Before(next.Created) {
			next = e.request
		}
		return true
	})
	for _, req := range lapsed {
		cancelledTotal.Inc()
		w.publishResult(&Result{
			RequestId: req.RequestId,
			Status:    StatusCancelled,
			Submitted: req.Created,
			Updated:   w.clock(),
		})
	}

	if next == nil {
		return
	}
	w.process(ctx, next)

	// more Received requests may be pending, let the loop come back
	w.reg.ForEach(func(id uuid.UUID, e *entry) bool {
		if e.request != nil && e.latest != nil && e.latest.Status == StatusReceived && !e.cancelRequested {
			w.Wake()
			return false
		}
		return true
	})
}

// process runs the workflow for one request and publishes the terminal
// result. Workflow errors and panics never propagate, they become Faulted
// results.
func (w *Worker) process(ctx context.Context, req *Request) {
	w.publishResult(&Result{
		RequestId: req.RequestId,
		Status:    StatusProcessing,
		Submitted: req.Created,
		Updated:   w.clock(),
	})

	wctx, cancel := context.WithCancel(ctx)
	w.reg.Set(req.RequestId, func(e *entry) {
		e.cancel = cancel
		if e.cancelRequested {
			cancel() // cancellation raced the start of processing
		}
	})
	outcome, err := w.execute(wctx, req)
	cancel()
	var cancelRequested bool
	w.reg.Set(req.RequestId, func(e *entry) {
		e.cancel = nil
		cancelRequested = e.cancelRequested
	})

	res := &Result{
		RequestId: req.RequestId,
		Submitted: req.Created,
		Updated:   w.clock(),
	}
	switch {
	case err == nil:
		completedTotal.Inc()
		res.Status = StatusCompleted
		res.Outcome = outcome
	case cancelRequested:
		cancelledTotal.Inc()
		res.Status = StatusCancelled
	case ctx.Err() != nil:
		// worker shutting down, leave the request at Processing for the
		// restarted instance to observe
		log.Infof("request %s interrupted by shutdown", req.RequestId)
		return
	default:
		faultedTotal.Inc()
		log.Errorf("request %s faulted: %v", req.RequestId, err)
		res.Status = StatusFaulted
		res.Fault = &Fault{Message: err.Error()}
	}
	w.publishResult(res)
}

// execute invokes the workflow, converting a panic into an error.
func (w *Worker) execute(ctx context.Context, req *Request) (outcome json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workflow panic: %v", r)
		}
	}()
	return w.flow.Execute(ctx, req)
}

// publishResult saves a result revision and records it as the latest known
// state so dispatch does not depend on the notification round trip.
func (w *Worker) publishResult(res *Result) {
	body, err := json.Marshal(res)
	if err != nil {
		log.Errorf("marshal result for %s: %v", res.RequestId, err)
		return
	}
	_, err = w.store.Save(store.SaveRequest{
		Name:        ResultItemName(res.RequestId),
		Kind:        item.KindObject,
		DataType:    ResultDataType,
		Props:       item.Props{PropRequestId: res.RequestId.String()},
		Body:        body,
		ExpectedUsn: store.AnyUsn,
	})
	if err != nil {
		log.Errorf("publish %s result for %s: %v", res.Status, res.RequestId, err)
		return
	}
	w.reg.Set(res.RequestId, func(e *entry) {
		if e.latest != nil && e.latest.Status.Done() && !res.Status.Done() {
			return
		}
		e.latest = res
	})
}
