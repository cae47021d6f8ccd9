package mstore

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/alexanderwatt/corecache/lib/expr"
	"github.com/alexanderwatt/corecache/lib/item"
	"github.com/alexanderwatt/corecache/lib/store"
)

// --------------------------------------------------------------------------
// Metrics
// --------------------------------------------------------------------------

var (
	savesTotal     = metrics.GetOrCreateCounter(`corecache_store_saves_total`)
	deletesTotal   = metrics.GetOrCreateCounter(`corecache_store_deletes_total`)
	conflictsTotal = metrics.GetOrCreateCounter(`corecache_store_conflicts_total`)
	selectsTotal   = metrics.GetOrCreateCounter(`corecache_store_selects_total`)
)

// --------------------------------------------------------------------------
// Options and Construction
// --------------------------------------------------------------------------

// Options configures the memory store during initialization.
type Options struct {
	// Clock supplies revision timestamps. Nil means time.Now. Injected by
	// tests that exercise expiry and as-at behaviour, and by the replicated
	// store so every replica stamps a revision with the proposer's time.
	Clock func() time.Time

	// Ids supplies revision ids. Nil means uuid.New. The replicated store
	// injects a deterministic source so replicas agree on ids.
	Ids func() uuid.UUID
}

// storeImpl is the in-memory item store: an append-only revision log plus
// two indexes (latest revision per name, revision per id). The log and the
// name index are guarded by a single RWMutex; the id index is a concurrent
// map because historical loads never need log consistency.
type storeImpl struct {
	mu      sync.RWMutex
	pubMu   sync.Mutex   // serializes watcher handoff in USN order
	usn     uint64       // last assigned USN
	log     []*item.Item // all revisions, USN ascending
	names   map[string]*item.Item
	byId    *xsync.MapOf[uuid.UUID, *item.Item]
	watcher store.ChangeHandler
	clock   func() time.Time
	newId   func() uuid.UUID
}

// NewMemoryStore creates a new single-node in-memory item store.
func NewMemoryStore(opts *Options) store.IItemStore {
	clock := time.Now
	newId := uuid.New
	if opts != nil && opts.Clock != nil {
		clock = opts.Clock
	}
	if opts != nil && opts.Ids != nil {
		newId = opts.Ids
	}
	return &storeImpl{
		names: make(map[string]*item.Item),
		byId:  xsync.NewMapOf[uuid.UUID, *item.Item](),
		clock: clock,
		newId: newId,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) SetWatcher(h store.ChangeHandler) {
	s.watcher = h
}

func (s *storeImpl) Save(req store.SaveRequest) (uint64, error) {
	if req.Name == "" {
		return 0, store.NewError(store.RetCInternalError, "save: item name is required")
	}
	kind := req.Kind
	if kind == item.KindUndefined {
		kind = item.KindObject
	}

	s.mu.Lock()
	current := s.names[req.Name]
	if current != nil && req.ExpectedUsn != store.AnyUsn && current.USN != req.ExpectedUsn {
		currentUsn := current.USN
		s.mu.Unlock()
		conflictsTotal.Inc()
		return 0, store.NewError(store.RetCConcurrencyConflict,
			fmt.Sprintf("save %q: expected USN %d, current is %d", req.Name, req.ExpectedUsn, currentUsn))
	}
	rev := &item.Item{
		Id:       s.newId(),
		Name:     req.Name,
		Kind:     kind,
		DataType: req.DataType,
		AppScope: req.AppScope,
		Props:    req.Props.Clone(),
		Body:     bytes.Clone(req.Body),
		Created:  s.clock(),
		Expires:  req.Expires,
	}
	s.appendLocked(rev)
	s.publishAndUnlock(rev)

	savesTotal.Inc()
	return rev.USN, nil
}

func (s *storeImpl) Load(name string) (*item.Item, error) {
	s.mu.RLock()
	current := s.names[name]
	s.mu.RUnlock()

	if current == nil || current.Deleted || current.IsExpiredAt(s.clock()) {
		return nil, store.NewError(store.RetCNotFound, fmt.Sprintf("load: item %q not found", name))
	}
	return current, nil
}

func (s *storeImpl) LoadById(id uuid.UUID) (*item.Item, error) {
	rev, ok := s.byId.Load(id)
	if !ok {
		return nil, store.NewError(store.RetCNotFound, fmt.Sprintf("load: item id %s not found", id))
	}
	return rev, nil
}

func (s *storeImpl) Select(q store.Query) ([]*item.Item, error) {
	selectsTotal.Inc()

	asAt := q.AsAtTime
	latest := asAt.IsZero()
	cutoff := asAt
	if latest {
		cutoff = s.clock()
	}

	s.mu.RLock()
	// Reconstruct the per-name state: the latest index for current reads,
	// or a walk of the revision log for as-at reads. The log is USN
	// ordered, so the last revision seen per name wins.
	var state map[string]*item.Item
	if latest {
		state = s.names
	} else {
		state = make(map[string]*item.Item)
		for _, rev := range s.log {
			if rev.IsCurrentAt(asAt) {
				state[rev.Name] = rev
			}
		}
	}

	matched := make([]*item.Item, 0)
	for _, rev := range state {
		if rev.USN <= q.MinimumUsn {
			continue
		}
		if !q.IncludeDeleted && (rev.Deleted || rev.IsExpiredAt(cutoff)) {
			continue
		}
		if q.Kind != item.KindUndefined && rev.Kind != q.Kind {
			continue
		}
		if q.DataType != "" && rev.DataType != q.DataType {
			continue
		}
		if q.Filter != nil && !expr.MatchItem(q.Filter, rev) {
			continue
		}
		matched = append(matched, rev)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].USN < matched[j].USN })

	// paging
	if q.StartRow > 0 {
		if q.StartRow >= len(matched) {
			matched = nil
		} else {
			matched = matched[q.StartRow:]
		}
	}
	if q.RowCount > 0 && q.RowCount < len(matched) {
		matched = matched[:q.RowCount]
	}

	if q.ExcludeBody {
		stripped := make([]*item.Item, len(matched))
		for i, rev := range matched {
			stripped[i] = rev.WithoutBody()
		}
		matched = stripped
	}
	return matched, nil
}

func (s *storeImpl) Delete(name string) (uint64, error) {
	s.mu.Lock()
	current := s.names[name]
	if current == nil || current.Deleted {
		s.mu.Unlock()
		return 0, store.NewError(store.RetCNotFound, fmt.Sprintf("delete: item %q not found", name))
	}
	tomb := s.tombstoneLocked(current)
	s.publishAndUnlock(tomb)

	deletesTotal.Inc()
	return tomb.USN, nil
}

func (s *storeImpl) DeleteWhere(dataType string, filter expr.IExpression) (int, error) {
	if filter == nil {
		filter = expr.All()
	}

	s.mu.Lock()
	now := s.clock()
	var tombs []*item.Item
	for _, current := range s.names {
		if current.Deleted || current.IsExpiredAt(now) {
			continue
		}
		if dataType != "" && current.DataType != dataType {
			continue
		}
		if !expr.MatchItem(filter, current) {
			continue
		}
		tombs = append(tombs, s.tombstoneLocked(current))
	}
	s.publishAndUnlock(tombs...)

	deletesTotal.Add(len(tombs))
	return len(tombs), nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// appendLocked assigns the next USN and links the revision into the log and
// both indexes. Callers must hold the write lock.
func (s *storeImpl) appendLocked(rev *item.Item) {
	s.usn++
	rev.USN = s.usn
	s.log = append(s.log, rev)
	s.names[rev.Name] = rev
	s.byId.Store(rev.Id, rev)
}

// tombstoneLocked appends a deleted revision carrying the item's metadata.
// History stays addressable by id; only default reads stop seeing the name.
func (s *storeImpl) tombstoneLocked(current *item.Item) *item.Item {
	tomb := &item.Item{
		Id:       s.newId(),
		Name:     current.Name,
		Kind:     current.Kind,
		DataType: current.DataType,
		AppScope: current.AppScope,
		Props:    current.Props.Clone(),
		Created:  s.clock(),
		Deleted:  true,
	}
	s.appendLocked(tomb)
	return tomb
}

// publishAndUnlock hands committed revisions to the watcher. The caller
// must hold the write lock; the delivery mutex is taken before the write
// lock is released, so concurrent writers reach the watcher in USN order
// while reads proceed during the handoff. The handoff is synchronous, a
// watcher never sees a change before it is committed.
func (s *storeImpl) publishAndUnlock(revs ...*item.Item) {
	s.pubMu.Lock()
	s.mu.Unlock()
	defer s.pubMu.Unlock()
	if s.watcher == nil {
		return
	}
	for _, rev := range revs {
		s.watcher(rev)
	}
}
