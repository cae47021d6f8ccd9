package mstore

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alexanderwatt/corecache/lib/item"
	"github.com/alexanderwatt/corecache/lib/store"
	"github.com/alexanderwatt/corecache/lib/store/storetest"
)

func Test(t *testing.T) {
	storetest.RunItemStoreTests(t, "MemoryStore", func() store.IItemStore {
		return NewMemoryStore(nil)
	})
}

// fakeClock lets expiry tests move time without sleeping.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestExpiryExcludesFromDefaultReads(t *testing.T) {
	clock := &fakeClock{now: time.Date(2021, 6, 1, 9, 0, 0, 0, time.UTC)}
	s := NewMemoryStore(&Options{Clock: clock.Now})

	req := store.NewSaveRequest("ns.signal.S1", "Signal", []byte("x"), nil)
	req.Expires = clock.now.Add(time.Minute)
	if _, err := s.Save(req); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if _, err := s.Load("ns.signal.S1"); err != nil {
		t.Fatalf("item should be live before expiry: %v", err)
	}
	items, _ := s.Select(store.Query{})
	if len(items) != 1 {
		t.Fatalf("expected 1 live item, got %d", len(items))
	}

	clock.Advance(2 * time.Minute)

	if _, err := s.Load("ns.signal.S1"); !store.IsNotFound(err) {
		t.Fatalf("expected NotFound after expiry, got %v", err)
	}
	items, _ = s.Select(store.Query{})
	if len(items) != 0 {
		t.Fatalf("expired item visible in default query: %+v", items)
	}

	// expired revisions stay visible to IncludeDeleted queries
	items, _ = s.Select(store.Query{IncludeDeleted: true})
	if len(items) != 1 {
		t.Fatalf("expired item lost from history: %+v", items)
	}
}

func TestDeletedThenRecreatedAsAtTimeline(t *testing.T) {
	clock := &fakeClock{now: time.Date(2021, 6, 1, 9, 0, 0, 0, time.UTC)}
	s := NewMemoryStore(&Options{Clock: clock.Now})

	save := func(body string) {
		if _, err := s.Save(store.NewSaveRequest("ns.obj.R", "Obj", []byte(body), nil)); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	save("v1")
	t1 := clock.now
	clock.Advance(time.Minute)
	if _, err := s.Delete("ns.obj.R"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	t2 := clock.now
	clock.Advance(time.Minute)
	save("v2")
	t3 := clock.now

	assertState := func(asAt time.Time, wantBody string, wantVisible bool) {
		t.Helper()
		items, err := s.Select(store.Query{AsAtTime: asAt})
		if err != nil {
			t.Fatalf("select failed: %v", err)
		}
		if !wantVisible {
			if len(items) != 0 {
				t.Fatalf("as-at %v: expected invisible, got %+v", asAt, items)
			}
			return
		}
		if len(items) != 1 || string(items[0].Body) != wantBody {
			t.Fatalf("as-at %v: expected body %q, got %+v", asAt, wantBody, items)
		}
	}

	assertState(t1, "v1", true)  // created
	assertState(t2, "", false)   // deleted
	assertState(t3, "v2", true)  // recreated
}

func TestSaveCopiesCallerBody(t *testing.T) {
	s := NewMemoryStore(nil)

	body := []byte("original")
	if _, err := s.Save(store.NewSaveRequest("ns.obj.O1", "Object", body, nil)); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	for i := range body {
		body[i] = 'X'
	}

	it, err := s.Load("ns.obj.O1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if string(it.Body) != "original" {
		t.Fatalf("committed body changed with the caller's slice: %q", it.Body)
	}
}

func TestWatcherObservesCommitOrder(t *testing.T) {
	s := NewMemoryStore(nil)

	var mu sync.Mutex
	var seen []uint64
	s.SetWatcher(func(it *item.Item) {
		mu.Lock()
		seen = append(seen, it.USN)
		mu.Unlock()
	})

	const writers, saves = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			name := fmt.Sprintf("ns.obj.W%d", w)
			for i := 0; i < saves; i++ {
				if _, err := s.Save(store.NewSaveRequest(name, "Object", nil, nil)); err != nil {
					t.Errorf("save failed: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	if len(seen) != writers*saves {
		t.Fatalf("expected %d watcher calls, got %d", writers*saves, len(seen))
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] <= seen[i-1] {
			t.Fatalf("watcher saw USN %d after %d", seen[i], seen[i-1])
		}
	}
}
