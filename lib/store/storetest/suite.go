package storetest

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/alexanderwatt/corecache/lib/expr"
	"github.com/alexanderwatt/corecache/lib/item"
	"github.com/alexanderwatt/corecache/lib/store"
)

// StoreFactory creates a fresh store instance for one test.
type StoreFactory func() store.IItemStore

// RunItemStoreTests runs the conformance suite against an IItemStore
// implementation. Every backend (memory, replicated) must pass it.
func RunItemStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name+"/UsnMonotonicity", func(t *testing.T) { testUsnMonotonicity(t, factory()) })
	t.Run(name+"/SaveLoad", func(t *testing.T) { testSaveLoad(t, factory()) })
	t.Run(name+"/OptimisticConcurrency", func(t *testing.T) { testOptimisticConcurrency(t, factory()) })
	t.Run(name+"/LoadById", func(t *testing.T) { testLoadById(t, factory()) })
	t.Run(name+"/Delete", func(t *testing.T) { testDelete(t, factory()) })
	t.Run(name+"/DeleteWhere", func(t *testing.T) { testDeleteWhere(t, factory()) })
	t.Run(name+"/SelectFilters", func(t *testing.T) { testSelectFilters(t, factory()) })
	t.Run(name+"/SelectDelta", func(t *testing.T) { testSelectDelta(t, factory()) })
	t.Run(name+"/SelectAsAt", func(t *testing.T) { testSelectAsAt(t, factory()) })
	t.Run(name+"/SelectPaging", func(t *testing.T) { testSelectPaging(t, factory()) })
	t.Run(name+"/SelectExcludeBody", func(t *testing.T) { testSelectExcludeBody(t, factory()) })
	t.Run(name+"/WatcherHandoff", func(t *testing.T) { testWatcherHandoff(t, factory()) })
	t.Run(name+"/ConcurrentSaves", func(t *testing.T) { testConcurrentSaves(t, factory()) })
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func mustSave(t *testing.T, s store.IItemStore, name, dataType string, props item.Props) uint64 {
	t.Helper()
	usn, err := s.Save(store.NewSaveRequest(name, dataType, []byte(name), props))
	if err != nil {
		t.Fatalf("save %q failed: %v", name, err)
	}
	return usn
}

// --------------------------------------------------------------------------
// Suite
// --------------------------------------------------------------------------

func testUsnMonotonicity(t *testing.T, s store.IItemStore) {
	var last uint64
	for i := 0; i < 50; i++ {
		usn := mustSave(t, s, fmt.Sprintf("ns.obj.%d", i%10), "Obj", nil)
		if usn <= last {
			t.Fatalf("USN %d not greater than previous %d", usn, last)
		}
		last = usn
	}
	// tombstones consume USNs too
	usn, err := s.Delete("ns.obj.1")
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if usn <= last {
		t.Fatalf("tombstone USN %d not greater than previous %d", usn, last)
	}
}

func testSaveLoad(t *testing.T, s store.IItemStore) {
	usn := mustSave(t, s, "ns.trade.T1", "Trade", item.Props{"Market": "EOD"})

	it, err := s.Load("ns.trade.T1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if it.USN != usn || it.DataType != "Trade" || string(it.Body) != "ns.trade.T1" {
		t.Fatalf("loaded wrong revision: %+v", it)
	}
	if v, _ := it.Props.Get("Market"); v != "EOD" {
		t.Fatalf("props not persisted: %+v", it.Props)
	}
	if it.Id == (uuid.UUID{}) {
		t.Fatal("item id not assigned")
	}

	if _, err := s.Load("ns.trade.unknown"); !store.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func testOptimisticConcurrency(t *testing.T, s store.IItemStore) {
	// first-time save succeeds regardless of the expected USN
	req := store.NewSaveRequest("ns.obj.A", "Obj", []byte("v1"), nil)
	req.ExpectedUsn = 42
	usn1, err := s.Save(req)
	if err != nil {
		t.Fatalf("first-time save must succeed: %v", err)
	}

	// matching expected USN succeeds
	req = store.NewSaveRequest("ns.obj.A", "Obj", []byte("v2"), nil)
	req.ExpectedUsn = usn1
	usn2, err := s.Save(req)
	if err != nil {
		t.Fatalf("CAS save with matching USN failed: %v", err)
	}

	// stale expected USN fails and does not mutate the store
	req = store.NewSaveRequest("ns.obj.A", "Obj", []byte("v3"), nil)
	req.ExpectedUsn = usn1
	if _, err := s.Save(req); !store.IsConcurrencyConflict(err) {
		t.Fatalf("expected ConcurrencyConflict, got %v", err)
	}
	it, err := s.Load("ns.obj.A")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if it.USN != usn2 || string(it.Body) != "v2" {
		t.Fatalf("conflicting save mutated the store: %+v", it)
	}
}

func testLoadById(t *testing.T, s store.IItemStore) {
	mustSave(t, s, "ns.obj.B", "Obj", nil)
	first, err := s.Load("ns.obj.B")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	mustSave(t, s, "ns.obj.B", "Obj", nil)

	// the superseded revision stays addressable by id
	old, err := s.LoadById(first.Id)
	if err != nil {
		t.Fatalf("historical load failed: %v", err)
	}
	if old.USN != first.USN {
		t.Fatalf("wrong revision: got USN %d, want %d", old.USN, first.USN)
	}

	if _, err := s.LoadById(uuid.New()); !store.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func testDelete(t *testing.T, s store.IItemStore) {
	mustSave(t, s, "ns.obj.C", "Obj", nil)
	if _, err := s.Delete("ns.obj.C"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := s.Load("ns.obj.C"); !store.IsNotFound(err) {
		t.Fatalf("deleted item still loadable: %v", err)
	}
	// double delete and unknown delete both report NotFound
	if _, err := s.Delete("ns.obj.C"); !store.IsNotFound(err) {
		t.Fatalf("expected NotFound on double delete, got %v", err)
	}
	if _, err := s.Delete("ns.obj.unknown"); !store.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}

	// tombstones are visible to IncludeDeleted queries
	items, err := s.Select(store.Query{IncludeDeleted: true, Filter: expr.NameStartsWith("ns.obj.C")})
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if len(items) != 1 || !items[0].Deleted {
		t.Fatalf("expected one tombstone, got %+v", items)
	}

	// a recreated name is live again
	mustSave(t, s, "ns.obj.C", "Obj", nil)
	if _, err := s.Load("ns.obj.C"); err != nil {
		t.Fatalf("recreated item not loadable: %v", err)
	}
}

func testDeleteWhere(t *testing.T, s store.IItemStore) {
	mustSave(t, s, "ns.trade.T1", "Trade", nil)
	mustSave(t, s, "ns.trade.T2", "Trade", nil)
	mustSave(t, s, "ns.curve.AUD", "Curve", nil)

	count, err := s.DeleteWhere("Trade", expr.NameStartsWith("ns.trade."))
	if err != nil {
		t.Fatalf("delete-where failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 deletions, got %d", count)
	}
	if _, err := s.Load("ns.curve.AUD"); err != nil {
		t.Fatalf("unrelated item was deleted: %v", err)
	}
}

func testSelectFilters(t *testing.T, s store.IItemStore) {
	mustSave(t, s, "ns.trade.T1", "Trade", item.Props{"Market": "EOD"})
	mustSave(t, s, "ns.trade.T2", "Trade", item.Props{"Market": "LIVE"})
	mustSave(t, s, "ns.curve.AUD", "Curve", item.Props{"Market": "EOD"})

	items, err := s.Select(store.Query{DataType: "Trade", Filter: expr.Equals("Market", "EOD")})
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if len(items) != 1 || items[0].Name != "ns.trade.T1" {
		t.Fatalf("wrong selection: %+v", items)
	}

	// results are USN ascending
	items, err = s.Select(store.Query{Filter: expr.All()})
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	for i := 1; i < len(items); i++ {
		if items[i].USN <= items[i-1].USN {
			t.Fatalf("results not USN ascending: %d after %d", items[i].USN, items[i-1].USN)
		}
	}
}

func testSelectDelta(t *testing.T, s store.IItemStore) {
	mustSave(t, s, "ns.obj.1", "Obj", nil)
	mark := mustSave(t, s, "ns.obj.2", "Obj", nil)
	mustSave(t, s, "ns.obj.3", "Obj", nil)

	items, err := s.Select(store.Query{MinimumUsn: mark})
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if len(items) != 1 || items[0].Name != "ns.obj.3" {
		t.Fatalf("delta query returned wrong items: %+v", items)
	}
}

func testSelectAsAt(t *testing.T, s store.IItemStore) {
	mustSave(t, s, "ns.obj.X", "Obj", nil)
	time.Sleep(5 * time.Millisecond)
	mid := time.Now()
	time.Sleep(5 * time.Millisecond)
	mustSave(t, s, "ns.obj.X", "Obj", nil)
	if _, err := s.Delete("ns.obj.X"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	// as-at the midpoint, the first revision is visible
	items, err := s.Select(store.Query{AsAtTime: mid})
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if len(items) != 1 || items[0].Name != "ns.obj.X" || string(items[0].Body) != "ns.obj.X" {
		t.Fatalf("as-at query returned wrong state: %+v", items)
	}

	// at the latest state, the item is deleted
	items, err = s.Select(store.Query{})
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("deleted item visible in latest state: %+v", items)
	}
}

func testSelectPaging(t *testing.T, s store.IItemStore) {
	for i := 0; i < 10; i++ {
		mustSave(t, s, fmt.Sprintf("ns.obj.%02d", i), "Obj", nil)
	}

	page1, err := s.Select(store.Query{RowCount: 4})
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	page2, err := s.Select(store.Query{StartRow: 4, RowCount: 4})
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	page3, err := s.Select(store.Query{StartRow: 8, RowCount: 4})
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if len(page1) != 4 || len(page2) != 4 || len(page3) != 2 {
		t.Fatalf("wrong page sizes: %d/%d/%d", len(page1), len(page2), len(page3))
	}
	if page2[0].USN <= page1[3].USN {
		t.Fatalf("pages overlap: %d after %d", page2[0].USN, page1[3].USN)
	}

	// paging past the end yields an empty page, not an error
	empty, err := s.Select(store.Query{StartRow: 100})
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty page, got %v items, err %v", len(empty), err)
	}
}

func testSelectExcludeBody(t *testing.T, s store.IItemStore) {
	mustSave(t, s, "ns.obj.big", "Obj", item.Props{"Market": "EOD"})

	items, err := s.Select(store.Query{ExcludeBody: true})
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if len(items) != 1 || items[0].Body != nil {
		t.Fatalf("body not stripped: %+v", items)
	}
	if v, _ := items[0].Props.Get("Market"); v != "EOD" {
		t.Fatal("metadata must survive body stripping")
	}
}

func testWatcherHandoff(t *testing.T, s store.IItemStore) {
	var mu sync.Mutex
	var seen []uint64
	s.SetWatcher(func(it *item.Item) {
		mu.Lock()
		seen = append(seen, it.USN)
		mu.Unlock()
	})

	usn1 := mustSave(t, s, "ns.obj.W", "Obj", nil)
	usn2, err := s.Delete("ns.obj.W")
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	// handoff is synchronous: both events are visible immediately
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != usn1 || seen[1] != usn2 {
		t.Fatalf("watcher missed events: %v (want [%d %d])", seen, usn1, usn2)
	}
}

func testConcurrentSaves(t *testing.T, s store.IItemStore) {
	const goroutines = 8
	const perG = 50

	var wg sync.WaitGroup
	results := make([][]uint64, goroutines)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				usn, err := s.Save(store.NewSaveRequest(
					fmt.Sprintf("ns.conc.%d.%d", g, i), "Obj", nil, nil))
				if err != nil {
					t.Errorf("save failed: %v", err)
					return
				}
				results[g] = append(results[g], usn)
			}
		}(g)
	}
	wg.Wait()

	// store-wide: no USN is ever reused
	all := make(map[uint64]bool)
	for _, rs := range results {
		for _, usn := range rs {
			if all[usn] {
				t.Fatalf("USN %d assigned twice", usn)
			}
			all[usn] = true
		}
	}
	if len(all) != goroutines*perG {
		t.Fatalf("expected %d distinct USNs, got %d", goroutines*perG, len(all))
	}
}
