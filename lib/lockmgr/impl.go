package lockmgr

import (
	"time"

	"github.com/alexanderwatt/corecache/lib/expr"
	"github.com/alexanderwatt/corecache/lib/item"
	"github.com/alexanderwatt/corecache/lib/store"
	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Implementation
// --------------------------------------------------------------------------

// lockManagerImpl implements ILockManager (docu see lib/lockmgr/interface.go)
// on top of an item store. Every lease is a single item whose Expires field
// carries the lease end and whose Owner property carries the holder.
//
// Mutual exclusion comes from the store's optimistic concurrency check: an
// acquire saves the lock item with the USN of the latest revision it
// observed, so of two racing acquirers exactly one save succeeds and the
// other sees a concurrency conflict. A follow-up load verifies the winner.
type lockManagerImpl struct {
	store store.IItemStore
}

// NewLockManager creates a lock manager backed by the given item store.
// Concurrent use from multiple goroutines (or, with a replicated store,
// multiple processes) is safe.
func NewLockManager(s store.IItemStore) ILockManager {
	return &lockManagerImpl{store: s}
}

// AcquireLock (docu see lib/lockmgr/interface.go)
func (m *lockManagerImpl) AcquireLock(name string, lease time.Duration) (bool, string, error) {
	if _, err := m.store.Load(name); err == nil {
		// A live lease exists.
		return false, "", nil
	} else if store.CodeOf(err) != store.RetCNotFound {
		return false, "", err
	}

	// No live lease, but expired or deleted revisions may remain and the
	// concurrency check compares against the latest of those.
	expectedUsn, err := m.latestRevisionUsn(name)
	if err != nil {
		return false, "", err
	}
	ownerId := uuid.New().String()

	_, err = m.store.Save(store.SaveRequest{
		Name:        name,
		Kind:        item.KindObject,
		DataType:    LockDataType,
		Props:       item.Props{PropOwner: ownerId},
		ExpectedUsn: expectedUsn,
		Expires:     time.Now().Add(lease),
	})
	if err != nil {
		if store.CodeOf(err) == store.RetCConcurrencyConflict {
			return false, "", nil
		}
		return false, "", err
	}

	// Verify ownership after the save. The conflict check already makes
	// the save atomic, the load guards against a revision landing between
	// the save and the return that the check could not see.
	verify, err := m.store.Load(name)
	if err != nil {
		return false, "", err
	}
	if verify.Props[PropOwner] != ownerId {
		return false, "", nil
	}
	return true, ownerId, nil
}

// RenewLock (docu see lib/lockmgr/interface.go)
func (m *lockManagerImpl) RenewLock(name string, ownerId string, lease time.Duration) (bool, error) {
	current, err := m.store.Load(name)
	if err != nil {
		if store.CodeOf(err) == store.RetCNotFound {
			return false, nil
		}
		return false, err
	}
	if current.Props[PropOwner] != ownerId {
		return false, nil
	}

	_, err = m.store.Save(store.SaveRequest{
		Name:        name,
		Kind:        item.KindObject,
		DataType:    LockDataType,
		Props:       item.Props{PropOwner: ownerId},
		ExpectedUsn: current.USN,
		Expires:     time.Now().Add(lease),
	})
	if err != nil {
		if store.CodeOf(err) == store.RetCConcurrencyConflict {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ReleaseLock (docu see lib/lockmgr/interface.go)
func (m *lockManagerImpl) ReleaseLock(name string, ownerId string) (bool, error) {
	current, err := m.store.Load(name)
	if err != nil {
		if store.CodeOf(err) == store.RetCNotFound {
			return true, nil
		}
		return false, err
	}
	if current.Props[PropOwner] != ownerId {
		return false, nil
	}
	if _, err := m.store.Delete(name); err != nil {
		return false, err
	}
	return true, nil
}

// latestRevisionUsn returns the USN of the latest revision of the named
// item, tombstones and expired revisions included, or 0 when the name has
// never been saved.
func (m *lockManagerImpl) latestRevisionUsn(name string) (uint64, error) {
	items, err := m.store.Select(store.Query{
		Filter:         expr.NameStartsWith(name),
		IncludeDeleted: true,
		ExcludeBody:    true,
	})
	if err != nil {
		return 0, err
	}
	for _, it := range items {
		if it.Name == name {
			return it.USN, nil
		}
	}
	return 0, nil
}
