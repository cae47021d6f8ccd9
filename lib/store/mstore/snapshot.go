package mstore

import (
	"encoding/gob"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/alexanderwatt/corecache/lib/item"
	"github.com/alexanderwatt/corecache/lib/store"
)

// --------------------------------------------------------------------------
// Snapshot Support (store.ISnapshotter)
// --------------------------------------------------------------------------

// snapshot is the on-disk form: the USN counter plus the full revision log.
// Both indexes are rebuilt on load, so they are not serialized.
type snapshot struct {
	Usn uint64
	Log []*item.Item
}

// SaveSnapshot writes the complete revision log to w. The read lock is held
// for the duration, so writers block while the snapshot is taken.
func (s *storeImpl) SaveSnapshot(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := snapshot{Usn: s.usn, Log: s.log}
	if err := gob.NewEncoder(w).Encode(&snap); err != nil {
		return store.NewError(store.RetCInternalError, fmt.Sprintf("snapshot save: %v", err))
	}
	return nil
}

// LoadSnapshot replaces the store's contents from r and rebuilds the name
// and id indexes from the revision log.
func (s *storeImpl) LoadSnapshot(r io.Reader) error {
	var snap snapshot
	if err := gob.NewDecoder(r).Decode(&snap); err != nil {
		return store.NewError(store.RetCInternalError, fmt.Sprintf("snapshot load: %v", err))
	}

	names := make(map[string]*item.Item, len(snap.Log))
	byId := xsync.NewMapOf[uuid.UUID, *item.Item]()
	for _, rev := range snap.Log {
		names[rev.Name] = rev // log is USN ordered, last revision per name wins
		byId.Store(rev.Id, rev)
	}

	s.mu.Lock()
	s.usn = snap.Usn
	s.log = snap.Log
	s.names = names
	s.byId = byId
	s.mu.Unlock()
	return nil
}
