package lockmgr

import "time"

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	// LockDataType is the data type of the items that back leases.
	LockDataType = "Core.Lock"

	// PropOwner is the item property holding the owner id of a lease.
	PropOwner = "Owner"
)

// --------------------------------------------------------------------------
// Interface
// --------------------------------------------------------------------------

// ILockManager provides named leases on top of an item store. A lease is
// held by at most one owner at a time and lapses on its own once the
// requested duration passes, so a crashed holder never wedges the lock.
//
// Long running holders renew before the lease lapses, presenting the owner
// id they got from the acquire (docu see lib/lockmgr/impl.go).
type ILockManager interface {
	// AcquireLock attempts to take the named lease for the given duration.
	// Returns (true, ownerId, nil) on success; the caller must present the
	// ownerId to renew or release. Returns (false, "", nil) when another
	// owner holds a live lease or when a concurrent acquirer won the race.
	AcquireLock(name string, lease time.Duration) (bool, string, error)

	// RenewLock extends the named lease by the given duration if ownerId
	// matches the current holder. Returns (false, nil) when the lease has
	// lapsed or belongs to a different owner.
	RenewLock(name string, ownerId string, lease time.Duration) (bool, error)

	// ReleaseLock frees the named lease if ownerId matches the current
	// holder. Returns (true, nil) when the lease is released or was already
	// free, (false, nil) when a different owner holds it.
	ReleaseLock(name string, ownerId string) (bool, error)
}
