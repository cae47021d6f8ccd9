package lockmgr_test

import (
	"sync"
	"testing"
	"time"

	"github.com/alexanderwatt/corecache/lib/lockmgr"
	"github.com/alexanderwatt/corecache/lib/store/mstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireAndRelease(t *testing.T) {
	mgr := lockmgr.NewLockManager(mstore.NewMemoryStore(nil))

	ok, owner, err := mgr.AcquireLock("Lock.Calendar", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, owner)

	// held, a second acquire must fail
	ok2, _, err := mgr.AcquireLock("Lock.Calendar", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok2)

	// wrong owner cannot release
	released, err := mgr.ReleaseLock("Lock.Calendar", "not-the-owner")
	require.NoError(t, err)
	assert.False(t, released)

	released, err = mgr.ReleaseLock("Lock.Calendar", owner)
	require.NoError(t, err)
	assert.True(t, released)

	// free again
	ok3, owner3, err := mgr.AcquireLock("Lock.Calendar", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok3)
	assert.NotEqual(t, owner, owner3)
}

func TestReleaseUnknownLockSucceeds(t *testing.T) {
	mgr := lockmgr.NewLockManager(mstore.NewMemoryStore(nil))

	released, err := mgr.ReleaseLock("Lock.Nothing", "whoever")
	require.NoError(t, err)
	assert.True(t, released)
}

func TestLapsedLeaseCanBeReacquired(t *testing.T) {
	now := time.Now()
	s := mstore.NewMemoryStore(&mstore.Options{
		Clock: func() time.Time { return now },
	})
	mgr := lockmgr.NewLockManager(s)

	ok, owner, err := mgr.AcquireLock("Lock.EndOfDay", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// still live
	ok2, _, err := mgr.AcquireLock("Lock.EndOfDay", time.Minute)
	require.NoError(t, err)
	require.False(t, ok2)

	now = now.Add(2 * time.Minute)

	ok3, owner3, err := mgr.AcquireLock("Lock.EndOfDay", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok3)
	assert.NotEqual(t, owner, owner3)
}

func TestRenewExtendsLease(t *testing.T) {
	now := time.Now()
	s := mstore.NewMemoryStore(&mstore.Options{
		Clock: func() time.Time { return now },
	})
	mgr := lockmgr.NewLockManager(s)

	ok, owner, err := mgr.AcquireLock("Lock.Batch", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	renewed, err := mgr.RenewLock("Lock.Batch", owner, 10*time.Minute)
	require.NoError(t, err)
	require.True(t, renewed)

	// past the original lease end but inside the renewed one
	now = now.Add(5 * time.Minute)

	ok2, _, err := mgr.AcquireLock("Lock.Batch", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok2)

	// foreign owner cannot renew
	renewed, err = mgr.RenewLock("Lock.Batch", "not-the-owner", time.Minute)
	require.NoError(t, err)
	assert.False(t, renewed)
}

func TestRenewLapsedLeaseFails(t *testing.T) {
	now := time.Now()
	s := mstore.NewMemoryStore(&mstore.Options{
		Clock: func() time.Time { return now },
	})
	mgr := lockmgr.NewLockManager(s)

	ok, owner, err := mgr.AcquireLock("Lock.Batch", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(2 * time.Minute)

	renewed, err := mgr.RenewLock("Lock.Batch", owner, time.Minute)
	require.NoError(t, err)
	assert.False(t, renewed)
}

func TestConcurrentAcquireHasOneWinner(t *testing.T) {
	mgr := lockmgr.NewLockManager(mstore.NewMemoryStore(nil))

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan string, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, owner, err := mgr.AcquireLock("Lock.Contended", time.Minute)
			assert.NoError(t, err)
			if ok {
				wins <- owner
			}
		}()
	}
	wg.Wait()
	close(wins)

	winners := make([]string, 0)
	for owner := range wins {
		winners = append(winners, owner)
	}
	require.Len(t, winners, 1)

	released, err := mgr.ReleaseLock("Lock.Contended", winners[0])
	require.NoError(t, err)
	assert.True(t, released)
}
