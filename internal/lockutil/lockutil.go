// internal/lockutil/lockutil.go
//
// Package lockutil provides a deadlock-free helper for acquiring
// exclusive ownership of an arbitrary set of reader/writer mutexes, used
// wherever this module must hold more than one per-file mutex at once
// (currently the identity registry's Release, which locks the removed
// entry's neighbors).
//
// The algorithm: start at an index i, block to acquire locks[i], then
// try-acquire the rest in rotation starting after i; on any failure,
// release everything acquired since locks[i] and retry starting from the
// lock that failed. This never holds a partial set across a blocking
// wait on another lock, so two callers racing over the same set cannot
// deadlock against each other.
package lockutil

import "sync"

// LockAll exclusively locks every mutex in locks, blocking until all are
// held. It is not safe to call with duplicate entries: sync.RWMutex is
// not reentrant, so callers must not pass the same *sync.RWMutex twice.
func LockAll(locks ...*sync.RWMutex) {
	if len(locks) == 0 {
		return
	}

	n := len(locks)
	i := 0
	for {
		locks[i].Lock()
		held := 1
		failedAt := -1

		for step := 1; step < n; step++ {
			j := (i + step) % n
			if locks[j].TryLock() {
				held++
				continue
			}
			failedAt = j
			break
		}

		if failedAt == -1 {
			return
		}

		// Release everything acquired since locks[i], in reverse
		// acquisition order, then retry starting at the lock that
		// refused us.
		for step := held - 1; step >= 0; step-- {
			j := (i + step) % n
			locks[j].Unlock()
		}
		i = failedAt
	}
}

// UnlockAll releases every mutex in locks. Order does not matter for
// correctness once all are exclusively held by the caller.
func UnlockAll(locks ...*sync.RWMutex) {
	for _, l := range locks {
		l.Unlock()
	}
}
