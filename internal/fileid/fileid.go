// internal/fileid/fileid.go
//
// Package fileid canonicalizes filesystem paths to a shared identity so
// that every in-process handle opened against the same underlying file —
// however it was reached — coordinates through the same pair of mutexes.
// It is a process-initialized service with explicit Find/Release, not a
// hidden global: construction happens once in an init-time registry
// variable, exactly like the rest of this module models process-wide
// state (see internal/lockutil for the acquisition discipline the shared
// mutexes below are used under).
package fileid

import (
	"os"
	"sync"

	"luxwal/internal/lockutil"
)

// Serial is the process-unique identity of one underlying filesystem
// object. Two Files resolving to the same object (same inode+device, or
// the same canonical path where file keys are unavailable) share the
// same *Serial by reference, and therefore share the same mutexes.
type Serial struct {
	key      key
	refCount int

	// Mutex coordinates in-process shared/exclusive access to the file.
	Mutex *sync.RWMutex
	// ExclusiveMutex guards the in-process exclusive upgrade, kept apart
	// from Mutex because the two guard distinct contention classes (see
	// the file façade's locking-plane rationale).
	ExclusiveMutex *sync.Mutex
}

// key is the canonical identity of a filesystem object: the (device,
// inode) pair where the platform supports it, or just the canonicalized
// path otherwise.
type key struct {
	dev, ino uint64
	path     string
	hasStat  bool
}

// registry is the process-global collection of known serials. byKey
// answers Find's lookups; entries keeps creation order (newest at the
// tail) so Release can locate an entry's neighbors.
type registry struct {
	mu      sync.RWMutex
	entries []*Serial
	byKey   map[key]*Serial
}

var global = &registry{
	byKey: make(map[key]*Serial),
}

// Find resolves path to its canonical key and returns the Serial shared
// by every other handle on the same file, creating one on first sight.
// The returned Serial's reference count is incremented; callers must
// call Release exactly once when they are done with it.
func Find(path string) (*Serial, error) {
	k, err := resolve(path)
	if err != nil {
		return nil, err
	}

	global.mu.RLock()
	if s, ok := global.byKey[k]; ok {
		global.mu.RUnlock()
		global.mu.Lock()
		s.refCount++
		global.mu.Unlock()
		return s, nil
	}
	global.mu.RUnlock()

	global.mu.Lock()
	defer global.mu.Unlock()

	// Another goroutine may have inserted it while we upgraded the lock.
	if s, ok := global.byKey[k]; ok {
		s.refCount++
		return s, nil
	}

	s := &Serial{
		key:            k,
		refCount:       1,
		Mutex:          &sync.RWMutex{},
		ExclusiveMutex: &sync.Mutex{},
	}
	global.entries = append(global.entries, s)
	global.byKey[k] = s
	return s, nil
}

// Release decrements s's reference count, unlinking it from the registry
// once the count reaches zero. Per spec.md §4.3, unlinking takes the
// exclusive side of the neighbors' own mutexes (in the deadlock-free
// order internal/lockutil provides) before swinging the links, so a
// thread concurrently holding a neighbor's mutex never observes a
// half-updated registry.
func Release(s *Serial) {
	global.mu.Lock()
	defer global.mu.Unlock()

	s.refCount--
	if s.refCount > 0 {
		return
	}

	i := -1
	for idx, e := range global.entries {
		if e == s {
			i = idx
			break
		}
	}
	if i == -1 {
		return
	}

	var neighbors []*sync.RWMutex
	if i > 0 {
		neighbors = append(neighbors, global.entries[i-1].Mutex)
	}
	if i < len(global.entries)-1 {
		neighbors = append(neighbors, global.entries[i+1].Mutex)
	}
	lockutil.LockAll(neighbors...)

	delete(global.byKey, s.key)
	global.entries = append(global.entries[:i], global.entries[i+1:]...)

	lockutil.UnlockAll(neighbors...)
}

// resolve canonicalizes path into a key. Where statKey reports a stable
// file key (inode+device) for the existing file, that is used; otherwise
// the absolute, cleaned path (symlinks not resolved) is the identity, per the module's
// "correctness does not depend on cross-platform file-key availability"
// contract.
func resolve(path string) (key, error) {
	abs, err := absClean(path)
	if err != nil {
		return key{}, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		// The file may not exist yet (first WAL/shm creation); identity
		// then falls back to the canonical path alone.
		return key{path: abs}, nil
	}

	if dev, ino, ok := statKey(info); ok {
		return key{dev: dev, ino: ino, hasStat: true}, nil
	}
	return key{path: abs}, nil
}
