package approval

import "sync"

// KeyedMutex serializes work per expense id. Entries are reference counted
// and dropped when the last holder unlocks, so the map stays bounded by the
// number of expenses being mutated right now.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[ExpenseID]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// Lock blocks until the caller holds id. The returned func releases it.
func (k *KeyedMutex) Lock(id ExpenseID) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[ExpenseID]*keyedEntry)
	}
	e, ok := k.locks[id]
	if !ok {
		e = &keyedEntry{}
		k.locks[id] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
