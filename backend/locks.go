package backend

import "sync"

// lockTable grants exclusive in-process ownership of names.
type lockTable struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newLockTable() *lockTable {
	return &lockTable{held: make(map[string]struct{})}
}

// acquire takes key or fails with ErrLocked if it is already held.
func (t *lockTable) acquire(key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.held[key]; ok {
		return ErrLocked
	}
	t.held[key] = struct{}{}
	return nil
}

func (t *lockTable) release(key string) {
	t.mu.Lock()
	delete(t.held, key)
	t.mu.Unlock()
}
