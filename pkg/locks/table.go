// Package locks provides a table of exclusive locks keyed by entry id.
//
// Acquisition honors context cancellation. An entry of the table is released as
// soon as no goroutine holds or waits for its lock, so the table does not grow
// with the number of entries ever locked.
package locks

import (
	"context"
	"sync"
)

// Unlock releases a lock obtained from a Table
type Unlock func()

type entry struct {
	ch   chan struct{}
	refs int
}

// Table is an explicit map of exclusive locks. The zero value is not usable: use NewTable.
type Table struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewTable builds an empty lock table
func NewTable() *Table {
	return &Table{entries: make(map[string]*entry)}
}

// Lock acquires the lock for key, or returns the context error
func (t *Table) Lock(ctx context.Context, key string) (Unlock, error) {
	t.mu.Lock()
	e, ok := t.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		t.entries[key] = e
	}
	e.refs++
	t.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		t.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			t.release(key, e)
		})
	}, nil
}

func (t *Table) release(key string, e *entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(t.entries, key)
	}
}

// Len returns the number of keys currently held or waited for
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
