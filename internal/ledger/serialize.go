package ledger

import (
	"context"
	"sort"
	"sync"
)

type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*sync.Mutex)}
}

func (t *lockTable) get(id string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.locks[id]
	if !ok {
		m = &sync.Mutex{}
		t.locks[id] = m
	}
	return m
}

// Serialize runs fn while holding the lock of every listed account. Locks are
// taken in sorted order so two callers sharing accounts cannot deadlock.
// Take the locks before opening the storage transaction.
func (l *Ledger) Serialize(ctx context.Context, accountIDs []string, fn func() error) error {
	ids := uniqueSorted(accountIDs)
	held := make([]*sync.Mutex, 0, len(ids))
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}()
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		m := l.locks.get(id)
		m.Lock()
		held = append(held, m)
	}
	return fn()
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, id := range in {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
