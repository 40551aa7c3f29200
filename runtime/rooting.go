package runtime

import (
	"sync"

	"github.com/dop251/goja"
)

type slot uint32

// rootTable pins engine values so the host can refer to them across guard
// sections. Slots are 1-based; freed slots are recycled through a free
// list. Each root carries its own reference count, so several handles may
// alias one slot and release independently.
type rootTable struct {
	mu       sync.RWMutex
	entries  []rootEntry
	freeList []slot
	dead     bool
}

type rootEntry struct {
	value goja.Value
	refs  uint32
	valid bool
}

func newRootTable() *rootTable {
	return &rootTable{
		entries:  make([]rootEntry, 0, 16),
		freeList: make([]slot, 0, 8),
	}
}

// root pins a value and returns its slot with a reference count of one.
func (t *rootTable) root(v goja.Value) slot {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dead {
		return 0
	}

	e := rootEntry{value: v, refs: 1, valid: true}

	if len(t.freeList) > 0 {
		s := t.freeList[len(t.freeList)-1]
		t.freeList = t.freeList[:len(t.freeList)-1]
		t.entries[s-1] = e
		return s
	}

	t.entries = append(t.entries, e)
	return slot(len(t.entries))
}

// retain adds a reference to an existing slot.
func (t *rootTable) retain(s slot) bool {
	if s == 0 {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	idx := s - 1
	if int(idx) >= len(t.entries) {
		return false
	}
	e := &t.entries[idx]
	if !e.valid {
		return false
	}
	e.refs++
	return true
}

// release drops one reference; the slot is recycled when the count hits
// zero. Returns false for slots that are already free.
func (t *rootTable) release(s slot) bool {
	if s == 0 {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	idx := s - 1
	if int(idx) >= len(t.entries) {
		return false
	}
	e := &t.entries[idx]
	if !e.valid || e.refs == 0 {
		return false
	}

	e.refs--
	if e.refs == 0 {
		e.valid = false
		e.value = nil
		t.freeList = append(t.freeList, s)
	}
	return true
}

// get returns the pinned value for a slot.
func (t *rootTable) get(s slot) (goja.Value, bool) {
	if s == 0 {
		return nil, false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	idx := s - 1
	if int(idx) >= len(t.entries) {
		return nil, false
	}
	e := t.entries[idx]
	if !e.valid {
		return nil, false
	}
	return e.value, true
}

// alive reports whether a slot still holds a value. Needs only the table
// lock, never the engine guard.
func (t *rootTable) alive(s slot) bool {
	_, ok := t.get(s)
	return ok
}

// live returns the total outstanding reference count across all slots.
func (t *rootTable) live() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, e := range t.entries {
		if e.valid {
			n += int(e.refs)
		}
	}
	return n
}

// destroyAll invalidates every slot and marks the table dead so no new
// roots can be created. Returns the reference count that was forced out.
func (t *rootTable) destroyAll() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dead {
		return 0
	}
	t.dead = true

	n := 0
	for i := range t.entries {
		if t.entries[i].valid {
			n += int(t.entries[i].refs)
			t.entries[i].valid = false
			t.entries[i].value = nil
			t.entries[i].refs = 0
		}
	}
	t.entries = nil
	t.freeList = nil
	return n
}
