package storage

import (
	"fmt"
	"sort"
)

// Atomic wraps a Database with buffered-write semantics so a sequence of
// writes either lands entirely or not at all. Components bound to the Atomic
// see their own staged writes immediately; the underlying database is only
// touched on Commit.
//
// Atomic is not safe for concurrent use; callers serialise access the same
// way they serialise engine calls.
type Atomic struct {
	base    Database
	pending map[string]stagedValue
	open    bool
}

type stagedValue struct {
	value   []byte
	deleted bool
}

// NewAtomic wraps the provided database.
func NewAtomic(base Database) *Atomic {
	return &Atomic{base: base}
}

// Begin opens a staging buffer. Nested transactions are not supported.
func (a *Atomic) Begin() error {
	if a.open {
		return fmt.Errorf("storage: transaction already open")
	}
	a.pending = make(map[string]stagedValue)
	a.open = true
	return nil
}

// Commit flushes all staged writes to the underlying database in key order
// and closes the buffer.
func (a *Atomic) Commit() error {
	if !a.open {
		return fmt.Errorf("storage: no open transaction")
	}
	keys := make([]string, 0, len(a.pending))
	for key := range a.pending {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		staged := a.pending[key]
		if staged.deleted {
			if err := a.base.Delete([]byte(key)); err != nil {
				return err
			}
			continue
		}
		if err := a.base.Put([]byte(key), staged.value); err != nil {
			return err
		}
	}
	a.pending = nil
	a.open = false
	return nil
}

// Rollback discards all staged writes. Calling Rollback without an open
// transaction is a no-op so callers can defer it unconditionally.
func (a *Atomic) Rollback() {
	a.pending = nil
	a.open = false
}

func (a *Atomic) Put(key []byte, value []byte) error {
	if !a.open {
		return a.base.Put(key, value)
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	a.pending[string(key)] = stagedValue{value: buf}
	return nil
}

func (a *Atomic) Get(key []byte) ([]byte, error) {
	if a.open {
		if staged, ok := a.pending[string(key)]; ok {
			if staged.deleted {
				return nil, ErrNotFound
			}
			out := make([]byte, len(staged.value))
			copy(out, staged.value)
			return out, nil
		}
	}
	return a.base.Get(key)
}

func (a *Atomic) Delete(key []byte) error {
	if !a.open {
		return a.base.Delete(key)
	}
	a.pending[string(key)] = stagedValue{deleted: true}
	return nil
}

func (a *Atomic) Close() {
	a.base.Close()
}
