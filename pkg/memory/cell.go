package memory

import "sync"

// Runtime-checked interior mutability
//
// A Cell lets holders of shared handles mutate a field. At any moment a
// cell allows either one exclusive access or any number of shared ones.
//
// - RefCell (SingleThreaded): a borrow-state flag. A conflicting access is
//   a logic error in the caller and panics with *BorrowError immediately.
// - MutexCell (ThreadSafe): a sync.RWMutex. A conflicting access blocks
//   until the outstanding one is released.
//
// TryBorrow/TryBorrowMut never panic or block on conflict; they return
// a *BorrowError instead.

// Cell is a runtime-checked mutable slot.
type Cell[T any] interface {
	// Borrow grants shared access.
	Borrow() *Ref[T]
	// BorrowMut grants exclusive access.
	BorrowMut() *RefMut[T]
	TryBorrow() (*Ref[T], error)
	TryBorrowMut() (*RefMut[T], error)
	Mode() Mode
}

// NewCell returns the cell implementation matching mode.
func NewCell[T any](mode Mode, value T) Cell[T] {
	if mode == ThreadSafe {
		return NewMutexCell(value)
	}
	return NewRefCell(value)
}

// Ref is an outstanding shared access.
type Ref[T any] struct {
	value   *T
	release func()
	done    bool
}

// Get returns a copy of the borrowed value.
func (r *Ref[T]) Get() T {
	if r.done {
		panic(ErrReleasedHandle)
	}
	return *r.value
}

// Release ends the access. Further calls are no-ops.
func (r *Ref[T]) Release() {
	if r.done {
		return
	}
	r.done = true
	r.release()
}

// RefMut is an outstanding exclusive access.
type RefMut[T any] struct {
	value   *T
	release func()
	done    bool
}

// Get returns a copy of the borrowed value.
func (r *RefMut[T]) Get() T {
	return *r.Ptr()
}

// Set overwrites the borrowed value.
func (r *RefMut[T]) Set(v T) {
	*r.Ptr() = v
}

// Ptr returns the borrowed value for in-place mutation. It must not be
// used after Release.
func (r *RefMut[T]) Ptr() *T {
	if r.done {
		panic(ErrReleasedHandle)
	}
	return r.value
}

// Release ends the access. Further calls are no-ops.
func (r *RefMut[T]) Release() {
	if r.done {
		return
	}
	r.done = true
	r.release()
}

// Replace stores v in c and returns the previous value.
func Replace[T any](c Cell[T], v T) T {
	m := c.BorrowMut()
	defer m.Release()
	old := m.Get()
	m.Set(v)
	return old
}

// Update runs fn with exclusive access to the value in c.
func Update[T any](c Cell[T], fn func(*T)) {
	m := c.BorrowMut()
	defer m.Release()
	fn(m.Ptr())
}

// Load returns a copy of the value in c under shared access.
func Load[T any](c Cell[T]) T {
	r := c.Borrow()
	defer r.Release()
	return r.Get()
}

// RefCell is the single-threaded Cell.
type RefCell[T any] struct {
	owner owner
	state int // > 0 shared readers, -1 exclusive, 0 free
	value T
}

// NewRefCell returns a cell owned by the calling goroutine.
func NewRefCell[T any](value T) *RefCell[T] {
	return &RefCell[T]{owner: newOwner(SingleThreaded), value: value}
}

// Mode is always SingleThreaded.
func (c *RefCell[T]) Mode() Mode { return SingleThreaded }

func (c *RefCell[T]) conflict(attempted AccessKind) *BorrowError {
	if c.state < 0 {
		return &BorrowError{Attempted: attempted, Outstanding: AccessExclusive}
	}
	return &BorrowError{Attempted: attempted, Outstanding: AccessShared, Readers: c.state}
}

// TryBorrow returns a *BorrowError if an exclusive access is outstanding.
func (c *RefCell[T]) TryBorrow() (*Ref[T], error) {
	c.owner.check()
	if c.state < 0 {
		return nil, c.conflict(AccessShared)
	}
	c.state++
	return &Ref[T]{value: &c.value, release: func() { c.state-- }}, nil
}

// TryBorrowMut returns a *BorrowError if any access is outstanding.
func (c *RefCell[T]) TryBorrowMut() (*RefMut[T], error) {
	c.owner.check()
	if c.state != 0 {
		return nil, c.conflict(AccessExclusive)
	}
	c.state = -1
	return &RefMut[T]{value: &c.value, release: func() { c.state = 0 }}, nil
}

// Borrow panics with *BorrowError if an exclusive access is outstanding.
func (c *RefCell[T]) Borrow() *Ref[T] {
	r, err := c.TryBorrow()
	if err != nil {
		panic(err)
	}
	return r
}

// BorrowMut panics with *BorrowError if any access is outstanding.
func (c *RefCell[T]) BorrowMut() *RefMut[T] {
	m, err := c.TryBorrowMut()
	if err != nil {
		panic(err)
	}
	return m
}

// Borrowed reports the outstanding access, if any.
func (c *RefCell[T]) Borrowed() (kind AccessKind, readers int, ok bool) {
	switch {
	case c.state < 0:
		return AccessExclusive, 0, true
	case c.state > 0:
		return AccessShared, c.state, true
	}
	return AccessShared, 0, false
}

// MutexCell is the thread-safe Cell.
type MutexCell[T any] struct {
	mu    sync.RWMutex
	value T
}

// NewMutexCell returns a cell any goroutine may borrow.
func NewMutexCell[T any](value T) *MutexCell[T] {
	return &MutexCell[T]{value: value}
}

// Mode is always ThreadSafe.
func (c *MutexCell[T]) Mode() Mode { return ThreadSafe }

// Borrow blocks while an exclusive access is outstanding.
func (c *MutexCell[T]) Borrow() *Ref[T] {
	c.mu.RLock()
	return &Ref[T]{value: &c.value, release: c.mu.RUnlock}
}

// BorrowMut blocks while any access is outstanding.
func (c *MutexCell[T]) BorrowMut() *RefMut[T] {
	c.mu.Lock()
	return &RefMut[T]{value: &c.value, release: c.mu.Unlock}
}

// TryBorrow returns a *BorrowError instead of waiting for a writer.
func (c *MutexCell[T]) TryBorrow() (*Ref[T], error) {
	if !c.mu.TryRLock() {
		return nil, &BorrowError{Attempted: AccessShared, Outstanding: AccessExclusive}
	}
	return &Ref[T]{value: &c.value, release: c.mu.RUnlock}, nil
}

// TryBorrowMut cannot tell shared from exclusive holders; the error
// reports the outstanding access as exclusive.
func (c *MutexCell[T]) TryBorrowMut() (*RefMut[T], error) {
	if !c.mu.TryLock() {
		return nil, &BorrowError{Attempted: AccessExclusive, Outstanding: AccessExclusive}
	}
	return &RefMut[T]{value: &c.value, release: c.mu.Unlock}, nil
}
