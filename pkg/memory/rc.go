package memory

import (
	"sync/atomic"
	"unsafe"
)

// Shared ownership with strong and weak counts
//
// One allocation holds a value plus two counters:
// - strong: live Strong handles. The value is valid while strong > 0.
// - weak:   live Weak handles, plus one implicit weak reference held
//           collectively by the strong handles while strong > 0.
//
// Lifecycle:
// - strong 1 -> 0: the value is dropped (drop hooks, Dropper.Drop, then
//   the stored value is zeroed), then the implicit weak reference is
//   released.
// - weak   1 -> 0: the allocation is freed. Weak handles can no longer
//   observe it and nothing refers to it.
//
// Cycles built only from strong handles never reach strong 0. That is a
// leak, not a bug in this package: break cycles with a Weak edge.

// Dropper is implemented by values that release resources of their own
// when their last strong handle goes away.
type Dropper interface {
	Drop()
}

// Option configures an allocation.
type Option[T any] func(*allocation[T])

// WithDropHook registers fn to run with the value when it is dropped,
// before Dropper.Drop.
func WithDropHook[T any](fn func(T)) Option[T] {
	return func(a *allocation[T]) {
		a.hooks = append(a.hooks, fn)
	}
}

type allocation[T any] struct {
	mode   Mode
	owner  owner
	strong counter
	weak   counter
	// implicit is set while the strong handles still hold their shared
	// weak reference, including while the value is being dropped.
	implicit atomic.Bool
	freed    atomic.Bool
	value    T
	hooks    []func(T)
}

// Alloc places value in a new allocation and returns the first strong
// handle to it (strong_count = 1, weak_count = 0).
func Alloc[T any](mode Mode, value T, opts ...Option[T]) *Strong[T] {
	a := &allocation[T]{
		mode:   mode,
		owner:  newOwner(mode),
		strong: newCounter(mode, 1),
		weak:   newCounter(mode, 1),
		value:  value,
	}
	a.implicit.Store(true)
	for _, opt := range opts {
		opt(a)
	}
	return &Strong[T]{alloc: a}
}

// NewRc allocates in SingleThreaded mode.
func NewRc[T any](value T, opts ...Option[T]) *Strong[T] {
	return Alloc(SingleThreaded, value, opts...)
}

// NewArc allocates in ThreadSafe mode.
func NewArc[T any](value T, opts ...Option[T]) *Strong[T] {
	return Alloc(ThreadSafe, value, opts...)
}

func (a *allocation[T]) strongCount() int64 {
	return a.strong.load()
}

func (a *allocation[T]) weakCount() int64 {
	w := a.weak.load()
	if a.implicit.Load() && w > 0 {
		w--
	}
	return w
}

func (a *allocation[T]) releaseStrong() bool {
	if a.strong.add(-1) != 0 {
		return false
	}
	a.drop()
	a.implicit.Store(false)
	a.releaseWeak()
	return true
}

func (a *allocation[T]) releaseWeak() bool {
	if a.weak.add(-1) != 0 {
		return false
	}
	a.freed.Store(true)
	return true
}

// drop runs exactly once, on the release that took strong to zero.
func (a *allocation[T]) drop() {
	for _, hook := range a.hooks {
		hook(a.value)
	}
	if d, ok := any(&a.value).(Dropper); ok {
		d.Drop()
	} else if d, ok := any(a.value).(Dropper); ok {
		d.Drop()
	}
	var zero T
	a.value = zero
	a.hooks = nil
}

// Identity is a comparable token for an allocation. Two handles have
// equal identities when they refer to the same allocation.
type Identity struct {
	p unsafe.Pointer
}

func unsafeAlloc[T any](a *allocation[T]) unsafe.Pointer {
	return unsafe.Pointer(a)
}

// Strong is an owning handle. Each handle must be released once.
type Strong[T any] struct {
	alloc    *allocation[T]
	released atomic.Bool
}

func (s *Strong[T]) live() *allocation[T] {
	if s.released.Load() {
		panic(ErrReleasedHandle)
	}
	s.alloc.owner.check()
	return s.alloc
}

// Clone retains another strong reference to the same allocation.
func (s *Strong[T]) Clone() *Strong[T] {
	a := s.live()
	a.strong.add(1)
	return &Strong[T]{alloc: a}
}

// Release gives up this handle's strong reference. It reports whether
// this release dropped the value. Releasing a handle twice is a no-op.
func (s *Strong[T]) Release() bool {
	s.alloc.owner.check()
	if !s.released.CompareAndSwap(false, true) {
		return false
	}
	return s.alloc.releaseStrong()
}

// Get returns a copy of the stored value.
func (s *Strong[T]) Get() T {
	return s.live().value
}

// Ptr returns a pointer to the stored value. It is valid only while this
// handle is unreleased.
func (s *Strong[T]) Ptr() *T {
	return &s.live().value
}

// Downgrade creates a weak handle to the same allocation.
func (s *Strong[T]) Downgrade() *Weak[T] {
	a := s.live()
	a.weak.add(1)
	return &Weak[T]{alloc: a}
}

// Same reports whether both handles refer to the same allocation.
func (s *Strong[T]) Same(other *Strong[T]) bool {
	return other != nil && s.alloc == other.alloc
}

// Identity returns the comparable token of the allocation.
func (s *Strong[T]) Identity() Identity {
	return Identity{p: unsafeAlloc(s.alloc)}
}

// Mode reports how the allocation synchronises its counters.
func (s *Strong[T]) Mode() Mode { return s.alloc.mode }

// Released reports whether Release has been called on this handle.
func (s *Strong[T]) Released() bool { return s.released.Load() }

// StrongCount returns the number of live strong references.
func (s *Strong[T]) StrongCount() int64 { return s.alloc.strongCount() }

// WeakCount returns the number of live weak references, excluding the
// one the strong handles hold together.
func (s *Strong[T]) WeakCount() int64 { return s.alloc.weakCount() }

// Dropped reports whether the value has been destroyed (strong == 0).
func (s *Strong[T]) Dropped() bool { return s.alloc.strongCount() == 0 }

// Freed reports whether the allocation itself is gone (strong == weak == 0).
func (s *Strong[T]) Freed() bool { return s.alloc.freed.Load() }
