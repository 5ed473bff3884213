package memory

import "sync/atomic"

// Weak is a non-owning handle. It keeps the allocation observable but
// not the value alive; use Upgrade to reach the value.
type Weak[T any] struct {
	alloc    *allocation[T]
	released atomic.Bool
}

// Upgrade returns a new strong handle when the value is still alive.
// It returns (nil, false) once the value has been dropped, and for a
// weak handle that has itself been released. No counter changes on
// failure.
func (w *Weak[T]) Upgrade() (*Strong[T], bool) {
	w.alloc.owner.check()
	if w.released.Load() {
		return nil, false
	}
	if !w.alloc.strong.incIfPositive() {
		return nil, false
	}
	return &Strong[T]{alloc: w.alloc}, true
}

// Clone retains another weak reference to the same allocation.
func (w *Weak[T]) Clone() *Weak[T] {
	w.alloc.owner.check()
	if w.released.Load() {
		panic(ErrReleasedHandle)
	}
	w.alloc.weak.add(1)
	return &Weak[T]{alloc: w.alloc}
}

// Release gives up this weak reference. It reports whether this release
// freed the allocation. Releasing a handle twice is a no-op.
func (w *Weak[T]) Release() bool {
	w.alloc.owner.check()
	if !w.released.CompareAndSwap(false, true) {
		return false
	}
	return w.alloc.releaseWeak()
}

// Same reports whether both weak handles refer to the same allocation.
func (w *Weak[T]) Same(other *Weak[T]) bool {
	return other != nil && w.alloc == other.alloc
}

// Points reports whether w observes the allocation s owns.
func (w *Weak[T]) Points(s *Strong[T]) bool {
	return s != nil && w.alloc == s.alloc
}

// Identity returns the comparable token of the allocation.
func (w *Weak[T]) Identity() Identity {
	return Identity{p: unsafeAlloc(w.alloc)}
}

// Mode reports how the allocation synchronises its counters.
func (w *Weak[T]) Mode() Mode { return w.alloc.mode }

// Released reports whether Release has been called on this handle.
func (w *Weak[T]) Released() bool { return w.released.Load() }

// StrongCount returns the number of live strong references.
func (w *Weak[T]) StrongCount() int64 { return w.alloc.strongCount() }

// WeakCount returns the number of live weak references, this one included.
func (w *Weak[T]) WeakCount() int64 { return w.alloc.weakCount() }

// Dropped reports whether the value has been destroyed.
func (w *Weak[T]) Dropped() bool { return w.alloc.strongCount() == 0 }

// Freed reports whether every strong and weak reference is gone.
func (w *Weak[T]) Freed() bool { return w.alloc.freed.Load() }
