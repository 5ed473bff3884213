package memory

import (
	"fmt"
	"sync/atomic"
)

// Mode selects how an allocation synchronises its counters and cells.
//
// SingleThreaded: plain integer counters, flag-checked cells, and every
// handle operation must come from the goroutine that allocated the value.
// ThreadSafe: atomic counters, a CAS loop for upgrade, RWMutex cells.
type Mode int

const (
	SingleThreaded Mode = iota
	ThreadSafe
)

func (m Mode) String() string {
	switch m {
	case SingleThreaded:
		return "single"
	case ThreadSafe:
		return "threadsafe"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode maps a configuration string onto a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "single", "single-threaded", "rc":
		return SingleThreaded, nil
	case "threadsafe", "thread-safe", "arc":
		return ThreadSafe, nil
	}
	return 0, fmt.Errorf("unknown memory mode %q", s)
}

// counter is one of the two per-allocation reference counters.
type counter interface {
	load() int64
	add(delta int64) int64
	// incIfPositive increments only while the count is above zero and
	// reports whether it did.
	incIfPositive() bool
}

func newCounter(mode Mode, initial int64) counter {
	if mode == ThreadSafe {
		c := &atomicCounter{}
		c.n.Store(initial)
		return c
	}
	return &plainCounter{n: initial}
}

type plainCounter struct {
	n int64
}

func (c *plainCounter) load() int64 { return c.n }

func (c *plainCounter) add(delta int64) int64 {
	c.n += delta
	return checkCount(c.n)
}

func (c *plainCounter) incIfPositive() bool {
	if c.n <= 0 {
		return false
	}
	c.n++
	return true
}

type atomicCounter struct {
	n atomic.Int64
}

func (c *atomicCounter) load() int64 { return c.n.Load() }

func (c *atomicCounter) add(delta int64) int64 {
	return checkCount(c.n.Add(delta))
}

func (c *atomicCounter) incIfPositive() bool {
	for {
		n := c.n.Load()
		if n <= 0 {
			return false
		}
		if c.n.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func checkCount(n int64) int64 {
	if n < 0 {
		panic(fmt.Errorf("invalid ref count %d", n))
	}
	return n
}
