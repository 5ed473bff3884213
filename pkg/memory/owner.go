package memory

import "github.com/petermattis/goid"

// owner pins single-threaded values to the goroutine that created them.
// The zero value (ThreadSafe) never checks.
type owner struct {
	id int64
}

func newOwner(mode Mode) owner {
	if mode != SingleThreaded {
		return owner{}
	}
	return owner{id: goid.Get()}
}

// check panics when called from a goroutine other than the owner.
func (o owner) check() {
	if o.id == 0 {
		return
	}
	if cur := goid.Get(); cur != o.id {
		panic(crossGoroutineError(o.id, cur))
	}
}
