package memory

import (
	"errors"
	"fmt"
)

var (
	// ErrBorrowConflict reports an access to a cell that is incompatible
	// with an access already outstanding.
	ErrBorrowConflict = errors.New("cell already borrowed")

	// ErrCrossGoroutine reports use of a single-threaded handle or cell
	// from a goroutine other than the one that created it.
	ErrCrossGoroutine = errors.New("single-threaded value used from another goroutine")

	// ErrReleasedHandle reports use of a strong handle after Release.
	ErrReleasedHandle = errors.New("use of released handle")
)

// AccessKind is the kind of access held on or requested from a cell.
type AccessKind int

const (
	AccessShared AccessKind = iota
	AccessExclusive
)

func (k AccessKind) String() string {
	if k == AccessExclusive {
		return "exclusive"
	}
	return "shared"
}

// BorrowError describes a rejected cell access.
type BorrowError struct {
	Attempted   AccessKind
	Outstanding AccessKind
	Readers     int // outstanding shared accesses, when Outstanding is shared
}

func (e *BorrowError) Error() string {
	if e.Outstanding == AccessShared {
		return fmt.Sprintf("%s: %s access requested while %d shared access(es) outstanding",
			ErrBorrowConflict, e.Attempted, e.Readers)
	}
	return fmt.Sprintf("%s: %s access requested while exclusive access outstanding",
		ErrBorrowConflict, e.Attempted)
}

func (e *BorrowError) Unwrap() error { return ErrBorrowConflict }

// crossGoroutineError carries the goroutine ids for the panic message.
func crossGoroutineError(owner, current int64) error {
	return fmt.Errorf("%w: owner goroutine %d, current goroutine %d", ErrCrossGoroutine, owner, current)
}
