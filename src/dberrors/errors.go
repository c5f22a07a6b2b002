// Package dberrors defines the sentinel error kinds raised by the storage
// engine. Callers compare with errors.Is; wrapped errors carry the
// underlying cause via %w so the original I/O error is never lost.
package dberrors

import (
	"errors"
	"fmt"
)

// ErrInvalidOffset is raised when a stored offset is non-aligned, negative
// (other than NoOffset), or lies past end of file.
var ErrInvalidOffset = errors.New("dberrors: invalid page offset")

// ErrEndOfFile is raised when a linked-page read stops short of the
// record's declared payload size.
var ErrEndOfFile = errors.New("dberrors: unexpected end of file")

// ErrInvalidBTree is raised when a structural invariant is violated
// during inspection (free-list cycle, duplicate page reference, bad
// page size, revision mismatch).
var ErrInvalidBTree = errors.New("dberrors: invalid btree structure")

// ErrKeyNotFound is informational: engine.Tree and the inspector return
// it, wrapped, for a tree name that is not managed. Get and Delete
// report an absent key through their boolean result instead. It is
// never fatal and never rolls back a write transaction.
var ErrKeyNotFound = errors.New("dberrors: key not found")

// ErrDuplicateValueNotAllowed is raised inserting an existing (K,V) pair
// into a tree opened without duplicates allowed; causes a rollback.
var ErrDuplicateValueNotAllowed = errors.New("dberrors: duplicate value not allowed")

// ErrBTreeAlreadyManaged is raised by Manage when the tree name is
// already registered in the BoB.
var ErrBTreeAlreadyManaged = errors.New("dberrors: btree already managed")

// ErrBTreeCreation is raised when tree configuration is invalid, e.g. a
// missing serializer.
var ErrBTreeCreation = errors.New("dberrors: invalid btree configuration")

// ErrIOError wraps a lower layer I/O failure. In a write transaction this
// triggers rollback; in a read transaction it closes the reader.
var ErrIOError = errors.New("dberrors: i/o error")

// ErrStaleRead names a read through a ReadTransaction that its
// wall-clock timeout has closed. No function in this module returns it:
// a closed ReadTransaction keeps serving its pinned headers.
var ErrStaleRead = errors.New("dberrors: read transaction closed (stale)")

// ErrClosed names an operation on a Pager or Store after Close. No
// function in this module returns it; such an operation fails with the
// underlying file error, wrapped as ErrIOError.
var ErrClosed = errors.New("dberrors: storage engine closed")

// Wrap annotates err with the given kind sentinel and message, preserving
// errors.Is/errors.Unwrap chains to both.
func Wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// WrapIO wraps a lower-layer I/O error as ErrIOError while preserving the
// original cause for errors.Is/errors.As.
func WrapIO(cause error, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %w", ErrIOError, fmt.Sprintf(format, args...), cause)
}
