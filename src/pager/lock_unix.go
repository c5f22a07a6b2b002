//go:build unix

package pager

import (
	"os"

	"golang.org/x/sys/unix"

	"mvccstore/src/dberrors"
)

// fileLock wraps an advisory flock(2) on the backing file, guarding
// against a second OS process opening the same file as a writer. It is
// strictly a diagnostic guard: the in-process writer mutex remains the
// mechanism that serializes WriteTransactions within this engine.
type fileLock struct {
	fd int
}

func lockFile(f *os.File) (*fileLock, error) {
	fd := int(f.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return nil, dberrors.Wrap(dberrors.ErrIOError, "another process holds the storage file lock: %v", err)
	}
	return &fileLock{fd: fd}, nil
}

func (l *fileLock) unlock() error {
	if l == nil {
		return nil
	}
	return unix.Flock(l.fd, unix.LOCK_UN)
}
