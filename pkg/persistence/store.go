package persistence

import (
	"context"
	"fmt"
)

// Store persists the whole Snapshot as a single unit. Implementations must
// replace the previous snapshot atomically on Save.
type Store interface {
	// Load returns the persisted snapshot. The boolean is false when nothing
	// has been saved yet, which is not an error. Any read or decode failure is
	// reported as *CorruptedError.
	Load(ctx context.Context) (*Snapshot, bool, error)
	// Save overwrites the persisted snapshot. Failures are reported as *WriteError.
	Save(ctx context.Context, snapshot *Snapshot) error
}

// Locker is implemented by stores shared between processes. Lock blocks until
// the lock is held or ctx is done.
type Locker interface {
	Lock(ctx context.Context) (unlock func(), err error)
}

// CorruptedError means the persisted snapshot exists but cannot be read back.
type CorruptedError struct {
	Err error
}

func (e *CorruptedError) Error() string {
	return fmt.Sprintf("store corrupted: %v", e.Err)
}

func (e *CorruptedError) Unwrap() error {
	return e.Err
}

// WriteError means the snapshot could not be persisted.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("store write failed: %v", e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Corrupted wraps err into a *CorruptedError.
func Corrupted(err error) error {
	return &CorruptedError{Err: err}
}

// WriteFailed wraps err into a *WriteError.
func WriteFailed(err error) error {
	return &WriteError{Err: err}
}
