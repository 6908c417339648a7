package report

import (
	"fmt"

	"golang.org/x/xerrors"
)

// ErrNotFound is returned when no scan report exists for a key. Unlike a
// missing persisted state it is never part of the normal flow.
var ErrNotFound = xerrors.New("scan report not found")

// MalformedError is returned when a scan report exists but cannot be decoded.
type MalformedError struct {
	Reason string
	Err    error
}

func (e *MalformedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("malformed scan report: %s", e.Reason)
	}
	return fmt.Sprintf("malformed scan report: %s: %v", e.Reason, e.Err)
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}

func malformed(reason string, err error) error {
	return &MalformedError{Reason: reason, Err: err}
}
