package store

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// ErrNotFound is returned when a page does not exist. It is an expected outcome, not a storage failure.
var ErrNotFound = errors.New("page not found")

// ErrStorage matches every *StorageError via errors.Is.
var ErrStorage = errors.New("storage error")

// StorageError wraps any connectivity, constraint or transaction failure of the backing database. Transient and
// permanent faults are not distinguished.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: pkgerrors.WithStack(err)}
}
