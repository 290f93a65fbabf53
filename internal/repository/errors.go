package repository

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrDuplicate indicates a unique constraint rejected the write.
	ErrDuplicate = errors.New("repository: duplicate")
	// ErrVersionConflict indicates an optimistic-concurrency guard failed.
	ErrVersionConflict = errors.New("repository: version conflict")
	// ErrInconsistent indicates stored data violates an invariant the schema
	// should have enforced, e.g. two accepted records for one pair.
	ErrInconsistent = errors.New("repository: inconsistent data")
)
