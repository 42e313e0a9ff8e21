package types

import "errors"

// Error taxonomy for catalog operations. Callers branch with errors.Is;
// components wrap these with context using fmt.Errorf and %w.
var (
	// ErrParse indicates a metadata document that could not be decoded as
	// the expected structural shape. Local to one candidate during a scan.
	ErrParse = errors.New("metadata parse error")

	// ErrScan indicates an unreadable subtree during a volume walk.
	// Local to that subtree, never fatal to the cycle.
	ErrScan = errors.New("volume scan error")

	// ErrValidation indicates ingestion input missing required structure.
	ErrValidation = errors.New("validation error")

	// ErrNotFound is returned when a uid, path or annotation lookup misses.
	ErrNotFound = errors.New("not found")

	// ErrInvalidFilterField is returned when a filter references a field
	// outside the enumerated allow-list.
	ErrInvalidFilterField = errors.New("invalid filter field")

	// ErrStoreUnavailable indicates the relational backend is unreachable.
	ErrStoreUnavailable = errors.New("metadata store unavailable")

	// ErrConstraintViolation indicates a duplicate key collision that was
	// not caught by the upsert's own pre-check.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrAnnotationsUnavailable is returned by stores that have no
	// relational backend to persist annotations in.
	ErrAnnotationsUnavailable = errors.New("annotations unavailable without a relational store")
)
