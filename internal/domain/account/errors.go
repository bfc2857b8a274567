package account

import "errors"

var (
	ErrNotFound = errors.New("account not found")

	// Uniqueness conflicts. Repos map unique-constraint violations to
	// these so a registration race reports the duplicated field instead
	// of a raw database error.
	ErrUsernameTaken = errors.New("username already taken")
	ErrEmailTaken    = errors.New("email already taken")

	// ErrNotPersisted guards operations that need a store-assigned ID,
	// like token enrichment.
	ErrNotPersisted = errors.New("account has no persisted identifier")
)
