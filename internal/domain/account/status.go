package account

import "fmt"

type Status string

const (
	StatusNew     Status = "new"
	StatusActive  Status = "active"
	StatusDeleted Status = "deleted"
	StatusBlocked Status = "blocked"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusNew, StatusActive, StatusDeleted, StatusBlocked:
		return true
	default:
		return false
	}
}

// ParseStatus rejects anything outside the closed status set, so a bad
// value coming back from the store surfaces at scan time instead of
// leaking into handlers.
func ParseStatus(s string) (Status, error) {
	st := Status(s)

	if !st.IsValid() {
		return "", fmt.Errorf("invalid account status %q", s)
	}

	return st, nil
}

// Algorithm tags which hashing scheme produced an account's credential.
type Algorithm string

const (
	// AlgorithmArgon2id is the only supported scheme today.
	AlgorithmArgon2id Algorithm = "argon2id"
)

func (a Algorithm) IsValid() bool {
	return a == AlgorithmArgon2id
}

func ParseAlgorithm(s string) (Algorithm, error) {
	a := Algorithm(s)

	if !a.IsValid() {
		return "", fmt.Errorf("invalid credential algorithm %q", s)
	}

	return a, nil
}
