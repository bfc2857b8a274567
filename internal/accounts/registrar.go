package accounts

import (
	"context"
	"errors"

	"github.com/avoronova/accounthub/internal/domain/account"
	"github.com/avoronova/accounthub/internal/security"
)

// Store is the slice of the account store the registrar needs.
// Create must enforce username/email uniqueness atomically and report
// conflicts with the account.Err*Taken sentinels.
type Store interface {
	Create(ctx context.Context, acct account.Account) (account.Account, error)
	GetByUsername(ctx context.Context, username string) (account.Account, error)
	GetByEmail(ctx context.Context, email string) (account.Account, error)
}

type Registrar struct {
	store Store
}

func NewRegistrar(store Store) *Registrar {
	return &Registrar{store: store}
}

// Register validates the candidate, hashes its password and persists the
// account in status new. On any failure nothing is persisted and the
// plaintext secret is already consumed by the time the hash exists.
//
// Error kinds:
//   - *account.ValidationError for field rules and duplicates (also for
//     a uniqueness race detected at commit time);
//   - security.ErrUnsupportedAlgorithm for a bad algorithm tag, which is
//     an operator fault and deliberately not a field error.
func (r *Registrar) Register(ctx context.Context, in account.SignupInput) (account.Account, error) {
	violations := account.ValidateSignup(in)

	violations = append(violations, r.uniquenessViolations(ctx, in)...)

	if len(violations) > 0 {
		// the plaintext must not outlive the operation on any path
		_, _ = in.Password.Consume()
		return account.Account{}, &account.ValidationError{Violations: violations}
	}

	acct := account.New(in.Username, in.Email)

	plain, err := in.Password.Consume()

	if err != nil {
		return account.Account{}, err
	}

	// Consume wiped the secret; plain lives only for this call.
	hash, err := security.HashPassword(plain, acct.Algorithm)

	if err != nil {
		return account.Account{}, err
	}

	acct.Credential = hash

	created, err := r.store.Create(ctx, acct)

	if err != nil {
		// Two registrations can pass the pre-checks concurrently; the
		// store's unique constraints are the actual arbiter.
		if dup, ok := duplicateViolation(err); ok {
			return account.Account{}, &account.ValidationError{Violations: []account.Violation{dup}}
		}

		return account.Account{}, err
	}

	return created, nil
}

func (r *Registrar) uniquenessViolations(ctx context.Context, in account.SignupInput) []account.Violation {
	var out []account.Violation

	if _, err := r.store.GetByUsername(ctx, in.Username); err == nil {
		out = append(out, account.Duplicate("username"))
	}

	if _, err := r.store.GetByEmail(ctx, in.Email); err == nil {
		out = append(out, account.Duplicate("email"))
	}

	return out
}

func duplicateViolation(err error) (account.Violation, bool) {
	switch {
	case errors.Is(err, account.ErrUsernameTaken):
		return account.Duplicate("username"), true
	case errors.Is(err, account.ErrEmailTaken):
		return account.Duplicate("email"), true
	default:
		return account.Violation{}, false
	}
}
