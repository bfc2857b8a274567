package accounts_test

import (
	"context"
	"errors"
	"testing"

	"github.com/avoronova/accounthub/internal/accounts"
	"github.com/avoronova/accounthub/internal/domain/account"
	"github.com/avoronova/accounthub/internal/security"
)

// fake store implementing the accounts.Store interface

type fakeStore struct {
	createFn        func(ctx context.Context, acct account.Account) (account.Account, error)
	getByUsernameFn func(ctx context.Context, username string) (account.Account, error)
	getByEmailFn    func(ctx context.Context, email string) (account.Account, error)
}

func (f *fakeStore) Create(ctx context.Context, acct account.Account) (account.Account, error) {
	if f.createFn != nil {
		return f.createFn(ctx, acct)
	}

	acct.ID = 1
	return acct, nil
}

func (f *fakeStore) GetByUsername(ctx context.Context, username string) (account.Account, error) {
	if f.getByUsernameFn != nil {
		return f.getByUsernameFn(ctx, username)
	}

	return account.Account{}, account.ErrNotFound
}

func (f *fakeStore) GetByEmail(ctx context.Context, email string) (account.Account, error) {
	if f.getByEmailFn != nil {
		return f.getByEmailFn(ctx, email)
	}

	return account.Account{}, account.ErrNotFound
}

func validInput(password string) account.SignupInput {
	return account.SignupInput{
		Username: "anna",
		Email:    "anna@example.com",
		Password: account.NewSecret(password),
	}
}

func TestRegister_Success(t *testing.T) {
	var stored account.Account

	store := &fakeStore{
		createFn: func(ctx context.Context, acct account.Account) (account.Account, error) {
			stored = acct
			acct.ID = 42
			return acct, nil
		},
	}

	r := accounts.NewRegistrar(store)

	in := validInput("s3cret")

	created, err := r.Register(context.Background(), in)

	if err != nil {
		t.Fatalf("Register error: %v", err)
	}

	if created.ID != 42 {
		t.Fatalf("expected the store-assigned id, got %d", created.ID)
	}

	if created.Status != account.StatusNew {
		t.Fatalf("expected status new, got %q", created.Status)
	}

	if stored.Credential == "" || stored.Credential == "s3cret" {
		t.Fatalf("credential must be a hash, got %q", stored.Credential)
	}

	if err := security.CheckPassword(stored.Credential, "s3cret"); err != nil {
		t.Fatalf("stored hash does not verify: %v", err)
	}

	if !in.Password.Consumed() {
		t.Fatalf("plaintext secret must be consumed")
	}
}

func TestRegister_ValidationFailure(t *testing.T) {
	createCalled := false

	store := &fakeStore{
		createFn: func(ctx context.Context, acct account.Account) (account.Account, error) {
			createCalled = true
			return acct, nil
		},
	}

	r := accounts.NewRegistrar(store)

	in := account.SignupInput{
		Username: "ab",
		Email:    "nope",
		Password: account.NewSecret(""),
	}

	_, err := r.Register(context.Background(), in)

	var vErr *account.ValidationError

	if !errors.As(err, &vErr) {
		t.Fatalf("expected *account.ValidationError, got %v", err)
	}

	// one violation per failed field
	if len(vErr.Violations) != 3 {
		t.Fatalf("expected 3 violations, got %v", vErr.Violations)
	}

	if createCalled {
		t.Fatalf("store must not be touched on invalid input")
	}

	// the rejected plaintext is wiped too
	if !in.Password.Consumed() {
		t.Fatalf("plaintext secret must be consumed on the failure path")
	}
}

func TestRegister_DuplicatePreCheck(t *testing.T) {
	store := &fakeStore{
		getByUsernameFn: func(ctx context.Context, username string) (account.Account, error) {
			return account.Account{ID: 7, Username: username}, nil
		},
	}

	r := accounts.NewRegistrar(store)

	_, err := r.Register(context.Background(), validInput("s3cret"))

	var vErr *account.ValidationError

	if !errors.As(err, &vErr) {
		t.Fatalf("expected *account.ValidationError, got %v", err)
	}

	if len(vErr.Violations) != 1 || vErr.Violations[0].Rule != "unique" || vErr.Violations[0].Field != "username" {
		t.Fatalf("expected a username/unique violation, got %v", vErr.Violations)
	}
}

func TestRegister_DuplicateAtCommit(t *testing.T) {
	// pre-checks pass, the unique constraint fires on insert
	store := &fakeStore{
		createFn: func(ctx context.Context, acct account.Account) (account.Account, error) {
			return account.Account{}, account.ErrEmailTaken
		},
	}

	r := accounts.NewRegistrar(store)

	_, err := r.Register(context.Background(), validInput("s3cret"))

	var vErr *account.ValidationError

	if !errors.As(err, &vErr) {
		t.Fatalf("expected *account.ValidationError, got %v", err)
	}

	if len(vErr.Violations) != 1 || vErr.Violations[0].Field != "email" {
		t.Fatalf("expected an email/unique violation, got %v", vErr.Violations)
	}
}

func TestRegister_StoreErrorPassesThrough(t *testing.T) {
	dbErr := errors.New("connection reset")

	store := &fakeStore{
		createFn: func(ctx context.Context, acct account.Account) (account.Account, error) {
			return account.Account{}, dbErr
		},
	}

	r := accounts.NewRegistrar(store)

	_, err := r.Register(context.Background(), validInput("s3cret"))

	if !errors.Is(err, dbErr) {
		t.Fatalf("expected the store error, got %v", err)
	}
}
