package postgres

import (
	"context"
	"errors"

	"github.com/avoronova/accounthub/internal/domain/account"
	"github.com/avoronova/accounthub/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AccountsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewAccountsRepo(pool *pgxpool.Pool, prom *observability.Prom) *AccountsRepo {
	return &AccountsRepo{pool: pool, prom: prom}
}

func (r *AccountsRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

const accountColumns = `id, username, email, credential, credential_algorithm, roles, status, confirmed, created_at, updated_at`

// Create inserts the account and returns it with its assigned id.
// The unique constraints on username and email are the arbiter for
// concurrent registrations; a 23505 comes back as the matching
// account.Err*Taken sentinel.
func (r *AccountsRepo) Create(ctx context.Context, acct account.Account) (account.Account, error) {
	err := r.observe("accounts.create", func() error {
		return r.pool.QueryRow(ctx, `
		INSERT INTO users (username, email, credential, credential_algorithm, roles, status, confirmed, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id
	`,
			acct.Username,
			acct.Email,
			acct.Credential,
			string(acct.Algorithm),
			acct.Roles,
			string(acct.Status),
			acct.Confirmed,
			acct.CreatedAt,
		).Scan(&acct.ID)
	})

	if err != nil {
		var pgErr *pgconn.PgError

		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			switch pgErr.ConstraintName {
			case "users_username_uniq":
				return account.Account{}, account.ErrUsernameTaken
			case "users_email_uniq":
				return account.Account{}, account.ErrEmailTaken
			}
		}

		return account.Account{}, err
	}

	return acct, nil
}

func (r *AccountsRepo) GetByID(ctx context.Context, id int64) (account.Account, error) {
	return r.getBy(ctx, "accounts.get_by_id", `WHERE id = $1`, id)
}

func (r *AccountsRepo) GetByUsername(ctx context.Context, username string) (account.Account, error) {
	return r.getBy(ctx, "accounts.get_by_username", `WHERE username = $1`, username)
}

func (r *AccountsRepo) GetByEmail(ctx context.Context, email string) (account.Account, error) {
	return r.getBy(ctx, "accounts.get_by_email", `WHERE email = $1`, email)
}

func (r *AccountsRepo) getBy(ctx context.Context, op, where string, arg any) (account.Account, error) {
	var (
		acct   account.Account
		algo   string
		status string
	)

	err := r.observe(op, func() error {
		return r.pool.QueryRow(ctx,
			`SELECT `+accountColumns+` FROM users `+where,
			arg,
		).Scan(
			&acct.ID,
			&acct.Username,
			&acct.Email,
			&acct.Credential,
			&algo,
			&acct.Roles,
			&status,
			&acct.Confirmed,
			&acct.CreatedAt,
			&acct.UpdatedAt,
		)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return account.Account{}, account.ErrNotFound
		}

		return account.Account{}, err
	}

	// Reject out-of-set values at the scan boundary.
	if acct.Status, err = account.ParseStatus(status); err != nil {
		return account.Account{}, err
	}

	if acct.Algorithm, err = account.ParseAlgorithm(algo); err != nil {
		return account.Account{}, err
	}

	return acct, nil
}
