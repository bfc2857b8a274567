package db

import (
	"context"
	"errors"

	"github.com/avoronova/accounthub/internal/config"
	"github.com/avoronova/accounthub/internal/domain/account"
	"github.com/avoronova/accounthub/internal/security"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureAdminAccount seeds the operator account from config. It goes
// through the same hasher as a real signup; only the role differs.
func EnsureAdminAccount(ctx context.Context, pool *pgxpool.Pool, cfg config.Config) error {
	if cfg.AdminUsername == "" || cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return nil
	}

	// check if the account exists

	var dummy int64

	err := pool.QueryRow(ctx, `SELECT id FROM users WHERE email = $1`, cfg.AdminEmail).Scan(&dummy)

	if err == nil {
		return nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	acct := account.New(cfg.AdminUsername, cfg.AdminEmail)
	acct.AddRole("ROLE_ADMIN")
	acct.Status = account.StatusActive
	acct.Confirmed = true

	hash, err := security.HashPassword(cfg.AdminPassword, acct.Algorithm)

	if err != nil {
		return err
	}

	acct.Credential = hash

	_, err = pool.Exec(ctx,
		`INSERT INTO users (username, email, credential, credential_algorithm, roles, status, confirmed, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`,
		acct.Username, acct.Email, acct.Credential, string(acct.Algorithm), acct.Roles, string(acct.Status), acct.Confirmed, acct.CreatedAt,
	)

	return err
}
