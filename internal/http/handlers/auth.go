package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/avoronova/accounthub/internal/auth"
	"github.com/avoronova/accounthub/internal/config"
	"github.com/avoronova/accounthub/internal/domain/account"
	"github.com/avoronova/accounthub/internal/http/middlewares"
	"github.com/avoronova/accounthub/internal/jobs"
	"github.com/avoronova/accounthub/internal/observability"
	"github.com/avoronova/accounthub/internal/repo/postgres"
	"github.com/avoronova/accounthub/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
)

// Registrar is the registration service boundary; tests fake it.
type Registrar interface {
	Register(ctx context.Context, in account.SignupInput) (account.Account, error)
}

type AccountReader interface {
	GetByID(ctx context.Context, id int64) (account.Account, error)
	GetByUsername(ctx context.Context, username string) (account.Account, error)
}

type JobEnqueuer interface {
	Create(ctx context.Context, req jobs.CreateRequest) (jobs.Job, error)
}

// RefreshTokenStore is the rotation surface of the refresh-token repo.
type RefreshTokenStore interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
	Create(ctx context.Context, tx pgx.Tx, row postgres.RefreshTokenRow) error
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (postgres.RefreshTokenRow, error)
	Revoke(ctx context.Context, tx pgx.Tx, id string, replacedBy *string) error
	RevokeAllForUser(ctx context.Context, tx pgx.Tx, userID int64) error
}

type AuthHandler struct {
	registrar    Registrar
	accounts     AccountReader
	jwt          *auth.Manager
	refreshStore RefreshTokenStore
	enqueuer     JobEnqueuer
	prom         *observability.Prom
	cfg          config.Config
}

func NewAuthHandler(registrar Registrar, accounts AccountReader, jwtManager *auth.Manager, refreshStore RefreshTokenStore, enqueuer JobEnqueuer, prom *observability.Prom, cfg config.Config) *AuthHandler {
	return &AuthHandler{
		registrar:    registrar,
		accounts:     accounts,
		jwt:          jwtManager,
		refreshStore: refreshStore,
		enqueuer:     enqueuer,
		prom:         prom,
		cfg:          cfg,
	}
}

// SignupRequest exposes exactly the three writable fields. Anything
// else in the body (roles, status, confirmed, id) is ignored by the
// binding; the registrar's rule table owns the deeper field rules.
type SignupRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AccountResponse is the public-readable projection of an account.
type AccountResponse struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

func toAccountResponse(acct account.Account) AccountResponse {
	return AccountResponse{
		ID:        acct.ID,
		Username:  acct.Username,
		Email:     acct.Email,
		Status:    string(acct.Status),
		CreatedAt: acct.CreatedAt,
	}
}

func (h *AuthHandler) observeSignup(outcome string) {
	if h.prom != nil {
		h.prom.SignupsTotal.WithLabelValues(outcome).Inc()
	}
}

// SignUp provisions a new account. It deliberately does not log the
// caller in; token issuance lives behind /auth/login.
func (h *AuthHandler) SignUp(ctx *gin.Context) {
	var req SignupRequest

	if !BindJSON(ctx, &req) {
		return
	}

	// hashing dominates the latency here, hence the generous budget
	cctx, cancel := config.WithTimeout(5 * time.Second)

	defer cancel()

	created, err := h.registrar.Register(cctx, account.SignupInput{
		Username: req.Username,
		Email:    req.Email,
		Password: account.NewSecret(req.Password),
	})

	if err != nil {
		var vErr *account.ValidationError

		if errors.As(err, &vErr) {
			h.observeSignup(signupOutcome(vErr))
			RespondUnprocessable(ctx, "Signup validation failed", gin.H{"fields": violationFields(vErr)})
			return
		}

		// everything else (including an unsupported algorithm tag,
		// which is operator misconfiguration) is opaque to the caller
		h.observeSignup("error")
		RespondInternal(ctx, "Could not create account")

		return
	}

	h.observeSignup("created")

	h.enqueueConfirmation(cctx, created, requestIDFrom(ctx))

	ctx.JSON(http.StatusCreated, toAccountResponse(created))
}

// signupOutcome separates taken-name rejections from field-rule ones in
// the metrics; both return 422 to the caller.
func signupOutcome(vErr *account.ValidationError) string {
	for _, v := range vErr.Violations {
		if v.Rule != "unique" {
			return "invalid"
		}
	}

	return "conflict"
}

func violationFields(vErr *account.ValidationError) []FieldError {
	fields := make([]FieldError, 0, len(vErr.Violations))

	for _, v := range vErr.Violations {
		fields = append(fields, FieldError{
			Field:   v.Field,
			Rule:    v.Rule,
			Message: v.Message,
		})
	}

	return fields
}

func (h *AuthHandler) enqueueConfirmation(ctx context.Context, acct account.Account, requestID string) {
	if h.enqueuer == nil {
		return
	}

	payload, err := jobs.EncodePayload(jobs.TypeConfirmationEmail, jobs.ConfirmationEmailPayload{
		AccountID: acct.ID,
		Username:  acct.Username,
		Email:     acct.Email,
		RequestID: requestID,
	})

	if err != nil {
		return
	}

	// the account exists either way; a lost email is recoverable
	_, _ = h.enqueuer.Create(ctx, jobs.CreateRequest{
		Type:    jobs.TypeConfirmationEmail,
		Payload: payload,
	})
}

func (h *AuthHandler) Login(ctx *gin.Context) {
	var req LoginRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()

	acct, err := h.accounts.GetByUsername(cctx, req.Username)
	if err != nil {
		RespondUnAuthorized(ctx, "invalid_credentials", "Username or password is incorrect.")
		return
	}

	err = security.CheckPassword(acct.Credential, req.Password)

	if err != nil {
		RespondUnAuthorized(ctx, "invalid_credentials", "Username or password is incorrect.")
		return
	}

	if !acct.CanAuthenticate() {
		RespondError(ctx, http.StatusForbidden, "account_locked", "This account cannot sign in.", nil)
		return
	}

	accessToken, err := h.jwt.GenerateAccessToken(acct)

	if err != nil {
		RespondInternal(ctx, "Could not generate access token")
		return
	}

	rawRefreshToken, jti, expiresAt, err := h.jwt.GenerateRefreshToken(acct)

	if err != nil {
		RespondInternal(ctx, "Could not generate refresh token")
		return
	}

	if err := h.storeRefreshToken(cctx, acct.ID, jti, rawRefreshToken, expiresAt); err != nil {
		RespondInternal(ctx, "Could not create session")
		return
	}

	h.setRefreshCookie(ctx, rawRefreshToken, expiresAt)

	ctx.JSON(http.StatusOK, gin.H{
		"accessToken": accessToken,
	})
}

// Refresh rotates the refresh token under a row lock.

func (h *AuthHandler) Refresh(ctx *gin.Context) {
	raw, err := ctx.Cookie(h.refreshCookieName())

	if err != nil || raw == "" {
		RespondUnAuthorized(ctx, "no_refresh", "Missing refresh token")
		return
	}

	claims, err := h.jwt.VerifyRefreshToken(raw)

	if err != nil {
		RespondUnAuthorized(ctx, "invalid_refresh", "Invalid refresh token")
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	tx, err := h.refreshStore.BeginTx(cctx)

	if err != nil {
		RespondInternal(ctx, "Could not refresh session")
		return
	}

	defer func() { _ = tx.Rollback(cctx) }()

	row, err := h.refreshStore.GetForUpdate(cctx, tx, claims.JTI)

	if err != nil {
		RespondUnAuthorized(ctx, "invalid_refresh", "Invalid refresh token")
		return
	}

	if row.RevokedAt != nil {
		RespondUnAuthorized(ctx, "invalid_refresh", "Invalid refresh token")
		return
	}

	if time.Now().UTC().After(row.ExpiresAt) {
		RespondUnAuthorized(ctx, "expired_refresh", "Refresh token expired.")
		return
	}

	// verify hash matches the presented token (prevents token substitution)

	if row.TokenHash != h.jwt.HashRefreshToken(raw) {
		RespondUnAuthorized(ctx, "invalid_refresh", "Invalid refresh token.")
		return
	}

	// the account may have been blocked since the token was minted

	acct, err := h.accounts.GetByID(cctx, row.UserID)

	if err != nil || !acct.CanAuthenticate() {
		RespondUnAuthorized(ctx, "invalid_refresh", "Invalid refresh token")
		return
	}

	newRaw, newJTI, newExpiresAt, err := h.jwt.GenerateRefreshToken(acct)
	if err != nil {
		RespondInternal(ctx, "Could not refresh session")
		return
	}

	// revoke old, insert new

	err = h.refreshStore.Revoke(cctx, tx, row.ID, &newJTI)

	if err != nil {
		RespondInternal(ctx, "Could not refresh session")
		return
	}

	newRow := postgres.RefreshTokenRow{
		ID:        newJTI,
		UserID:    row.UserID,
		TokenHash: h.jwt.HashRefreshToken(newRaw),
		ExpiresAt: newExpiresAt,
		CreatedAt: time.Now().UTC(),
	}

	err = h.refreshStore.Create(cctx, tx, newRow)

	if err != nil {
		RespondInternal(ctx, "Could not refresh session")
		return
	}

	err = tx.Commit(cctx)

	if err != nil {
		RespondInternal(ctx, "Could not refresh session")
		return
	}

	accessToken, err := h.jwt.GenerateAccessToken(acct)
	if err != nil {
		RespondInternal(ctx, "Could not generate access token")
		return
	}

	h.setRefreshCookie(ctx, newRaw, newExpiresAt)

	ctx.JSON(http.StatusOK, gin.H{
		"accessToken": accessToken,
	})
}

func (h *AuthHandler) Logout(ctx *gin.Context) {
	raw, err := ctx.Cookie(h.refreshCookieName())

	if err != nil || raw == "" {
		// still clear cookie to be safe
		h.clearRefreshCookie(ctx)
		ctx.Status(http.StatusNoContent)
		return
	}

	claims, err := h.jwt.VerifyRefreshToken(raw)
	if err != nil {
		h.clearRefreshCookie(ctx)
		ctx.Status(http.StatusNoContent)
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	tx, err := h.refreshStore.BeginTx(cctx)
	if err != nil {
		h.clearRefreshCookie(ctx)
		ctx.Status(http.StatusNoContent)
		return
	}
	defer func() { _ = tx.Rollback(cctx) }()

	// revoke that one token (idempotent)
	_ = h.refreshStore.Revoke(cctx, tx, claims.JTI, nil)
	_ = tx.Commit(cctx)

	h.clearRefreshCookie(ctx)
	ctx.Status(http.StatusNoContent)
}

// LogoutAll revokes every live refresh token of the authenticated
// account, ending its sessions on all devices.
func (h *AuthHandler) LogoutAll(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Authentication required")
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	tx, err := h.refreshStore.BeginTx(cctx)

	if err != nil {
		RespondInternal(ctx, "Could not end sessions")
		return
	}

	defer func() { _ = tx.Rollback(cctx) }()

	if err := h.refreshStore.RevokeAllForUser(cctx, tx, userID); err != nil {
		RespondInternal(ctx, "Could not end sessions")
		return
	}

	if err := tx.Commit(cctx); err != nil {
		RespondInternal(ctx, "Could not end sessions")
		return
	}

	h.clearRefreshCookie(ctx)
	ctx.Status(http.StatusNoContent)
}

// Helper functions

func (h *AuthHandler) storeRefreshToken(ctx context.Context, userID int64, jti, raw string, expiresAt time.Time) error {
	tx, err := h.refreshStore.BeginTx(ctx)

	if err != nil {
		return err
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	row := postgres.RefreshTokenRow{
		ID:        jti,
		UserID:    userID,
		TokenHash: h.jwt.HashRefreshToken(raw),
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}

	err = h.refreshStore.Create(ctx, tx, row)

	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (h *AuthHandler) refreshCookieName() string {
	return "refresh_token"
}

func (h *AuthHandler) setRefreshCookie(ctx *gin.Context, raw string, expiresAt time.Time) {
	secure := h.cfg.Env == "prod"

	maxAge := int(time.Until(expiresAt).Seconds())

	ctx.SetSameSite(http.SameSiteStrictMode)

	ctx.SetCookie(
		h.refreshCookieName(),
		raw,
		maxAge,
		"/auth",
		"",
		secure,
		true, // HttpOnly.
	)
}

func (h *AuthHandler) clearRefreshCookie(ctx *gin.Context) {
	secure := h.cfg.Env == "prod"
	ctx.SetSameSite(http.SameSiteStrictMode)
	ctx.SetCookie(
		h.refreshCookieName(),
		"",
		-1,
		"/auth",
		"",
		secure,
		true,
	)
}
