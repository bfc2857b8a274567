package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/avoronova/accounthub/internal/auth"
	"github.com/avoronova/accounthub/internal/config"
	"github.com/avoronova/accounthub/internal/domain/account"
	"github.com/avoronova/accounthub/internal/http/handlers"
	"github.com/avoronova/accounthub/internal/http/middlewares"
	"github.com/avoronova/accounthub/internal/jobs"
	"github.com/avoronova/accounthub/internal/repo/postgres"
	"github.com/avoronova/accounthub/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
)

// Make sure Gin does not spam the console during the test

func init() {
	gin.SetMode(gin.TestMode)
}

// Fake implementations of the handler interfaces

type fakeRegistrar struct {
	registerFn func(ctx context.Context, in account.SignupInput) (account.Account, error)
}

func (f *fakeRegistrar) Register(ctx context.Context, in account.SignupInput) (account.Account, error) {
	if f.registerFn != nil {
		return f.registerFn(ctx, in)
	}

	return account.Account{}, nil
}

type fakeAccountReader struct {
	getByIDFn       func(ctx context.Context, id int64) (account.Account, error)
	getByUsernameFn func(ctx context.Context, username string) (account.Account, error)
}

func (f *fakeAccountReader) GetByID(ctx context.Context, id int64) (account.Account, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}

	return account.Account{}, account.ErrNotFound
}

func (f *fakeAccountReader) GetByUsername(ctx context.Context, username string) (account.Account, error) {
	if f.getByUsernameFn != nil {
		return f.getByUsernameFn(ctx, username)
	}

	return account.Account{}, account.ErrNotFound
}

type fakeEnqueuer struct {
	created []jobs.CreateRequest
	fail    bool
}

func (f *fakeEnqueuer) Create(ctx context.Context, req jobs.CreateRequest) (jobs.Job, error) {
	if f.fail {
		return jobs.Job{}, errors.New("queue unavailable")
	}

	f.created = append(f.created, req)

	return jobs.New(req)
}

func testJWTManager() *auth.Manager {
	return auth.NewManager("test-secret", "accounthub", 15*time.Minute, 7*24*time.Hour)
}

// fake refresh-token store; the embedded pgx.Tx stays nil, only
// Commit/Rollback are ever called on the fake transaction

type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.rolledBack = true
	return nil
}

type fakeRefreshStore struct {
	rows       map[string]postgres.RefreshTokenRow
	revokedAll []int64
	lastTx     *fakeTx
}

func newFakeRefreshStore() *fakeRefreshStore {
	return &fakeRefreshStore{rows: map[string]postgres.RefreshTokenRow{}}
}

func (f *fakeRefreshStore) BeginTx(ctx context.Context) (pgx.Tx, error) {
	f.lastTx = &fakeTx{}
	return f.lastTx, nil
}

func (f *fakeRefreshStore) Create(ctx context.Context, tx pgx.Tx, row postgres.RefreshTokenRow) error {
	f.rows[row.ID] = row
	return nil
}

func (f *fakeRefreshStore) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (postgres.RefreshTokenRow, error) {
	row, ok := f.rows[id]

	if !ok {
		return postgres.RefreshTokenRow{}, postgres.ErrRefreshTokenNotFound
	}

	return row, nil
}

func (f *fakeRefreshStore) Revoke(ctx context.Context, tx pgx.Tx, id string, replacedBy *string) error {
	row, ok := f.rows[id]

	if !ok {
		return nil
	}

	now := time.Now().UTC()
	row.RevokedAt = &now
	row.ReplacedBy = replacedBy
	f.rows[id] = row

	return nil
}

func (f *fakeRefreshStore) RevokeAllForUser(ctx context.Context, tx pgx.Tx, userID int64) error {
	f.revokedAll = append(f.revokedAll, userID)
	return nil
}

// small helper function which returns the gin engine to mount one handler per test

func setupRouter(method, path string, h gin.HandlerFunc) *gin.Engine {
	r := gin.New()

	r.Handle(method, path, h)

	return r
}

func newAuthHandler(reg handlers.Registrar, accounts handlers.AccountReader, enqueuer handlers.JobEnqueuer) *handlers.AuthHandler {
	return handlers.NewAuthHandler(reg, accounts, testJWTManager(), nil, enqueuer, nil, config.Config{Env: "test"})
}

func newAuthHandlerWithStore(accounts handlers.AccountReader, store handlers.RefreshTokenStore) *handlers.AuthHandler {
	return handlers.NewAuthHandler(&fakeRegistrar{}, accounts, testJWTManager(), store, &fakeEnqueuer{}, nil, config.Config{Env: "test"})
}

func refreshCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()

	res := &http.Response{Header: w.Header()}

	for _, c := range res.Cookies() {
		if c.Name == "refresh_token" {
			return c
		}
	}

	return nil
}

// Sign up tests

func TestSignUpHandler(t *testing.T) {
	persisted := func(in account.SignupInput) account.Account {
		acct := account.New(in.Username, in.Email)
		acct.ID = 42
		return acct
	}

	tests := []struct {
		name           string
		body           string
		registrarSetUp func(*fakeRegistrar)
		wantStatusCode int
		wantJobs       int
	}{
		{
			name: "success",
			body: `{"username":"anna","email":"anna@example.com","password":"s3cret"}`,
			registrarSetUp: func(f *fakeRegistrar) {
				f.registerFn = func(ctx context.Context, in account.SignupInput) (account.Account, error) {
					return persisted(in), nil
				}
			},
			wantStatusCode: http.StatusCreated,
			wantJobs:       1,
		},
		{
			// the binding catches a missing field before the registrar runs
			name:           "missing_password",
			body:           `{"username":"anna","email":"anna@example.com"}`,
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name: "domain_validation_failed",
			body: `{"username":"ab","email":"anna@example.com","password":"s3cret"}`,
			registrarSetUp: func(f *fakeRegistrar) {
				f.registerFn = func(ctx context.Context, in account.SignupInput) (account.Account, error) {
					return account.Account{}, &account.ValidationError{Violations: []account.Violation{
						{Field: "username", Rule: "length", Message: "must be between 3 and 25 characters"},
					}}
				}
			},
			wantStatusCode: http.StatusUnprocessableEntity,
		},
		{
			name: "duplicate_username",
			body: `{"username":"anna","email":"anna@example.com","password":"s3cret"}`,
			registrarSetUp: func(f *fakeRegistrar) {
				f.registerFn = func(ctx context.Context, in account.SignupInput) (account.Account, error) {
					return account.Account{}, &account.ValidationError{Violations: []account.Violation{
						account.Duplicate("username"),
					}}
				}
			},
			wantStatusCode: http.StatusUnprocessableEntity,
		},
		{
			name: "store_error",
			body: `{"username":"anna","email":"anna@example.com","password":"s3cret"}`,
			registrarSetUp: func(f *fakeRegistrar) {
				f.registerFn = func(ctx context.Context, in account.SignupInput) (account.Account, error) {
					return account.Account{}, errors.New("db down")
				}
			},
			wantStatusCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			reg := &fakeRegistrar{}

			if tt.registrarSetUp != nil {
				tt.registrarSetUp(reg)
			}

			enqueuer := &fakeEnqueuer{}

			h := newAuthHandler(reg, &fakeAccountReader{}, enqueuer)

			r := setupRouter(http.MethodPost, "/signup", h.SignUp)

			req := httptest.NewRequest(http.MethodPost, "/signup", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}

			if len(enqueuer.created) != tt.wantJobs {
				t.Fatalf("enqueued %d jobs, want %d", len(enqueuer.created), tt.wantJobs)
			}
		})
	}
}

func TestSignUpHandler_ResponseOmitsCredential(t *testing.T) {
	reg := &fakeRegistrar{
		registerFn: func(ctx context.Context, in account.SignupInput) (account.Account, error) {
			acct := account.New(in.Username, in.Email)
			acct.ID = 42
			acct.Credential = "$argon2id$..."
			return acct, nil
		},
	}

	h := newAuthHandler(reg, &fakeAccountReader{}, &fakeEnqueuer{})
	r := setupRouter(http.MethodPost, "/signup", h.SignUp)

	body := `{"username":"anna","email":"anna@example.com","password":"s3cret"}`
	req := httptest.NewRequest(http.MethodPost, "/signup", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
	}

	var resp map[string]any

	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}

	if resp["id"] != float64(42) {
		t.Fatalf("id = %v, want 42", resp["id"])
	}

	if resp["status"] != "new" {
		t.Fatalf("status = %v, want new", resp["status"])
	}

	for _, forbidden := range []string{"credential", "password", "roles", "confirmed"} {
		if _, ok := resp[forbidden]; ok {
			t.Fatalf("response leaks %q: %s", forbidden, w.Body.String())
		}
	}
}

func TestSignUpHandler_EnqueueFailureStillCreates(t *testing.T) {
	reg := &fakeRegistrar{
		registerFn: func(ctx context.Context, in account.SignupInput) (account.Account, error) {
			acct := account.New(in.Username, in.Email)
			acct.ID = 42
			return acct, nil
		},
	}

	h := newAuthHandler(reg, &fakeAccountReader{}, &fakeEnqueuer{fail: true})
	r := setupRouter(http.MethodPost, "/signup", h.SignUp)

	body := `{"username":"anna","email":"anna@example.com","password":"s3cret"}`
	req := httptest.NewRequest(http.MethodPost, "/signup", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	// a broken queue must not fail the registration
	if w.Code != http.StatusCreated {
		t.Fatalf("got status %d, want 201, body=%s", w.Code, w.Body.String())
	}
}

func TestSignUpHandler_ConfirmationJobPayload(t *testing.T) {
	reg := &fakeRegistrar{
		registerFn: func(ctx context.Context, in account.SignupInput) (account.Account, error) {
			acct := account.New(in.Username, in.Email)
			acct.ID = 42
			return acct, nil
		},
	}

	enqueuer := &fakeEnqueuer{}
	h := newAuthHandler(reg, &fakeAccountReader{}, enqueuer)
	r := setupRouter(http.MethodPost, "/signup", h.SignUp)

	body := `{"username":"anna","email":"anna@example.com","password":"s3cret"}`
	req := httptest.NewRequest(http.MethodPost, "/signup", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
	}

	if len(enqueuer.created) != 1 {
		t.Fatalf("expected one enqueued job, got %d", len(enqueuer.created))
	}

	created := enqueuer.created[0]

	if created.Type != jobs.TypeConfirmationEmail {
		t.Fatalf("job type = %q", created.Type)
	}

	var payload jobs.ConfirmationEmailPayload

	if err := json.Unmarshal(created.Payload, &payload); err != nil {
		t.Fatalf("payload unmarshal: %v", err)
	}

	if payload.AccountID != 42 || payload.Email != "anna@example.com" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

// Login tests (the storage-backed happy path needs a database; these
// cover the credential and status gates in front of it)

func TestLoginHandler_Failures(t *testing.T) {
	hash, err := security.HashPassword("right password", account.AlgorithmArgon2id)

	if err != nil {
		t.Fatalf("HashPassword error: %v", err)
	}

	withAccount := func(status account.Status) *fakeAccountReader {
		return &fakeAccountReader{
			getByUsernameFn: func(ctx context.Context, username string) (account.Account, error) {
				acct := account.New(username, "anna@example.com")
				acct.ID = 42
				acct.Credential = hash
				acct.Status = status
				return acct, nil
			},
		}
	}

	tests := []struct {
		name           string
		body           string
		accounts       *fakeAccountReader
		wantStatusCode int
	}{
		{
			name:           "unknown_user",
			body:           `{"username":"ghost","password":"whatever"}`,
			accounts:       &fakeAccountReader{},
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "wrong_password",
			body:           `{"username":"anna","password":"wrong password"}`,
			accounts:       withAccount(account.StatusActive),
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "blocked_account",
			body:           `{"username":"anna","password":"right password"}`,
			accounts:       withAccount(account.StatusBlocked),
			wantStatusCode: http.StatusForbidden,
		},
		{
			name:           "deleted_account",
			body:           `{"username":"anna","password":"right password"}`,
			accounts:       withAccount(account.StatusDeleted),
			wantStatusCode: http.StatusForbidden,
		},
		{
			name:           "missing_fields",
			body:           `{"username":"anna"}`,
			accounts:       &fakeAccountReader{},
			wantStatusCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			h := newAuthHandler(&fakeRegistrar{}, tt.accounts, &fakeEnqueuer{})

			r := setupRouter(http.MethodPost, "/auth/login", h.Login)

			req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}
		})
	}
}

func activeAccount(t *testing.T, id int64, password string) account.Account {
	t.Helper()

	hash, err := security.HashPassword(password, account.AlgorithmArgon2id)

	if err != nil {
		t.Fatalf("HashPassword error: %v", err)
	}

	acct := account.New("anna", "anna@example.com")
	acct.ID = id
	acct.Credential = hash
	acct.Status = account.StatusActive

	return acct
}

func TestLoginHandler_IssuesSession(t *testing.T) {
	acct := activeAccount(t, 42, "right password")

	accounts := &fakeAccountReader{
		getByUsernameFn: func(ctx context.Context, username string) (account.Account, error) {
			return acct, nil
		},
	}

	store := newFakeRefreshStore()
	h := newAuthHandlerWithStore(accounts, store)
	r := setupRouter(http.MethodPost, "/auth/login", h.Login)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString(`{"username":"anna","password":"right password"}`))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
	}

	var resp map[string]any

	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if resp["accessToken"] == "" || resp["accessToken"] == nil {
		t.Fatalf("missing accessToken in %s", w.Body.String())
	}

	cookie := refreshCookie(t, w)

	if cookie == nil {
		t.Fatal("refresh cookie was not set")
	}

	if cookie.Path != "/auth" || !cookie.HttpOnly {
		t.Fatalf("cookie attributes: path=%q httpOnly=%v", cookie.Path, cookie.HttpOnly)
	}

	if len(store.rows) != 1 {
		t.Fatalf("stored %d refresh rows, want 1", len(store.rows))
	}

	for _, row := range store.rows {
		if row.UserID != 42 {
			t.Fatalf("row.UserID = %d, want 42", row.UserID)
		}

		// only a keyed hash of the token is persisted
		if row.TokenHash != testJWTManager().HashRefreshToken(cookie.Value) {
			t.Fatal("stored hash does not match the issued cookie")
		}
	}

	if store.lastTx == nil || !store.lastTx.committed {
		t.Fatal("refresh-token insert was not committed")
	}
}

func TestRefreshHandler_RotatesToken(t *testing.T) {
	acct := activeAccount(t, 42, "right password")

	accounts := &fakeAccountReader{
		getByIDFn: func(ctx context.Context, id int64) (account.Account, error) {
			if id != 42 {
				return account.Account{}, account.ErrNotFound
			}
			return acct, nil
		},
	}

	mgr := testJWTManager()
	raw, jti, expiresAt, err := mgr.GenerateRefreshToken(acct)

	if err != nil {
		t.Fatalf("GenerateRefreshToken error: %v", err)
	}

	store := newFakeRefreshStore()
	store.rows[jti] = postgres.RefreshTokenRow{
		ID:        jti,
		UserID:    42,
		TokenHash: mgr.HashRefreshToken(raw),
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}

	h := newAuthHandlerWithStore(accounts, store)
	r := setupRouter(http.MethodPost, "/auth/refresh", h.Refresh)

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: raw})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
	}

	old := store.rows[jti]

	if old.RevokedAt == nil {
		t.Fatal("old refresh row was not revoked")
	}

	if old.ReplacedBy == nil {
		t.Fatal("old refresh row does not point at its replacement")
	}

	replacement, ok := store.rows[*old.ReplacedBy]

	if !ok {
		t.Fatalf("replacement row %q was not created", *old.ReplacedBy)
	}

	cookie := refreshCookie(t, w)

	if cookie == nil {
		t.Fatal("new refresh cookie was not set")
	}

	if cookie.Value == raw {
		t.Fatal("refresh token was not rotated")
	}

	if replacement.TokenHash != mgr.HashRefreshToken(cookie.Value) {
		t.Fatal("replacement hash does not match the new cookie")
	}

	if !store.lastTx.committed {
		t.Fatal("rotation was not committed")
	}
}

func TestRefreshHandler_RejectsRevokedOrForeignToken(t *testing.T) {
	acct := activeAccount(t, 42, "right password")

	accounts := &fakeAccountReader{
		getByIDFn: func(ctx context.Context, id int64) (account.Account, error) {
			return acct, nil
		},
	}

	mgr := testJWTManager()
	raw, jti, expiresAt, err := mgr.GenerateRefreshToken(acct)

	if err != nil {
		t.Fatalf("GenerateRefreshToken error: %v", err)
	}

	tests := []struct {
		name  string
		setUp func(*fakeRefreshStore)
	}{
		{
			// a rotated-out token must stay dead
			name: "revoked_row",
			setUp: func(s *fakeRefreshStore) {
				now := time.Now().UTC()
				s.rows[jti] = postgres.RefreshTokenRow{
					ID: jti, UserID: 42, TokenHash: mgr.HashRefreshToken(raw),
					ExpiresAt: expiresAt, RevokedAt: &now,
				}
			},
		},
		{
			name:  "unknown_jti",
			setUp: func(s *fakeRefreshStore) {},
		},
		{
			// valid JWT, but the stored hash belongs to a different token
			name: "hash_mismatch",
			setUp: func(s *fakeRefreshStore) {
				s.rows[jti] = postgres.RefreshTokenRow{
					ID: jti, UserID: 42, TokenHash: mgr.HashRefreshToken("something else"),
					ExpiresAt: expiresAt,
				}
			},
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			store := newFakeRefreshStore()
			tt.setUp(store)

			h := newAuthHandlerWithStore(accounts, store)
			r := setupRouter(http.MethodPost, "/auth/refresh", h.Refresh)

			req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
			req.AddCookie(&http.Cookie{Name: "refresh_token", Value: raw})

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("got status %d, want 401, body=%s", w.Code, w.Body.String())
			}
		})
	}
}

func TestLogoutAllHandler(t *testing.T) {
	store := newFakeRefreshStore()

	h := newAuthHandlerWithStore(&fakeAccountReader{}, store)

	guard := middlewares.NewAuthMiddleware(testJWTManager())

	r := gin.New()
	r.POST("/auth/logout_all", guard.RequireAuth(), h.LogoutAll)

	t.Run("revokes_every_session", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/auth/logout_all", nil)
		req.Header.Set("Authorization", bearerToken(t, storedAccount(42)))

		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusNoContent {
			t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
		}

		if len(store.revokedAll) != 1 || store.revokedAll[0] != 42 {
			t.Fatalf("revokedAll = %v, want [42]", store.revokedAll)
		}

		if !store.lastTx.committed {
			t.Fatal("revocation was not committed")
		}

		cookie := refreshCookie(t, w)

		if cookie == nil || cookie.Value != "" || cookie.MaxAge >= 0 {
			t.Fatalf("refresh cookie was not cleared: %+v", cookie)
		}
	})

	t.Run("requires_authentication", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/auth/logout_all", nil)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Fatalf("got status %d, want 401", w.Code)
		}

		if len(store.revokedAll) != 1 {
			t.Fatalf("unauthenticated request must not revoke sessions, revokedAll = %v", store.revokedAll)
		}
	})
}
