package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/avoronova/accounthub/internal/cache"
	"github.com/avoronova/accounthub/internal/config"
	"github.com/avoronova/accounthub/internal/domain/account"
	"github.com/avoronova/accounthub/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

type AccountsHandler struct {
	accounts AccountReader
	cache    *cache.Cache[account.Account]
}

func NewAccountsHandler(accounts AccountReader) *AccountsHandler {
	return &AccountsHandler{
		accounts: accounts,
		cache:    cache.New[account.Account](10 * time.Second),
	}
}

// adminAccountResponse includes fields the public projection hides.
type adminAccountResponse struct {
	ID        int64      `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	Roles     []string   `json:"roles"`
	Status    string     `json:"status"`
	Confirmed bool       `json:"confirmed"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

func toAdminAccountResponse(acct account.Account) adminAccountResponse {
	return adminAccountResponse{
		ID:        acct.ID,
		Username:  acct.Username,
		Email:     acct.Email,
		Roles:     acct.EffectiveRoles(),
		Status:    string(acct.Status),
		Confirmed: acct.Confirmed,
		CreatedAt: acct.CreatedAt,
		UpdatedAt: acct.UpdatedAt,
	}
}

// Me returns the authenticated caller's own account.
func (h *AccountsHandler) Me(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Authentication required")
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	acct, err := h.accounts.GetByID(cctx, userID)

	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			// valid token for a deleted row
			RespondUnAuthorized(ctx, "unauthorized", "Authentication required")
			return
		}

		RespondInternal(ctx, "Could not load account")
		return
	}

	ctx.JSON(http.StatusOK, toAccountResponse(acct))
}

// GetByID serves the admin view of any account, cached briefly.
func (h *AccountsHandler) GetByID(ctx *gin.Context) {
	idStr := ctx.Param("id")

	id, err := strconv.ParseInt(idStr, 10, 64)

	if err != nil || id <= 0 {
		RespondBadRequest(ctx, "Invalid account id", nil)
		return
	}

	if acct, ok := h.cache.Get(idStr); ok {
		ctx.JSON(http.StatusOK, toAdminAccountResponse(acct))
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	acct, err := h.accounts.GetByID(cctx, id)

	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			RespondNotFound(ctx, "Account not found")
			return
		}

		RespondInternal(ctx, "Could not load account")
		return
	}

	h.cache.Set(idStr, acct)

	ctx.JSON(http.StatusOK, toAdminAccountResponse(acct))
}
