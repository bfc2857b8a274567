package account

import (
	"strings"
	"time"
)

// RoleDefault is carried by every account. It is never written to the
// store and cannot be removed.
const RoleDefault = "ROLE_USER"

type Account struct {
	ID         int64      `json:"id"`
	Username   string     `json:"username"`
	Email      string     `json:"email"`
	Credential string     `json:"-"` // never expose the hash in JSON
	Algorithm  Algorithm  `json:"-"`
	Roles      []string   `json:"roles,omitempty"`
	Status     Status     `json:"status"`
	Confirmed  bool       `json:"confirmed"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  *time.Time `json:"updatedAt,omitempty"`
}

// New returns an unpersisted account in its initial state. The store
// assigns the ID on insert.
func New(username, email string) Account {
	return Account{
		Username:  username,
		Email:     email,
		Algorithm: AlgorithmArgon2id,
		Status:    StatusNew,
		Confirmed: false,
		CreatedAt: time.Now().UTC(),
	}
}

// NormalizeRole is the single case policy for role tags: upper-case on
// the way in, so add/remove/has and the default-role check all agree.
func NormalizeRole(role string) string {
	return strings.ToUpper(strings.TrimSpace(role))
}

// EffectiveRoles is the stored set plus the implicit default role.
func (a Account) EffectiveRoles() []string {
	out := make([]string, 0, len(a.Roles)+1)
	seen := map[string]bool{}

	for _, r := range a.Roles {
		r = NormalizeRole(r)
		if r == "" || r == RoleDefault || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}

	return append(out, RoleDefault)
}

func (a *Account) AddRole(role string) {
	role = NormalizeRole(role)

	if role == "" || role == RoleDefault {
		return
	}

	for _, r := range a.Roles {
		if NormalizeRole(r) == role {
			return
		}
	}

	a.Roles = append(a.Roles, role)
}

func (a *Account) RemoveRole(role string) {
	role = NormalizeRole(role)

	kept := a.Roles[:0]

	for _, r := range a.Roles {
		if NormalizeRole(r) != role {
			kept = append(kept, r)
		}
	}

	a.Roles = kept
}

func (a Account) HasRole(role string) bool {
	role = NormalizeRole(role)

	for _, r := range a.EffectiveRoles() {
		if r == role {
			return true
		}
	}

	return false
}

// CanAuthenticate reports whether the account may log in at all.
// Blocked and deleted accounts are locked out regardless of credentials.
func (a Account) CanAuthenticate() bool {
	return a.Status == StatusNew || a.Status == StatusActive
}
