package account

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"
)

const (
	UsernameMinLen = 3
	UsernameMaxLen = 25
	PasswordMinLen = 3
	PasswordMaxLen = 100
)

// Violation is one failed field rule. Callers render these verbatim, so
// every violation names the exact field and rule that failed.
type Violation struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationError carries one Violation per failed rule.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return "validation failed"
	}

	parts := make([]string, 0, len(e.Violations))

	for _, v := range e.Violations {
		parts = append(parts, v.Field+": "+v.Message)
	}

	return "validation failed: " + strings.Join(parts, "; ")
}

// SignupInput is the only writable surface a caller gets. Roles, status,
// confirmation and identity are never accepted from the outside.
type SignupInput struct {
	Username string
	Email    string
	Password *Secret
}

// signupRules is the explicit rule table for registration. Order matters
// only for stable output; every rule runs so the caller sees the full
// list of violations at once.
var signupRules = []struct {
	field string
	rule  string
	check func(in SignupInput) (bool, string)
}{
	{"username", "not_blank", func(in SignupInput) (bool, string) {
		return strings.TrimSpace(in.Username) != "", "must not be blank"
	}},
	{"username", "length", func(in SignupInput) (bool, string) {
		n := utf8.RuneCountInString(in.Username)
		if strings.TrimSpace(in.Username) == "" {
			return true, "" // not_blank already flagged it
		}
		return n >= UsernameMinLen && n <= UsernameMaxLen,
			fmt.Sprintf("must be between %d and %d characters", UsernameMinLen, UsernameMaxLen)
	}},
	{"email", "not_blank", func(in SignupInput) (bool, string) {
		return strings.TrimSpace(in.Email) != "", "must not be blank"
	}},
	{"email", "email", func(in SignupInput) (bool, string) {
		if strings.TrimSpace(in.Email) == "" {
			return true, ""
		}
		addr, err := mail.ParseAddress(in.Email)
		return err == nil && addr.Address == in.Email, "must be a valid email address"
	}},
	{"password", "not_blank", func(in SignupInput) (bool, string) {
		return !in.Password.IsBlank(), "must not be blank"
	}},
	{"password", "length", func(in SignupInput) (bool, string) {
		n := in.Password.Len()
		if in.Password.IsBlank() {
			return true, ""
		}
		return n >= PasswordMinLen && n <= PasswordMaxLen,
			fmt.Sprintf("must be between %d and %d characters", PasswordMinLen, PasswordMaxLen)
	}},
}

// ValidateSignup runs the rule table and returns every violation.
// Uniqueness is checked by the registrar against the store, not here.
func ValidateSignup(in SignupInput) []Violation {
	var out []Violation

	for _, r := range signupRules {
		ok, msg := r.check(in)

		if !ok {
			out = append(out, Violation{Field: r.field, Rule: r.rule, Message: msg})
		}
	}

	return out
}

// Duplicate builds the uniqueness violation used both for pre-checks and
// for unique-constraint conflicts detected at commit time.
func Duplicate(field string) Violation {
	return Violation{
		Field:   field,
		Rule:    "unique",
		Message: "is already taken",
	}
}
