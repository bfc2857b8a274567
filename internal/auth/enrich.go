package auth

import (
	"errors"

	"github.com/avoronova/accounthub/internal/domain/account"
	"github.com/golang-jwt/jwt/v5"
)

var errClaimsNotMap = errors.New("token claims are not a claims map")

// EnrichToken writes the two fields this service owns into an
// already-built token skeleton: the account id into the payload
// (user_id) and the configured issuer into the header (iss).
//
// Everything else on the token (signing method, expiry, standard
// claims) belongs to the Manager and stays untouched. Calling it twice
// with the same inputs is a no-op the second time.
func EnrichToken(tok *jwt.Token, acct account.Account, issuer string) error {
	if acct.ID == 0 {
		// Signing a token with a null identifier claim would be worse
		// than failing the request.
		return account.ErrNotPersisted
	}

	claims, ok := tok.Claims.(jwt.MapClaims)

	if !ok {
		return errClaimsNotMap
	}

	claims["user_id"] = acct.ID
	tok.Header["iss"] = issuer

	return nil
}
