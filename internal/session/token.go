package session

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// minTokenLength guards against obviously truncated persisted tokens.
const minTokenLength = 20

// tokenUsable checks the persisted access token's shape before it is
// installed. Tokens that look like JWTs must at least parse structurally;
// the signature is the backend's concern, not ours.
func tokenUsable(token string) bool {
	if len(token) < minTokenLength {
		return false
	}

	if strings.Count(token, ".") == 2 {
		_, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
		return err == nil
	}

	return true
}
