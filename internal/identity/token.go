package identity

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultApplication is the application name this gateway looks up inside
// delegated-token permission maps.
const DefaultApplication = "cloudgate"

// TokenClaims is the delegated-token payload minted by the credential
// issuance service: the claimed account, the device key that must co-sign the
// request, and per-application path-prefix grants.
type TokenClaims struct {
	AccountUUID string              `json:"account"`
	DevKeyID    string              `json:"devkeyId"`
	Permissions map[string][]string `json:"permissions"`
	jwt.RegisteredClaims
}

// PermitsPath reports whether the token grants the application access to the
// requested path via one of its registered prefixes.
func (c *TokenClaims) PermitsPath(application, path string) bool {
	prefixes, ok := c.Permissions[application]
	if !ok {
		return false
	}
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// TokenVerifier validates delegated tokens. The gateway only verifies tokens;
// minting belongs to the issuance service.
type TokenVerifier struct {
	secret      []byte
	application string
}

// NewTokenVerifier builds a verifier sharing the issuance service's HS256
// secret.
func NewTokenVerifier(secret []byte, application string) (*TokenVerifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("identity: token secret is required")
	}
	application = strings.TrimSpace(application)
	if application == "" {
		application = DefaultApplication
	}
	return &TokenVerifier{secret: secret, application: application}, nil
}

// Parse checks the token's integrity and returns its claims. Claim-level
// validation (permissions, expiry, device key) is the Verifier's job so the
// checks run in their documented order.
func (t *TokenVerifier) Parse(raw string) (*TokenClaims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty token")
	}
	parsed, err := jwt.ParseWithClaims(raw, &TokenClaims{}, func(tok *jwt.Token) (any, error) {
		if tok.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return t.secret, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*TokenClaims)
	if !ok || strings.TrimSpace(claims.AccountUUID) == "" || strings.TrimSpace(claims.DevKeyID) == "" {
		return nil, errors.New("malformed token claims")
	}
	return claims, nil
}
