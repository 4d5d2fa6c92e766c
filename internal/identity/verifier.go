package identity

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultSignatureRequiredVersion = 7.0
	defaultMaxClockSkew             = 5 * time.Minute

	asRoleParam = "as-role"
)

// Verifier authenticates inbound requests against the directory and yields a
// Principal. It supports signature, basic and delegated-token credentials.
type Verifier struct {
	dir    Directory
	tokens *TokenVerifier

	// Declared API versions at or above this threshold must use signature
	// auth; below it basic auth is still accepted.
	sigRequiredVersion float64
	maxClockSkew       time.Duration
	now                func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithTokenVerifier enables the delegated-token credential path.
func WithTokenVerifier(tv *TokenVerifier) VerifierOption {
	return func(v *Verifier) { v.tokens = tv }
}

// WithSignatureRequiredVersion overrides the version threshold at which basic
// auth stops being accepted.
func WithSignatureRequiredVersion(version float64) VerifierOption {
	return func(v *Verifier) {
		if version > 0 {
			v.sigRequiredVersion = version
		}
	}
}

// WithMaxClockSkew bounds how far the signed date header may drift from the
// server clock.
func WithMaxClockSkew(skew time.Duration) VerifierOption {
	return func(v *Verifier) {
		if skew > 0 {
			v.maxClockSkew = skew
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if fn != nil {
			v.now = fn
		}
	}
}

// NewVerifier constructs a Verifier over the given directory.
func NewVerifier(dir Directory, opts ...VerifierOption) (*Verifier, error) {
	if dir == nil {
		return nil, errors.New("identity: directory is required")
	}
	v := &Verifier{
		dir:                dir,
		sigRequiredVersion: defaultSignatureRequiredVersion,
		maxClockSkew:       defaultMaxClockSkew,
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify authenticates the request and returns the resolved principal.
// Failures are *Error values the HTTP layer maps to 401/403 responses.
func (v *Verifier) Verify(ctx context.Context, r *http.Request) (Principal, error) {
	if r == nil {
		return Principal{}, ErrInvalidCredentials
	}

	var (
		principal Principal
		err       error
	)
	switch {
	case r.Header.Get("X-Auth-Token") != "":
		principal, err = v.verifyToken(ctx, r)
	default:
		principal, err = v.verifyHeader(ctx, r)
	}
	if err != nil {
		return Principal{}, err
	}

	if principal.Account.Disabled || (principal.User != nil && principal.User.Disabled) {
		return Principal{}, ErrAccountDisabled
	}

	if raw := r.URL.Query().Get(asRoleParam); raw != "" {
		principal.ActingRoles = splitRoles(raw)
	}
	return principal, nil
}

func (v *Verifier) verifyHeader(ctx context.Context, r *http.Request) (Principal, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return Principal{}, ErrInvalidCredentials
	}
	scheme := header
	if idx := strings.IndexByte(header, ' '); idx > 0 {
		scheme = header[:idx]
	}
	switch strings.ToLower(scheme) {
	case "signature":
		return v.verifySignature(ctx, r, header)
	case "basic":
		if v.declaredVersion(r) >= v.sigRequiredVersion {
			return Principal{}, UnsupportedSchemeError("basic")
		}
		return v.verifyBasic(ctx, r)
	default:
		return Principal{}, UnsupportedSchemeError(scheme)
	}
}

func (v *Verifier) verifyBasic(ctx context.Context, r *http.Request) (Principal, error) {
	login, password, ok := r.BasicAuth()
	if !ok || login == "" {
		return Principal{}, ErrInvalidCredentials
	}
	account, err := v.dir.AccountByLogin(ctx, login)
	if err != nil {
		return Principal{}, ErrInvalidCredentials
	}
	if err := VerifyPassword(account.PasswordHash, password); err != nil {
		return Principal{}, ErrInvalidCredentials
	}
	return Principal{Account: account, Method: AuthBasic}, nil
}

func (v *Verifier) verifySignature(ctx context.Context, r *http.Request, header string) (Principal, error) {
	sig, err := parseSignatureHeader(header)
	if err != nil {
		return Principal{}, ErrInvalidCredentials
	}
	date, err := v.signedDate(r)
	if err != nil {
		return Principal{}, err
	}

	ref, err := parseKeyID(sig.keyID)
	if err != nil {
		return Principal{}, ErrInvalidCredentials
	}
	account, err := v.dir.AccountByLogin(ctx, ref.login)
	if err != nil {
		return Principal{}, ErrInvalidCredentials
	}

	var user *User
	ownerUUID := account.UUID
	if ref.subLogin != "" {
		u, err := v.dir.UserByLogin(ctx, account.UUID, ref.subLogin)
		if err != nil {
			return Principal{}, ErrInvalidCredentials
		}
		user = &u
		ownerUUID = u.UUID
	}
	// A sub-user key may only authenticate requests scoped to that same
	// sub-user. Cross-sub-user key use fails closed.
	if target := subUserFromPath(account.Login, r.URL.Path); target != "" {
		if ref.subLogin != "" && target != ref.subLogin {
			return Principal{}, ErrInvalidCredentials
		}
	}

	key, err := v.findKey(ctx, ownerUUID, sig.keyID, ref.keyName)
	if err != nil {
		return Principal{}, err
	}
	if err := verifyRSASignature(key.PublicPEM, sig.algorithm, date, sig.signature); err != nil {
		return Principal{}, ErrInvalidCredentials
	}
	return Principal{Account: account, User: user, Method: AuthSignature, KeyID: sig.keyID}, nil
}

func (v *Verifier) verifyToken(ctx context.Context, r *http.Request) (Principal, error) {
	if v.tokens == nil {
		return Principal{}, ErrTokenNotAuthorized
	}
	claims, err := v.tokens.Parse(r.Header.Get("X-Auth-Token"))
	if err != nil {
		return Principal{}, ErrTokenNotAuthorized
	}

	// Three checks, in order, all failing with the same generic body so the
	// caller cannot tell which one tripped.
	if !claims.PermitsPath(v.tokens.application, r.URL.Path) {
		return Principal{}, ErrTokenNotAuthorized
	}
	if claims.ExpiresAt == nil || !claims.ExpiresAt.After(v.now()) {
		return Principal{}, ErrTokenNotAuthorized
	}
	account, err := v.dir.AccountByUUID(ctx, claims.AccountUUID)
	if err != nil {
		return Principal{}, ErrTokenNotAuthorized
	}
	devKey, err := v.findKey(ctx, account.UUID, claims.DevKeyID, "")
	if err != nil {
		return Principal{}, ErrTokenNotAuthorized
	}

	// The request itself must carry a signature over the date header made
	// with the device key named by the token.
	sig, err := parseSignatureHeader(strings.TrimSpace(r.Header.Get("Authorization")))
	if err != nil {
		return Principal{}, ErrTokenNotAuthorized
	}
	date, err := v.signedDate(r)
	if err != nil {
		return Principal{}, err
	}
	if err := verifyRSASignature(devKey.PublicPEM, sig.algorithm, date, sig.signature); err != nil {
		return Principal{}, ErrTokenNotAuthorized
	}
	return Principal{Account: account, Method: AuthToken, KeyID: claims.DevKeyID}, nil
}

// signedDate returns the raw date header after bounding its drift from the
// server clock. The exact header string is the signing input.
func (v *Verifier) signedDate(r *http.Request) (string, error) {
	raw := r.Header.Get("Date")
	if raw == "" {
		return "", ErrInvalidCredentials
	}
	when, err := http.ParseTime(raw)
	if err != nil {
		return "", ErrInvalidCredentials
	}
	drift := v.now().Sub(when)
	if drift < 0 {
		drift = -drift
	}
	if drift > v.maxClockSkew {
		return "", ErrInvalidCredentials
	}
	return raw, nil
}

func (v *Verifier) findKey(ctx context.Context, ownerUUID, keyID, keyName string) (Key, error) {
	keys, err := v.dir.KeysForOwner(ctx, ownerUUID)
	if err != nil {
		return Key{}, ErrInvalidCredentials
	}
	for _, k := range keys {
		if k.KeyID == keyID || (keyName != "" && k.Name == keyName) {
			return k, nil
		}
	}
	return Key{}, ErrInvalidCredentials
}

func (v *Verifier) declaredVersion(r *http.Request) float64 {
	raw := r.Header.Get("X-Api-Version")
	if raw == "" {
		raw = r.Header.Get("Accept-Version")
	}
	raw = strings.TrimSpace(strings.TrimLeft(raw, "~=^v"))
	if raw == "" || raw == "*" {
		// No declared version means the latest contract, which requires
		// signature auth.
		return v.sigRequiredVersion
	}
	version, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return v.sigRequiredVersion
	}
	return version
}

type signatureHeader struct {
	keyID     string
	algorithm string
	signature []byte
}

// parseSignatureHeader accepts both signature header forms seen on the wire:
//
//	Signature keyId="...",algorithm="rsa-sha256" <base64>
//	Signature keyId="...",algorithm="rsa-sha256",headers="date",signature="<base64>"
func parseSignatureHeader(header string) (signatureHeader, error) {
	const prefix = "signature "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return signatureHeader{}, fmt.Errorf("not a signature header")
	}
	rest := strings.TrimSpace(header[len(prefix):])

	var out signatureHeader
	params := rest
	if !strings.Contains(rest, `signature="`) {
		idx := strings.LastIndexByte(rest, ' ')
		if idx < 0 {
			return signatureHeader{}, fmt.Errorf("malformed signature header")
		}
		params = rest[:idx]
		sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(rest[idx+1:]))
		if err != nil {
			return signatureHeader{}, err
		}
		out.signature = sig
	}

	for _, field := range strings.Split(params, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(field), "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, `"`)
		switch strings.ToLower(name) {
		case "keyid":
			out.keyID = value
		case "algorithm":
			out.algorithm = strings.ToLower(value)
		case "signature":
			sig, err := base64.StdEncoding.DecodeString(value)
			if err != nil {
				return signatureHeader{}, err
			}
			out.signature = sig
		}
	}
	if out.keyID == "" || out.algorithm == "" || len(out.signature) == 0 {
		return signatureHeader{}, fmt.Errorf("incomplete signature header")
	}
	return out, nil
}

type keyRef struct {
	login    string
	subLogin string
	keyName  string
}

// parseKeyID splits "/<login>/keys/<name>" and
// "/<login>/users/<sublogin>/keys/<name>" key identifiers.
func parseKeyID(keyID string) (keyRef, error) {
	parts := strings.Split(strings.Trim(keyID, "/"), "/")
	switch {
	case len(parts) == 3 && parts[1] == "keys":
		return keyRef{login: parts[0], keyName: parts[2]}, nil
	case len(parts) == 5 && parts[1] == "users" && parts[3] == "keys":
		return keyRef{login: parts[0], subLogin: parts[2], keyName: parts[4]}, nil
	default:
		return keyRef{}, fmt.Errorf("malformed keyId %q", keyID)
	}
}

// subUserFromPath extracts the sub-user login from sub-user-scoped routes,
// e.g. "/<account>/users/<sublogin>/keys".
func subUserFromPath(accountLogin, path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 3 || parts[1] != "users" {
		return ""
	}
	if parts[0] != accountLogin && parts[0] != "my" {
		return ""
	}
	// Only key-ring routes are sub-user scoped for authentication purposes.
	if len(parts) >= 4 && parts[3] != "keys" {
		return ""
	}
	return parts[2]
}

func verifyRSASignature(publicPEM, algorithm, signed string, signature []byte) error {
	key, err := parseRSAPublicKey(publicPEM)
	if err != nil {
		return err
	}
	switch algorithm {
	case "rsa-sha256":
		digest := sha256.Sum256([]byte(signed))
		return rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], signature)
	case "rsa-sha1":
		digest := sha1.Sum([]byte(signed))
		return rsa.VerifyPKCS1v15(key, crypto.SHA1, digest[:], signature)
	default:
		return fmt.Errorf("unsupported signature algorithm %q", algorithm)
	}
}

func parseRSAPublicKey(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("invalid PEM public key")
	}
	switch block.Type {
	case "PUBLIC KEY":
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("not an RSA public key")
		}
		return rsaKey, nil
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	default:
		return nil, fmt.Errorf("unsupported public key type %s", block.Type)
	}
}

func splitRoles(raw string) []string {
	var roles []string
	for _, role := range strings.Split(raw, ",") {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		roles = append(roles, role)
	}
	return roles
}
