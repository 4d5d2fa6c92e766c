package identity

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type stubDirectory struct {
	accounts map[string]Account
	users    map[string]User
	keys     map[string][]Key
}

func (d *stubDirectory) AccountByLogin(_ context.Context, login string) (Account, error) {
	for _, a := range d.accounts {
		if a.Login == login {
			return a, nil
		}
	}
	return Account{}, ErrNotFound
}

func (d *stubDirectory) AccountByUUID(_ context.Context, uuid string) (Account, error) {
	if a, ok := d.accounts[uuid]; ok {
		return a, nil
	}
	return Account{}, ErrNotFound
}

func (d *stubDirectory) UserByLogin(_ context.Context, accountUUID, login string) (User, error) {
	for _, u := range d.users {
		if u.AccountUUID == accountUUID && u.Login == login {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (d *stubDirectory) UsersForAccount(context.Context, string) ([]User, error) { return nil, nil }

func (d *stubDirectory) KeysForOwner(_ context.Context, ownerUUID string) ([]Key, error) {
	return d.keys[ownerUUID], nil
}

func (d *stubDirectory) RolesForAccount(context.Context, string) ([]Role, error) { return nil, nil }

func (d *stubDirectory) RoleByName(context.Context, string, string) (Role, error) {
	return Role{}, ErrNotFound
}

func (d *stubDirectory) PoliciesByUUIDs(context.Context, []string) ([]Policy, error) {
	return nil, nil
}

func (d *stubDirectory) ResourceTags(context.Context, string, string) ([]string, error) {
	return nil, nil
}

func (d *stubDirectory) SetResourceTags(context.Context, string, string, []string) error {
	return nil
}

func generateKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey: %v", err)
	}
	pemData := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return priv, string(pemData)
}

func signDate(t *testing.T, priv *rsa.PrivateKey, date string) []byte {
	t.Helper()
	digest := sha256.Sum256([]byte(date))
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	if err != nil {
		t.Fatalf("SignPKCS1v15: %v", err)
	}
	return sig
}

func signatureHeaderValue(keyID string, sig []byte) string {
	return fmt.Sprintf(`Signature keyId="%s",algorithm="rsa-sha256",headers="date",signature="%s"`,
		keyID, base64.StdEncoding.EncodeToString(sig))
}

const fixedDate = "Mon, 02 Jan 2006 15:04:05 GMT"

func fixedClock() time.Time {
	when, _ := http.ParseTime(fixedDate)
	return when.Add(30 * time.Second)
}

func signedRequest(t *testing.T, priv *rsa.PrivateKey, keyID, path string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, path, nil)
	r.Header.Set("Date", fixedDate)
	r.Header.Set("Authorization", signatureHeaderValue(keyID, signDate(t, priv, fixedDate)))
	return r
}

func testDirectory(t *testing.T) (*stubDirectory, *rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	ownerKey, ownerPEM := generateKey(t)
	subKey, subPEM := generateKey(t)

	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	return &stubDirectory{
		accounts: map[string]Account{
			"acc-1": {UUID: "acc-1", Login: "acme", Email: "ops@acme.example", PasswordHash: hash},
		},
		users: map[string]User{
			"usr-1": {UUID: "usr-1", AccountUUID: "acc-1", Login: "auditor"},
		},
		keys: map[string][]Key{
			"acc-1": {{KeyID: "/acme/keys/laptop", Name: "laptop", OwnerUUID: "acc-1", PublicPEM: ownerPEM}},
			"usr-1": {{KeyID: "/acme/users/auditor/keys/dev", Name: "dev", OwnerUUID: "usr-1", PublicPEM: subPEM}},
		},
	}, ownerKey, subKey
}

func TestVerifySignatureAccountOwner(t *testing.T) {
	dir, ownerKey, _ := testDirectory(t)
	v, err := NewVerifier(dir, WithClock(fixedClock))
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	r := signedRequest(t, ownerKey, "/acme/keys/laptop", "/acme/machines")
	p, err := v.Verify(context.Background(), r)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.Account.UUID != "acc-1" || p.User != nil {
		t.Fatalf("unexpected principal: %+v", p)
	}
	if p.Method != AuthSignature || p.KeyID != "/acme/keys/laptop" {
		t.Fatalf("method=%s keyID=%s", p.Method, p.KeyID)
	}
	if !p.IsOwner() {
		t.Fatalf("owner signature must yield an owner principal")
	}
}

func TestVerifySignatureSubUser(t *testing.T) {
	dir, _, subKey := testDirectory(t)
	v, _ := NewVerifier(dir, WithClock(fixedClock))

	r := signedRequest(t, subKey, "/acme/users/auditor/keys/dev", "/acme/machines")
	p, err := v.Verify(context.Background(), r)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.User == nil || p.User.Login != "auditor" {
		t.Fatalf("expected sub-user principal, got %+v", p)
	}
	if p.IsOwner() {
		t.Fatalf("sub-user principal must not be owner")
	}
}

func TestVerifySignatureTamperedFails(t *testing.T) {
	dir, ownerKey, _ := testDirectory(t)
	v, _ := NewVerifier(dir, WithClock(fixedClock))

	sig := signDate(t, ownerKey, fixedDate)
	sig[0] ^= 0xff
	r := httptest.NewRequest(http.MethodGet, "/acme/machines", nil)
	r.Header.Set("Date", fixedDate)
	r.Header.Set("Authorization", signatureHeaderValue("/acme/keys/laptop", sig))

	_, err := v.Verify(context.Background(), r)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestVerifySignatureClockSkewRejected(t *testing.T) {
	dir, ownerKey, _ := testDirectory(t)
	v, _ := NewVerifier(dir, WithClock(func() time.Time {
		return fixedClock().Add(time.Hour)
	}))

	r := signedRequest(t, ownerKey, "/acme/keys/laptop", "/acme/machines")
	_, err := v.Verify(context.Background(), r)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestVerifySignatureCrossSubUserFailsClosed(t *testing.T) {
	dir, _, subKey := testDirectory(t)
	dir.users["usr-2"] = User{UUID: "usr-2", AccountUUID: "acc-1", Login: "deploy"}
	v, _ := NewVerifier(dir, WithClock(fixedClock))

	// auditor's key signing a request against deploy's key ring.
	r := signedRequest(t, subKey, "/acme/users/auditor/keys/dev", "/acme/users/deploy/keys")
	_, err := v.Verify(context.Background(), r)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestVerifyBasicVersionNegotiation(t *testing.T) {
	dir, _, _ := testDirectory(t)
	v, _ := NewVerifier(dir, WithClock(fixedClock))

	newRequest := func(version string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/acme", nil)
		r.SetBasicAuth("acme", "hunter2")
		if version != "" {
			r.Header.Set("X-Api-Version", version)
		}
		return r
	}

	p, err := v.Verify(context.Background(), newRequest("6.5"))
	if err != nil {
		t.Fatalf("Verify with 6.5: %v", err)
	}
	if p.Method != AuthBasic || p.Account.Login != "acme" {
		t.Fatalf("unexpected principal: %+v", p)
	}

	for _, version := range []string{"7.0", "8.1", "", "*"} {
		_, err := v.Verify(context.Background(), newRequest(version))
		var authErr *Error
		if !errors.As(err, &authErr) || authErr.Code != CodeUnsupportedScheme {
			t.Fatalf("version %q: expected UnsupportedScheme, got %v", version, err)
		}
		if authErr.Message != "basic is not an acceptable authorization scheme for this API version" {
			t.Fatalf("version %q: unexpected message %q", version, authErr.Message)
		}
	}
}

func TestVerifyBasicBadPassword(t *testing.T) {
	dir, _, _ := testDirectory(t)
	v, _ := NewVerifier(dir)

	r := httptest.NewRequest(http.MethodGet, "/acme", nil)
	r.SetBasicAuth("acme", "wrong")
	r.Header.Set("X-Api-Version", "6.5")

	_, err := v.Verify(context.Background(), r)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestVerifyUnknownSchemeRejected(t *testing.T) {
	dir, _, _ := testDirectory(t)
	v, _ := NewVerifier(dir)

	r := httptest.NewRequest(http.MethodGet, "/acme", nil)
	r.Header.Set("Authorization", "Bearer abc123")

	_, err := v.Verify(context.Background(), r)
	var authErr *Error
	if !errors.As(err, &authErr) || authErr.Code != CodeUnsupportedScheme {
		t.Fatalf("expected UnsupportedScheme, got %v", err)
	}
}

func TestVerifyDisabledAccount(t *testing.T) {
	dir, ownerKey, _ := testDirectory(t)
	account := dir.accounts["acc-1"]
	account.Disabled = true
	dir.accounts["acc-1"] = account
	v, _ := NewVerifier(dir, WithClock(fixedClock))

	r := signedRequest(t, ownerKey, "/acme/keys/laptop", "/acme")
	_, err := v.Verify(context.Background(), r)
	if !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
	if err.Error() != "Account or user is disabled" {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestVerifyDisabledSubUser(t *testing.T) {
	dir, _, subKey := testDirectory(t)
	user := dir.users["usr-1"]
	user.Disabled = true
	dir.users["usr-1"] = user
	v, _ := NewVerifier(dir, WithClock(fixedClock))

	r := signedRequest(t, subKey, "/acme/users/auditor/keys/dev", "/acme/machines")
	_, err := v.Verify(context.Background(), r)
	if !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
}

func TestVerifyActingRolesParsed(t *testing.T) {
	dir, ownerKey, _ := testDirectory(t)
	v, _ := NewVerifier(dir, WithClock(fixedClock))

	r := signedRequest(t, ownerKey, "/acme/keys/laptop", "/acme/machines?as-role=ops,%20auditors")
	p, err := v.Verify(context.Background(), r)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(p.ActingRoles) != 2 || p.ActingRoles[0] != "ops" || p.ActingRoles[1] != "auditors" {
		t.Fatalf("acting roles: %v", p.ActingRoles)
	}
}

const tokenSecret = "test-secret-test-secret-test-secr"

func mintToken(t *testing.T, mutate func(*TokenClaims)) string {
	t.Helper()
	claims := &TokenClaims{
		AccountUUID: "acc-1",
		DevKeyID:    "/acme/keys/laptop",
		Permissions: map[string][]string{DefaultApplication: {"/acme"}},
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(fixedClock().Add(time.Hour)),
		},
	}
	if mutate != nil {
		mutate(claims)
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(tokenSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return raw
}

func tokenVerifier(t *testing.T, dir Directory) *Verifier {
	t.Helper()
	tokens, err := NewTokenVerifier([]byte(tokenSecret), DefaultApplication)
	if err != nil {
		t.Fatalf("NewTokenVerifier: %v", err)
	}
	v, err := NewVerifier(dir, WithTokenVerifier(tokens), WithClock(fixedClock))
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return v
}

func tokenRequest(t *testing.T, priv *rsa.PrivateKey, token, path string) *http.Request {
	t.Helper()
	r := signedRequest(t, priv, "/acme/keys/laptop", path)
	r.Header.Set("X-Auth-Token", token)
	return r
}

func TestVerifyTokenHappyPath(t *testing.T) {
	dir, ownerKey, _ := testDirectory(t)
	v := tokenVerifier(t, dir)

	r := tokenRequest(t, ownerKey, mintToken(t, nil), "/acme/machines")
	p, err := v.Verify(context.Background(), r)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.Method != AuthToken || p.Account.UUID != "acc-1" {
		t.Fatalf("unexpected principal: %+v", p)
	}
	if p.KeyID != "/acme/keys/laptop" {
		t.Fatalf("keyID=%s", p.KeyID)
	}
}

func TestVerifyTokenFailuresAreIndistinguishable(t *testing.T) {
	dir, ownerKey, _ := testDirectory(t)
	v := tokenVerifier(t, dir)

	cases := []struct {
		name string
		req  func() *http.Request
	}{
		{
			name: "path outside permissions",
			req: func() *http.Request {
				return tokenRequest(t, ownerKey, mintToken(t, nil), "/other-account/machines")
			},
		},
		{
			name: "expired token",
			req: func() *http.Request {
				token := mintToken(t, func(c *TokenClaims) {
					c.ExpiresAt = jwt.NewNumericDate(fixedClock().Add(-time.Minute))
				})
				return tokenRequest(t, ownerKey, token, "/acme/machines")
			},
		},
		{
			name: "unknown account",
			req: func() *http.Request {
				token := mintToken(t, func(c *TokenClaims) { c.AccountUUID = "acc-ghost" })
				return tokenRequest(t, ownerKey, token, "/acme/machines")
			},
		},
		{
			name: "unknown device key",
			req: func() *http.Request {
				token := mintToken(t, func(c *TokenClaims) { c.DevKeyID = "/acme/keys/ghost" })
				return tokenRequest(t, ownerKey, token, "/acme/machines")
			},
		},
		{
			name: "tampered token signature",
			req: func() *http.Request {
				return tokenRequest(t, ownerKey, mintToken(t, nil)+"x", "/acme/machines")
			},
		},
		{
			name: "request not co-signed",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodGet, "/acme/machines", nil)
				r.Header.Set("Date", fixedDate)
				r.Header.Set("X-Auth-Token", mintToken(t, nil))
				return r
			},
		},
	}

	const want = "The token provided is not authorized for this application"
	for _, tc := range cases {
		_, err := v.Verify(context.Background(), tc.req())
		if err == nil {
			t.Fatalf("%s: expected failure", tc.name)
		}
		if err.Error() != want {
			t.Fatalf("%s: message %q, want %q", tc.name, err.Error(), want)
		}
	}
}

func TestVerifyTokenWithoutVerifierConfigured(t *testing.T) {
	dir, ownerKey, _ := testDirectory(t)
	v, _ := NewVerifier(dir, WithClock(fixedClock))

	r := tokenRequest(t, ownerKey, "whatever", "/acme/machines")
	_, err := v.Verify(context.Background(), r)
	if !errors.Is(err, ErrTokenNotAuthorized) {
		t.Fatalf("expected ErrTokenNotAuthorized, got %v", err)
	}
}

func TestParseKeyID(t *testing.T) {
	ref, err := parseKeyID("/acme/keys/laptop")
	if err != nil {
		t.Fatalf("parseKeyID: %v", err)
	}
	if ref.login != "acme" || ref.keyName != "laptop" || ref.subLogin != "" {
		t.Fatalf("unexpected ref: %+v", ref)
	}

	ref, err = parseKeyID("/acme/users/auditor/keys/dev")
	if err != nil {
		t.Fatalf("parseKeyID: %v", err)
	}
	if ref.subLogin != "auditor" || ref.keyName != "dev" {
		t.Fatalf("unexpected ref: %+v", ref)
	}

	for _, bad := range []string{"", "acme", "/acme/certs/laptop", "/acme/users/auditor/dev"} {
		if _, err := parseKeyID(bad); err == nil {
			t.Fatalf("parseKeyID(%q) should fail", bad)
		}
	}
}

func TestParseSignatureHeaderForms(t *testing.T) {
	sig := base64.StdEncoding.EncodeToString([]byte("raw-signature-bytes"))

	// Parameterized form.
	parsed, err := parseSignatureHeader(
		`Signature keyId="/acme/keys/laptop",algorithm="RSA-SHA256",headers="date",signature="` + sig + `"`)
	if err != nil {
		t.Fatalf("parse parameterized form: %v", err)
	}
	if parsed.keyID != "/acme/keys/laptop" || parsed.algorithm != "rsa-sha256" {
		t.Fatalf("unexpected parse: %+v", parsed)
	}

	// Trailing-signature form.
	parsed, err = parseSignatureHeader(
		`Signature keyId="/acme/keys/laptop",algorithm="rsa-sha256" ` + sig)
	if err != nil {
		t.Fatalf("parse trailing form: %v", err)
	}
	if string(parsed.signature) != "raw-signature-bytes" {
		t.Fatalf("signature bytes were not decoded")
	}

	if _, err := parseSignatureHeader("Signature "); err == nil {
		t.Fatalf("empty signature header should fail")
	}
	if _, err := parseSignatureHeader("Basic abc"); err == nil {
		t.Fatalf("non-signature header should fail")
	}
}
