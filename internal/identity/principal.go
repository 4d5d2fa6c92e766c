package identity

// AuthMethod records how a principal proved its identity.
type AuthMethod string

const (
	AuthSignature AuthMethod = "signature"
	AuthBasic     AuthMethod = "basic"
	AuthToken     AuthMethod = "token"
)

// Principal is the resolved caller identity for one request. It is created
// per request and never persisted.
type Principal struct {
	Account Account

	// User is set when a delegated sub-user made the request rather than
	// the account owner.
	User *User

	// ActingRoles is the explicit role subset requested via the as-role
	// parameter. Empty means the default membership applies.
	ActingRoles []string

	Method AuthMethod

	// KeyID is the key that authenticated a signature or token request.
	KeyID string
}

// IsOwner reports whether the request was made by the account owner.
func (p Principal) IsOwner() bool { return p.User == nil }

// Caller is the identity descriptor recorded into asynchronous job context
// and echoed back in audit entries.
type Caller struct {
	Type  string `json:"type"`
	IP    string `json:"ip,omitempty"`
	KeyID string `json:"keyId,omitempty"`
	Login string `json:"login,omitempty"`
}

// Caller builds the audit caller descriptor for the principal.
func (p Principal) Caller(ip string) Caller {
	login := p.Account.Login
	if p.User != nil {
		login = p.User.Login
	}
	return Caller{
		Type:  string(p.Method),
		IP:    ip,
		KeyID: p.KeyID,
		Login: login,
	}
}
