package identity

import "time"

// Account is a top-level customer of the gateway.
type Account struct {
	UUID         string
	Login        string
	Email        string
	PasswordHash string
	Disabled     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// User is a delegated sub-user operating under an account.
type User struct {
	UUID         string
	AccountUUID  string
	Login        string
	Email        string
	PasswordHash string
	Disabled     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Key is a public key registered on an account's or sub-user's key ring.
// KeyID is the wire identifier callers place in signature headers, shaped
// like "/<login>/keys/<name>" or "/<login>/users/<sublogin>/keys/<name>".
type Key struct {
	KeyID     string
	Name      string
	OwnerUUID string
	PublicPEM string
	CreatedAt time.Time
}

// Role groups sub-users and policies. Members always hold the role;
// DefaultMembers hold it without having to request it per call.
type Role struct {
	UUID           string
	AccountUUID    string
	Name           string
	Members        []string
	DefaultMembers []string
	Policies       []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Policy is a named set of permission rules referenced by roles. The rule
// grammar itself is owned by the rule matcher, not this package.
type Policy struct {
	UUID        string
	AccountUUID string
	Name        string
	Rules       []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
