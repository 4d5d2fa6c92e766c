package identity

import "fmt"

// Error codes surfaced on the wire. The HTTP layer maps these to status codes.
const (
	CodeInvalidCredentials = "InvalidCredentials"
	CodeUnsupportedScheme  = "UnsupportedScheme"
	CodeNotAuthorized      = "NotAuthorized"
	CodeInvalidArgument    = "InvalidArgument"
	CodeTimeout            = "Timeout"
)

// Error carries a wire error code alongside a caller-visible message.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

var (
	// ErrInvalidCredentials covers bad signatures, bad passwords and malformed
	// authorization headers. The message is deliberately generic.
	ErrInvalidCredentials = &Error{Code: CodeInvalidCredentials, Message: "invalid credentials provided"}

	// ErrTokenNotAuthorized is returned for every delegated-token failure.
	// Wrong permission path, expired token and unknown device key all produce
	// this exact body so a caller cannot tell which check failed.
	ErrTokenNotAuthorized = &Error{Code: CodeInvalidCredentials, Message: "The token provided is not authorized for this application"}

	// ErrAccountDisabled is returned when the resolved account or sub-user is
	// flagged disabled, even if the credential itself is valid.
	ErrAccountDisabled = &Error{Code: CodeNotAuthorized, Message: "Account or user is disabled"}

	// ErrNotFound is returned by Directory lookups for missing entries.
	ErrNotFound = &Error{Code: "ResourceNotFound", Message: "entry not found"}
)

// UnsupportedSchemeError names the offending scheme so the 401 body tells the
// caller which authorization scheme was rejected for the declared API version.
func UnsupportedSchemeError(scheme string) *Error {
	return &Error{
		Code:    CodeUnsupportedScheme,
		Message: fmt.Sprintf("%s is not an acceptable authorization scheme for this API version", scheme),
	}
}

// InvalidArgumentError reports a caller-supplied argument failure, such as
// tagging a resource with a role that does not exist.
func InvalidArgumentError(msg string) *Error {
	return &Error{Code: CodeInvalidArgument, Message: msg}
}
