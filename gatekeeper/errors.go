package gatekeeper

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrMissingSecret   = errors.New("provisioning secret not configured")
	ErrIssueCooldown   = errors.New("issue cooldown active")
	ErrNotInGuild      = errors.New("command must be used in a server")
	ErrInvalidLogin    = errors.New("invalid username or password")
	ErrCredentialStale = errors.New("credential expired before first login")
)

// ConfigurationError indicates the process is missing configuration
// required to perform an operation. Operations fail closed.
type ConfigurationError struct {
	Setting string
	Err     error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error (%s): %v", e.Setting, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// ValidationError is returned for an invalid argument, before any
// credential is generated.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Message)
}

// RejectedError is returned when the account store answered a
// registration request with anything other than 201.
type RejectedError struct {
	StatusCode int
	Reason     string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("registration rejected (%d): %s", e.StatusCode, e.Reason)
}

// Duplicate reports whether the rejection was a uniqueness conflict
func (e *RejectedError) Duplicate() bool {
	return e.StatusCode == http.StatusBadRequest ||
		e.StatusCode == http.StatusConflict
}

// TransportError wraps connection, DNS and timeout failures reaching
// the account store.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("account store unreachable (%s): %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DeliveryError indicates a direct message was refused by discord,
// generally because the recipient has DMs from server members disabled.
type DeliveryError struct {
	UserID string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("direct message to %s refused: %v", e.UserID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// PermissionError indicates the requester's role doesn't allow the action
type PermissionError struct {
	Action   string
	Role     Role
	Required Role
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf(
		"%s requires role %s (have %s)",
		e.Action,
		e.Required,
		e.Role,
	)
}

// DuplicateError is returned by the account store when a unique field
// is already taken.
type DuplicateError struct {
	Field string
	Value string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s already exists", e.Field)
}
