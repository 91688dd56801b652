package auth

import (
	"errors"
	"fmt"
)

// ErrorKind classifies auth failures so the UI can message them distinctly.
type ErrorKind string

const (
	KindNetworkFailure     ErrorKind = "network_failure"
	KindInvalidCredentials ErrorKind = "invalid_credentials"
	KindInsufficientRole   ErrorKind = "insufficient_role"
	KindCorruptState       ErrorKind = "corrupt_state"
	KindSuperseded         ErrorKind = "superseded"
	KindInvalidRequest     ErrorKind = "invalid_request"
)

var (
	// ErrNetworkFailure means the backend was unreachable or answered with a server error.
	ErrNetworkFailure = errors.New("backend unavailable")
	// ErrInvalidCredentials means the backend rejected the supplied credentials.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInsufficientRole means the authenticated identity lacks the required role.
	ErrInsufficientRole = errors.New("insufficient role")
	// ErrCorruptState means persisted session data could not be used.
	ErrCorruptState = errors.New("corrupt persisted session")
	// ErrLoginSuperseded means a logout or newer login happened while the login was in flight.
	ErrLoginSuperseded = errors.New("login superseded")
	// ErrNoIdentity means no identity could be resolved for this device.
	ErrNoIdentity = errors.New("no identity available")
)

// AuthError is the displayable last error kept by the controller.
type AuthError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	cause   error
}

func (e *AuthError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *AuthError) Unwrap() error { return e.cause }

// NewAuthError builds an AuthError of the given kind wrapping cause.
func NewAuthError(kind ErrorKind, message string, cause error) *AuthError {
	return &AuthError{Kind: kind, Message: message, cause: cause}
}

// Classify maps an error from the backend or controller onto an AuthError.
// Unknown errors are treated as network failures; they are never reported
// as invalid credentials.
func Classify(err error) *AuthError {
	if err == nil {
		return nil
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return NewAuthError(KindInvalidCredentials, "The credentials you entered are not valid.", err)
	case errors.Is(err, ErrInsufficientRole):
		return NewAuthError(KindInsufficientRole, "This account does not have access here.", err)
	case errors.Is(err, ErrLoginSuperseded):
		return NewAuthError(KindSuperseded, "The sign-in was cancelled.", err)
	case errors.Is(err, ErrCorruptState):
		return NewAuthError(KindCorruptState, "Stored session was reset.", err)
	default:
		return NewAuthError(KindNetworkFailure, "Unable to reach the portal service. Please try again.", err)
	}
}
