package auth

import (
	"errors"
	"strings"
)

var (
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("incorrect password")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenReused        = errors.New("refresh token is expired or used")
)

// ValidationError lists the request fields that are missing or unacceptable.
type ValidationError struct {
	Fields []string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

// Kind groups service errors so transports can map them without reading messages.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindAuthentication
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindAuthentication:
		return "authentication"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// KindOf classifies err. Anything unrecognised is internal.
func KindOf(err error) Kind {
	var ve *ValidationError

	switch {
	case err == nil:
		return KindInternal
	case errors.As(err, &ve):
		return KindValidation
	case errors.Is(err, ErrUserExists):
		return KindConflict
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrInvalidToken),
		errors.Is(err, ErrTokenReused):
		return KindAuthentication
	case errors.Is(err, ErrUserNotFound):
		return KindNotFound
	default:
		return KindInternal
	}
}

// Message returns the caller-facing text for err, without op prefixes or internal details.
func Message(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}

	for _, sentinel := range []error{
		ErrUserExists,
		ErrUserNotFound,
		ErrInvalidCredentials,
		ErrTokenReused,
		ErrInvalidToken,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}

	return "internal server error"
}
