package session

import (
	"errors"
	"net/http"
)

// Code classifies a session failure.
type Code string

const (
	// CodeTryRefreshToken means the access token could not be validated but
	// the session may still be alive. The client should call the refresh
	// endpoint and retry.
	CodeTryRefreshToken Code = "try_refresh_token"

	// CodeUnauthorised means the session does not exist, has expired or has
	// been revoked. The client must authenticate again.
	CodeUnauthorised Code = "unauthorised"

	// CodeTokenTheftDetected means an already-rotated refresh token was used
	// again. The affected session is revoked by the core.
	CodeTokenTheftDetected Code = "token_theft_detected"

	// CodeGeneral means the core service was unreachable or returned a
	// malformed response.
	CodeGeneral Code = "general_error"
)

// Error is the error model for all session operations. Use errors.As to
// recover it from a wrapped chain.
type Error struct {
	Err         Code
	Description string

	// SessionHandle and UserID identify the stolen session. They are only
	// set when Err is CodeTokenTheftDetected.
	SessionHandle string
	UserID        string

	// KeepTokens suppresses the cookie clearing that normally accompanies
	// an unauthorised response. It is set on failures where the session
	// itself may still be alive, like a missing rid header on refresh.
	KeepTokens bool

	cause error
}

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Err)
	}

	return string(e.Err) + ": " + e.Description
}

func (e *Error) Unwrap() error {
	return e.cause
}

func (e *Error) HTTPStatus() int {
	switch e.Err {
	case CodeTryRefreshToken, CodeUnauthorised:
		return http.StatusUnauthorized
	case CodeTokenTheftDetected:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

var (
	ErrUnauthorised    = &Error{Err: CodeUnauthorised, Description: "session does not exist or has been revoked"}
	ErrTryRefreshToken = &Error{Err: CodeTryRefreshToken, Description: "access token could not be validated locally"}
)

// NewTryRefreshTokenError reports a recoverable verification failure.
func NewTryRefreshTokenError(description string) *Error {
	return &Error{Err: CodeTryRefreshToken, Description: description}
}

// NewUnauthorisedError reports a dead session.
func NewUnauthorisedError(description string) *Error {
	return &Error{Err: CodeUnauthorised, Description: description}
}

// NewTokenTheftDetectedError reports refresh token reuse for the given
// session.
func NewTokenTheftDetectedError(sessionHandle, userID string) *Error {
	return &Error{
		Err:           CodeTokenTheftDetected,
		Description:   "refresh token has been used before",
		SessionHandle: sessionHandle,
		UserID:        userID,
	}
}

// NewGeneralError wraps a core transport or protocol failure.
func NewGeneralError(err error) *Error {
	return &Error{Err: CodeGeneral, Description: err.Error(), cause: err}
}

func IsTryRefreshTokenError(err error) bool {
	return hasCode(err, CodeTryRefreshToken)
}

func IsUnauthorisedError(err error) bool {
	return hasCode(err, CodeUnauthorised)
}

func IsTokenTheftDetectedError(err error) bool {
	return hasCode(err, CodeTokenTheftDetected)
}

func IsGeneralError(err error) bool {
	return hasCode(err, CodeGeneral)
}

func hasCode(err error, code Code) bool {
	var serr *Error
	return errors.As(err, &serr) && serr.Err == code
}
