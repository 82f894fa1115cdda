package core

import "errors"

// Error codes shared with the relay wire protocol.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotInRoom      = "not_in_room"
	ErrCodeAlreadyJoined  = "already_joined"
	ErrCodeUnauthorized   = "unauthorized"
	ErrCodeInvalidMessage = "invalid_message"
)

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrNoIdentity       = errors.New("no identity")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

// NewError builds a coded error.
func NewError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}
