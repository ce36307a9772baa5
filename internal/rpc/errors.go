package rpc

import (
	"errors"

	"bunkerd/internal/nip46"
)

const (
	codeParse          = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32000
	codeAuthRequired   = -32001
	codeUnauthorized   = -32002
)

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string { return e.Message }

func InvalidParams(message string) *Error {
	return &Error{Code: codeInvalidParams, Message: message}
}

func MethodNotFound(name string) *Error {
	return &Error{Code: codeMethodNotFound, Message: "method not found: " + name}
}

func Internal(message string) *Error {
	return &Error{Code: codeInternal, Message: message}
}

// Wrap maps engine errors onto JSON-RPC error objects. Deferred-authorization
// challenges keep their URL in the data field so callers can surface it.
func Wrap(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	var challenge *nip46.AuthChallengeError
	if errors.As(err, &challenge) {
		return &Error{
			Code:    codeAuthRequired,
			Message: "authorization required",
			Data:    challenge.URL,
		}
	}
	switch {
	case errors.Is(err, nip46.ErrInvalidParams),
		errors.Is(err, nip46.ErrUnknownSession),
		errors.Is(err, nip46.ErrSecretUsed):
		return InvalidParams(err.Error())
	case errors.Is(err, nip46.ErrUnauthorized):
		return &Error{Code: codeUnauthorized, Message: err.Error()}
	default:
		return Internal(err.Error())
	}
}
