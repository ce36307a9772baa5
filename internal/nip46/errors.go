package nip46

import "errors"

var (
	// ErrInvalidParams marks malformed caller input: bad connect URLs,
	// missing required fields, malformed pubkeys.
	ErrInvalidParams = errors.New("invalid params")

	// ErrUnknownSession is returned when a session id resolves to nothing,
	// either because it never existed or because it expired.
	ErrUnknownSession = errors.New("unknown session")

	// ErrUnauthorized covers permission and identity mismatches.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrSecretUsed is returned when a one-time connect secret was already
	// claimed. Callers see it as invalid input; it is logged separately.
	ErrSecretUsed = errors.New("secret already used")

	// ErrResponseTimeout is returned when a correlated reply did not arrive
	// within the configured window.
	ErrResponseTimeout = errors.New("response not found")

	// ErrStreamClosed is returned when the relay notification stream ends.
	ErrStreamClosed = errors.New("notification stream closed")
)

// AuthChallengeError is not a failure: the remote signer requires a human to
// approve the operation via URL before the deferred result is delivered.
type AuthChallengeError struct {
	URL string
}

func (e *AuthChallengeError) Error() string {
	return "authorization required: " + e.URL
}
