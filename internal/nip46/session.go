package nip46

import (
	"slices"
	"time"
)

// Session is the live relationship between this daemon and one counterpart
// key, in either direction: client sessions are keyed by a generated UUID,
// inbound signer sessions by the requester's hex pubkey.
type Session struct {
	ID string

	// LocalSecretKey is the keypair used on this side of the conversation:
	// an ephemeral key for client sessions, the daemon key for inbound ones.
	LocalSecretKey     string
	LocalPubkey        string
	RemoteSignerPubkey string
	ClientPubkey       string

	// UserPubkey is the custodied identity, learned via get_public_key.
	UserPubkey string

	Relays []string
	Perms  []string

	Name  string
	URL   string
	Image string

	// ExpiresAt is the wall-clock expiry instant; the zero value means the
	// session never expires.
	ExpiresAt time.Time

	AuthRequired bool
	Authorized   bool
	AuthURL      string
	Pending      *PendingRequest

	Conv Conversation
}

func (s *Session) Expired() bool {
	return !s.ExpiresAt.IsZero() && !s.ExpiresAt.After(time.Now())
}

// clone returns a copy safe to hand outside the store's lock.
func (s *Session) clone() Session {
	out := *s
	out.Relays = slices.Clone(s.Relays)
	out.Perms = slices.Clone(s.Perms)
	if s.Pending != nil {
		pending := *s.Pending
		out.Pending = &pending
	}
	return out
}

// PendingRequest is one deferred inbound operation parked on a session until
// a human approves it out-of-band. It is consumed exactly once.
type PendingRequest struct {
	RequestID       string
	RequesterPubkey string
	Request         Request
}

// SessionExpiresAt converts the configured TTL into an expiry instant.
// A zero TTL means sessions never expire.
func SessionExpiresAt(ttl time.Duration) time.Time {
	if ttl == 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}
