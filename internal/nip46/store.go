package nip46

import (
	"context"
	"sort"
	"sync"
)

// Store is the concurrency-safe session table. A single mutex covers every
// operation; critical sections never perform I/O. Expiry is evaluated lazily
// on every access path, so there is no background sweep: an expired session
// is treated as absent by the next operation that touches it.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session

	secrets SecretRegistry
}

// NewStore builds a Store. A nil registry falls back to the in-process
// used-secrets set.
func NewStore(secrets SecretRegistry) *Store {
	if secrets == nil {
		secrets = NewMemorySecrets()
	}
	return &Store{
		sessions: make(map[string]*Session),
		secrets:  secrets,
	}
}

// Insert upserts the session under its id.
func (st *Store) Insert(session *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[session.ID] = session
}

// Get returns a copy of the session, evicting it first if it expired.
func (st *Store) Get(id string) (Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	session, ok := st.live(id)
	if !ok {
		return Session{}, false
	}
	return session.clone(), true
}

// Remove deletes the session unconditionally, reporting whether it existed.
func (st *Store) Remove(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	_, ok := st.sessions[id]
	delete(st.sessions, id)
	return ok
}

// SetUserPubkey records the custodied identity. The write is skipped when
// the value did not change, so repeated get_public_key calls do not churn.
func (st *Store) SetUserPubkey(id, pubkey string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	session, ok := st.live(id)
	if !ok {
		return false
	}
	if session.UserPubkey != pubkey {
		session.UserPubkey = pubkey
	}
	return true
}

// RequireAuth flips the session into the awaiting-approval state. A fresh
// challenge invalidates any previously parked request.
func (st *Store) RequireAuth(id, authURL string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	session, ok := st.live(id)
	if !ok {
		return false
	}
	session.AuthRequired = true
	session.Authorized = false
	session.AuthURL = authURL
	session.Pending = nil
	return true
}

// Authorize marks the session approved and atomically takes the parked
// request, if any, so exactly one replay is triggered.
func (st *Store) Authorize(id string) (*PendingRequest, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	session, ok := st.live(id)
	if !ok {
		return nil, false
	}
	session.Authorized = true
	pending := session.Pending
	session.Pending = nil
	return pending, true
}

// SetPending parks a deferred request on the session, replacing any earlier
// one (last writer wins).
func (st *Store) SetPending(id string, pending PendingRequest) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	session, ok := st.live(id)
	if !ok {
		return false
	}
	session.Pending = &pending
	return true
}

// ClaimSecret burns a one-time connect secret. It returns true exactly once
// per secret, even under concurrent handshake attempts.
func (st *Store) ClaimSecret(ctx context.Context, secret string) (bool, error) {
	return st.secrets.Claim(ctx, secret)
}

// List evicts every expired session and returns an id-sorted snapshot.
func (st *Store) List() []Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]Session, 0, len(st.sessions))
	for id, session := range st.sessions {
		if session.Expired() {
			delete(st.sessions, id)
			continue
		}
		out = append(out, session.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// live must be called with the lock held; it evicts the entry when expired.
func (st *Store) live(id string) (*Session, bool) {
	session, ok := st.sessions[id]
	if !ok {
		return nil, false
	}
	if session.Expired() {
		delete(st.sessions, id)
		return nil, false
	}
	return session, true
}
