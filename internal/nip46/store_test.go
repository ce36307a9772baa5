package nip46

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreInsertGetRemove(t *testing.T) {
	st := NewStore(nil)
	st.Insert(&Session{ID: "a", ClientPubkey: testPubkey})

	got, ok := st.Get("a")
	require.True(t, ok)
	assert.Equal(t, testPubkey, got.ClientPubkey)

	_, ok = st.Get("missing")
	assert.False(t, ok)

	assert.True(t, st.Remove("a"))
	assert.False(t, st.Remove("a"))
	_, ok = st.Get("a")
	assert.False(t, ok)
}

func TestStoreGetReturnsCopy(t *testing.T) {
	st := NewStore(nil)
	st.Insert(&Session{ID: "a", Perms: []string{"ping"}})

	got, _ := st.Get("a")
	got.Perms[0] = "sign_event"

	again, _ := st.Get("a")
	assert.Equal(t, []string{"ping"}, again.Perms)
}

func TestStoreExpiry(t *testing.T) {
	st := NewStore(nil)
	st.Insert(&Session{ID: "old", ExpiresAt: time.Now().Add(-time.Second)})
	st.Insert(&Session{ID: "fresh", ExpiresAt: time.Now().Add(time.Hour)})
	st.Insert(&Session{ID: "forever"})

	_, ok := st.Get("old")
	assert.False(t, ok, "expired session must behave as absent")
	_, ok = st.Get("fresh")
	assert.True(t, ok)
	_, ok = st.Get("forever")
	assert.True(t, ok, "zero expiry means the session never expires")

	// the expired entry was evicted, not just hidden
	assert.False(t, st.Remove("old"))
}

func TestStoreListSortedAndEvicting(t *testing.T) {
	st := NewStore(nil)
	st.Insert(&Session{ID: "c"})
	st.Insert(&Session{ID: "a"})
	st.Insert(&Session{ID: "b", ExpiresAt: time.Now().Add(-time.Minute)})

	sessions := st.List()
	require.Len(t, sessions, 2)
	assert.Equal(t, "a", sessions[0].ID)
	assert.Equal(t, "c", sessions[1].ID)
}

func TestStoreClaimSecretExactlyOnce(t *testing.T) {
	st := NewStore(nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	claims := make(chan bool, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := st.ClaimSecret(ctx, "onetime")
			assert.NoError(t, err)
			claims <- ok
		}()
	}
	wg.Wait()
	close(claims)

	won := 0
	for ok := range claims {
		if ok {
			won++
		}
	}
	assert.Equal(t, 1, won, "exactly one concurrent claim must win")

	// distinct secrets are independent
	ok, err := st.ClaimSecret(ctx, "another")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStoreSetUserPubkey(t *testing.T) {
	st := NewStore(nil)
	st.Insert(&Session{ID: "a"})

	assert.True(t, st.SetUserPubkey("a", testPubkey))
	got, _ := st.Get("a")
	assert.Equal(t, testPubkey, got.UserPubkey)

	// idempotent on the same value
	assert.True(t, st.SetUserPubkey("a", testPubkey))
	assert.False(t, st.SetUserPubkey("missing", testPubkey))
}

func TestStoreRequireAuthClearsPending(t *testing.T) {
	st := NewStore(nil)
	st.Insert(&Session{ID: "a"})

	require.True(t, st.SetPending("a", PendingRequest{RequestID: "r1"}))
	require.True(t, st.RequireAuth("a", "https://approve.example/1"))

	got, _ := st.Get("a")
	assert.True(t, got.AuthRequired)
	assert.False(t, got.Authorized)
	assert.Equal(t, "https://approve.example/1", got.AuthURL)
	assert.Nil(t, got.Pending, "a fresh challenge invalidates parked requests")

	assert.False(t, st.RequireAuth("missing", "https://approve.example/2"))
}

func TestStoreAuthorizeTakesPendingOnce(t *testing.T) {
	st := NewStore(nil)
	st.Insert(&Session{ID: "a"})
	st.RequireAuth("a", "https://approve.example/1")
	st.SetPending("a", PendingRequest{RequestID: "r1", Request: Request{ID: "r1", Method: "ping"}})

	pending, ok := st.Authorize("a")
	require.True(t, ok)
	require.NotNil(t, pending)
	assert.Equal(t, "r1", pending.RequestID)

	got, _ := st.Get("a")
	assert.True(t, got.Authorized)

	// the parked request is consumed exactly once
	pending, ok = st.Authorize("a")
	require.True(t, ok)
	assert.Nil(t, pending)

	_, ok = st.Authorize("missing")
	assert.False(t, ok)
}

func TestStoreSetPendingLastWriterWins(t *testing.T) {
	st := NewStore(nil)
	st.Insert(&Session{ID: "a"})

	st.SetPending("a", PendingRequest{RequestID: "r1"})
	st.SetPending("a", PendingRequest{RequestID: "r2"})

	pending, ok := st.Authorize("a")
	require.True(t, ok)
	require.NotNil(t, pending)
	assert.Equal(t, "r2", pending.RequestID)
}

func TestSessionExpiresAt(t *testing.T) {
	assert.True(t, SessionExpiresAt(0).IsZero())

	at := SessionExpiresAt(15 * time.Minute)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), at, time.Second)
}
