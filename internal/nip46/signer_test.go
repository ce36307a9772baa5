package nip46

import (
	"context"
	"testing"
	"time"

	"github.com/mailru/easyjson"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip44"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bunkerd/internal/relaybus"
)

func testSigner(t *testing.T, perms []string, ttl time.Duration) (*Signer, *Store, *fakeBus) {
	t.Helper()
	sk := nostr.GeneratePrivateKey()
	store := NewStore(nil)
	bus := newFakeBus()
	signer, err := NewSigner(sk, store, bus, relaybus.NewSet([]string{"wss://relay.test"}), perms, ttl, zerolog.Nop())
	require.NoError(t, err)
	return signer, store, bus
}

func connectSession(t *testing.T, signer *Signer, clientPK, secret string) {
	t.Helper()
	resp := signer.Dispatch(context.Background(), clientPK, Request{
		ID:     "c1",
		Method: string(MethodConnect),
		Params: []string{signer.Pubkey(), secret},
	})
	require.Empty(t, resp.Error)
	require.Equal(t, "ack", resp.Result)
}

func TestSignerConnectEstablishesSession(t *testing.T) {
	signer, store, _ := testSigner(t, []string{"sign_event"}, time.Hour)
	_, clientPK := testKeypair(t)

	connectSession(t, signer, clientPK, "s3cret")

	session, ok := store.Get(clientPK)
	require.True(t, ok)
	assert.Equal(t, clientPK, session.ClientPubkey)
	assert.Equal(t, signer.Pubkey(), session.UserPubkey)
	assert.Equal(t, []string{"sign_event"}, session.Perms)
	assert.True(t, session.Authorized)
	assert.False(t, session.ExpiresAt.IsZero())
}

func TestSignerConnectRejectsWrongTarget(t *testing.T) {
	signer, _, _ := testSigner(t, nil, 0)
	_, clientPK := testKeypair(t)

	resp := signer.Dispatch(context.Background(), clientPK, Request{
		ID:     "c1",
		Method: string(MethodConnect),
		Params: []string{"deadbeef"},
	})
	assert.Equal(t, "remote signer pubkey mismatch", resp.Error)
}

func TestSignerConnectRejectsReplayedSecret(t *testing.T) {
	signer, _, _ := testSigner(t, nil, 0)
	_, firstPK := testKeypair(t)
	_, secondPK := testKeypair(t)

	connectSession(t, signer, firstPK, "onetime")

	resp := signer.Dispatch(context.Background(), secondPK, Request{
		ID:     "c2",
		Method: string(MethodConnect),
		Params: []string{signer.Pubkey(), "onetime"},
	})
	assert.Equal(t, ErrSecretUsed.Error(), resp.Error)
}

func TestSignerConnectWithoutSecret(t *testing.T) {
	signer, store, _ := testSigner(t, nil, 0)
	_, clientPK := testKeypair(t)

	resp := signer.Dispatch(context.Background(), clientPK, Request{
		ID:     "c1",
		Method: string(MethodConnect),
		Params: []string{signer.Pubkey()},
	})
	assert.Equal(t, "ack", resp.Result)
	_, ok := store.Get(clientPK)
	assert.True(t, ok)
}

func TestSignerGetPublicKeyNeedsNoSession(t *testing.T) {
	signer, _, _ := testSigner(t, nil, 0)
	_, strangerPK := testKeypair(t)

	resp := signer.Dispatch(context.Background(), strangerPK, Request{
		ID:     "r1",
		Method: string(MethodGetPublicKey),
	})
	assert.Empty(t, resp.Error)
	assert.Equal(t, signer.Pubkey(), resp.Result)
}

func TestSignerRejectsStrangers(t *testing.T) {
	signer, _, _ := testSigner(t, nil, 0)
	_, strangerPK := testKeypair(t)

	for _, method := range []Method{MethodPing, MethodSignEvent, MethodNip44Encrypt} {
		resp := signer.Dispatch(context.Background(), strangerPK, Request{ID: "r1", Method: string(method)})
		assert.Equal(t, ErrUnauthorized.Error(), resp.Error, string(method))
	}
}

func TestSignerPing(t *testing.T) {
	signer, _, _ := testSigner(t, nil, 0)
	_, clientPK := testKeypair(t)
	connectSession(t, signer, clientPK, "")

	resp := signer.Dispatch(context.Background(), clientPK, Request{ID: "r1", Method: string(MethodPing)})
	assert.Equal(t, "pong", resp.Result)
}

func TestSignerUnknownMethod(t *testing.T) {
	signer, _, _ := testSigner(t, nil, 0)
	_, clientPK := testKeypair(t)
	connectSession(t, signer, clientPK, "")

	resp := signer.Dispatch(context.Background(), clientPK, Request{ID: "r1", Method: "frobnicate"})
	assert.Equal(t, "unknown method frobnicate", resp.Error)
}

func TestSignerSignEvent(t *testing.T) {
	signer, _, _ := testSigner(t, []string{"sign_event:1"}, 0)
	_, clientPK := testKeypair(t)
	connectSession(t, signer, clientPK, "")

	unsigned := nostr.Event{
		PubKey:    signer.Pubkey(),
		CreatedAt: nostr.Now(),
		Kind:      nostr.KindTextNote,
		Content:   "hello",
	}
	raw, err := easyjson.Marshal(unsigned)
	require.NoError(t, err)

	resp := signer.Dispatch(context.Background(), clientPK, Request{
		ID:     "r1",
		Method: string(MethodSignEvent),
		Params: []string{string(raw)},
	})
	require.Empty(t, resp.Error)

	var signed nostr.Event
	require.NoError(t, easyjson.Unmarshal([]byte(resp.Result), &signed))
	assert.Equal(t, unsigned.Content, signed.Content)
	ok, err := signed.CheckSignature()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSignerSignEventPermDenied(t *testing.T) {
	signer, _, _ := testSigner(t, []string{"sign_event:30023"}, 0)
	_, clientPK := testKeypair(t)
	connectSession(t, signer, clientPK, "")

	unsigned := nostr.Event{PubKey: signer.Pubkey(), CreatedAt: nostr.Now(), Kind: nostr.KindTextNote}
	raw, err := easyjson.Marshal(unsigned)
	require.NoError(t, err)

	resp := signer.Dispatch(context.Background(), clientPK, Request{
		ID:     "r1",
		Method: string(MethodSignEvent),
		Params: []string{string(raw)},
	})
	assert.Equal(t, "unauthorized sign_event", resp.Error)
}

func TestSignerSignEventPubkeyMismatch(t *testing.T) {
	signer, _, _ := testSigner(t, []string{"sign_event"}, 0)
	_, clientPK := testKeypair(t)
	_, otherPK := testKeypair(t)
	connectSession(t, signer, clientPK, "")

	unsigned := nostr.Event{PubKey: otherPK, CreatedAt: nostr.Now(), Kind: nostr.KindTextNote}
	raw, err := easyjson.Marshal(unsigned)
	require.NoError(t, err)

	resp := signer.Dispatch(context.Background(), clientPK, Request{
		ID:     "r1",
		Method: string(MethodSignEvent),
		Params: []string{string(raw)},
	})
	assert.Equal(t, "pubkey mismatch", resp.Error)
}

func TestSignerCipherOps(t *testing.T) {
	signer, _, _ := testSigner(t, []string{"nip44_encrypt", "nip44_decrypt"}, 0)
	_, clientPK := testKeypair(t)
	thirdSK, thirdPK := testKeypair(t)
	connectSession(t, signer, clientPK, "")

	resp := signer.Dispatch(context.Background(), clientPK, Request{
		ID:     "r1",
		Method: string(MethodNip44Encrypt),
		Params: []string{thirdPK, "top secret"},
	})
	require.Empty(t, resp.Error)

	// the third party can read it with its own key
	convKey, err := nip44.GenerateConversationKey(signer.Pubkey(), thirdSK)
	require.NoError(t, err)
	plain, err := nip44.Decrypt(resp.Result, convKey)
	require.NoError(t, err)
	assert.Equal(t, "top secret", plain)

	resp = signer.Dispatch(context.Background(), clientPK, Request{
		ID:     "r2",
		Method: string(MethodNip44Decrypt),
		Params: []string{thirdPK, resp.Result},
	})
	require.Empty(t, resp.Error)
	assert.Equal(t, "top secret", resp.Result)
}

func TestSignerCipherPermDenied(t *testing.T) {
	signer, _, _ := testSigner(t, []string{"nip44_encrypt"}, 0)
	_, clientPK := testKeypair(t)
	_, thirdPK := testKeypair(t)
	connectSession(t, signer, clientPK, "")

	resp := signer.Dispatch(context.Background(), clientPK, Request{
		ID:     "r1",
		Method: string(MethodNip04Encrypt),
		Params: []string{thirdPK, "plaintext"},
	})
	assert.Equal(t, "unauthorized nip04_encrypt", resp.Error)
}

func TestSignerCipherRejectsBadPubkey(t *testing.T) {
	signer, _, _ := testSigner(t, []string{"nip44_encrypt"}, 0)
	_, clientPK := testKeypair(t)
	connectSession(t, signer, clientPK, "")

	resp := signer.Dispatch(context.Background(), clientPK, Request{
		ID:     "r1",
		Method: string(MethodNip44Encrypt),
		Params: []string{"nope", "plaintext"},
	})
	assert.Contains(t, resp.Error, "not a pubkey")
}

func TestSignerAuthGateParksRequestAndReplaysOnce(t *testing.T) {
	signer, store, bus := testSigner(t, []string{"sign_event"}, 0)
	clientSK, clientPK := testKeypair(t)
	connectSession(t, signer, clientPK, "")

	require.True(t, store.RequireAuth(clientPK, "https://approve.example/1"))

	resp := signer.Dispatch(context.Background(), clientPK, Request{ID: "r1", Method: string(MethodPing)})
	url, ok := resp.AuthChallenge()
	require.True(t, ok)
	assert.Equal(t, "https://approve.example/1", url)

	pending, ok := store.Authorize(clientPK)
	require.True(t, ok)
	require.NotNil(t, pending)
	assert.Equal(t, "r1", pending.RequestID)

	require.NoError(t, signer.Redeliver(context.Background(), *pending))

	// the follow-up reply is decryptable by the client and correlated by
	// the original request id
	out := bus.lastPublished(t)
	conv, err := NewConversation(clientSK, signer.Pubkey())
	require.NoError(t, err)
	msg, err := conv.DecryptMessage(&out)
	require.NoError(t, err)
	assert.Equal(t, "r1", msg.ID)
	assert.Equal(t, "pong", msg.Result)

	// approval consumed the parked request; nothing left to replay
	again, ok := store.Authorize(clientPK)
	require.True(t, ok)
	assert.Nil(t, again)
}

func TestSignerHandleRoundtrip(t *testing.T) {
	signer, _, bus := testSigner(t, nil, 0)
	clientSK, _ := testKeypair(t)

	conv, err := NewConversation(clientSK, signer.Pubkey())
	require.NoError(t, err)
	evt, err := conv.BuildRequestEvent(clientSK, signer.Pubkey(), Request{
		ID:     "r1",
		Method: string(MethodConnect),
		Params: []string{signer.Pubkey(), ""},
	})
	require.NoError(t, err)

	signer.handle(context.Background(), &evt)

	require.NotEmpty(t, bus.published)
	msg, err := conv.DecryptMessage(&bus.published[len(bus.published)-1])
	require.NoError(t, err)
	assert.Equal(t, "r1", msg.ID)
	assert.Equal(t, "ack", msg.Result)

	// garbage traffic is dropped without a reply
	published := len(bus.published)
	junk := nostr.Event{Kind: nostr.KindNostrConnect, CreatedAt: nostr.Now(), Content: "junk"}
	require.NoError(t, junk.Sign(clientSK))
	signer.handle(context.Background(), &junk)
	assert.Len(t, bus.published, published)

	signer.handle(context.Background(), &nostr.Event{Kind: nostr.KindTextNote})
	assert.Len(t, bus.published, published)
}

func TestSignerSessionExpiryEndsAccess(t *testing.T) {
	signer, store, _ := testSigner(t, nil, time.Millisecond)
	_, clientPK := testKeypair(t)
	connectSession(t, signer, clientPK, "")

	time.Sleep(5 * time.Millisecond)

	resp := signer.Dispatch(context.Background(), clientPK, Request{ID: "r1", Method: string(MethodPing)})
	assert.Equal(t, ErrUnauthorized.Error(), resp.Error)
	_, ok := store.Get(clientPK)
	assert.False(t, ok)
}
