package nip46

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v3"
	"github.com/mailru/easyjson"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/nbd-wtf/go-nostr/nip44"
	"github.com/rs/zerolog"

	"bunkerd/internal/relaybus"
)

// Signer answers inbound requests addressed to the daemon's own key. One
// Signer runs per daemon instance; its loop survives any single bad request
// and only resubscribes when the transport itself fails.
type Signer struct {
	secretKey string
	pubkey    string
	store     *Store
	bus       relaybus.Bus
	relays    *relaybus.Set
	perms     []string
	ttl       time.Duration
	log       zerolog.Logger
}

func NewSigner(
	secretKey string,
	store *Store,
	bus relaybus.Bus,
	relays *relaybus.Set,
	perms []string,
	ttl time.Duration,
	log zerolog.Logger,
) (*Signer, error) {
	pubkey, err := nostr.GetPublicKey(secretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive signer pubkey: %w", err)
	}
	return &Signer{
		secretKey: secretKey,
		pubkey:    pubkey,
		store:     store,
		bus:       bus,
		relays:    relays,
		perms:     perms,
		ttl:       ttl,
		log:       log,
	}, nil
}

func (s *Signer) Pubkey() string { return s.pubkey }

// Run keeps the listener subscribed until ctx is cancelled, backing off
// exponentially between transport failures.
func (s *Signer) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	return backoff.RetryNotify(func() error {
		return s.listen(ctx)
	}, backoff.WithContext(bo, ctx), func(err error, d time.Duration) {
		s.log.Warn().Err(err).Dur("retry_in", d).Msg("nip46: listener interrupted")
	})
}

func (s *Signer) listen(ctx context.Context) error {
	since := nostr.Now()
	filters := nostr.Filters{{
		Kinds: []int{nostr.KindNostrConnect},
		Tags:  nostr.TagMap{"p": []string{s.pubkey}},
		Since: &since,
	}}
	sub, err := s.bus.Subscribe(ctx, s.relays.List(), filters)
	if err != nil {
		return fmt.Errorf("nip46 listener subscribe: %w", err)
	}
	defer sub.Unsub()
	s.log.Info().Str("pubkey", s.pubkey).Msg("nip46: listener subscribed")

	for {
		select {
		case <-ctx.Done():
			return backoff.Permanent(ctx.Err())
		case evt, ok := <-sub.Events():
			if !ok {
				return ErrStreamClosed
			}
			s.handle(ctx, evt)
		}
	}
}

// handle processes one notification. Every failure here ends this request
// only, never the loop.
func (s *Signer) handle(ctx context.Context, evt *nostr.Event) {
	if evt == nil || evt.Kind != nostr.KindNostrConnect {
		return
	}
	conv, err := s.conversation(evt.PubKey)
	if err != nil {
		s.log.Warn().Err(err).Str("from", evt.PubKey).Msg("nip46: key agreement failed")
		return
	}
	msg, err := conv.DecryptMessage(evt)
	if err != nil {
		s.log.Debug().Err(err).Msg("nip46: dropping undecryptable event")
		return
	}
	if !msg.IsRequest() {
		return
	}
	resp := s.Dispatch(ctx, evt.PubKey, msg.Request())
	s.send(ctx, conv, evt.PubKey, resp)
}

func (s *Signer) send(ctx context.Context, conv Conversation, recipient string, resp Response) {
	out, err := conv.BuildResponseEvent(s.secretKey, recipient, resp)
	if err != nil {
		s.log.Warn().Err(err).Msg("nip46: failed to build reply")
		return
	}
	if err := s.bus.Publish(ctx, s.relays.List(), out); err != nil {
		s.log.Warn().Err(err).Msg("nip46: failed to publish reply")
	}
}

// Dispatch executes one decoded request and always produces exactly one
// reply: a result, a domain error, or an authorization challenge.
func (s *Signer) Dispatch(ctx context.Context, from string, req Request) Response {
	switch Method(req.Method) {
	case MethodConnect:
		return s.handleConnect(ctx, from, req)
	case MethodGetPublicKey:
		// reveals no secret, so no session is required
		return Response{ID: req.ID, Result: s.pubkey}
	}

	session, ok := s.store.Get(from)
	if !ok {
		return errorResponse(req.ID, ErrUnauthorized.Error())
	}
	if session.AuthRequired && !session.Authorized {
		s.store.SetPending(session.ID, PendingRequest{
			RequestID:       req.ID,
			RequesterPubkey: from,
			Request:         req,
		})
		return AuthChallengeResponse(req.ID, session.AuthURL)
	}

	switch Method(req.Method) {
	case MethodSignEvent:
		return s.handleSignEvent(session, req)
	case MethodNip04Encrypt, MethodNip04Decrypt, MethodNip44Encrypt, MethodNip44Decrypt:
		return s.handleCipher(session, req)
	case MethodPing:
		// known sessions only: strangers learn nothing about our liveness
		return Response{ID: req.ID, Result: "pong"}
	default:
		return errorResponse(req.ID, "unknown method "+req.Method)
	}
}

func (s *Signer) handleConnect(ctx context.Context, from string, req Request) Response {
	if len(req.Params) < 1 || req.Params[0] != s.pubkey {
		return errorResponse(req.ID, "remote signer pubkey mismatch")
	}
	if len(req.Params) >= 2 && req.Params[1] != "" {
		secret := strings.TrimSpace(req.Params[1])
		if secret == "" {
			return errorResponse(req.ID, "secret is empty")
		}
		claimed, err := s.store.ClaimSecret(ctx, secret)
		if err != nil {
			s.log.Error().Err(err).Msg("nip46: secret registry unavailable")
			return errorResponse(req.ID, "secret verification failed")
		}
		if !claimed {
			s.log.Warn().Str("client", from).Msg("nip46: rejected replayed connect secret")
			return errorResponse(req.ID, ErrSecretUsed.Error())
		}
	}

	conv, err := NewConversation(s.secretKey, from)
	if err != nil {
		return errorResponse(req.ID, "key agreement failed")
	}
	s.store.Insert(&Session{
		ID:                 from,
		LocalSecretKey:     s.secretKey,
		LocalPubkey:        s.pubkey,
		RemoteSignerPubkey: s.pubkey,
		ClientPubkey:       from,
		UserPubkey:         s.pubkey,
		Relays:             s.relays.List(),
		Perms:              slices.Clone(s.perms),
		ExpiresAt:          SessionExpiresAt(s.ttl),
		Authorized:         true,
		Conv:               conv,
	})
	s.log.Info().Str("client", from).Msg("nip46: session established")
	return Response{ID: req.ID, Result: "ack"}
}

func (s *Signer) handleSignEvent(session Session, req Request) Response {
	if len(req.Params) != 1 {
		return errorResponse(req.ID, "wrong number of arguments to 'sign_event'")
	}
	var evt nostr.Event
	if err := easyjson.Unmarshal([]byte(req.Params[0]), &evt); err != nil {
		return errorResponse(req.ID, "failed to decode event: "+err.Error())
	}
	if !SignEventAllowed(session.Perms, evt.Kind) {
		return errorResponse(req.ID, "unauthorized sign_event")
	}
	if evt.PubKey != s.pubkey {
		return errorResponse(req.ID, "pubkey mismatch")
	}
	if err := evt.Sign(s.secretKey); err != nil {
		return errorResponse(req.ID, "failed to sign event: "+err.Error())
	}
	signed, _ := easyjson.Marshal(evt)
	return Response{ID: req.ID, Result: string(signed)}
}

func (s *Signer) handleCipher(session Session, req Request) Response {
	method := Method(req.Method)
	if !HasPerm(session.Perms, req.Method) {
		return errorResponse(req.ID, "unauthorized "+req.Method)
	}
	if len(req.Params) != 2 {
		return errorResponse(req.ID, "wrong number of arguments to '"+req.Method+"'")
	}
	thirdParty := req.Params[0]
	if !nostr.IsValidPublicKey(thirdParty) {
		return errorResponse(req.ID, "first argument to '"+req.Method+"' is not a pubkey string")
	}
	payload := req.Params[1]

	var result string
	var err error
	switch method {
	case MethodNip04Encrypt, MethodNip04Decrypt:
		var shared []byte
		shared, err = nip04.ComputeSharedSecret(thirdParty, s.secretKey)
		if err == nil {
			if method == MethodNip04Encrypt {
				result, err = nip04.Encrypt(payload, shared)
			} else {
				result, err = nip04.Decrypt(payload, shared)
			}
		}
	case MethodNip44Encrypt, MethodNip44Decrypt:
		var convKey [32]byte
		convKey, err = nip44.GenerateConversationKey(thirdParty, s.secretKey)
		if err == nil {
			if method == MethodNip44Encrypt {
				result, err = nip44.Encrypt(payload, convKey)
			} else {
				result, err = nip44.Decrypt(payload, convKey)
			}
		}
	}
	if err != nil {
		return errorResponse(req.ID, req.Method+" failed: "+err.Error())
	}
	return Response{ID: req.ID, Result: result}
}

// Redeliver replays an approved deferred request through the normal dispatch
// path and pushes its real result as a follow-up reply, correlated by the
// original request id.
func (s *Signer) Redeliver(ctx context.Context, pending PendingRequest) error {
	resp := s.Dispatch(ctx, pending.RequesterPubkey, pending.Request)
	conv, err := s.conversation(pending.RequesterPubkey)
	if err != nil {
		return err
	}
	out, err := conv.BuildResponseEvent(s.secretKey, pending.RequesterPubkey, resp)
	if err != nil {
		return err
	}
	return s.bus.Publish(ctx, s.relays.List(), out)
}

// conversation prefers the cached session keys; strangers get a fresh
// derivation so their connect requests can still be decrypted.
func (s *Signer) conversation(from string) (Conversation, error) {
	if session, ok := s.store.Get(from); ok {
		return session.Conv, nil
	}
	return NewConversation(s.secretKey, from)
}

func errorResponse(id, message string) Response {
	return Response{ID: id, Error: message}
}
