package nip46

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/mailru/easyjson"
	"github.com/nbd-wtf/go-nostr"
	"github.com/rs/zerolog"

	"bunkerd/internal/relaybus"
)

// Client correlates outbound requests with their encrypted replies. One
// Client is shared by every RPC-originated call; each call opens its own
// subscription and matches by request id, so concurrent calls to the same
// counterpart never confuse each other's replies.
type Client struct {
	bus     relaybus.Bus
	timeout time.Duration
	log     zerolog.Logger

	serial   atomic.Uint64
	idPrefix string
}

func NewClient(bus relaybus.Bus, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		bus:      bus,
		timeout:  timeout,
		log:      log,
		idPrefix: "bd-" + strconv.Itoa(rand.Intn(65536)),
	}
}

func (c *Client) nextID() string {
	return c.idPrefix + "-" + strconv.FormatUint(c.serial.Add(1), 10)
}

// Request publishes one encrypted request on the session's relays, then
// waits for the reply carrying the same request id. The subscription is
// always torn down before returning, matched or not.
func (c *Client) Request(ctx context.Context, session *Session, method Method, params []string, label string) (Response, error) {
	req := Request{ID: c.nextID(), Method: string(method), Params: params}
	evt, err := session.Conv.BuildRequestEvent(session.LocalSecretKey, session.RemoteSignerPubkey, req)
	if err != nil {
		return Response{}, fmt.Errorf("nip46 %s: %w", label, err)
	}

	if err := c.bus.Publish(ctx, session.Relays, evt); err != nil {
		return Response{}, fmt.Errorf("nip46 %s: %w", label, err)
	}

	since := nostr.Now()
	filters := nostr.Filters{{
		Kinds:   []int{nostr.KindNostrConnect},
		Authors: []string{session.RemoteSignerPubkey},
		Tags:    nostr.TagMap{"p": []string{session.LocalPubkey}},
		Since:   &since,
	}}
	sub, err := c.bus.Subscribe(ctx, session.Relays, filters)
	if err != nil {
		return Response{}, fmt.Errorf("nip46 %s: %w", label, err)
	}
	defer sub.Unsub()

	timeout := time.NewTimer(c.timeout)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-timeout.C:
			return Response{}, fmt.Errorf("nip46 %s: %w", label, ErrResponseTimeout)
		case incoming, ok := <-sub.Events():
			if !ok {
				return Response{}, fmt.Errorf("nip46 %s: %w", label, ErrStreamClosed)
			}
			if incoming == nil || incoming.Kind != nostr.KindNostrConnect ||
				incoming.PubKey != session.RemoteSignerPubkey {
				continue
			}
			msg, err := session.Conv.DecryptMessage(incoming)
			if err != nil {
				c.log.Debug().Err(err).Str("label", label).Msg("nip46: skipping undecryptable event")
				continue
			}
			if msg.IsRequest() || msg.ID != req.ID {
				continue
			}
			return msg.Response(), nil
		}
	}
}

// unwrap turns a protocol-level reply into a result, surfacing remote errors
// and deferred-authorization challenges as typed errors.
func unwrap(resp Response, label string) (string, error) {
	if authURL, ok := resp.AuthChallenge(); ok {
		return "", &AuthChallengeError{URL: authURL}
	}
	if resp.Error != "" {
		return "", fmt.Errorf("nip46 %s error: %s", label, resp.Error)
	}
	return resp.Result, nil
}

// ConnectBunker completes the bunker-mode handshake on a prepared session.
// Signers acknowledge with "ack" or by echoing the secret back.
func (c *Client) ConnectBunker(ctx context.Context, session *Session, secret string) error {
	resp, err := c.Request(ctx, session, MethodConnect, []string{session.RemoteSignerPubkey, secret}, "connect")
	if err != nil {
		return err
	}
	result, err := unwrap(resp, "connect")
	if err != nil {
		return err
	}
	if result == "ack" || (secret != "" && result == secret) {
		return nil
	}
	return fmt.Errorf("nip46 connect unexpected result: %s", result)
}

// AwaitNostrconnect waits for a remote signer to claim an advertised
// nostrconnect URL by echoing its secret, and reports the signer's pubkey
// learned from the claiming event's author.
func (c *Client) AwaitNostrconnect(ctx context.Context, localSecretKey, localPubkey string, relays []string, secret string) (string, error) {
	since := nostr.Now()
	filters := nostr.Filters{{
		Kinds: []int{nostr.KindNostrConnect},
		Tags:  nostr.TagMap{"p": []string{localPubkey}},
		Since: &since,
	}}
	sub, err := c.bus.Subscribe(ctx, relays, filters)
	if err != nil {
		return "", fmt.Errorf("nip46 connect: %w", err)
	}
	defer sub.Unsub()

	timeout := time.NewTimer(c.timeout)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timeout.C:
			return "", fmt.Errorf("nip46 connect: %w", ErrResponseTimeout)
		case incoming, ok := <-sub.Events():
			if !ok {
				return "", fmt.Errorf("nip46 connect: %w", ErrStreamClosed)
			}
			if incoming == nil || incoming.Kind != nostr.KindNostrConnect {
				continue
			}
			conv, err := NewConversation(localSecretKey, incoming.PubKey)
			if err != nil {
				continue
			}
			msg, err := conv.DecryptMessage(incoming)
			if err != nil {
				c.log.Debug().Err(err).Msg("nip46: skipping undecryptable event")
				continue
			}
			if msg.IsRequest() || msg.ID == "" {
				continue
			}
			if msg.Result == secret {
				return incoming.PubKey, nil
			}
			c.log.Debug().Str("from", incoming.PubKey).Msg("nip46: ignoring response with wrong secret")
		}
	}
}

// GetPublicKey asks the remote signer for the custodied identity.
func (c *Client) GetPublicKey(ctx context.Context, session *Session) (string, error) {
	resp, err := c.Request(ctx, session, MethodGetPublicKey, []string{}, "get_public_key")
	if err != nil {
		return "", err
	}
	result, err := unwrap(resp, "get_public_key")
	if err != nil {
		return "", err
	}
	if !nostr.IsValidPublicKey(result) {
		return "", fmt.Errorf("nip46 get_public_key returned invalid pubkey: %s", result)
	}
	return result, nil
}

// SignEvent sends the unsigned event for remote signing and replaces it with
// the signed result after verifying the signature locally.
func (c *Client) SignEvent(ctx context.Context, session *Session, evt *nostr.Event) error {
	resp, err := c.Request(ctx, session, MethodSignEvent, []string{evt.String()}, "sign_event")
	if err != nil {
		return err
	}
	result, err := unwrap(resp, "sign_event")
	if err != nil {
		return err
	}
	if err := easyjson.Unmarshal([]byte(result), evt); err != nil {
		return fmt.Errorf("nip46 sign_event: failed to decode signed event: %w", err)
	}
	if ok, err := evt.CheckSignature(); err != nil || !ok {
		return fmt.Errorf("nip46 sign_event: signed event failed verification")
	}
	return nil
}

func (c *Client) Nip04Encrypt(ctx context.Context, session *Session, pubkey, plaintext string) (string, error) {
	resp, err := c.Request(ctx, session, MethodNip04Encrypt, []string{pubkey, plaintext}, "nip04_encrypt")
	if err != nil {
		return "", err
	}
	return unwrap(resp, "nip04_encrypt")
}

func (c *Client) Nip04Decrypt(ctx context.Context, session *Session, pubkey, ciphertext string) (string, error) {
	resp, err := c.Request(ctx, session, MethodNip04Decrypt, []string{pubkey, ciphertext}, "nip04_decrypt")
	if err != nil {
		return "", err
	}
	return unwrap(resp, "nip04_decrypt")
}

func (c *Client) Nip44Encrypt(ctx context.Context, session *Session, pubkey, plaintext string) (string, error) {
	resp, err := c.Request(ctx, session, MethodNip44Encrypt, []string{pubkey, plaintext}, "nip44_encrypt")
	if err != nil {
		return "", err
	}
	return unwrap(resp, "nip44_encrypt")
}

func (c *Client) Nip44Decrypt(ctx context.Context, session *Session, pubkey, ciphertext string) (string, error) {
	resp, err := c.Request(ctx, session, MethodNip44Decrypt, []string{pubkey, ciphertext}, "nip44_decrypt")
	if err != nil {
		return "", err
	}
	return unwrap(resp, "nip44_decrypt")
}

// Ping probes the remote signer through an established session.
func (c *Client) Ping(ctx context.Context, session *Session) error {
	resp, err := c.Request(ctx, session, MethodPing, []string{}, "ping")
	if err != nil {
		return err
	}
	result, err := unwrap(resp, "ping")
	if err != nil {
		return err
	}
	if result != "pong" {
		return fmt.Errorf("nip46 ping unexpected result: %s", result)
	}
	return nil
}
