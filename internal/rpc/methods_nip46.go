package rpc

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/mailru/easyjson"
	"github.com/nbd-wtf/go-nostr"

	"bunkerd/internal/nip46"
)

type connectParams struct {
	URL             string `json:"url"`
	ClientSecretKey string `json:"client_secret_key,omitempty"`
}

type connectResult struct {
	SessionID          string   `json:"session_id"`
	Mode               string   `json:"mode"`
	RemoteSignerPubkey string   `json:"remote_signer_pubkey"`
	ClientPubkey       string   `json:"client_pubkey"`
	Relays             []string `json:"relays"`
}

func registerNip46(reg *Registry, deps Deps) {
	reg.Register("nip46.connect", func(ctx context.Context, params json.RawMessage) (any, error) {
		p, err := decode[connectParams](params)
		if err != nil {
			return nil, err
		}
		info, err := nip46.ParseConnectURL(p.URL)
		if err != nil {
			return nil, err
		}
		if len(info.Relays) == 0 {
			return nil, InvalidParams("missing relay")
		}
		switch info.Mode {
		case nip46.ConnectModeBunker:
			return connectBunker(ctx, deps, info)
		default:
			return connectNostrconnect(ctx, deps, info, p.ClientSecretKey)
		}
	})

	reg.Register("nip46.get_public_key", func(ctx context.Context, params json.RawMessage) (any, error) {
		p, err := decode[sessionParams](params)
		if err != nil {
			return nil, err
		}
		session, ok := deps.Store.Get(p.SessionID)
		if !ok {
			return nil, nip46.ErrUnknownSession
		}
		pubkey, err := deps.Client.GetPublicKey(ctx, &session)
		if err != nil {
			return nil, err
		}
		if pubkey != session.UserPubkey {
			if !deps.Store.SetUserPubkey(p.SessionID, pubkey) {
				return nil, Internal("session update failed")
			}
		}
		return map[string]string{"pubkey": pubkey}, nil
	})

	reg.Register("nip46.sign_event", func(ctx context.Context, params json.RawMessage) (any, error) {
		p, err := decode[signEventParams](params)
		if err != nil {
			return nil, err
		}
		session, ok := deps.Store.Get(p.SessionID)
		if !ok {
			return nil, nip46.ErrUnknownSession
		}
		var evt nostr.Event
		if err := easyjson.Unmarshal(p.Event, &evt); err != nil {
			return nil, InvalidParams("invalid event: " + err.Error())
		}
		if !nip46.SignEventAllowed(session.Perms, evt.Kind) {
			return nil, Wrap(nip46.ErrUnauthorized)
		}
		if evt.PubKey != session.RemoteSignerPubkey {
			return nil, InvalidParams("event pubkey does not match remote signer")
		}
		if err := deps.Client.SignEvent(ctx, &session, &evt); err != nil {
			return nil, err
		}
		return map[string]any{"event": evt}, nil
	})

	registerCipher(reg, deps, "nip46.nip04_encrypt", "nip04_encrypt", deps.Client.Nip04Encrypt)
	registerCipher(reg, deps, "nip46.nip04_decrypt", "nip04_decrypt", deps.Client.Nip04Decrypt)
	registerCipher(reg, deps, "nip46.nip44_encrypt", "nip44_encrypt", deps.Client.Nip44Encrypt)
	registerCipher(reg, deps, "nip46.nip44_decrypt", "nip44_decrypt", deps.Client.Nip44Decrypt)

	reg.Register("nip46.status", func(_ context.Context, _ json.RawMessage) (any, error) {
		return map[string]any{
			"ready":            true,
			"session_ttl_secs": uint64(deps.TTL.Seconds()),
		}, nil
	})

	reg.Register("nip46.ping", func(ctx context.Context, params json.RawMessage) (any, error) {
		p, err := decode[sessionParams](params)
		if err != nil {
			return nil, err
		}
		session, ok := deps.Store.Get(p.SessionID)
		if !ok {
			return nil, nip46.ErrUnknownSession
		}
		if err := deps.Client.Ping(ctx, &session); err != nil {
			return nil, err
		}
		return map[string]string{"result": "pong"}, nil
	})
}

type sessionParams struct {
	SessionID string `json:"session_id"`
}

type signEventParams struct {
	SessionID string          `json:"session_id"`
	Event     json.RawMessage `json:"event"`
}

type cipherParams struct {
	SessionID  string `json:"session_id"`
	Pubkey     string `json:"pubkey"`
	Plaintext  string `json:"plaintext,omitempty"`
	Ciphertext string `json:"ciphertext,omitempty"`
}

type cipherFunc func(ctx context.Context, session *nip46.Session, pubkey, payload string) (string, error)

func registerCipher(reg *Registry, deps Deps, name, perm string, call cipherFunc) {
	encrypt := strings.HasSuffix(perm, "_encrypt")
	reg.Register(name, func(ctx context.Context, params json.RawMessage) (any, error) {
		p, err := decode[cipherParams](params)
		if err != nil {
			return nil, err
		}
		session, ok := deps.Store.Get(p.SessionID)
		if !ok {
			return nil, nip46.ErrUnknownSession
		}
		if !nip46.HasPerm(session.Perms, perm) {
			return nil, Wrap(nip46.ErrUnauthorized)
		}
		if !nostr.IsValidPublicKey(p.Pubkey) {
			return nil, InvalidParams("invalid pubkey")
		}
		payload := p.Ciphertext
		if encrypt {
			payload = p.Plaintext
		}
		result, err := call(ctx, &session, p.Pubkey, payload)
		if err != nil {
			return nil, err
		}
		if encrypt {
			return map[string]string{"ciphertext": result}, nil
		}
		return map[string]string{"plaintext": result}, nil
	})
}

func connectBunker(ctx context.Context, deps Deps, info *nip46.ConnectInfo) (any, error) {
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nil, Internal("failed to derive client pubkey")
	}
	conv, err := nip46.NewConversation(sk, info.RemoteSignerPubkey)
	if err != nil {
		return nil, Internal(err.Error())
	}
	session := &nip46.Session{
		ID:                 uuid.NewString(),
		LocalSecretKey:     sk,
		LocalPubkey:        pk,
		RemoteSignerPubkey: info.RemoteSignerPubkey,
		ClientPubkey:       pk,
		Relays:             info.Relays,
		Perms:              nip46.FilterPerms(info.Perms, deps.Perms),
		Name:               info.Name,
		URL:                info.URL,
		Image:              info.Image,
		ExpiresAt:          nip46.SessionExpiresAt(deps.TTL),
		Authorized:         true,
		Conv:               conv,
	}

	if err := deps.Client.ConnectBunker(ctx, session, info.Secret); err != nil {
		return nil, err
	}
	if err := claimSecret(ctx, deps, info.Secret); err != nil {
		return nil, err
	}
	deps.Store.Insert(session)

	return connectResult{
		SessionID:          session.ID,
		Mode:               string(info.Mode),
		RemoteSignerPubkey: info.RemoteSignerPubkey,
		ClientPubkey:       pk,
		Relays:             info.Relays,
	}, nil
}

func connectNostrconnect(ctx context.Context, deps Deps, info *nip46.ConnectInfo, clientSecretKey string) (any, error) {
	sk := strings.TrimSpace(clientSecretKey)
	if sk == "" {
		return nil, InvalidParams("missing client_secret_key")
	}
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nil, InvalidParams("invalid client_secret_key")
	}
	if pk != info.ClientPubkey {
		return nil, InvalidParams("client_secret_key does not match client pubkey")
	}

	remote, err := deps.Client.AwaitNostrconnect(ctx, sk, pk, info.Relays, info.Secret)
	if err != nil {
		return nil, err
	}
	if err := claimSecret(ctx, deps, info.Secret); err != nil {
		return nil, err
	}
	conv, err := nip46.NewConversation(sk, remote)
	if err != nil {
		return nil, Internal(err.Error())
	}
	session := &nip46.Session{
		ID:                 uuid.NewString(),
		LocalSecretKey:     sk,
		LocalPubkey:        pk,
		RemoteSignerPubkey: remote,
		ClientPubkey:       pk,
		Relays:             info.Relays,
		Perms:              nip46.FilterPerms(info.Perms, deps.Perms),
		Name:               info.Name,
		URL:                info.URL,
		Image:              info.Image,
		ExpiresAt:          nip46.SessionExpiresAt(deps.TTL),
		Authorized:         true,
		Conv:               conv,
	}
	deps.Store.Insert(session)

	return connectResult{
		SessionID:          session.ID,
		Mode:               string(info.Mode),
		RemoteSignerPubkey: remote,
		ClientPubkey:       pk,
		Relays:             info.Relays,
	}, nil
}

func claimSecret(ctx context.Context, deps Deps, secret string) error {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	claimed, err := deps.Store.ClaimSecret(ctx, secret)
	if err != nil {
		return Internal("secret verification failed: " + err.Error())
	}
	if !claimed {
		deps.Log.Warn().Msg("nip46: rejected replayed connect secret")
		return nip46.ErrSecretUsed
	}
	return nil
}
