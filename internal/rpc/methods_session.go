package rpc

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"bunkerd/internal/nip46"
)

type sessionStatus struct {
	SessionID          string   `json:"session_id"`
	ClientPubkey       string   `json:"client_pubkey"`
	RemoteSignerPubkey string   `json:"remote_signer_pubkey"`
	UserPubkey         string   `json:"user_pubkey,omitempty"`
	Relays             []string `json:"relays"`
	Perms              []string `json:"perms"`
	Name               string   `json:"name,omitempty"`
	URL                string   `json:"url,omitempty"`
	Image              string   `json:"image,omitempty"`
	AuthRequired       bool     `json:"auth_required"`
	Authorized         bool     `json:"authorized"`
	AuthURL            string   `json:"auth_url,omitempty"`
	ExpiresInSecs      *uint64  `json:"expires_in_secs,omitempty"`
}

func sessionToStatus(session nip46.Session) sessionStatus {
	status := sessionStatus{
		SessionID:          session.ID,
		ClientPubkey:       session.ClientPubkey,
		RemoteSignerPubkey: session.RemoteSignerPubkey,
		UserPubkey:         session.UserPubkey,
		Relays:             session.Relays,
		Perms:              session.Perms,
		Name:               session.Name,
		URL:                session.URL,
		Image:              session.Image,
		AuthRequired:       session.AuthRequired,
		Authorized:         session.Authorized,
		AuthURL:            session.AuthURL,
	}
	if !session.ExpiresAt.IsZero() {
		remaining := uint64(0)
		if until := time.Until(session.ExpiresAt); until > 0 {
			remaining = uint64(until.Seconds())
		}
		status.ExpiresInSecs = &remaining
	}
	return status
}

func registerSessions(reg *Registry, deps Deps) {
	reg.Register("nip46.session.status", func(_ context.Context, params json.RawMessage) (any, error) {
		p, err := decode[sessionParams](params)
		if err != nil {
			return nil, err
		}
		session, ok := deps.Store.Get(p.SessionID)
		if !ok {
			return nil, nip46.ErrUnknownSession
		}
		return sessionToStatus(session), nil
	})

	reg.Register("nip46.session.list", func(_ context.Context, _ json.RawMessage) (any, error) {
		sessions := deps.Store.List()
		entries := make([]sessionStatus, 0, len(sessions))
		for _, session := range sessions {
			entries = append(entries, sessionToStatus(session))
		}
		return entries, nil
	})

	reg.Register("nip46.session.close", func(_ context.Context, params json.RawMessage) (any, error) {
		p, err := decode[sessionParams](params)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"closed": deps.Store.Remove(p.SessionID)}, nil
	})

	reg.Register("nip46.session.require_auth", func(_ context.Context, params json.RawMessage) (any, error) {
		p, err := decode[requireAuthParams](params)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.AuthURL) == "" {
			return nil, InvalidParams("auth_url is empty")
		}
		return map[string]bool{
			"required": deps.Store.RequireAuth(p.SessionID, p.AuthURL),
		}, nil
	})

	reg.Register("nip46.session.authorize", func(ctx context.Context, params json.RawMessage) (any, error) {
		p, err := decode[sessionParams](params)
		if err != nil {
			return nil, err
		}
		pending, ok := deps.Store.Authorize(p.SessionID)
		if !ok {
			return nil, nip46.ErrUnknownSession
		}
		replayed := false
		if pending != nil {
			if err := deps.Signer.Redeliver(ctx, *pending); err != nil {
				deps.Log.Warn().Err(err).Str("session", p.SessionID).
					Msg("nip46: deferred reply delivery failed")
			}
			replayed = true
		}
		return map[string]bool{"authorized": true, "replayed": replayed}, nil
	})
}

type requireAuthParams struct {
	SessionID string `json:"session_id"`
	AuthURL   string `json:"auth_url"`
}
