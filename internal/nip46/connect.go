package nip46

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

// ConnectMode tags which side of the handshake the connect URL describes.
type ConnectMode string

const (
	ConnectModeBunker       ConnectMode = "bunker"
	ConnectModeNostrconnect ConnectMode = "nostrconnect"
)

// ConnectInfo is the parsed form of a bunker:// or nostrconnect:// URL.
// Exactly one of RemoteSignerPubkey/ClientPubkey is set, matching Mode.
type ConnectInfo struct {
	Mode               ConnectMode
	RemoteSignerPubkey string
	ClientPubkey       string
	Relays             []string
	Secret             string
	Perms              []string
	Name               string
	URL                string
	Image              string
}

// ParseConnectURL parses a connect URL into a ConnectInfo. It performs no
// network I/O and fails closed on anything malformed.
func ParseConnectURL(raw string) (*ConnectInfo, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid connect url: %s", ErrInvalidParams, err)
	}
	switch u.Scheme {
	case "bunker":
		return parseBunkerURL(u)
	case "nostrconnect":
		return parseNostrconnectURL(u)
	default:
		return nil, fmt.Errorf("%w: unsupported connect scheme: %s", ErrInvalidParams, u.Scheme)
	}
}

func parseBunkerURL(u *url.URL) (*ConnectInfo, error) {
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing remote signer", ErrInvalidParams)
	}

	// two authority forms: bunker://<pubkey>?... and bunker://<pubkey>@<relayhost>,
	// where the host doubles as a bootstrap relay.
	username := u.User.Username()
	remoteSigner := u.Host
	if username != "" {
		remoteSigner = username
	}
	if !nostr.IsValidPublicKey(remoteSigner) {
		return nil, fmt.Errorf("%w: invalid remote signer: %s", ErrInvalidParams, remoteSigner)
	}

	relays := parseRelays(u)
	if username != "" {
		relays = append([]string{"wss://" + u.Host}, relays...)
	}

	return &ConnectInfo{
		Mode:               ConnectModeBunker,
		RemoteSignerPubkey: remoteSigner,
		Relays:             relays,
		Secret:             optionalParam(u, "secret"),
		Perms:              parsePerms(u),
		Name:               optionalParam(u, "name"),
		URL:                optionalParam(u, "url"),
		Image:              optionalParam(u, "image"),
	}, nil
}

func parseNostrconnectURL(u *url.URL) (*ConnectInfo, error) {
	clientPubkey := u.Host
	if clientPubkey == "" {
		return nil, fmt.Errorf("%w: missing client pubkey", ErrInvalidParams)
	}
	if !nostr.IsValidPublicKey(clientPubkey) {
		return nil, fmt.Errorf("%w: invalid client pubkey: %s", ErrInvalidParams, clientPubkey)
	}

	relays := parseRelays(u)
	if len(relays) == 0 {
		return nil, fmt.Errorf("%w: missing relay", ErrInvalidParams)
	}

	secret := optionalParam(u, "secret")
	if secret == "" {
		return nil, fmt.Errorf("%w: missing secret", ErrInvalidParams)
	}

	return &ConnectInfo{
		Mode:         ConnectModeNostrconnect,
		ClientPubkey: clientPubkey,
		Relays:       relays,
		Secret:       secret,
		Perms:        parsePerms(u),
		Name:         optionalParam(u, "name"),
		URL:          optionalParam(u, "url"),
		Image:        optionalParam(u, "image"),
	}, nil
}

func parseRelays(u *url.URL) []string {
	var relays []string
	for _, value := range u.Query()["relay"] {
		if strings.TrimSpace(value) == "" {
			continue
		}
		relays = append(relays, value)
	}
	return relays
}

func optionalParam(u *url.URL, key string) string {
	values, ok := u.Query()[key]
	if !ok || len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

func parsePerms(u *url.URL) []string {
	raw := optionalParam(u, "perms")
	if raw == "" {
		return nil
	}
	var perms []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		perms = append(perms, entry)
	}
	return perms
}
