package rpc

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"bunkerd/internal/nip46"
	"bunkerd/internal/relaybus"
)

// Deps is everything the method handlers reach into: the daemon identity,
// the session engine and the mutable relay set.
type Deps struct {
	Log       zerolog.Logger
	SecretKey string
	Pubkey    string
	Store     *nip46.Store
	Client    *nip46.Client
	Signer    *nip46.Signer
	Relays    *relaybus.Set
	TTL       time.Duration
	Perms     []string
	Version   string
}

// Register wires every method into the registry.
func Register(reg *Registry, deps Deps) {
	registerNip46(reg, deps)
	registerSessions(reg, deps)
	registerRelays(reg, deps)
	registerSystem(reg, deps)
}

func decode[T any](params json.RawMessage) (T, error) {
	var out T
	if len(params) == 0 {
		return out, InvalidParams("missing params")
	}
	if err := json.Unmarshal(params, &out); err != nil {
		return out, InvalidParams(err.Error())
	}
	return out, nil
}
