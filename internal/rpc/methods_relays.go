package rpc

import (
	"context"
	"encoding/json"
	"strings"
)

type relayParams struct {
	URL string `json:"url"`
}

func registerRelays(reg *Registry, deps Deps) {
	reg.Register("relays.list", func(_ context.Context, _ json.RawMessage) (any, error) {
		return map[string]any{"relays": deps.Relays.List()}, nil
	})

	reg.Register("relays.add", func(_ context.Context, params json.RawMessage) (any, error) {
		p, err := decode[relayParams](params)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.URL) == "" {
			return nil, InvalidParams("url is empty")
		}
		return map[string]bool{"added": deps.Relays.Add(p.URL)}, nil
	})

	reg.Register("relays.remove", func(_ context.Context, params json.RawMessage) (any, error) {
		p, err := decode[relayParams](params)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"removed": deps.Relays.Remove(p.URL)}, nil
	})
}
