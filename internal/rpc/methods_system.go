package rpc

import (
	"context"
	"encoding/json"
)

func registerSystem(reg *Registry, deps Deps) {
	reg.Register("system.info", func(_ context.Context, _ json.RawMessage) (any, error) {
		return map[string]string{
			"version": deps.Version,
			"pubkey":  deps.Pubkey,
		}, nil
	})

	reg.Register("system.methods", func(_ context.Context, _ json.RawMessage) (any, error) {
		return map[string]any{"methods": reg.Names()}, nil
	})
}
