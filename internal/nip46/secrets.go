package nip46

import (
	"context"
	"sync"
)

// SecretRegistry tracks one-time connect secrets that were already claimed.
// Claim is an atomic check-and-insert: it returns true for the first caller
// and false for everyone after, concurrent callers included.
type SecretRegistry interface {
	Claim(ctx context.Context, secret string) (bool, error)
}

// MemorySecrets is the default in-process registry. Its contents live as
// long as the daemon does.
type MemorySecrets struct {
	mu   sync.Mutex
	used map[string]struct{}
}

func NewMemorySecrets() *MemorySecrets {
	return &MemorySecrets{used: make(map[string]struct{})}
}

func (m *MemorySecrets) Claim(_ context.Context, secret string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.used[secret]; ok {
		return false, nil
	}
	m.used[secret] = struct{}{}
	return true, nil
}
