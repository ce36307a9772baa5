package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "127.0.0.1:7070", cfg.RPC.Addr)
	assert.Equal(t, int64(10*1024*1024), cfg.RPC.MaxRequestBodySize)
	assert.Equal(t, "bunkerd.key", cfg.IdentityFile)
	assert.Equal(t, 15*time.Minute, cfg.NIP46.SessionTTL())
	assert.Equal(t, 10*time.Second, cfg.NIP46.Timeout())
	assert.Empty(t, cfg.NIP46.Perms, "deny-all unless the operator grants permissions")
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rpc:
  addr: "0.0.0.0:9090"
relays:
  - wss://relay.damus.io
nip46:
  session_ttl_secs: 0
  perms:
    - sign_event
    - ping
log_level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.RPC.Addr)
	assert.Equal(t, []string{"wss://relay.damus.io"}, cfg.Relays)
	assert.Equal(t, time.Duration(0), cfg.NIP46.SessionTTL())
	assert.Equal(t, []string{"sign_event", "ping"}, cfg.NIP46.Perms)
	assert.Equal(t, "debug", cfg.LogLevel)
	// untouched keys keep their defaults
	assert.Equal(t, int64(10*1024*1024), cfg.RPC.MaxRequestBodySize)
	assert.Equal(t, 10*time.Second, cfg.NIP46.Timeout())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("no_such_key: true\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
