// Package identity manages the daemon's long-lived Nostr keypair, stored as
// a hex secret key in a file only the daemon user can read.
package identity

import (
	"fmt"
	"os"
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

// Load reads the secret key from path, generating and persisting a fresh one
// on first run.
func Load(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		sk := strings.TrimSpace(string(raw))
		if !nostr.IsValid32ByteHex(sk) {
			return "", fmt.Errorf("identity file %s does not contain a hex secret key", path)
		}
		return sk, nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read identity file: %w", err)
	}

	sk := nostr.GeneratePrivateKey()
	if err := os.WriteFile(path, []byte(sk+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("failed to write identity file: %w", err)
	}
	return sk, nil
}
