package nip46

import (
	"crypto/rand"
	"encoding/json"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/nbd-wtf/go-nostr/nip44"
)

// Conversation holds the symmetric keys shared between one local keypair and
// one counterpart pubkey. Envelopes are encrypted with nip44; decryption
// falls back to nip04 for counterparts still speaking the old scheme.
type Conversation struct {
	conversationKey [32]byte
	sharedKey       []byte
}

func NewConversation(secretKey, counterpartPubkey string) (Conversation, error) {
	ck, err := nip44.GenerateConversationKey(counterpartPubkey, secretKey)
	if err != nil {
		return Conversation{}, fmt.Errorf("failed to compute conversation key: %w", err)
	}
	shared, err := nip04.ComputeSharedSecret(counterpartPubkey, secretKey)
	if err != nil {
		return Conversation{}, fmt.Errorf("failed to compute shared secret: %w", err)
	}
	return Conversation{conversationKey: ck, sharedKey: shared}, nil
}

func (c Conversation) Encrypt(plaintext string) (string, error) {
	// the nonce must be supplied here: this go-nostr release never
	// populates its own default nonce
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return nip44.Encrypt(plaintext, c.conversationKey, nip44.WithCustomNonce(nonce))
}

func (c Conversation) Decrypt(ciphertext string) (string, error) {
	plain, err1 := nip44.Decrypt(ciphertext, c.conversationKey)
	if err1 == nil {
		return plain, nil
	}
	plain, err2 := nip04.Decrypt(ciphertext, c.sharedKey)
	if err2 != nil {
		return "", fmt.Errorf("failed to decrypt (nip44: %v, nip04: %v)", err1, err2)
	}
	return plain, nil
}

// DecryptMessage decrypts an envelope event and parses it into a Message.
// The caller decides whether a request or a response was expected.
func (c Conversation) DecryptMessage(evt *nostr.Event) (Message, error) {
	var msg Message
	plain, err := c.Decrypt(evt.Content)
	if err != nil {
		return msg, fmt.Errorf("failed to decrypt event from %s: %w", evt.PubKey, err)
	}
	if err := json.Unmarshal([]byte(plain), &msg); err != nil {
		return msg, fmt.Errorf("failed to parse envelope from %s: %w", evt.PubKey, err)
	}
	return msg, nil
}

// BuildRequestEvent encrypts a request to the recipient and wraps it in a
// signed kind-24133 event addressed with a "p" tag.
func (c Conversation) BuildRequestEvent(secretKey, recipient string, req Request) (nostr.Event, error) {
	jreq, err := json.Marshal(req)
	if err != nil {
		return nostr.Event{}, err
	}
	return c.buildEvent(secretKey, recipient, string(jreq))
}

// BuildResponseEvent is BuildRequestEvent for the reply direction.
func (c Conversation) BuildResponseEvent(secretKey, recipient string, resp Response) (nostr.Event, error) {
	jresp, err := json.Marshal(resp)
	if err != nil {
		return nostr.Event{}, err
	}
	return c.buildEvent(secretKey, recipient, string(jresp))
}

func (c Conversation) buildEvent(secretKey, recipient, plaintext string) (nostr.Event, error) {
	ciphertext, err := c.Encrypt(plaintext)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("failed to encrypt envelope: %w", err)
	}
	evt := nostr.Event{
		CreatedAt: nostr.Now(),
		Kind:      nostr.KindNostrConnect,
		Tags:      nostr.Tags{nostr.Tag{"p", recipient}},
		Content:   ciphertext,
	}
	if err := evt.Sign(secretKey); err != nil {
		return nostr.Event{}, fmt.Errorf("failed to sign envelope event: %w", err)
	}
	return evt, nil
}
