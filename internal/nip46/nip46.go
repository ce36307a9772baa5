// Package nip46 implements the Nostr Connect remote-signing protocol:
// connect-URL parsing, the session store, the encrypted request/response
// envelope codec, the client-side correlator and the server-side signer.
package nip46

import "encoding/json"

// Method identifies a protocol operation. Dispatch is always a switch over
// these constants with an explicit unknown-method arm.
type Method string

const (
	MethodConnect      Method = "connect"
	MethodGetPublicKey Method = "get_public_key"
	MethodSignEvent    Method = "sign_event"
	MethodNip04Encrypt Method = "nip04_encrypt"
	MethodNip04Decrypt Method = "nip04_decrypt"
	MethodNip44Encrypt Method = "nip44_encrypt"
	MethodNip44Decrypt Method = "nip44_decrypt"
	MethodPing         Method = "ping"
)

type Request struct {
	ID     string   `json:"id"`
	Method string   `json:"method"`
	Params []string `json:"params"`
}

func (r Request) String() string {
	j, _ := json.Marshal(r)
	return string(j)
}

type Response struct {
	ID     string `json:"id"`
	Error  string `json:"error,omitempty"`
	Result string `json:"result,omitempty"`
}

func (r Response) String() string {
	j, _ := json.Marshal(r)
	return string(j)
}

// resultAuthURL marks a deferred-authorization challenge: the response
// carries the approval URL in the error field.
const resultAuthURL = "auth_url"

// AuthChallengeResponse builds the reply sent instead of executing a request
// on a session that still awaits out-of-band approval.
func AuthChallengeResponse(id, authURL string) Response {
	return Response{ID: id, Result: resultAuthURL, Error: authURL}
}

// AuthChallenge reports whether the response is an authorization challenge
// and, if so, the URL a human must visit.
func (r Response) AuthChallenge() (string, bool) {
	if r.Result == resultAuthURL {
		return r.Error, true
	}
	return "", false
}

// Message is a decrypted envelope before its direction is known: requests
// carry a method, responses carry a result or error.
type Message struct {
	ID     string   `json:"id"`
	Method string   `json:"method,omitempty"`
	Params []string `json:"params,omitempty"`
	Result string   `json:"result,omitempty"`
	Error  string   `json:"error,omitempty"`
}

func (m Message) IsRequest() bool { return m.Method != "" }

func (m Message) Request() Request {
	return Request{ID: m.ID, Method: m.Method, Params: m.Params}
}

func (m Message) Response() Response {
	return Response{ID: m.ID, Result: m.Result, Error: m.Error}
}
