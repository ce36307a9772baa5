package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T) (*httptest.Server, *Registry) {
	t.Helper()
	reg := NewRegistry()
	srv := NewServer("127.0.0.1:0", 1024*1024, reg, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, reg
}

func call(t *testing.T, ts *httptest.Server, body string) response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestServerHealthz(t *testing.T) {
	ts, _ := testServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServerDispatchesCall(t *testing.T) {
	ts, reg := testServer(t)
	reg.Register("hello", func(context.Context, json.RawMessage) (any, error) {
		return map[string]string{"greeting": "hi"}, nil
	})

	out := call(t, ts, `{"jsonrpc":"2.0","id":1,"method":"hello","params":{}}`)
	require.Nil(t, out.Error)
	assert.Equal(t, json.RawMessage("1"), out.ID)
	assert.Equal(t, map[string]any{"greeting": "hi"}, out.Result)
}

func TestServerParseError(t *testing.T) {
	ts, _ := testServer(t)

	out := call(t, ts, `{not json`)
	require.NotNil(t, out.Error)
	assert.Equal(t, codeParse, out.Error.Code)
}

func TestServerRejectsWrongVersion(t *testing.T) {
	ts, _ := testServer(t)

	out := call(t, ts, `{"jsonrpc":"1.0","id":1,"method":"hello"}`)
	require.NotNil(t, out.Error)
	assert.Equal(t, codeInvalidRequest, out.Error.Code)
}

func TestServerMethodNotFound(t *testing.T) {
	ts, _ := testServer(t)

	out := call(t, ts, `{"jsonrpc":"2.0","id":7,"method":"nope"}`)
	require.NotNil(t, out.Error)
	assert.Equal(t, codeMethodNotFound, out.Error.Code)
	assert.Equal(t, json.RawMessage("7"), out.ID)
}

func TestServerMapsHandlerErrors(t *testing.T) {
	ts, reg := testServer(t)
	reg.Register("fail", func(context.Context, json.RawMessage) (any, error) {
		return nil, InvalidParams("bad input")
	})

	out := call(t, ts, `{"jsonrpc":"2.0","id":1,"method":"fail","params":{}}`)
	require.NotNil(t, out.Error)
	assert.Equal(t, codeInvalidParams, out.Error.Code)
	assert.Equal(t, "bad input", out.Error.Message)
}
