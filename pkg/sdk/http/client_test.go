package http

import (
	"context"
	"encoding/json"
	"io"
	stdhttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	method    string
	path      string
	auth      string
	requestID string
	body      string
}

func newTestServer(t *testing.T, status int, response string, captured *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		b, _ := io.ReadAll(r.Body)
		if captured != nil {
			*captured = capturedRequest{
				method:    r.Method,
				path:      r.URL.Path,
				auth:      r.Header.Get("Authorization"),
				requestID: r.Header.Get("X-Request-ID"),
				body:      string(b),
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func tokenSource(token string) CredentialSource {
	return CredentialFunc(func() (string, bool) { return token, token != "" })
}

func TestClient_RequestAttachesBearerAndBody(t *testing.T) {
	var got capturedRequest
	srv := newTestServer(t, 200, `{"ok":true}`, &got)
	c := NewClient(srv.URL+"/", tokenSource("tok-1"), Options{Timeout: time.Second})

	var out struct {
		OK bool `json:"ok"`
	}
	err := c.Post(context.Background(), "/trade/buy", map[string]any{"crypto_symbol": "BTC", "amount": 1.5}, true, &out)
	require.NoError(t, err)

	assert.True(t, out.OK)
	assert.Equal(t, "POST", got.method)
	assert.Equal(t, "/trade/buy", got.path)
	assert.Equal(t, "Bearer tok-1", got.auth)
	assert.NotEmpty(t, got.requestID)
	assert.JSONEq(t, `{"crypto_symbol":"BTC","amount":1.5}`, got.body)
}

func TestClient_PublicRequestHasNoCredential(t *testing.T) {
	var got capturedRequest
	srv := newTestServer(t, 200, `{}`, &got)
	c := NewClient(srv.URL, tokenSource("tok-1"), Options{})

	require.NoError(t, c.Get(context.Background(), "/market/crypto", false, nil))
	assert.Empty(t, got.auth)
}

func TestClient_AuthRequiredWithoutCredentialStillSent(t *testing.T) {
	var got capturedRequest
	srv := newTestServer(t, 401, `{"message":"Token is missing!"}`, &got)
	c := NewClient(srv.URL, tokenSource(""), Options{})

	err := c.Get(context.Background(), "/user/balance", true, nil)
	require.Error(t, err)

	assert.Equal(t, "/user/balance", got.path, "request must reach the server")
	assert.Empty(t, got.auth)
	assert.True(t, IsAuthFailure(err))
	assert.Equal(t, "Token is missing!", err.Error())
}

func TestClient_RejectionMessages(t *testing.T) {
	t.Run("server message", func(t *testing.T) {
		srv := newTestServer(t, 400, `{"message":"Insufficient balance"}`, nil)
		err := NewClient(srv.URL, nil, Options{}).Post(context.Background(), "/trade/buy", map[string]any{}, true, nil)

		re, ok := AsRequestError(err)
		require.True(t, ok)
		assert.Equal(t, KindRejected, re.Kind)
		assert.Equal(t, 400, re.StatusCode)
		assert.Equal(t, "Insufficient balance", re.Error())
		assert.False(t, IsAuthFailure(err))
	})

	t.Run("generic fallback", func(t *testing.T) {
		srv := newTestServer(t, 500, `<html>oops</html>`, nil)
		err := NewClient(srv.URL, nil, Options{}).Get(context.Background(), "/portfolio", true, nil)

		require.True(t, IsRejected(err))
		assert.Equal(t, GenericRejectionMessage, err.Error())
	})
}

func TestClient_TransportFailures(t *testing.T) {
	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(stdhttp.NotFoundHandler())
		url := srv.URL
		srv.Close()

		err := NewClient(url, nil, Options{Timeout: time.Second}).Get(context.Background(), "/market/crypto", false, nil)
		require.True(t, IsTransport(err))
		assert.False(t, IsRejected(err))
		assert.Equal(t, GenericTransportMessage, err.Error())
	})

	t.Run("malformed success body", func(t *testing.T) {
		srv := newTestServer(t, 200, `not json`, nil)
		var out map[string]any
		err := NewClient(srv.URL, nil, Options{}).Get(context.Background(), "/market/crypto", false, &out)
		require.True(t, IsTransport(err))

		var syntaxErr *json.SyntaxError
		assert.ErrorAs(t, err, &syntaxErr)
	})
}

func TestClient_WithCredentialOverridesSource(t *testing.T) {
	var got capturedRequest
	srv := newTestServer(t, 200, `{}`, &got)
	c := NewClient(srv.URL, tokenSource(""), Options{})

	ctx := WithCredential(context.Background(), "stored-token")
	require.NoError(t, c.Get(ctx, "/user/profile", true, nil))
	assert.Equal(t, "Bearer stored-token", got.auth)
}
