package helloasso

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenClientCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "id", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret", r.PostForm.Get("client_secret"))
		_, _ = w.Write([]byte(`{"access_token":"abc","token_type":"bearer","expires_in":1800}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, func(cfg *ClientConfig) { cfg.TokenURL = srv.URL })
	tok, err := c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)
}

func TestTokenErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name: "rejected credentials", status: http.StatusBadRequest, body: `{"error":"unauthorized_client"}`,
			check: func(t *testing.T, err error) {
				var upErr *UpstreamError
				require.True(t, errors.As(err, &upErr))
				assert.Equal(t, OpToken, upErr.Op)
				assert.Equal(t, http.StatusBadRequest, upErr.StatusCode)
				assert.Contains(t, err.Error(), "unauthorized_client")
			},
		},
		{
			name: "no access token", status: http.StatusOK, body: `{"token_type":"bearer"}`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrEmptyToken)
			},
		},
		{
			name: "not json", status: http.StatusOK, body: `<html>`,
			check: func(t *testing.T, err error) {
				assert.Contains(t, err.Error(), "decode token response")
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := newTestClient(t, srv.URL, func(cfg *ClientConfig) { cfg.TokenURL = srv.URL })
			tok, err := c.Token(context.Background())
			require.Error(t, err)
			assert.Empty(t, tok)
			tc.check(t, err)
		})
	}
}
