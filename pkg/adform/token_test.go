package adform

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefresh_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret", r.PostForm.Get("client_secret"))
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "rt-0", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "offline_access", r.PostForm.Get("scope"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token": "at-1", "refresh_token": "rt-1", "expires_in": 3600, "token_type": "Bearer"}`))
	}))
	defer srv.Close()

	c := NewTokenClient(WithTokenURL(srv.URL))
	tok, err := c.Refresh(context.Background(), "client", "secret", "rt-0")
	require.NoError(t, err)
	assert.Equal(t, "at-1", tok.AccessToken)
	assert.Equal(t, "rt-1", tok.RefreshToken)
	assert.Equal(t, 3600, tok.ExpiresIn)
}

func TestRefresh_Rejected(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": "invalid_grant"}`))
	}))
	defer srv.Close()

	c := NewTokenClient(WithTokenURL(srv.URL))
	tok, err := c.Refresh(context.Background(), "client", "secret", "used")
	assert.Error(t, err)
	assert.Nil(t, tok)
	assert.Contains(t, err.Error(), "invalid_grant")
	assert.Equal(t, 1, calls)
}

func TestRefresh_MissingTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"access_token": "at-1"}`))
	}))
	defer srv.Close()

	c := NewTokenClient(WithTokenURL(srv.URL))
	_, err := c.Refresh(context.Background(), "client", "secret", "rt-0")
	assert.Error(t, err)
}
