package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/remotesign/internal/login"
	"github.com/wolfeidau/remotesign/internal/models"
	"github.com/wolfeidau/remotesign/internal/signing"
	"github.com/wolfeidau/remotesign/internal/tokencache"
	"github.com/wolfeidau/remotesign/internal/transport"
)

var testCreds = models.Credentials{Tenant: "tenant-1", ClientID: "client-1", ClientSecret: "secret-1"}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, login.DefaultAuthorityHost, config.AuthorityHost)
	assert.Equal(t, login.DefaultScope, config.Scope)
	assert.Equal(t, transport.DefaultTimeouts(), config.Timeouts)
	assert.Equal(t, signing.DefaultOptions(), config.Signing)
	assert.Empty(t, config.CacheDir)
	assert.False(t, config.Telemetry)
}

func TestNewSession(t *testing.T) {
	t.Run("loads cached token", func(t *testing.T) {
		dir := t.TempDir()

		store, err := tokencache.NewStore(dir, nil)
		require.NoError(t, err)
		require.NoError(t, store.Save(context.Background(), testCreds, "Bearer cached"))

		config := DefaultConfig()
		config.CacheDir = dir

		session, err := NewSession(context.Background(), config, testCreds)
		require.NoError(t, err)
		assert.Equal(t, "Bearer cached", session.Tokens.Token())
		assert.Equal(t, store.Path(), session.Store.Path())
		assert.NotNil(t, session.Signer)
	})

	t.Run("empty cache", func(t *testing.T) {
		config := DefaultConfig()
		config.CacheDir = t.TempDir()

		session, err := NewSession(context.Background(), config, testCreds)
		require.NoError(t, err)
		assert.Empty(t, session.Tokens.Token())
	})
}

func TestNewTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	for _, telemetry := range []bool{false, true} {
		config := DefaultConfig()
		config.Telemetry = telemetry

		resp, err := NewTransport(config).Get(context.Background(), srv.URL, nil, 0)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	}
}
