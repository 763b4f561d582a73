package login

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/remotesign/internal/models"
	"github.com/wolfeidau/remotesign/internal/tokencache"
	"github.com/wolfeidau/remotesign/internal/transport"
)

var testCreds = models.Credentials{
	Tenant:       "tenant-1",
	ClientID:     "client-1",
	ClientSecret: "secret-1",
}

// newTokenServer returns an identity provider stub answering with status and body.
func newTokenServer(t *testing.T, status int, body string, calls *atomic.Int32) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/tenant-1/oauth2/v2.0/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		require.Equal(t, "client-1", r.PostForm.Get("client_id"))
		require.Equal(t, "secret-1", r.PostForm.Get("client_secret"))
		require.Equal(t, DefaultScope, r.PostForm.Get("scope"))
		require.Equal(t, "1", r.PostForm.Get("client_info"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	return srv
}

func newTestManager(t *testing.T, srv *httptest.Server) (*Manager, *tokencache.Store) {
	t.Helper()

	store, err := tokencache.NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	m := NewManager(context.Background(), testCreds, store, transport.New(transport.Config{}), WithAuthorityHost(srv.URL+"/"))
	return m, store
}

func TestManager_Login(t *testing.T) {
	t.Run("stores token type and access token", func(t *testing.T) {
		var calls atomic.Int32
		srv := newTokenServer(t, http.StatusOK, `{"token_type":"Bearer","access_token":"abc","expires_in":3599}`, &calls)
		m, store := newTestManager(t, srv)

		require.NoError(t, m.Login(context.Background()))
		require.Equal(t, "Bearer abc", m.Token())
		require.Equal(t, int32(1), calls.Load())

		cached, ok := store.Load(context.Background(), testCreds)
		require.True(t, ok)
		require.Equal(t, "Bearer abc", cached)
	})

	t.Run("keeps token type as returned", func(t *testing.T) {
		var calls atomic.Int32
		srv := newTokenServer(t, http.StatusOK, `{"token_type":"bearer","access_token":"abc"}`, &calls)
		m, store := newTestManager(t, srv)

		require.NoError(t, m.Login(context.Background()))
		require.Equal(t, "bearer abc", m.Token())

		cached, ok := store.Load(context.Background(), testCreds)
		require.True(t, ok)
		require.Equal(t, "bearer abc", cached)
	})

	t.Run("non-200 is an authentication failure", func(t *testing.T) {
		var calls atomic.Int32
		srv := newTokenServer(t, http.StatusUnauthorized, `{"error":"invalid_client"}`, &calls)
		m, store := newTestManager(t, srv)

		err := m.Login(context.Background())
		require.ErrorIs(t, err, models.ErrAuthenticationFailed)

		var statusErr *models.StatusError
		require.ErrorAs(t, err, &statusErr)
		require.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
		require.Contains(t, statusErr.Body, "invalid_client")

		require.Empty(t, m.Token())
		_, ok := store.Load(context.Background(), testCreds)
		require.False(t, ok)

		// status failures are not retried
		require.Equal(t, int32(1), calls.Load())
	})

	t.Run("non-200 success status is rejected", func(t *testing.T) {
		var calls atomic.Int32
		srv := newTokenServer(t, http.StatusCreated, `{"token_type":"Bearer","access_token":"abc"}`, &calls)
		m, _ := newTestManager(t, srv)

		err := m.Login(context.Background())
		require.ErrorIs(t, err, models.ErrAuthenticationFailed)
		require.Empty(t, m.Token())
	})

	t.Run("missing access token", func(t *testing.T) {
		var calls atomic.Int32
		srv := newTokenServer(t, http.StatusOK, `{"token_type":"Bearer"}`, &calls)
		m, _ := newTestManager(t, srv)

		err := m.Login(context.Background())
		require.ErrorIs(t, err, models.ErrAuthenticationFailed)
	})

	t.Run("unreachable identity provider is a transport error", func(t *testing.T) {
		var calls atomic.Int32
		srv := newTokenServer(t, http.StatusOK, `{}`, &calls)
		m, _ := newTestManager(t, srv)
		srv.Close()

		err := m.Login(context.Background())
		require.ErrorIs(t, err, models.ErrTransport)
		require.NotErrorIs(t, err, models.ErrAuthenticationFailed)
	})
}

func TestManager_EnsureToken(t *testing.T) {
	t.Run("logs in once", func(t *testing.T) {
		var calls atomic.Int32
		srv := newTokenServer(t, http.StatusOK, `{"token_type":"Bearer","access_token":"abc"}`, &calls)
		m, _ := newTestManager(t, srv)

		for range 3 {
			token, err := m.EnsureToken(context.Background())
			require.NoError(t, err)
			require.Equal(t, "Bearer abc", token)
		}
		require.Equal(t, int32(1), calls.Load())
	})

	t.Run("uses cached token without a network call", func(t *testing.T) {
		var calls atomic.Int32
		srv := newTokenServer(t, http.StatusOK, `{"token_type":"Bearer","access_token":"fresh"}`, &calls)

		store, err := tokencache.NewStore(t.TempDir(), nil)
		require.NoError(t, err)
		require.NoError(t, store.Save(context.Background(), testCreds, "Bearer cached"))

		m := NewManager(context.Background(), testCreds, store, transport.New(transport.Config{}), WithAuthorityHost(srv.URL))
		require.Equal(t, "Bearer cached", m.Token())

		token, err := m.EnsureToken(context.Background())
		require.NoError(t, err)
		require.Equal(t, "Bearer cached", token)
		require.Zero(t, calls.Load())
	})

	t.Run("ignores token cached for other credentials", func(t *testing.T) {
		var calls atomic.Int32
		srv := newTokenServer(t, http.StatusOK, `{"token_type":"Bearer","access_token":"fresh"}`, &calls)

		store, err := tokencache.NewStore(t.TempDir(), nil)
		require.NoError(t, err)
		other := testCreds
		other.ClientSecret = "rotated"
		require.NoError(t, store.Save(context.Background(), other, "Bearer stale"))

		m := NewManager(context.Background(), testCreds, store, transport.New(transport.Config{}), WithAuthorityHost(srv.URL))
		require.Empty(t, m.Token())

		token, err := m.EnsureToken(context.Background())
		require.NoError(t, err)
		require.Equal(t, "Bearer fresh", token)
		require.Equal(t, int32(1), calls.Load())
	})
}

func TestManager_TokenURL(t *testing.T) {
	m := &Manager{creds: models.Credentials{Tenant: "contoso.onmicrosoft.com"}, authorityHost: DefaultAuthorityHost}
	require.Equal(t, "https://login.microsoftonline.com/contoso.onmicrosoft.com/oauth2/v2.0/token", m.TokenURL())
}

func TestDescribeToken(t *testing.T) {
	expiresAt := time.Now().Add(time.Hour).Truncate(time.Second)

	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "https://sts.example/",
		Subject:   "client-1",
		Audience:  jwt.ClaimStrings{"api://signing"},
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}).SignedString([]byte("test-key"))
	require.NoError(t, err)

	info, err := DescribeToken("Bearer " + raw)
	require.NoError(t, err)
	require.Equal(t, "Bearer", info.Type)
	require.Equal(t, "https://sts.example/", info.Issuer)
	require.Equal(t, "client-1", info.Subject)
	require.Equal(t, []string{"api://signing"}, info.Audience)
	require.True(t, info.ExpiresAt.Equal(expiresAt))
	require.False(t, info.Expired(time.Now()))
	require.True(t, info.Expired(expiresAt.Add(time.Minute)))

	_, err = DescribeToken("Bearer opaque")
	require.ErrorIs(t, err, ErrNotJWT)
}
