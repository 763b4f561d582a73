package login

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/remotesign/internal/ipclock"
	"github.com/wolfeidau/remotesign/internal/models"
	"github.com/wolfeidau/remotesign/internal/telemetry"
	"github.com/wolfeidau/remotesign/internal/transport"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	// DefaultAuthorityHost is the identity provider used for the client-credentials grant.
	DefaultAuthorityHost = "https://login.microsoftonline.com"

	// DefaultScope is the resource scope of the code signing service.
	DefaultScope = "api://cf2ab426-f71a-4b61-bb8a-9e505b85bc2e//.default"
)

// TokenStore persists tokens between invocations.
type TokenStore interface {
	Load(ctx context.Context, creds models.Credentials) (string, bool)
	Save(ctx context.Context, creds models.Credentials, token string) error
	Lock() *ipclock.Lock
}

// Manager hands out the bearer token for a set of credentials, logging in
// when none is held.
type Manager struct {
	creds         models.Credentials
	store         TokenStore
	transport     *transport.Client
	authorityHost string
	scope         string
	retries       uint

	mu    sync.Mutex
	token string
}

type Option func(*Manager)

// WithAuthorityHost overrides the identity provider base URL.
func WithAuthorityHost(host string) Option {
	return func(m *Manager) {
		m.authorityHost = strings.TrimRight(host, "/")
	}
}

// WithScope overrides the requested scope.
func WithScope(scope string) Option {
	return func(m *Manager) {
		m.scope = scope
	}
}

// WithRetries sets the transport retry count for token requests.
func WithRetries(retries uint) Option {
	return func(m *Manager) {
		m.retries = retries
	}
}

// NewManager creates a token manager and loads any token cached for creds.
func NewManager(ctx context.Context, creds models.Credentials, store TokenStore, tr *transport.Client, opts ...Option) *Manager {
	m := &Manager{
		creds:         creds,
		store:         store,
		transport:     tr,
		authorityHost: DefaultAuthorityHost,
		scope:         DefaultScope,
		retries:       transport.DefaultRetries,
	}

	for _, opt := range opts {
		opt(m)
	}

	var found bool
	m.token, found = store.Load(ctx, creds)
	if found {
		telemetry.GetMetrics().CachedTokenLoaded.Add(ctx, 1)
	}

	return m
}

// Token returns the held Authorization header value, empty if none.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// TokenURL returns the token endpoint for the tenant.
func (m *Manager) TokenURL() string {
	return m.authorityHost + "/" + url.PathEscape(m.creds.Tenant) + "/oauth2/v2.0/token"
}

// EnsureToken returns the held token, logging in first if there is none. The
// token's expiry isn't checked, a rejection by the service triggers a new login.
func (m *Manager) EnsureToken(ctx context.Context) (string, error) {
	if token := m.Token(); token != "" {
		return token, nil
	}

	log.Info().Msg("authentication token is missing, requesting one now")

	if err := m.Login(ctx); err != nil {
		return "", err
	}

	return m.Token(), nil
}

// Login performs the client-credentials grant and persists the new token.
// Logins are serialised with all other cache access across processes.
func (m *Manager) Login(ctx context.Context) error {
	metrics := telemetry.GetMetrics()
	start := time.Now()

	err := m.store.Lock().Do(ctx, m.login)

	metrics.LoginsTotal.Add(ctx, 1)
	metrics.LoginDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.LoginErrorsTotal.Add(ctx, 1)
	}

	return err
}

// login runs with the store lock held.
func (m *Manager) login(ctx context.Context) error {
	log.Info().
		Str("tenant", m.creds.Tenant).
		Str("clientID", m.creds.ClientID).
		Str("secret", m.creds.SecretFingerprint()).
		Msg("logging in")

	config := &clientcredentials.Config{
		ClientID:       m.creds.ClientID,
		ClientSecret:   m.creds.ClientSecret,
		TokenURL:       m.TokenURL(),
		Scopes:         []string{m.scope},
		EndpointParams: url.Values{"client_info": {"1"}},
		AuthStyle:      oauth2.AuthStyleInParams,
	}

	recorder := &statusRecorder{next: m.transport.RoundTripper(m.retries)}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Transport: recorder})

	tok, err := config.Token(ctx)
	if err != nil {
		return loginError(err)
	}
	if recorder.status != http.StatusOK {
		return &models.StatusError{Kind: models.ErrAuthenticationFailed, StatusCode: recorder.status}
	}

	// token_type is stored exactly as the provider returned it
	token := tok.TokenType + " " + tok.AccessToken

	log.Info().Msg("login succeeded")
	logTokenInfo(token)

	m.mu.Lock()
	m.token = token
	m.mu.Unlock()

	return m.store.Save(ctx, m.creds, token)
}

func loginError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		return &models.StatusError{
			Kind:       models.ErrAuthenticationFailed,
			StatusCode: retrieveErr.Response.StatusCode,
			Body:       string(retrieveErr.Body),
		}
	}

	if errors.Is(err, models.ErrTransport) {
		return fmt.Errorf("login failed: %w", err)
	}

	return fmt.Errorf("%w: %v", models.ErrAuthenticationFailed, err)
}

// statusRecorder keeps the status of the last token response.
type statusRecorder struct {
	next   http.RoundTripper
	status int
}

func (r *statusRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := r.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	r.status = resp.StatusCode
	return resp, nil
}
