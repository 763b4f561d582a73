package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/remotesign/internal/logger"
	"github.com/wolfeidau/remotesign/internal/login"
	"github.com/wolfeidau/remotesign/internal/models"
	"github.com/wolfeidau/remotesign/internal/signing"
	"github.com/wolfeidau/remotesign/internal/tokencache"
	"github.com/wolfeidau/remotesign/internal/transport"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Config holds common session configuration
type Config struct {
	// CacheDir holds the token cache, empty means ~/.remotesign
	CacheDir      string
	AuthorityHost string
	Scope         string

	Timeouts          transport.Timeouts
	Proxy             string
	NoProxy           string
	ClientCertificate *tls.Certificate

	// Telemetry traces every HTTP exchange with otelhttp.
	Telemetry bool

	Signing signing.Options
}

// DefaultConfig returns a default session configuration
func DefaultConfig() Config {
	return Config{
		AuthorityHost: login.DefaultAuthorityHost,
		Scope:         login.DefaultScope,
		Timeouts:      transport.DefaultTimeouts(),
		Signing:       signing.DefaultOptions(),
	}
}

// Session holds everything needed to sign with one set of credentials.
type Session struct {
	Transport *transport.Client
	Store     *tokencache.Store
	Tokens    *login.Manager
	Signer    *signing.Client
}

// NewSession wires transport, token cache, token manager and signer. The
// cached token, if any, is loaded here.
func NewSession(ctx context.Context, config Config, creds models.Credentials) (*Session, error) {
	tr := NewTransport(config)

	store, err := tokencache.NewStore(config.CacheDir, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open token cache: %w", err)
	}

	var opts []login.Option
	if config.AuthorityHost != "" {
		opts = append(opts, login.WithAuthorityHost(config.AuthorityHost))
	}
	if config.Scope != "" {
		opts = append(opts, login.WithScope(config.Scope))
	}

	tokens := login.NewManager(ctx, creds, store, tr, opts...)

	log.Debug().
		Str("cache", store.Path()).
		Bool("cachedToken", tokens.Token() != "").
		Msg("session created")

	return &Session{
		Transport: tr,
		Store:     store,
		Tokens:    tokens,
		Signer:    signing.NewClient(tokens, tr, config.Signing),
	}, nil
}

// NewTransport builds the HTTP transport with request logging, and tracing when
// telemetry is enabled.
func NewTransport(config Config) *transport.Client {
	return transport.New(transport.Config{
		Timeouts:          config.Timeouts,
		Proxy:             config.Proxy,
		NoProxy:           config.NoProxy,
		ClientCertificate: config.ClientCertificate,
		Wrap: func(next http.RoundTripper) http.RoundTripper {
			rt := http.RoundTripper(logger.NewRequestLogger(log.Logger, next))
			if config.Telemetry {
				rt = otelhttp.NewTransport(rt)
			}
			return rt
		},
	})
}
