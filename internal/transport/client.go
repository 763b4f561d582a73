package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/remotesign/internal/models"
	"golang.org/x/net/http/httpproxy"
)

const (
	// DefaultTimeout applies to each of the resolve, connect, send and receive phases.
	DefaultTimeout = 30 * time.Second

	// DefaultRetries is the retry count used for every call to the identity provider
	// and the signing service.
	DefaultRetries = 2

	defaultUserAgent = "remotesign"
)

// Timeouts bound each phase of an exchange. Zero disables the bound.
type Timeouts struct {
	Resolve time.Duration
	Connect time.Duration
	Send    time.Duration
	Receive time.Duration
}

// DefaultTimeouts returns 30 seconds for every phase.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Resolve: DefaultTimeout,
		Connect: DefaultTimeout,
		Send:    DefaultTimeout,
		Receive: DefaultTimeout,
	}
}

// Config holds transport configuration.
type Config struct {
	Timeouts Timeouts

	// Proxy is the proxy URL used for all requests, empty means direct connections.
	Proxy string
	// NoProxy is a comma separated list of hosts that bypass Proxy.
	NoProxy string

	// ClientCertificate is presented when the server asks for one.
	ClientCertificate *tls.Certificate
	// RootCAs overrides the system roots, used in tests.
	RootCAs *x509.CertPool

	UserAgent string

	// Wrap decorates the per-request round tripper, e.g. for logging or tracing.
	Wrap func(http.RoundTripper) http.RoundTripper
}

// Request is a single HTTP request. Header keys are canonicalised so lookups
// are case-insensitive and each name is unique.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client performs HTTP exchanges with a fresh connection per call.
type Client struct {
	cfg Config
}

// New creates a transport client, zero timeouts in cfg are left as is.
func New(cfg Config) *Client {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	return &Client{cfg: cfg}
}

// Do performs one request/response exchange. When a client certificate is
// configured and the server rejects it during the handshake, the exchange is
// repeated once without presenting a certificate.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	resp, err := c.exchange(ctx, req, c.cfg.ClientCertificate)
	if err != nil && c.cfg.ClientCertificate != nil && isClientCertRejected(err) {
		log.Warn().Err(err).Str("url", redact(req.URL)).Msg("client certificate rejected, retrying without one")
		resp, err = c.exchange(ctx, req, nil)
	}
	if err != nil {
		return nil, &models.TransportError{Op: req.Method + " " + redact(req.URL), Err: err}
	}

	return resp, nil
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, url string, header http.Header, retries uint) (*Response, error) {
	return c.DoWithRetry(ctx, &Request{Method: http.MethodGet, URL: url, Header: header}, retries)
}

// Post issues a POST request.
func (c *Client) Post(ctx context.Context, url string, body []byte, header http.Header, retries uint) (*Response, error) {
	return c.DoWithRetry(ctx, &Request{Method: http.MethodPost, URL: url, Header: header, Body: body}, retries)
}

func (c *Client) exchange(ctx context.Context, req *Request, cert *tls.Certificate) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	for name, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	var rt http.RoundTripper = c.newTransport(cert)
	if c.cfg.Wrap != nil {
		rt = c.cfg.Wrap(rt)
	}

	httpClient := &http.Client{Transport: rt}
	defer httpClient.CloseIdleConnections()

	httpResp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
	}, nil
}

// newTransport builds a single use transport, keep-alives are disabled so every
// exchange gets its own connection.
func (c *Client) newTransport(cert *tls.Certificate) *http.Transport {
	t := c.cfg.Timeouts

	dialer := &net.Dialer{Timeout: t.Resolve + t.Connect}

	// #nosec G402 - TLS 1.0 and 1.1 remain enabled for older signing endpoints
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS10,
		RootCAs:    c.cfg.RootCAs,
	}
	if cert != nil {
		tlsConfig.Certificates = []tls.Certificate{*cert}
	}

	return &http.Transport{
		Proxy: c.proxyFunc(),
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return &deadlineConn{Conn: conn, send: t.Send, receive: t.Receive}, nil
		},
		TLSClientConfig:       tlsConfig,
		TLSHandshakeTimeout:   t.Connect,
		ResponseHeaderTimeout: t.Receive,
		DisableKeepAlives:     true,
	}
}

func (c *Client) proxyFunc() func(*http.Request) (*url.URL, error) {
	if c.cfg.Proxy == "" {
		return nil
	}

	proxyConfig := &httpproxy.Config{
		HTTPProxy:  c.cfg.Proxy,
		HTTPSProxy: c.cfg.Proxy,
		NoProxy:    c.cfg.NoProxy,
	}
	fn := proxyConfig.ProxyFunc()

	return func(r *http.Request) (*url.URL, error) {
		return fn(r.URL)
	}
}

// deadlineConn applies the send and receive timeouts to every write and read.
type deadlineConn struct {
	net.Conn
	send    time.Duration
	receive time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if c.receive > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.receive)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if c.send > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.send)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(b)
}

// alerts sent by servers that refuse the presented client certificate
var clientCertAlerts = []string{
	"tls: bad certificate",
	"tls: certificate required",
	"tls: unknown certificate authority",
	"tls: unsupported certificate",
}

func isClientCertRejected(err error) bool {
	var alert tls.AlertError
	if errors.As(err, &alert) {
		switch alert {
		case 42, 43, 48, 116:
			return true
		}
	}

	msg := err.Error()
	for _, a := range clientCertAlerts {
		if strings.Contains(msg, a) {
			return true
		}
	}
	return false
}

// redact drops the query string so it doesn't end up in logs or errors.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.RawQuery = ""
	return u.String()
}
