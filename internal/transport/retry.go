package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

// DoWithRetry re-issues the whole exchange when it fails, up to maxRetries
// additional attempts. Retries are immediate. HTTP status codes are never
// retried here, only failures to complete the exchange.
func (c *Client) DoWithRetry(ctx context.Context, req *Request, maxRetries uint) (*Response, error) {
	retriesLeft := maxRetries

	return backoff.Retry(ctx, func() (*Response, error) {
		return c.Do(ctx, req)
	},
		backoff.WithBackOff(&backoff.ZeroBackOff{}),
		backoff.WithMaxTries(maxRetries+1),
		backoff.WithNotify(func(err error, _ time.Duration) {
			retriesLeft--
			log.Warn().
				Err(err).
				Str("method", req.Method).
				Uint("retriesLeft", retriesLeft).
				Msg("request failed, retrying")
		}),
	)
}

// RoundTripper exposes DoWithRetry as an http.RoundTripper so library clients
// share the same connection and retry policy.
func (c *Client) RoundTripper(maxRetries uint) http.RoundTripper {
	return &retryRoundTripper{client: c, maxRetries: maxRetries}
}

type retryRoundTripper struct {
	client     *Client
	maxRetries uint
}

func (rt *retryRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(r.Body)
		r.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
	}

	resp, err := rt.client.DoWithRetry(r.Context(), &Request{
		Method: r.Method,
		URL:    r.URL.String(),
		Header: r.Header.Clone(),
		Body:   body,
	}, rt.maxRetries)
	if err != nil {
		return nil, err
	}

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		StatusCode:    resp.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        resp.Header,
		Body:          io.NopCloser(bytes.NewReader(resp.Body)),
		ContentLength: int64(len(resp.Body)),
		Request:       r,
	}, nil
}
