// Package signing drives a remote signing job from submission to result.
package signing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/remotesign/internal/models"
	"github.com/wolfeidau/remotesign/internal/telemetry"
	"github.com/wolfeidau/remotesign/internal/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultAPIVersion is sent as the api-version query parameter.
	DefaultAPIVersion = "2022-06-15-preview"

	// DefaultPollAttempts bounds the number of status polls per job.
	DefaultPollAttempts = 100

	// DefaultPollInterval is the sleep before each status poll.
	DefaultPollInterval = time.Second
)

// TokenSource provides the Authorization header value for signing calls.
type TokenSource interface {
	EnsureToken(ctx context.Context) (string, error)
	Login(ctx context.Context) error
	Token() string
}

// Options configure the signing client, zero values are replaced by defaults.
type Options struct {
	APIVersion   string
	PollAttempts int
	PollInterval time.Duration
}

// DefaultOptions returns the options used by the CLI.
func DefaultOptions() Options {
	return Options{
		APIVersion:   DefaultAPIVersion,
		PollAttempts: DefaultPollAttempts,
		PollInterval: DefaultPollInterval,
	}
}

// Client submits signing jobs and polls them to completion.
type Client struct {
	tokens    TokenSource
	transport *transport.Client
	opts      Options
}

// NewClient creates a signing client.
func NewClient(tokens TokenSource, tr *transport.Client, opts Options) *Client {
	defaults := DefaultOptions()
	if opts.APIVersion == "" {
		opts.APIVersion = defaults.APIVersion
	}
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = defaults.PollAttempts
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaults.PollInterval
	}

	return &Client{
		tokens:    tokens,
		transport: tr,
		opts:      opts,
	}
}

type signBody struct {
	SignatureAlgorithm string `json:"signatureAlgorithm"`
	Digest             string `json:"digest"`
	CorrelationID      string `json:"correlationId"`
}

type operationBody struct {
	OperationID        string           `json:"operationId"`
	Status             models.JobStatus `json:"status"`
	Signature          string           `json:"signature,omitempty"`
	SigningCertificate string           `json:"signingCertificate,omitempty"`
}

// SignDigest signs req.Digest remotely and returns the signature with the
// signing certificate. An unsupported algorithm fails before any network call.
func (c *Client) SignDigest(ctx context.Context, req models.SignRequest) (*models.Result, error) {
	alg, err := req.Algorithm.SignatureAlgorithm()
	if err != nil {
		return nil, err
	}

	ctx, span := telemetry.Tracer().Start(ctx, "signing.SignDigest", trace.WithAttributes(
		attribute.String("signing.algorithm", alg),
		attribute.String("signing.account", req.Account),
		attribute.String("signing.profile", req.Profile),
		attribute.String("signing.correlation_id", req.CorrelationID),
	))
	defer span.End()

	metrics := telemetry.GetMetrics()
	start := time.Now()

	result, err := c.signDigest(ctx, req, alg)

	metrics.SignDigestDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.SigningErrorsTotal.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	metrics.SignaturesTotal.Add(ctx, 1)

	return result, nil
}

func (c *Client) signDigest(ctx context.Context, req models.SignRequest, alg string) (*models.Result, error) {
	job, err := c.submit(ctx, req, alg)
	if err != nil {
		return nil, err
	}

	trace.SpanFromContext(ctx).SetAttributes(attribute.String("signing.operation_id", job.OperationID))

	return c.poll(ctx, req, job)
}

func (c *Client) submit(ctx context.Context, req models.SignRequest, alg string) (*models.Job, error) {
	body, err := json.Marshal(signBody{
		SignatureAlgorithm: alg,
		Digest:             req.Digest,
		CorrelationID:      req.CorrelationID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sign request: %w", err)
	}

	token, err := c.tokens.EnsureToken(ctx)
	if err != nil {
		return nil, err
	}

	submitURL := c.signURL(req, "")

	log.Info().
		Str("account", req.Account).
		Str("profile", req.Profile).
		Str("algorithm", alg).
		Str("correlationID", req.CorrelationID).
		Msg("submitting signing request")

	metrics := telemetry.GetMetrics()
	metrics.SubmissionsTotal.Add(ctx, 1)

	resp, err := c.transport.Post(ctx, submitURL, body, jsonHeader(token), transport.DefaultRetries)
	if err != nil {
		return nil, err
	}

	// one fresh login and one resubmission, then give up
	if resp.StatusCode != http.StatusAccepted {
		log.Warn().
			Int("status", resp.StatusCode).
			Msg("signing request rejected, logging in again")

		if err := c.tokens.Login(ctx); err != nil {
			return nil, err
		}

		metrics.ResubmissionsTotal.Add(ctx, 1)

		resp, err = c.transport.Post(ctx, submitURL, body, jsonHeader(c.tokens.Token()), transport.DefaultRetries)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusAccepted {
			return nil, &models.StatusError{
				Kind:       models.ErrUnexpectedServerResponse,
				StatusCode: resp.StatusCode,
				Body:       string(resp.Body),
			}
		}
	}

	var op operationBody
	if err := json.Unmarshal(resp.Body, &op); err != nil {
		return nil, fmt.Errorf("%w: failed to parse submission response: %v", models.ErrUnexpectedServerResponse, err)
	}

	if op.Status != models.JobStatusInProgress || op.OperationID == "" {
		return nil, fmt.Errorf("%w: submission returned status %q for operation %q",
			models.ErrInvalidServiceState, op.Status, op.OperationID)
	}

	log.Info().Str("operationID", op.OperationID).Msg("signing request accepted")

	return &models.Job{OperationID: op.OperationID, Status: models.JobStatusSubmitted}, nil
}

// signURL builds {endpoint}/codesigningaccounts/{account}/certificateprofiles/{profile}/sign[/{operationID}].
func (c *Client) signURL(req models.SignRequest, operationID string) string {
	var b strings.Builder

	b.WriteString(strings.TrimRight(req.Endpoint, "/"))
	b.WriteString("/codesigningaccounts/")
	b.WriteString(url.PathEscape(req.Account))
	b.WriteString("/certificateprofiles/")
	b.WriteString(url.PathEscape(req.Profile))
	b.WriteString("/sign")
	if operationID != "" {
		b.WriteString("/")
		b.WriteString(url.PathEscape(operationID))
	}
	b.WriteString("?api-version=")
	b.WriteString(url.QueryEscape(c.opts.APIVersion))

	return b.String()
}

func jsonHeader(token string) http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json")
	h.Set("Content-Type", "application/json")
	h.Set("Authorization", token)
	return h
}
