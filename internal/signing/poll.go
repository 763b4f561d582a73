package signing

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/remotesign/internal/models"
	"github.com/wolfeidau/remotesign/internal/telemetry"
	"github.com/wolfeidau/remotesign/internal/transport"
)

// poll queries the job status until it succeeds, fails or attempts run out.
// Status failures while polling are never retried with a fresh login.
func (c *Client) poll(ctx context.Context, req models.SignRequest, job *models.Job) (*models.Result, error) {
	pollURL := c.signURL(req, job.OperationID)
	metrics := telemetry.GetMetrics()

	for attempt := 1; attempt <= c.opts.PollAttempts; attempt++ {
		if err := sleep(ctx, c.opts.PollInterval); err != nil {
			return nil, err
		}

		metrics.PollAttemptsTotal.Add(ctx, 1)

		resp, err := c.transport.Get(ctx, pollURL, jsonHeader(c.tokens.Token()), transport.DefaultRetries)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusOK {
			return nil, &models.StatusError{
				Kind:       models.ErrUnexpectedServerResponse,
				StatusCode: resp.StatusCode,
				Body:       string(resp.Body),
			}
		}

		var op operationBody
		if err := json.Unmarshal(resp.Body, &op); err != nil {
			return nil, fmt.Errorf("%w: failed to parse status response: %v", models.ErrUnexpectedServerResponse, err)
		}

		job.Status = op.Status

		switch {
		case op.Status == models.JobStatusInProgress:
			log.Debug().
				Str("operationID", job.OperationID).
				Int("attempt", attempt).
				Msg("signing in progress")
			continue
		case op.Status == models.JobStatusSucceeded:
			log.Info().
				Str("operationID", job.OperationID).
				Int("attempts", attempt).
				Msg("signing succeeded")
			return decodeResult(op)
		case op.Status.IsTerminal():
			log.Warn().
				Str("operationID", job.OperationID).
				Int("attempts", attempt).
				Msg("signing failed")
			return nil, fmt.Errorf("%w: operation %q failed", models.ErrInvalidServiceState, job.OperationID)
		default:
			return nil, fmt.Errorf("%w: operation %q reported status %q",
				models.ErrInvalidServiceState, job.OperationID, op.Status)
		}
	}

	return nil, fmt.Errorf("%w: operation %q still in progress after %d attempts",
		models.ErrTimeout, job.OperationID, c.opts.PollAttempts)
}

func decodeResult(op operationBody) (*models.Result, error) {
	signature, err := base64.StdEncoding.DecodeString(op.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode signature: %v", models.ErrUnexpectedServerResponse, err)
	}

	certificate, err := base64.StdEncoding.DecodeString(op.SigningCertificate)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode signing certificate: %v", models.ErrUnexpectedServerResponse, err)
	}

	return &models.Result{Signature: signature, Certificate: certificate}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
