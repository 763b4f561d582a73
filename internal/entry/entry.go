// Package entry is the boundary used by signing tools: a metadata blob and a
// raw digest go in, a signature and the signer's certificate come out.
package entry

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/remotesign/internal/client"
	"github.com/wolfeidau/remotesign/internal/models"
)

const (
	// ExitSuccess is returned when a signature was produced.
	ExitSuccess = 0

	// ExitAccessDenied is returned for every failure.
	ExitAccessDenied = 5
)

// Output is the result handed back to the signing tool.
type Output struct {
	Signature    []byte
	Certificates []*x509.Certificate
	// Signer is the certificate that produced Signature.
	Signer *x509.Certificate
}

// Options configure how the signing session is built.
type Options struct {
	Session client.Config
}

// SignDigest signs the raw digest using the credentials and target in metadata.
// A panic while signing is returned as an error.
func SignDigest(ctx context.Context, metadata []byte, alg models.Algorithm, digest []byte, opts Options) (out *Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("signing panicked: %v", r)
		}
	}()

	return signDigest(ctx, metadata, alg, digest, opts)
}

func signDigest(ctx context.Context, metadata []byte, alg models.Algorithm, digest []byte, opts Options) (*Output, error) {
	meta, err := ParseMetadata(metadata)
	if err != nil {
		return nil, err
	}

	correlationID := meta.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	session, err := client.NewSession(ctx, opts.Session, meta.Credentials())
	if err != nil {
		return nil, err
	}

	result, err := session.Signer.SignDigest(ctx, models.SignRequest{
		Algorithm:     alg,
		Digest:        base64.StdEncoding.EncodeToString(digest),
		CorrelationID: correlationID,
		Endpoint:      meta.Endpoint,
		Account:       meta.Account,
		Profile:       meta.Profile,
	})
	if err != nil {
		return nil, err
	}

	certs, err := ParseCertificates(result.Certificate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnexpectedServerResponse, err)
	}

	signer := SelectSigner(certs)

	log.Info().
		Str("correlationID", correlationID).
		Str("signer", signer.Subject.String()).
		Int("certificates", len(certs)).
		Msg("digest signed")

	return &Output{
		Signature:    result.Signature,
		Certificates: certs,
		Signer:       signer,
	}, nil
}

// ExitCode maps the outcome of SignDigest to the process exit code, logging
// the failure.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	log.Error().Err(err).Msg("signing failed")

	return ExitAccessDenied
}
