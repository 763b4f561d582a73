package commands

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"github.com/wolfeidau/remotesign/internal/entry"
	"github.com/wolfeidau/remotesign/internal/models"
)

type SignCmd struct {
	Metadata     string `help:"Metadata file (JSON, or YAML by extension)" required:"" type:"existingfile" env:"REMOTESIGN_METADATA"`
	Alg          string `help:"Digest algorithm: sha256, sha384, sha512 or an ALG_ID" default:"sha256"`
	Digest       string `help:"Hex encoded digest" xor:"digest" required:""`
	DigestFile   string `help:"File holding the raw digest" type:"existingfile" xor:"digest" required:""`
	SignatureOut string `help:"Where to write the signature" required:"" type:"path"`
	CertOut      string `help:"Where to write the certificates as PEM, signer first" type:"path"`

	TransportFlags `embed:""`
}

func (s *SignCmd) Run(ctx context.Context, globals *Globals) error {
	meta, err := loadMetadata(s.Metadata)
	if err != nil {
		return err
	}

	alg, err := models.ParseAlgorithm(s.Alg)
	if err != nil {
		return err
	}

	digest, err := s.readDigest()
	if err != nil {
		return err
	}

	config, err := globals.sessionConfig(s.TransportFlags)
	if err != nil {
		return err
	}

	blob, err := meta.JSON()
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	out, err := entry.SignDigest(ctx, blob, alg, digest, entry.Options{Session: config})
	if err != nil {
		return err
	}

	if err := os.WriteFile(s.SignatureOut, out.Signature, 0644); err != nil {
		return fmt.Errorf("failed to write signature: %w", err)
	}

	if s.CertOut != "" {
		if err := os.WriteFile(s.CertOut, encodeChain(out), 0644); err != nil {
			return fmt.Errorf("failed to write certificates: %w", err)
		}
	}

	fmt.Printf("Signed with %s\n", out.Signer.Subject)

	return nil
}

func (s *SignCmd) readDigest() ([]byte, error) {
	if s.DigestFile != "" {
		digest, err := os.ReadFile(s.DigestFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read digest file: %w", err)
		}
		return digest, nil
	}

	digest, err := hex.DecodeString(strings.TrimSpace(s.Digest))
	if err != nil {
		return nil, fmt.Errorf("%w: digest is not hex: %v", models.ErrInvalidArgument, err)
	}

	return digest, nil
}

// encodeChain writes the signer first followed by the remaining certificates.
func encodeChain(out *entry.Output) []byte {
	var buf bytes.Buffer

	_ = pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: out.Signer.Raw})
	for _, cert := range out.Certificates {
		if cert == out.Signer {
			continue
		}
		_ = pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	}

	return buf.Bytes()
}
