package entry

import (
	"bytes"
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"fmt"
	"slices"
)

// ErrNoCertificates is returned when the service response holds no certificate.
var ErrNoCertificates = errors.New("no certificates in signing response")

var oidCodeSigning = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 3}

// ParseCertificates reads one or more certificates in DER or PEM form.
func ParseCertificates(data []byte) ([]*x509.Certificate, error) {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("-----BEGIN")) {
		return parsePEM(data)
	}

	certs, err := x509.ParseCertificates(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificates: %w", err)
	}
	if len(certs) == 0 {
		return nil, ErrNoCertificates
	}

	return certs, nil
}

func parsePEM(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate

	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}

		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		certs = append(certs, cert)
	}

	if len(certs) == 0 {
		return nil, ErrNoCertificates
	}

	return certs, nil
}

// IsCodeSigning reports whether cert carries the code signing extended key usage.
func IsCodeSigning(cert *x509.Certificate) bool {
	if slices.Contains(cert.ExtKeyUsage, x509.ExtKeyUsageCodeSigning) {
		return true
	}
	return slices.ContainsFunc(cert.UnknownExtKeyUsage, oidCodeSigning.Equal)
}

// SelectSigner returns the first code signing certificate, or the first
// certificate when none carries the usage.
func SelectSigner(certs []*x509.Certificate) *x509.Certificate {
	if len(certs) == 0 {
		return nil
	}

	if i := slices.IndexFunc(certs, IsCodeSigning); i >= 0 {
		return certs[i]
	}

	return certs[0]
}
