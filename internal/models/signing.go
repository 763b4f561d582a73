package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Algorithm identifies the digest algorithm of the to-be-signed digest.
type Algorithm uint32

// Values match the Windows CALG_* identifiers handed to signing plugins.
const (
	AlgorithmSHA256 Algorithm = 0x800c
	AlgorithmSHA384 Algorithm = 0x800d
	AlgorithmSHA512 Algorithm = 0x800e
)

// SignatureAlgorithm returns the name the signing service expects for a.
func (a Algorithm) SignatureAlgorithm() (string, error) {
	switch a {
	case AlgorithmSHA256:
		return "RS256", nil
	case AlgorithmSHA384:
		return "RS384", nil
	case AlgorithmSHA512:
		return "RS512", nil
	default:
		return "", fmt.Errorf("%w: unsupported digest algorithm 0x%x", ErrInvalidArgument, uint32(a))
	}
}

func (a Algorithm) String() string {
	switch a {
	case AlgorithmSHA256:
		return "SHA256"
	case AlgorithmSHA384:
		return "SHA384"
	case AlgorithmSHA512:
		return "SHA512"
	default:
		return "0x" + strconv.FormatUint(uint64(a), 16)
	}
}

// ParseAlgorithm accepts names such as "sha256", "SHA-384" or a numeric ALG_ID
// ("0x800c", "32780").
func ParseAlgorithm(s string) (Algorithm, error) {
	name := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", ""))
	switch name {
	case "SHA256":
		return AlgorithmSHA256, nil
	case "SHA384":
		return AlgorithmSHA384, nil
	case "SHA512":
		return AlgorithmSHA512, nil
	}

	id, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: unknown digest algorithm %q", ErrInvalidArgument, s)
	}

	return Algorithm(id), nil
}

// JobStatus is the state of a remote signing operation.
type JobStatus string

const (
	JobStatusSubmitted  JobStatus = "Submitted"
	JobStatusInProgress JobStatus = "InProgress"
	JobStatusSucceeded  JobStatus = "Succeeded"
	JobStatusFailed     JobStatus = "Failed"
)

// IsTerminal returns true once no further polling is needed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// SignRequest describes one digest-signing job.
type SignRequest struct {
	Algorithm     Algorithm
	Digest        string // base64
	CorrelationID string
	Endpoint      string
	Account       string
	Profile       string
}

// Job tracks an accepted signing operation until it reaches a terminal status.
type Job struct {
	OperationID string
	Status      JobStatus
}

// Result holds the output of a successful signing operation.
type Result struct {
	Signature   []byte
	Certificate []byte // DER
}
