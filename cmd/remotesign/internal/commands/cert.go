package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/wolfeidau/remotesign/internal/entry"
)

type CertCmd struct {
	Path string `arg:"" help:"Certificate file, DER or PEM" type:"existingfile"`
}

func (c *CertCmd) Run(ctx context.Context, globals *Globals) error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return fmt.Errorf("failed to read certificate: %w", err)
	}

	certs, err := entry.ParseCertificates(data)
	if err != nil {
		return err
	}

	signer := entry.SelectSigner(certs)

	for i, cert := range certs {
		if i > 0 {
			fmt.Println()
		}
		fmt.Printf("Subject:      %s\n", cert.Subject)
		fmt.Printf("Issuer:       %s\n", cert.Issuer)
		fmt.Printf("Serial:       %s\n", cert.SerialNumber)
		fmt.Printf("Valid:        %s - %s\n", cert.NotBefore.Local(), cert.NotAfter.Local())
		fmt.Printf("Code signing: %t\n", entry.IsCodeSigning(cert))
		fmt.Printf("Signer:       %t\n", cert == signer)
	}

	return nil
}
