package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfeidau/remotesign/internal/client"
	"github.com/wolfeidau/remotesign/internal/login"
)

// ErrNotLoggedIn is returned when no token is cached for the credentials.
var ErrNotLoggedIn = errors.New("no cached token for these credentials, run remotesign login")

type TokenCmd struct {
	Metadata string `help:"Metadata file (JSON, or YAML by extension)" required:"" type:"existingfile" env:"REMOTESIGN_METADATA"`
}

func (t *TokenCmd) Run(ctx context.Context, globals *Globals) error {
	meta, err := loadMetadata(t.Metadata)
	if err != nil {
		return err
	}

	config := client.DefaultConfig()
	config.CacheDir = globals.CacheDir

	session, err := client.NewSession(ctx, config, meta.Credentials())
	if err != nil {
		return err
	}

	token := session.Tokens.Token()
	if token == "" {
		return ErrNotLoggedIn
	}

	info, err := login.DescribeToken(token)
	if err != nil {
		fmt.Println("Cached token is opaque")
		return nil
	}

	fmt.Printf("Type:      %s\n", info.Type)
	fmt.Printf("Issuer:    %s\n", info.Issuer)
	fmt.Printf("Subject:   %s\n", info.Subject)
	fmt.Printf("Audience:  %s\n", strings.Join(info.Audience, ", "))
	if !info.IssuedAt.IsZero() {
		fmt.Printf("Issued:    %s\n", info.IssuedAt.Local())
	}
	if !info.ExpiresAt.IsZero() {
		state := "valid"
		if info.Expired(time.Now()) {
			state = "expired"
		}
		fmt.Printf("Expires:   %s (%s)\n", info.ExpiresAt.Local(), state)
	}

	return nil
}
