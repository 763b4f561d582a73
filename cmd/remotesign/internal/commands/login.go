package commands

import (
	"context"
	"fmt"

	"github.com/wolfeidau/remotesign/internal/client"
	"github.com/wolfeidau/remotesign/internal/login"
	"github.com/wolfeidau/remotesign/internal/tokencache"
)

type LoginCmd struct {
	Metadata string `help:"Metadata file (JSON, or YAML by extension)" required:"" type:"existingfile" env:"REMOTESIGN_METADATA"`

	TransportFlags `embed:""`
}

func (l *LoginCmd) Run(ctx context.Context, globals *Globals) error {
	meta, err := loadMetadata(l.Metadata)
	if err != nil {
		return err
	}

	config, err := globals.sessionConfig(l.TransportFlags)
	if err != nil {
		return err
	}

	session, err := client.NewSession(ctx, config, meta.Credentials())
	if err != nil {
		return err
	}

	if err := session.Tokens.Login(ctx); err != nil {
		return err
	}

	fmt.Printf("Logged in as %s, token cached in %s\n", meta.ClientID, session.Store.Path())

	if info, err := login.DescribeToken(session.Tokens.Token()); err == nil && !info.ExpiresAt.IsZero() {
		fmt.Printf("Token expires at %s\n", info.ExpiresAt.Local())
	}

	return nil
}

type LogoutCmd struct{}

func (l *LogoutCmd) Run(ctx context.Context, globals *Globals) error {
	store, err := tokencache.NewStore(globals.CacheDir, nil)
	if err != nil {
		return err
	}

	if err := store.Clear(ctx); err != nil {
		return err
	}

	fmt.Println("Logged out")
	return nil
}
