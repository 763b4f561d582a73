package commands

import (
	"crypto/tls"
	"fmt"
	"os"
	"time"

	"github.com/wolfeidau/remotesign/internal/client"
	"github.com/wolfeidau/remotesign/internal/entry"
	"github.com/wolfeidau/remotesign/internal/transport"
)

type Globals struct {
	Debug     bool
	Telemetry bool
	CacheDir  string
	Version   string
}

// TransportFlags are shared by every command that talks to the network.
type TransportFlags struct {
	Timeout    time.Duration `help:"Timeout for each phase of an HTTP exchange" default:"30s" env:"REMOTESIGN_TIMEOUT"`
	Proxy      string        `help:"Proxy URL for all requests" env:"REMOTESIGN_PROXY"`
	NoProxy    string        `help:"Comma separated hosts that bypass the proxy" env:"REMOTESIGN_NO_PROXY"`
	ClientCert string        `help:"Client certificate presented when the server asks for one" type:"existingfile" env:"REMOTESIGN_CLIENT_CERT"`
	ClientKey  string        `help:"Private key of the client certificate" type:"existingfile" env:"REMOTESIGN_CLIENT_KEY"`
}

// sessionConfig builds the session configuration from the global and transport flags.
func (g *Globals) sessionConfig(flags TransportFlags) (client.Config, error) {
	config := client.DefaultConfig()
	config.CacheDir = g.CacheDir
	config.Telemetry = g.Telemetry
	config.Proxy = flags.Proxy
	config.NoProxy = flags.NoProxy
	config.Timeouts = transport.Timeouts{
		Resolve: flags.Timeout,
		Connect: flags.Timeout,
		Send:    flags.Timeout,
		Receive: flags.Timeout,
	}

	if flags.ClientCert != "" {
		if flags.ClientKey == "" {
			return client.Config{}, fmt.Errorf("--client-key is required with --client-cert")
		}
		cert, err := tls.LoadX509KeyPair(flags.ClientCert, flags.ClientKey)
		if err != nil {
			return client.Config{}, fmt.Errorf("failed to load client certificate: %w", err)
		}
		config.ClientCertificate = &cert
	}

	return config, nil
}

func loadMetadata(path string) (*entry.Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata file: %w", err)
	}

	return entry.ParseMetadataFile(path, data)
}
