package entry

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/wolfeidau/remotesign/internal/models"
	"gopkg.in/yaml.v3"
)

// Metadata is the per-invocation configuration handed over by the signing tool.
type Metadata struct {
	Tenant        string `json:"tenant" yaml:"tenant"`
	ClientID      string `json:"client_id" yaml:"client_id"`
	Secret        string `json:"secret" yaml:"secret"`
	Endpoint      string `json:"endpoint" yaml:"endpoint"`
	Account       string `json:"account" yaml:"account"`
	Profile       string `json:"profile" yaml:"profile"`
	CorrelationID string `json:"correlation_id" yaml:"correlation_id"`
}

// ParseMetadata decodes a JSON metadata blob.
func ParseMetadata(data []byte) (*Metadata, error) {
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: failed to parse metadata: %v", models.ErrInvalidArgument, err)
	}

	if err := meta.Validate(); err != nil {
		return nil, err
	}

	return &meta, nil
}

// ParseMetadataFile decodes metadata read from path, YAML when the extension is
// .yaml or .yml and JSON otherwise.
func ParseMetadataFile(path string, data []byte) (*Metadata, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var meta Metadata
		if err := yaml.Unmarshal(data, &meta); err != nil {
			return nil, fmt.Errorf("%w: failed to parse metadata %s: %v", models.ErrInvalidArgument, path, err)
		}
		if err := meta.Validate(); err != nil {
			return nil, err
		}
		return &meta, nil
	default:
		return ParseMetadata(data)
	}
}

// JSON re-encodes the metadata as the blob accepted by SignDigest.
func (m *Metadata) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// Validate checks every field except the correlation id is present.
func (m *Metadata) Validate() error {
	var missing []string

	for _, field := range []struct {
		name  string
		value string
	}{
		{"tenant", m.Tenant},
		{"client_id", m.ClientID},
		{"secret", m.Secret},
		{"endpoint", m.Endpoint},
		{"account", m.Account},
		{"profile", m.Profile},
	} {
		if field.value == "" {
			missing = append(missing, field.name)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: metadata is missing %s", models.ErrInvalidArgument, strings.Join(missing, ", "))
	}

	return nil
}

// Credentials returns the credentials the session authenticates with.
func (m *Metadata) Credentials() models.Credentials {
	return models.Credentials{
		Tenant:       m.Tenant,
		ClientID:     m.ClientID,
		ClientSecret: m.Secret,
	}
}
