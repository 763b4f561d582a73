package models

import (
	"crypto/sha256"

	"github.com/mr-tron/base58"
)

// Credentials identify the service principal used for the client-credentials grant.
// They are fixed for the lifetime of a signing session.
type Credentials struct {
	Tenant       string
	ClientID     string
	ClientSecret string
}

// SecretFingerprint returns a Base58-encoded SHA256 of the client secret, safe to log.
func (c Credentials) SecretFingerprint() string {
	hash := sha256.Sum256([]byte(c.ClientSecret))
	return base58.Encode(hash[:8])
}

// CachedToken is the persisted form of a bearer token, bound to the credentials
// that minted it.
type CachedToken struct {
	Tenant       string `json:"tenant"`
	ClientID     string `json:"id"`
	ClientSecret string `json:"secret"`
	Token        string `json:"token"`
}

// NewCachedToken binds token to creds.
func NewCachedToken(creds Credentials, token string) CachedToken {
	return CachedToken{
		Tenant:       creds.Tenant,
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Token:        token,
	}
}

// Matches returns true only if every bound field equals creds exactly.
func (t CachedToken) Matches(creds Credentials) bool {
	return t.Tenant == creds.Tenant &&
		t.ClientID == creds.ClientID &&
		t.ClientSecret == creds.ClientSecret
}
