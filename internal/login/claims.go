package login

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// ErrNotJWT is returned when an access token can't be parsed as a JWT.
var ErrNotJWT = errors.New("access token is not a JWT")

// TokenInfo holds the claims of an access token, read without verification.
type TokenInfo struct {
	Type      string
	Issuer    string
	Subject   string
	Audience  []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the token's exp claim is in the past.
func (i *TokenInfo) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}

// DescribeToken parses an Authorization header value such as "Bearer eyJ...".
// The signature is not verified, the result is for diagnostics only.
func DescribeToken(header string) (*TokenInfo, error) {
	tokenType, raw, ok := strings.Cut(header, " ")
	if !ok {
		tokenType, raw = "", header
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJWT, err)
	}

	info := &TokenInfo{
		Type:     tokenType,
		Issuer:   claims.Issuer,
		Subject:  claims.Subject,
		Audience: claims.Audience,
	}
	if claims.IssuedAt != nil {
		info.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}

	return info, nil
}

func logTokenInfo(header string) {
	info, err := DescribeToken(header)
	if err != nil {
		log.Debug().Err(err).Msg("unable to read access token claims")
		return
	}

	log.Debug().
		Str("issuer", info.Issuer).
		Strs("audience", info.Audience).
		Time("expiresAt", info.ExpiresAt).
		Msg("access token issued")
}
