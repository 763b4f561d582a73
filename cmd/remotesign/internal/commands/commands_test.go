package commands

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/remotesign/internal/entry"
	"github.com/wolfeidau/remotesign/internal/models"
	"github.com/wolfeidau/remotesign/internal/tokencache"
)

func newCert(t *testing.T, cn string, usage ...x509.ExtKeyUsage) *x509.Certificate {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		ExtKeyUsage:  usage,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return cert
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestSignCmd_Run(t *testing.T) {
	ca := newCert(t, "Test CA")
	leaf := newCert(t, "Test Signer", x509.ExtKeyUsageCodeSigning)
	chain := append(append([]byte{}, ca.Raw...), leaf.Raw...)

	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "https://sts.example/",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("test-key"))
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /tenant-1/oauth2/v2.0/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"token_type":"Bearer","access_token":%q}`, accessToken)
	})
	mux.HandleFunc("POST /codesigningaccounts/acct1/certificateprofiles/prof1/sign", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"operationId":"op-1","status":"InProgress"}`))
	})
	mux.HandleFunc("GET /codesigningaccounts/acct1/certificateprofiles/prof1/sign/op-1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, `{"status":"Succeeded","signature":%q,"signingCertificate":%q}`,
			base64.StdEncoding.EncodeToString([]byte("signature")), base64.StdEncoding.EncodeToString(chain))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	metadata := writeFile(t, "metadata.yaml", fmt.Sprintf(
		"tenant: tenant-1\nclient_id: client-1\nsecret: secret-1\nendpoint: %s\naccount: acct1\nprofile: prof1\n", srv.URL))

	// the identity provider host is fixed, so log in through a session pointed at the fake
	globals := &Globals{CacheDir: t.TempDir()}
	config, err := globals.sessionConfig(TransportFlags{Timeout: 5 * time.Second})
	require.NoError(t, err)
	config.AuthorityHost = srv.URL
	config.Signing.PollInterval = time.Millisecond

	meta, err := loadMetadata(metadata)
	require.NoError(t, err)
	blob, err := meta.JSON()
	require.NoError(t, err)

	out, err := entry.SignDigest(context.Background(), blob, models.AlgorithmSHA256, []byte("digest"), entry.Options{Session: config})
	require.NoError(t, err)

	t.Run("cert chain written signer first", func(t *testing.T) {
		data := encodeChain(out)

		block, rest := pem.Decode(data)
		require.NotNil(t, block)
		assert.Equal(t, leaf.Raw, block.Bytes)

		block, rest = pem.Decode(rest)
		require.NotNil(t, block)
		assert.Equal(t, ca.Raw, block.Bytes)
		assert.Empty(t, rest)
	})

	t.Run("sign uses the cached token", func(t *testing.T) {
		dir := t.TempDir()
		cmd := &SignCmd{
			Metadata:       metadata,
			Alg:            "SHA-256",
			Digest:         "deadbeef",
			SignatureOut:   filepath.Join(dir, "sig.bin"),
			CertOut:        filepath.Join(dir, "cert.pem"),
			TransportFlags: TransportFlags{Timeout: 5 * time.Second},
		}

		require.NoError(t, cmd.Run(context.Background(), globals))

		sig, err := os.ReadFile(cmd.SignatureOut)
		require.NoError(t, err)
		assert.Equal(t, []byte("signature"), sig)

		require.NoError(t, (&CertCmd{Path: cmd.CertOut}).Run(context.Background(), globals))
	})

	t.Run("token shows cached claims", func(t *testing.T) {
		require.NoError(t, (&TokenCmd{Metadata: metadata}).Run(context.Background(), globals))
	})

	t.Run("logout clears the cache", func(t *testing.T) {
		require.NoError(t, (&LogoutCmd{}).Run(context.Background(), globals))

		store, err := tokencache.NewStore(globals.CacheDir, nil)
		require.NoError(t, err)
		_, ok := store.Load(context.Background(), meta.Credentials())
		require.False(t, ok)

		err = (&TokenCmd{Metadata: metadata}).Run(context.Background(), globals)
		require.ErrorIs(t, err, ErrNotLoggedIn)
	})
}

func TestSignCmd_readDigest(t *testing.T) {
	t.Run("hex", func(t *testing.T) {
		digest, err := (&SignCmd{Digest: " 00ff10\n"}).readDigest()
		require.NoError(t, err)
		require.Equal(t, []byte{0x00, 0xff, 0x10}, digest)
	})

	t.Run("file", func(t *testing.T) {
		path := writeFile(t, "digest.bin", "\x01\x02")
		digest, err := (&SignCmd{DigestFile: path}).readDigest()
		require.NoError(t, err)
		require.Equal(t, []byte{0x01, 0x02}, digest)
	})

	t.Run("invalid hex", func(t *testing.T) {
		_, err := (&SignCmd{Digest: "xyz"}).readDigest()
		require.ErrorIs(t, err, models.ErrInvalidArgument)
	})
}

func TestGlobals_sessionConfig(t *testing.T) {
	globals := &Globals{CacheDir: "/tmp/cache", Telemetry: true}

	config, err := globals.sessionConfig(TransportFlags{Timeout: time.Second, Proxy: "http://proxy:3128", NoProxy: "localhost"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/cache", config.CacheDir)
	assert.True(t, config.Telemetry)
	assert.Equal(t, "http://proxy:3128", config.Proxy)
	assert.Equal(t, "localhost", config.NoProxy)
	assert.Equal(t, time.Second, config.Timeouts.Receive)
	assert.Nil(t, config.ClientCertificate)

	_, err = globals.sessionConfig(TransportFlags{ClientCert: "cert.pem"})
	require.ErrorContains(t, err, "--client-key")
}
