package logger

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	require.Equal(t, zerolog.InfoLevel, Setup(false).GetLevel())
	require.Equal(t, zerolog.DebugLevel, Setup(true).GetLevel())
}

func TestRequestLogger(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	client := &http.Client{Transport: NewRequestLogger(logger, nil)}
	resp, err := client.Get(srv.URL + "/sign?api-version=secret")
	require.NoError(t, err)
	resp.Body.Close()

	out := buf.String()
	require.Contains(t, out, `"status":202`)
	require.Contains(t, out, "/sign")
	require.NotContains(t, out, "api-version")
}
