package util

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	const secret = "test-secret"

	token, err := GenerateJWT("addr1voter", "voter", secret)
	require.NoError(t, err)

	sub, role, err := ParseJWT(token, secret)
	require.NoError(t, err)
	require.Equal(t, "addr1voter", sub)
	require.Equal(t, "voter", role)
}

func TestParseJWTWrongSecret(t *testing.T) {
	token, err := GenerateJWT("addr1voter", "voter", "secret-a")
	require.NoError(t, err)

	_, _, err = ParseJWT(token, "secret-b")
	require.Error(t, err)
}

func TestExtractToken(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	require.Empty(t, ExtractToken(req))

	req.Header.Set("Authorization", "Bearer abc123")
	require.Equal(t, "abc123", ExtractToken(req))

	req.Header.Set("Authorization", "Basic abc123")
	require.Empty(t, ExtractToken(req))
}
