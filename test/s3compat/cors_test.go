package s3compat

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seaward/skiff/test/testutil"
)

// The test server allows https://app.example.com as a CORS origin.

func TestCORSPreflight(t *testing.T) {
	ts := testutil.NewTestServer(t)
	defer ts.Cleanup()

	req, err := http.NewRequest(http.MethodOptions, ts.Endpoint+"/some-bucket/some-key", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "PUT")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	// Preflight succeeds without credentials.
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "PUT")
	assert.Contains(t, resp.Header.Get("Access-Control-Expose-Headers"), "ETag")
}

func TestCORSDisallowedOrigin(t *testing.T) {
	ts := testutil.NewTestServer(t)
	defer ts.Cleanup()

	req, err := http.NewRequest(http.MethodOptions, ts.Endpoint+"/some-bucket/some-key", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://evil.example.net")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestCORSHeadersOnRegularResponse(t *testing.T) {
	ts := testutil.NewTestServer(t)
	defer ts.Cleanup()

	req, err := http.NewRequest(http.MethodHead, ts.Endpoint+"/", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}
