package admin

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	token, err := issueToken("admin", "secret")
	require.NoError(t, err)

	subject, err := verifyToken(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, "admin", subject)
}

func TestTokenWrongSecret(t *testing.T) {
	token, err := issueToken("admin", "secret")
	require.NoError(t, err)

	_, err = verifyToken(token, "other-secret")
	assert.ErrorIs(t, err, errInvalidToken)
}

func TestTokenTampered(t *testing.T) {
	token, err := issueToken("admin", "secret")
	require.NoError(t, err)

	parts := strings.SplitN(token, ".", 2)
	require.Len(t, parts, 2)

	// Flip a character in the payload.
	payload := []byte(parts[0])
	if payload[0] == 'A' {
		payload[0] = 'B'
	} else {
		payload[0] = 'A'
	}
	_, err = verifyToken(string(payload)+"."+parts[1], "secret")
	assert.ErrorIs(t, err, errInvalidToken)
}

func TestTokenMalformed(t *testing.T) {
	for _, token := range []string{"", "no-dot", "a.b.c extra", "!!!.sig"} {
		_, err := verifyToken(token, "secret")
		assert.Error(t, err, "token %q", token)
	}
}

func TestGenerateKeyPair(t *testing.T) {
	id, secret, err := GenerateKeyPair()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(id, "AKIA"))
	assert.Len(t, id, 20)
	assert.Len(t, secret, 40)

	id2, secret2, err := GenerateKeyPair()
	require.NoError(t, err)
	assert.NotEqual(t, id, id2)
	assert.NotEqual(t, secret, secret2)
}
