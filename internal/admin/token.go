// Package admin serves the management API: login, access keys, buckets,
// object browsing, and service stats.
package admin

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const tokenTTL = 24 * time.Hour

// tokenClaims is the signed payload of an admin session token.
type tokenClaims struct {
	Subject  string `json:"sub"`
	IssuedAt int64  `json:"iat"`
	Expires  int64  `json:"exp"`
	Nonce    string `json:"nonce"`
}

var errInvalidToken = errors.New("invalid token")

// issueToken creates a signed session token for the given subject.
func issueToken(subject, secret string) (string, error) {
	nonce := make([]byte, 8)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	claims := tokenClaims{
		Subject:  subject,
		IssuedAt: now.Unix(),
		Expires:  now.Add(tokenTTL).Unix(),
		Nonce:    hex.EncodeToString(nonce),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + signToken(encoded, secret), nil
}

// verifyToken checks the signature and expiry of a session token and
// returns its subject.
func verifyToken(token, secret string) (string, error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return "", errInvalidToken
	}
	encoded, signature := parts[0], parts[1]

	expected := signToken(encoded, secret)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return "", errInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", errInvalidToken
	}
	var claims tokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", errInvalidToken
	}
	if time.Now().UTC().Unix() > claims.Expires {
		return "", errInvalidToken
	}
	return claims.Subject, nil
}

func signToken(encodedPayload, secret string) string {
	sum := sha256.Sum256([]byte(encodedPayload + secret))
	return hex.EncodeToString(sum[:])
}

// GenerateKeyPair creates a fresh S3 credential pair: an AKIA-prefixed
// access key id and a 40-character secret.
func GenerateKeyPair() (accessKeyID, secretAccessKey string, err error) {
	const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

	idBytes := make([]byte, 16)
	if _, err := rand.Read(idBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate access key id: %w", err)
	}
	for i, b := range idBytes {
		idBytes[i] = idAlphabet[int(b)%len(idAlphabet)]
	}

	secretBytes := make([]byte, 30)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate secret key: %w", err)
	}

	return "AKIA" + string(idBytes), base64.StdEncoding.EncodeToString(secretBytes), nil
}
