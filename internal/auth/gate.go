package auth

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/seaward/skiff/internal/api"
	"github.com/seaward/skiff/internal/metadata"
)

// Gate is the authentication middleware in front of the S3 API. It buffers
// the request body (the V4 signature may cover its hash), verifies the
// request credentials, and attaches the authenticated access key to the
// request context.
type Gate struct {
	verifier *Verifier
	meta     *metadata.Store
}

// NewGate creates the authentication gate.
func NewGate(verifier *Verifier, meta *metadata.Store) *Gate {
	return &Gate{verifier: verifier, meta: meta}
}

// Wrap wraps an HTTP handler with signature verification.
func (g *Gate) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			api.WriteError(w, api.ErrInvalidRequest)
			return
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		key, authErr := g.authenticate(r, body)
		if authErr != nil {
			writeAuthError(w, r, authErr)
			return
		}

		if isAWSChunked(r) {
			decoded, err := io.ReadAll(api.NewChunkedReader(bytes.NewReader(body)))
			if err != nil {
				api.WriteError(w, api.ErrInvalidRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(decoded))
			r.ContentLength = int64(len(decoded))
		}

		if key != nil {
			r = r.WithContext(api.WithPrincipal(r.Context(), key))
		}
		next.ServeHTTP(w, r)
	})
}

// authenticate picks the verification mode from the request shape. A nil
// key with nil error means the request proceeds anonymously.
func (g *Gate) authenticate(r *http.Request, body []byte) (*metadata.AccessKey, *AuthError) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		return g.verifier.VerifyHeader(r, authHeader, SHA256Hex(body))
	}
	if IsPresignedV4(r) {
		return g.verifier.VerifyPresigned(r)
	}
	if IsPresignedV2(r) {
		return g.verifier.VerifyPresignedV2(r)
	}

	if g.allowAnonymous(r) {
		return nil, nil
	}
	return nil, &AuthError{Code: "MissingSecurityHeader", Message: "Your request was missing a required header."}
}

// allowAnonymous permits unauthenticated GET/HEAD against a public-read
// bucket: object reads and the bucket-level listings alike.
func (g *Gate) allowAnonymous(r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	bucketName, _ := splitPath(r.URL.Path)
	if bucketName == "" {
		return false
	}
	bucket, err := g.meta.GetBucket(r.Context(), bucketName)
	if err != nil {
		return false
	}
	return bucket.ACL == metadata.ACLPublicRead
}

// splitPath breaks a request path into bucket and key.
func splitPath(path string) (bucket, key string) {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return "", ""
	}
	parts := strings.SplitN(path, "/", 2)
	bucket = parts[0]
	if len(parts) == 2 {
		key = parts[1]
	}
	return bucket, key
}

func isAWSChunked(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Content-Encoding"), "aws-chunked") {
		return true
	}
	return strings.HasPrefix(r.Header.Get("X-Amz-Content-SHA256"), streamingSHA256)
}

func writeAuthError(w http.ResponseWriter, r *http.Request, authErr *AuthError) {
	s3err := api.ErrorForAuthCode(authErr.Code, authErr.Message)
	api.WriteErrorWithResource(w, s3err, r.URL.Path)
}
