package api

import (
	"context"
	"net/http"

	"github.com/seaward/skiff/internal/metadata"
	"github.com/seaward/skiff/internal/storage"
)

// Handler serves the S3 API over the metadata and blob stores.
type Handler struct {
	meta   *metadata.Store
	blobs  *storage.BlobStore
	region string
}

// NewHandler creates a new Handler.
func NewHandler(meta *metadata.Store, blobs *storage.BlobStore, region string) *Handler {
	return &Handler{
		meta:   meta,
		blobs:  blobs,
		region: region,
	}
}

// Context keys
type contextKey string

const (
	bucketKey    contextKey = "bucket"
	keyKey       contextKey = "key"
	principalKey contextKey = "principal"
)

// WithBucket adds the bucket name to the request context.
func WithBucket(r *http.Request, bucket string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), bucketKey, bucket))
}

// WithKey adds the object key to the request context.
func WithKey(r *http.Request, key string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), keyKey, key))
}

// WithPrincipal records the authenticated access key in the context.
func WithPrincipal(ctx context.Context, key *metadata.AccessKey) context.Context {
	return context.WithValue(ctx, principalKey, key)
}

// GetBucket returns the bucket name from the request context.
func GetBucket(r *http.Request) string {
	if bucket, ok := r.Context().Value(bucketKey).(string); ok {
		return bucket
	}
	return ""
}

// GetKey returns the object key from the request context.
func GetKey(r *http.Request) string {
	if key, ok := r.Context().Value(keyKey).(string); ok {
		return key
	}
	return ""
}

// GetPrincipal returns the authenticated access key, or nil for anonymous
// requests.
func GetPrincipal(r *http.Request) *metadata.AccessKey {
	if key, ok := r.Context().Value(principalKey).(*metadata.AccessKey); ok {
		return key
	}
	return nil
}
