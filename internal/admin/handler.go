package admin

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/seaward/skiff/internal/auth"
	"github.com/seaward/skiff/internal/config"
	"github.com/seaward/skiff/internal/metadata"
	"github.com/seaward/skiff/internal/metrics"
	"github.com/seaward/skiff/internal/storage"
)

// Handler serves the admin API under /admin.
type Handler struct {
	router  chi.Router
	cfg     *config.Config
	meta    *metadata.Store
	blobs   *storage.BlobStore
	limiter *loginLimiter
	secret  string
}

// NewHandler builds the admin router. When no JWT secret is configured an
// ephemeral one is generated; sessions then do not survive a restart.
func NewHandler(cfg *config.Config, meta *metadata.Store, blobs *storage.BlobStore, registry *metrics.Registry) *Handler {
	secret := cfg.Admin.JWTSecret
	if secret == "" {
		buf := make([]byte, 32)
		rand.Read(buf)
		secret = hex.EncodeToString(buf)
		log.Debug().Msg("No admin JWT secret configured; sessions will not survive restarts")
	}

	h := &Handler{
		cfg:     cfg,
		meta:    meta,
		blobs:   blobs,
		limiter: newLoginLimiter(),
		secret:  secret,
	}

	r := chi.NewRouter()
	r.Route("/admin", func(r chi.Router) {
		r.Post("/auth/login", h.login)

		r.Group(func(r chi.Router) {
			r.Use(h.requireToken)

			r.Post("/auth/verify", h.verify)
			r.Get("/stats", h.stats)
			r.Method(http.MethodGet, "/metrics", registry.Handler())

			r.Get("/keys", h.listKeys)
			r.Post("/keys", h.createKey)
			r.Put("/keys/{id}", h.updateKey)
			r.Delete("/keys/{id}", h.deleteKey)

			r.Get("/buckets", h.listBuckets)
			r.Post("/buckets", h.createBucket)
			r.Put("/buckets/{bucket}", h.updateBucket)
			r.Delete("/buckets/{bucket}", h.deleteBucket)
			r.Get("/buckets/{bucket}/objects", h.listObjects)
			r.Delete("/buckets/{bucket}/objects/*", h.deleteObject)
			r.Get("/buckets/{bucket}/link/*", h.objectLink)
		})
	})
	h.router = r
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// requireToken guards the authenticated admin routes.
func (h *Handler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(token) <= len(prefix) || token[:len(prefix)] != prefix {
			writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if _, err := verifyToken(token[len(prefix):], h.secret); err != nil {
			writeJSONError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Admin.Username == "" || h.cfg.Admin.Password == "" {
		writeJSONError(w, http.StatusForbidden, "admin API is not configured")
		return
	}

	ip := clientIP(r)
	if !h.limiter.allow(ip) {
		writeJSONError(w, http.StatusTooManyRequests, "too many login attempts, try again later")
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.cfg.Admin.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.cfg.Admin.Password)) == 1
	if !userOK || !passOK {
		h.limiter.record(ip)
		log.Warn().Str("remote", ip).Msg("Failed admin login")
		writeJSONError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	h.limiter.reset(ip)

	token, err := issueToken(req.Username, h.secret)
	if err != nil {
		log.Error().Err(err).Msg("Failed to issue admin token")
		writeJSONError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.meta.GetStats(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to load stats")
		writeJSONError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}

	used, err := h.blobs.TotalSize("")
	if err != nil {
		log.Error().Err(err).Msg("Failed to measure storage usage")
	}
	writeJSON(w, http.StatusOK, struct {
		metadata.Stats
		StorageBytes int64 `json:"storageBytes"`
	}{Stats: *stats, StorageBytes: used})
}

// keyResponse is an access key with the secret redacted.
type keyResponse struct {
	ID          string    `json:"id"`
	AccessKeyID string    `json:"accessKeyId"`
	DisplayName string    `json:"displayName"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (h *Handler) listKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.meta.ListAccessKeys(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list access keys")
		writeJSONError(w, http.StatusInternalServerError, "failed to list access keys")
		return
	}

	out := make([]keyResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, keyResponse{
			ID:          k.ID,
			AccessKeyID: k.AccessKeyID,
			DisplayName: k.DisplayName,
			IsActive:    k.IsActive,
			CreatedAt:   k.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) createKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DisplayName string `json:"displayName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	accessKeyID, secretKey, err := GenerateKeyPair()
	if err != nil {
		log.Error().Err(err).Msg("Failed to generate key pair")
		writeJSONError(w, http.StatusInternalServerError, "failed to generate credentials")
		return
	}

	key := &metadata.AccessKey{
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secretKey,
		DisplayName:     req.DisplayName,
		IsActive:        true,
	}
	if err := h.meta.CreateAccessKey(r.Context(), key); err != nil {
		log.Error().Err(err).Msg("Failed to create access key")
		writeJSONError(w, http.StatusInternalServerError, "failed to create access key")
		return
	}

	// The secret is returned exactly once, at creation.
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":              key.ID,
		"accessKeyId":     key.AccessKeyID,
		"secretAccessKey": key.SecretAccessKey,
		"displayName":     key.DisplayName,
		"isActive":        key.IsActive,
	})
}

func (h *Handler) updateKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		DisplayName string `json:"displayName"`
		IsActive    bool   `json:"isActive"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.meta.UpdateAccessKey(r.Context(), id, req.DisplayName, req.IsActive); err != nil {
		if errors.Is(err, metadata.ErrAccessKeyNotFound) {
			writeJSONError(w, http.StatusNotFound, "access key not found")
			return
		}
		log.Error().Err(err).Str("id", id).Msg("Failed to update access key")
		writeJSONError(w, http.StatusInternalServerError, "failed to update access key")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

func (h *Handler) deleteKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.meta.DeleteAccessKey(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, metadata.ErrAccessKeyNotFound):
			writeJSONError(w, http.StatusNotFound, "access key not found")
		case errors.Is(err, metadata.ErrLastAccessKey):
			writeJSONError(w, http.StatusConflict, "cannot delete the last access key while it owns buckets")
		default:
			log.Error().Err(err).Str("id", id).Msg("Failed to delete access key")
			writeJSONError(w, http.StatusInternalServerError, "failed to delete access key")
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// bucketResponse is a bucket with its object count.
type bucketResponse struct {
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	Region    string    `json:"region"`
	ACL       string    `json:"acl"`
	MaxSize   int64     `json:"maxSize"`
	Objects   int64     `json:"objects"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h *Handler) listBuckets(w http.ResponseWriter, r *http.Request) {
	buckets, err := h.meta.ListBuckets(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list buckets")
		writeJSONError(w, http.StatusInternalServerError, "failed to list buckets")
		return
	}

	out := make([]bucketResponse, 0, len(buckets))
	for _, b := range buckets {
		count, err := h.meta.CountObjects(r.Context(), b.ID)
		if err != nil {
			log.Error().Err(err).Str("bucket", b.Name).Msg("Failed to count objects")
		}
		out = append(out, bucketResponse{
			Name:      b.Name,
			OwnerID:   b.OwnerID,
			Region:    b.Region,
			ACL:       b.ACL,
			MaxSize:   b.MaxSize,
			Objects:   count,
			CreatedAt: b.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) createBucket(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		ACL     string `json:"acl"`
		MaxSize int64  `json:"maxSize"`
		OwnerID string `json:"ownerId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ACL == "" {
		req.ACL = metadata.ACLPrivate
	}
	if req.ACL != metadata.ACLPrivate && req.ACL != metadata.ACLPublicRead {
		writeJSONError(w, http.StatusBadRequest, "acl must be private or public-read")
		return
	}

	ownerID := req.OwnerID
	if ownerID == "" {
		keys, err := h.meta.ListAccessKeys(r.Context())
		if err != nil || len(keys) == 0 {
			writeJSONError(w, http.StatusConflict, "no access key available to own the bucket")
			return
		}
		ownerID = keys[0].ID
	}

	bucket := &metadata.Bucket{
		Name:    req.Name,
		OwnerID: ownerID,
		Region:  h.cfg.S3.Region,
		ACL:     req.ACL,
		MaxSize: req.MaxSize,
	}
	if err := h.meta.CreateBucket(r.Context(), bucket); err != nil {
		if errors.Is(err, metadata.ErrBucketExists) {
			writeJSONError(w, http.StatusConflict, "bucket already exists")
			return
		}
		log.Error().Err(err).Str("bucket", req.Name).Msg("Failed to create bucket")
		writeJSONError(w, http.StatusInternalServerError, "failed to create bucket")
		return
	}
	if err := h.blobs.EnsureBucketDir(req.Name); err != nil {
		log.Error().Err(err).Str("bucket", req.Name).Msg("Failed to create bucket directory")
		h.meta.DeleteBucket(r.Context(), req.Name)
		writeJSONError(w, http.StatusInternalServerError, "failed to create bucket directory")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": bucket.Name})
}

func (h *Handler) updateBucket(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "bucket")

	bucket, err := h.meta.GetBucket(r.Context(), name)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "bucket not found")
		return
	}

	req := struct {
		ACL     string `json:"acl"`
		MaxSize int64  `json:"maxSize"`
	}{ACL: bucket.ACL, MaxSize: bucket.MaxSize}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ACL != metadata.ACLPrivate && req.ACL != metadata.ACLPublicRead {
		writeJSONError(w, http.StatusBadRequest, "acl must be private or public-read")
		return
	}

	if err := h.meta.UpdateBucket(r.Context(), name, req.ACL, req.MaxSize); err != nil {
		log.Error().Err(err).Str("bucket", name).Msg("Failed to update bucket")
		writeJSONError(w, http.StatusInternalServerError, "failed to update bucket")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

// deleteBucket removes a bucket and everything in it. Unlike the S3
// DeleteBucket, the admin variant purges non-empty buckets.
func (h *Handler) deleteBucket(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "bucket")

	if _, err := h.meta.GetBucket(r.Context(), name); err != nil {
		writeJSONError(w, http.StatusNotFound, "bucket not found")
		return
	}

	// Object rows cascade with the bucket row.
	if err := h.meta.DeleteBucket(r.Context(), name); err != nil {
		log.Error().Err(err).Str("bucket", name).Msg("Failed to delete bucket")
		writeJSONError(w, http.StatusInternalServerError, "failed to delete bucket")
		return
	}
	if err := h.blobs.RemoveBucketDir(name); err != nil {
		log.Error().Err(err).Str("bucket", name).Msg("Failed to remove bucket directory")
	}
	w.WriteHeader(http.StatusNoContent)
}

// objectResponse is one object row in the admin browser.
type objectResponse struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag"`
	ContentType  string    `json:"contentType"`
	LastModified time.Time `json:"lastModified"`
}

func (h *Handler) listObjects(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "bucket")
	bucket, err := h.meta.GetBucket(r.Context(), name)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "bucket not found")
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	objects, err := h.meta.ListObjectsPage(r.Context(), bucket.ID,
		r.URL.Query().Get("prefix"), r.URL.Query().Get("after"), limit)
	if err != nil {
		log.Error().Err(err).Str("bucket", name).Msg("Failed to list objects")
		writeJSONError(w, http.StatusInternalServerError, "failed to list objects")
		return
	}

	out := make([]objectResponse, 0, len(objects))
	for _, o := range objects {
		out = append(out, objectResponse{
			Key:          o.Key,
			Size:         o.Size,
			ETag:         o.ETag,
			ContentType:  o.ContentType,
			LastModified: o.LastModified,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) deleteObject(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "bucket")
	key := objectKeyParam(r)
	if key == "" {
		writeJSONError(w, http.StatusBadRequest, "object key is required")
		return
	}

	bucket, err := h.meta.GetBucket(r.Context(), name)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "bucket not found")
		return
	}

	if err := h.blobs.Remove(name, key); err != nil {
		log.Error().Err(err).Str("bucket", name).Str("key", key).Msg("Failed to remove blob")
		writeJSONError(w, http.StatusInternalServerError, "failed to delete object")
		return
	}
	if err := h.meta.DeleteObject(r.Context(), bucket.ID, key); err != nil {
		if errors.Is(err, metadata.ErrObjectNotFound) {
			writeJSONError(w, http.StatusNotFound, "object not found")
			return
		}
		log.Error().Err(err).Str("bucket", name).Str("key", key).Msg("Failed to delete object metadata")
		writeJSONError(w, http.StatusInternalServerError, "failed to delete object")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

const maxLinkExpiry = 7 * 24 * time.Hour

// objectLink returns a presigned download URL for an object.
func (h *Handler) objectLink(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "bucket")
	key := objectKeyParam(r)
	if key == "" {
		writeJSONError(w, http.StatusBadRequest, "object key is required")
		return
	}

	bucket, err := h.meta.GetBucket(r.Context(), name)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "bucket not found")
		return
	}
	if _, err := h.meta.GetObject(r.Context(), bucket.ID, key); err != nil {
		writeJSONError(w, http.StatusNotFound, "object not found")
		return
	}

	expires := time.Hour
	if v := r.URL.Query().Get("expires"); v != "" {
		sec, err := strconv.ParseInt(v, 10, 64)
		if err != nil || sec <= 0 || time.Duration(sec)*time.Second > maxLinkExpiry {
			writeJSONError(w, http.StatusBadRequest, "expires must be between 1 second and 7 days")
			return
		}
		expires = time.Duration(sec) * time.Second
	}

	signingKey, err := h.signingKey(r)
	if err != nil {
		writeJSONError(w, http.StatusConflict, "no active access key available for signing")
		return
	}

	baseURL := h.cfg.S3.PublicHost
	if baseURL == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		baseURL = scheme + "://" + r.Host
	}

	link, err := auth.PresignGetURL(baseURL, signingKey, bucket.Region, name, key, expires)
	if err != nil {
		log.Error().Err(err).Str("bucket", name).Str("key", key).Msg("Failed to presign URL")
		writeJSONError(w, http.StatusInternalServerError, "failed to build link")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": link})
}

// objectKeyParam extracts the trailing object key from a wildcard route.
func objectKeyParam(r *http.Request) string {
	key := chi.URLParam(r, "*")
	if decoded, err := url.PathUnescape(key); err == nil {
		return decoded
	}
	return key
}

// signingKey picks an active access key for presigning.
func (h *Handler) signingKey(r *http.Request) (*metadata.AccessKey, error) {
	keys, err := h.meta.ListAccessKeys(r.Context())
	if err != nil {
		return nil, err
	}
	for i := range keys {
		if keys[i].IsActive {
			return &keys[i], nil
		}
	}
	return nil, errors.New("no active access key")
}
