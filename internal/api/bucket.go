package api

import (
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/seaward/skiff/internal/metadata"
)

var bucketNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

// ListBuckets handles GET / and returns every bucket in the store.
func (h *Handler) ListBuckets(w http.ResponseWriter, r *http.Request) {
	buckets, err := h.meta.ListBuckets(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list buckets")
		WriteError(w, ErrInternalError)
		return
	}

	result := ListAllMyBucketsResult{
		Xmlns: s3Namespace,
		Owner: h.ownerFor(r),
	}
	for _, b := range buckets {
		result.Buckets = append(result.Buckets, BucketEntry{
			Name:         b.Name,
			CreationDate: iso8601(b.CreatedAt),
		})
	}
	writeXML(w, http.StatusOK, result)
}

// ownerFor builds the Owner element from the authenticated principal. The
// owner id is the caller's access key id, the identity clients know.
func (h *Handler) ownerFor(r *http.Request) Owner {
	if key := GetPrincipal(r); key != nil {
		name := key.DisplayName
		if name == "" {
			name = key.AccessKeyID
		}
		return Owner{ID: key.AccessKeyID, DisplayName: name}
	}
	return Owner{ID: "anonymous", DisplayName: "anonymous"}
}

// CreateBucket handles PUT /{bucket}.
func (h *Handler) CreateBucket(w http.ResponseWriter, r *http.Request) {
	name := GetBucket(r)
	if !bucketNameRe.MatchString(name) || strings.Contains(name, "..") {
		WriteErrorWithResource(w, ErrInvalidBucketName, "/"+name)
		return
	}

	principal := GetPrincipal(r)
	if principal == nil {
		WriteError(w, ErrAccessDenied)
		return
	}

	region := h.region
	if body, err := io.ReadAll(r.Body); err == nil && len(body) > 0 {
		var conf CreateBucketConfiguration
		if err := xml.Unmarshal(body, &conf); err == nil && conf.LocationConstraint != "" {
			region = conf.LocationConstraint
		}
	}

	bucket := &metadata.Bucket{
		Name:    name,
		OwnerID: principal.ID,
		Region:  region,
		ACL:     metadata.ACLPrivate,
	}
	if err := h.meta.CreateBucket(r.Context(), bucket); err != nil {
		if errors.Is(err, metadata.ErrBucketExists) {
			WriteErrorWithResource(w, ErrBucketAlreadyExists, "/"+name)
			return
		}
		log.Error().Err(err).Str("bucket", name).Msg("Failed to create bucket")
		WriteError(w, ErrInternalError)
		return
	}

	if err := h.blobs.EnsureBucketDir(name); err != nil {
		log.Error().Err(err).Str("bucket", name).Msg("Failed to create bucket directory")
		h.meta.DeleteBucket(r.Context(), name)
		WriteError(w, ErrInternalError)
		return
	}

	w.Header().Set("Location", "/"+name)
	w.WriteHeader(http.StatusOK)
}

// DeleteBucket handles DELETE /{bucket}. The bucket must be empty.
func (h *Handler) DeleteBucket(w http.ResponseWriter, r *http.Request) {
	name := GetBucket(r)
	bucket, err := h.meta.GetBucket(r.Context(), name)
	if err != nil {
		WriteErrorWithResource(w, ErrNoSuchBucket, "/"+name)
		return
	}

	count, err := h.meta.CountObjects(r.Context(), bucket.ID)
	if err != nil {
		log.Error().Err(err).Str("bucket", name).Msg("Failed to count objects")
		WriteError(w, ErrInternalError)
		return
	}
	if count > 0 {
		WriteErrorWithResource(w, ErrBucketNotEmpty, "/"+name)
		return
	}

	if err := h.meta.DeleteBucket(r.Context(), name); err != nil {
		log.Error().Err(err).Str("bucket", name).Msg("Failed to delete bucket")
		WriteError(w, ErrInternalError)
		return
	}
	if err := h.blobs.RemoveBucketDir(name); err != nil {
		log.Error().Err(err).Str("bucket", name).Msg("Failed to remove bucket directory")
	}

	w.WriteHeader(http.StatusNoContent)
}

// HeadBucket handles HEAD /{bucket}.
func (h *Handler) HeadBucket(w http.ResponseWriter, r *http.Request) {
	if _, err := h.meta.GetBucket(r.Context(), GetBucket(r)); err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetBucketLocation handles GET /{bucket}?location.
func (h *Handler) GetBucketLocation(w http.ResponseWriter, r *http.Request) {
	bucket, err := h.meta.GetBucket(r.Context(), GetBucket(r))
	if err != nil {
		WriteErrorWithResource(w, ErrNoSuchBucket, "/"+GetBucket(r))
		return
	}

	// us-east-1 is represented by an empty LocationConstraint.
	value := bucket.Region
	if value == "us-east-1" {
		value = ""
	}
	writeXML(w, http.StatusOK, LocationConstraint{Xmlns: s3Namespace, Value: value})
}

// GetBucketVersioning handles GET /{bucket}?versioning. Versioning is never
// enabled so the configuration is always empty.
func (h *Handler) GetBucketVersioning(w http.ResponseWriter, r *http.Request) {
	if _, err := h.meta.GetBucket(r.Context(), GetBucket(r)); err != nil {
		WriteErrorWithResource(w, ErrNoSuchBucket, "/"+GetBucket(r))
		return
	}
	writeXML(w, http.StatusOK, VersioningConfiguration{Xmlns: s3Namespace})
}

// GetBucketACL handles GET /{bucket}?acl, reporting the owner grant plus a
// public READ grant when the bucket is public-read.
func (h *Handler) GetBucketACL(w http.ResponseWriter, r *http.Request) {
	bucket, err := h.meta.GetBucket(r.Context(), GetBucket(r))
	if err != nil {
		WriteErrorWithResource(w, ErrNoSuchBucket, "/"+GetBucket(r))
		return
	}

	owner := Owner{ID: bucket.OwnerID, DisplayName: bucket.OwnerID}
	if key, err := h.meta.GetAccessKey(r.Context(), bucket.OwnerID); err == nil {
		owner = Owner{ID: key.ID, DisplayName: key.DisplayName}
	}

	policy := AccessControlPolicy{
		Xmlns: s3Namespace,
		Owner: owner,
		Grants: []Grant{{
			Grantee: Grantee{
				XsiType:     "http://www.w3.org/2001/XMLSchema-instance",
				Type:        "CanonicalUser",
				ID:          owner.ID,
				DisplayName: owner.DisplayName,
			},
			Permission: "FULL_CONTROL",
		}},
	}
	if bucket.ACL == metadata.ACLPublicRead {
		policy.Grants = append(policy.Grants, Grant{
			Grantee: Grantee{
				XsiType: "http://www.w3.org/2001/XMLSchema-instance",
				Type:    "Group",
				URI:     "http://acs.amazonaws.com/groups/global/AllUsers",
			},
			Permission: "READ",
		})
	}
	writeXML(w, http.StatusOK, policy)
}

const maxListKeys = 1000

// ListObjects handles GET /{bucket}, serving both ListObjectsV2
// (list-type=2) and the legacy marker-based listing.
func (h *Handler) ListObjects(w http.ResponseWriter, r *http.Request) {
	name := GetBucket(r)
	bucket, err := h.meta.GetBucket(r.Context(), name)
	if err != nil {
		WriteErrorWithResource(w, ErrNoSuchBucket, "/"+name)
		return
	}

	query := r.URL.Query()
	isV2 := query.Get("list-type") == "2"
	prefix := query.Get("prefix")
	delimiter := query.Get("delimiter")

	maxKeys := maxListKeys
	if v := query.Get("max-keys"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteError(w, ErrInvalidArgument)
			return
		}
		if n < maxKeys {
			maxKeys = n
		}
	}

	var after string
	if isV2 {
		after = query.Get("continuation-token")
		if after == "" {
			after = query.Get("start-after")
		}
	} else {
		after = query.Get("marker")
	}

	var rows []metadata.Object
	if maxKeys > 0 {
		rows, err = h.meta.ListObjectsPage(r.Context(), bucket.ID, prefix, after, maxKeys+1)
		if err != nil {
			log.Error().Err(err).Str("bucket", name).Msg("Failed to list objects")
			WriteError(w, ErrInternalError)
			return
		}
	}

	truncated := len(rows) > maxKeys
	if truncated {
		rows = rows[:maxKeys]
	}

	result := ListBucketResult{
		Xmlns:       s3Namespace,
		Name:        name,
		Prefix:      prefix,
		Delimiter:   delimiter,
		MaxKeys:     maxKeys,
		IsTruncated: truncated,
	}

	seenPrefixes := map[string]bool{}
	for _, obj := range rows {
		if delimiter != "" {
			rest := strings.TrimPrefix(obj.Key, prefix)
			if idx := strings.Index(rest, delimiter); idx >= 0 {
				common := prefix + rest[:idx+len(delimiter)]
				if !seenPrefixes[common] {
					seenPrefixes[common] = true
					result.CommonPrefixes = append(result.CommonPrefixes, CommonPrefix{Prefix: common})
				}
				continue
			}
		}
		result.Contents = append(result.Contents, ObjectEntry{
			Key:          obj.Key,
			LastModified: iso8601(obj.LastModified),
			ETag:         quoteETag(obj.ETag),
			Size:         obj.Size,
			StorageClass: "STANDARD",
		})
	}

	if isV2 {
		count := len(result.Contents) + len(result.CommonPrefixes)
		result.KeyCount = &count
		result.ContinuationToken = query.Get("continuation-token")
		result.StartAfter = query.Get("start-after")
		if truncated {
			result.NextContinuationToken = rows[len(rows)-1].Key
		}
	} else {
		marker := query.Get("marker")
		result.Marker = &marker
		if truncated {
			result.NextMarker = rows[len(rows)-1].Key
		}
	}

	writeXML(w, http.StatusOK, result)
}

// DeleteObjects handles POST /{bucket}?delete, the multi-object delete.
func (h *Handler) DeleteObjects(w http.ResponseWriter, r *http.Request) {
	name := GetBucket(r)
	bucket, err := h.meta.GetBucket(r.Context(), name)
	if err != nil {
		WriteErrorWithResource(w, ErrNoSuchBucket, "/"+name)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteError(w, ErrInvalidRequest)
		return
	}
	var req Delete
	if err := xml.Unmarshal(body, &req); err != nil {
		WriteError(w, ErrMalformedXML)
		return
	}

	result := DeleteResult{Xmlns: s3Namespace}
	for _, obj := range req.Objects {
		if err := h.blobs.Remove(name, obj.Key); err != nil {
			log.Error().Err(err).Str("bucket", name).Str("key", obj.Key).Msg("Failed to remove blob")
			result.Errors = append(result.Errors, DeleteError{
				Key:     obj.Key,
				Code:    "InternalError",
				Message: "We encountered an internal error. Please try again.",
			})
			continue
		}
		// Deleting a key that does not exist still counts as deleted.
		if err := h.meta.DeleteObject(r.Context(), bucket.ID, obj.Key); err != nil && !errors.Is(err, metadata.ErrObjectNotFound) {
			result.Errors = append(result.Errors, DeleteError{
				Key:     obj.Key,
				Code:    "InternalError",
				Message: "We encountered an internal error. Please try again.",
			})
			continue
		}
		if !req.Quiet {
			result.Deleted = append(result.Deleted, DeletedItem{Key: obj.Key})
		}
	}

	writeXML(w, http.StatusOK, result)
}
