package api

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/seaward/skiff/internal/metadata"
	"github.com/seaward/skiff/internal/storage"
)

// PutObject handles PUT /{bucket}/{key}, including the CopyObject variant
// selected by the x-amz-copy-source header.
func (h *Handler) PutObject(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Amz-Copy-Source") != "" {
		h.copyObject(w, r)
		return
	}

	bucketName := GetBucket(r)
	key := GetKey(r)
	bucket, err := h.meta.GetBucket(r.Context(), bucketName)
	if err != nil {
		WriteErrorWithResource(w, ErrNoSuchBucket, "/"+bucketName)
		return
	}

	if bucket.MaxSize > 0 {
		used, err := h.blobs.TotalSize(bucketName)
		if err != nil {
			log.Error().Err(err).Str("bucket", bucketName).Msg("Failed to compute bucket size")
			WriteError(w, ErrInternalError)
			return
		}
		incoming := r.ContentLength
		if incoming < 0 {
			incoming = 0
		}
		if used+incoming > bucket.MaxSize {
			WriteErrorWithResource(w, ErrEntityTooLarge, "/"+bucketName+"/"+key)
			return
		}
	}

	size, etag, err := h.blobs.Put(bucketName, key, r.Body)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidKey) {
			WriteError(w, ErrInvalidArgument)
			return
		}
		log.Error().Err(err).Str("bucket", bucketName).Str("key", key).Msg("Failed to store object")
		WriteError(w, ErrInternalError)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	obj := &metadata.Object{
		BucketID:    bucket.ID,
		Key:         key,
		Size:        size,
		ETag:        etag,
		ContentType: contentType,
		Metadata:    userMetadata(r.Header),
	}
	if err := h.meta.UpsertObject(r.Context(), obj); err != nil {
		log.Error().Err(err).Str("bucket", bucketName).Str("key", key).Msg("Failed to save object metadata")
		WriteError(w, ErrInternalError)
		return
	}

	w.Header().Set("ETag", quoteETag(etag))
	w.WriteHeader(http.StatusOK)
}

// copyObject implements the x-amz-copy-source form of PUT.
func (h *Handler) copyObject(w http.ResponseWriter, r *http.Request) {
	dstBucketName := GetBucket(r)
	dstKey := GetKey(r)

	source, err := url.PathUnescape(r.Header.Get("X-Amz-Copy-Source"))
	if err != nil {
		WriteError(w, ErrInvalidArgument)
		return
	}
	source = strings.TrimPrefix(source, "/")
	parts := strings.SplitN(source, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		WriteError(w, ErrInvalidArgument)
		return
	}
	srcBucketName, srcKey := parts[0], parts[1]

	srcBucket, err := h.meta.GetBucket(r.Context(), srcBucketName)
	if err != nil {
		WriteErrorWithResource(w, ErrNoSuchBucket, "/"+srcBucketName)
		return
	}
	dstBucket, err := h.meta.GetBucket(r.Context(), dstBucketName)
	if err != nil {
		WriteErrorWithResource(w, ErrNoSuchBucket, "/"+dstBucketName)
		return
	}

	src, err := h.meta.GetObject(r.Context(), srcBucket.ID, srcKey)
	if err != nil {
		WriteErrorWithResource(w, ErrNoSuchKey, "/"+srcBucketName+"/"+srcKey)
		return
	}

	if _, _, err := h.blobs.Copy(srcBucketName, srcKey, dstBucketName, dstKey); err != nil {
		log.Error().Err(err).Str("source", source).Str("bucket", dstBucketName).Str("key", dstKey).Msg("Failed to copy object")
		WriteError(w, ErrInternalError)
		return
	}

	// Metadata follows the source unless the directive says REPLACE.
	meta := src.Metadata
	contentType := src.ContentType
	if strings.EqualFold(r.Header.Get("X-Amz-Metadata-Directive"), "REPLACE") {
		meta = userMetadata(r.Header)
		if ct := r.Header.Get("Content-Type"); ct != "" {
			contentType = ct
		}
	}

	// The destination keeps the source's ETag: for multipart-sourced
	// objects the recomputed whole-body MD5 would lose the -N form.
	obj := &metadata.Object{
		BucketID:    dstBucket.ID,
		Key:         dstKey,
		Size:        src.Size,
		ETag:        src.ETag,
		ContentType: contentType,
		Metadata:    meta,
	}
	if err := h.meta.UpsertObject(r.Context(), obj); err != nil {
		log.Error().Err(err).Str("bucket", dstBucketName).Str("key", dstKey).Msg("Failed to save object metadata")
		WriteError(w, ErrInternalError)
		return
	}

	writeXML(w, http.StatusOK, CopyObjectResult{
		Xmlns:        s3Namespace,
		LastModified: iso8601(obj.LastModified),
		ETag:         quoteETag(src.ETag),
	})
}

// GetObject handles GET /{bucket}/{key} with optional Range support.
func (h *Handler) GetObject(w http.ResponseWriter, r *http.Request) {
	bucketName := GetBucket(r)
	key := GetKey(r)

	bucket, err := h.meta.GetBucket(r.Context(), bucketName)
	if err != nil {
		WriteErrorWithResource(w, ErrNoSuchBucket, "/"+bucketName)
		return
	}
	obj, err := h.meta.GetObject(r.Context(), bucket.ID, key)
	if err != nil {
		WriteErrorWithResource(w, ErrNoSuchKey, "/"+bucketName+"/"+key)
		return
	}

	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		h.getObjectRange(w, r, obj, rangeHeader)
		return
	}

	body, _, err := h.blobs.Open(bucketName, key)
	if err != nil {
		if errors.Is(err, storage.ErrBlobNotFound) {
			WriteErrorWithResource(w, ErrNoSuchKey, "/"+bucketName+"/"+key)
			return
		}
		log.Error().Err(err).Str("bucket", bucketName).Str("key", key).Msg("Failed to open object")
		WriteError(w, ErrInternalError)
		return
	}
	defer body.Close()

	writeObjectHeaders(w, obj)
	w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		log.Debug().Err(err).Str("bucket", bucketName).Str("key", key).Msg("Object download interrupted")
	}
}

func (h *Handler) getObjectRange(w http.ResponseWriter, r *http.Request, obj *metadata.Object, rangeHeader string) {
	start, end, ok := parseRange(rangeHeader, obj.Size)
	if !ok {
		w.Header().Set("Content-Range", "bytes */"+strconv.FormatInt(obj.Size, 10))
		WriteError(w, ErrInvalidRange)
		return
	}

	body, err := h.blobs.OpenRange(GetBucket(r), GetKey(r), start, end)
	if err != nil {
		log.Error().Err(err).Str("bucket", GetBucket(r)).Str("key", GetKey(r)).Msg("Failed to open object range")
		WriteError(w, ErrInternalError)
		return
	}
	defer body.Close()

	writeObjectHeaders(w, obj)
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.Header().Set("Content-Range",
		"bytes "+strconv.FormatInt(start, 10)+"-"+strconv.FormatInt(end, 10)+"/"+strconv.FormatInt(obj.Size, 10))
	w.WriteHeader(http.StatusPartialContent)
	io.Copy(w, body)
}

// parseRange parses a single bytes range, clamping the end to the object
// size. Suffix ranges (bytes=-N) take the last N bytes.
func parseRange(header string, size int64) (start, end int64, ok bool) {
	ranges := strings.TrimPrefix(header, "bytes=")
	if ranges == header || strings.Contains(ranges, ",") {
		return 0, 0, false
	}
	dash := strings.Index(ranges, "-")
	if dash < 0 {
		return 0, 0, false
	}
	startStr, endStr := ranges[:dash], ranges[dash+1:]

	if startStr == "" {
		// Suffix range.
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 || size == 0 {
			return 0, 0, false
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, true
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 || start >= size {
		return 0, 0, false
	}
	end = size - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return 0, 0, false
		}
		if end > size-1 {
			end = size - 1
		}
	}
	return start, end, true
}

func writeObjectHeaders(w http.ResponseWriter, obj *metadata.Object) {
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("ETag", quoteETag(obj.ETag))
	w.Header().Set("Last-Modified", obj.LastModified.UTC().Format(http.TimeFormat))
	w.Header().Set("Accept-Ranges", "bytes")
	for k, v := range obj.Metadata {
		w.Header().Set("x-amz-meta-"+k, v)
	}
}

// HeadObject handles HEAD /{bucket}/{key}.
func (h *Handler) HeadObject(w http.ResponseWriter, r *http.Request) {
	bucket, err := h.meta.GetBucket(r.Context(), GetBucket(r))
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	obj, err := h.meta.GetObject(r.Context(), bucket.ID, GetKey(r))
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	writeObjectHeaders(w, obj)
	w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	w.WriteHeader(http.StatusOK)
}

// DeleteObject handles DELETE /{bucket}/{key}. Deleting a missing key
// still returns 204.
func (h *Handler) DeleteObject(w http.ResponseWriter, r *http.Request) {
	bucketName := GetBucket(r)
	key := GetKey(r)

	bucket, err := h.meta.GetBucket(r.Context(), bucketName)
	if err != nil {
		WriteErrorWithResource(w, ErrNoSuchBucket, "/"+bucketName)
		return
	}

	if err := h.blobs.Remove(bucketName, key); err != nil {
		log.Error().Err(err).Str("bucket", bucketName).Str("key", key).Msg("Failed to remove blob")
		WriteError(w, ErrInternalError)
		return
	}
	if err := h.meta.DeleteObject(r.Context(), bucket.ID, key); err != nil && !errors.Is(err, metadata.ErrObjectNotFound) {
		log.Error().Err(err).Str("bucket", bucketName).Str("key", key).Msg("Failed to delete object metadata")
		WriteError(w, ErrInternalError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// userMetadata extracts the x-amz-meta-* headers into a map keyed by the
// suffix after the prefix, lowercased.
func userMetadata(header http.Header) map[string]string {
	meta := map[string]string{}
	for name, values := range header {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, "x-amz-meta-") && len(values) > 0 {
			meta[strings.TrimPrefix(lower, "x-amz-meta-")] = values[0]
		}
	}
	return meta
}
