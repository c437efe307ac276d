package api

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/seaward/skiff/internal/metadata"
	"github.com/seaward/skiff/internal/storage"
)

// CreateMultipartUpload handles POST /{bucket}/{key}?uploads.
func (h *Handler) CreateMultipartUpload(w http.ResponseWriter, r *http.Request) {
	bucketName := GetBucket(r)
	key := GetKey(r)

	bucket, err := h.meta.GetBucket(r.Context(), bucketName)
	if err != nil {
		WriteErrorWithResource(w, ErrNoSuchBucket, "/"+bucketName)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	upload := &metadata.Upload{
		UploadID:    strings.ReplaceAll(uuid.New().String(), "-", ""),
		BucketID:    bucket.ID,
		Key:         key,
		ContentType: contentType,
		Metadata:    userMetadata(r.Header),
	}
	if err := h.meta.CreateUpload(r.Context(), upload); err != nil {
		log.Error().Err(err).Str("bucket", bucketName).Str("key", key).Msg("Failed to create multipart upload")
		WriteError(w, ErrInternalError)
		return
	}

	writeXML(w, http.StatusOK, InitiateMultipartUploadResult{
		Xmlns:    s3Namespace,
		Bucket:   bucketName,
		Key:      key,
		UploadID: upload.UploadID,
	})
}

// getUploadForRequest resolves the uploadId query against the request's
// bucket, writing the error response on failure.
func (h *Handler) getUploadForRequest(w http.ResponseWriter, r *http.Request) (*metadata.Bucket, *metadata.Upload) {
	bucketName := GetBucket(r)
	bucket, err := h.meta.GetBucket(r.Context(), bucketName)
	if err != nil {
		WriteErrorWithResource(w, ErrNoSuchBucket, "/"+bucketName)
		return nil, nil
	}

	uploadID := r.URL.Query().Get("uploadId")
	upload, err := h.meta.GetUpload(r.Context(), uploadID)
	if err != nil || upload.BucketID != bucket.ID {
		WriteErrorWithResource(w, ErrNoSuchUpload, "/"+bucketName+"/"+GetKey(r))
		return nil, nil
	}
	return bucket, upload
}

// UploadPart handles PUT /{bucket}/{key}?partNumber=N&uploadId=ID.
func (h *Handler) UploadPart(w http.ResponseWriter, r *http.Request) {
	_, upload := h.getUploadForRequest(w, r)
	if upload == nil {
		return
	}

	partNumber, err := strconv.Atoi(r.URL.Query().Get("partNumber"))
	if err != nil || partNumber < 1 || partNumber > 10000 {
		WriteError(w, ErrInvalidArgument)
		return
	}

	bucketName := GetBucket(r)
	size, etag, err := h.blobs.StagePart(upload.UploadID, partNumber, r.Body)
	if err != nil {
		log.Error().Err(err).Str("bucket", bucketName).Str("uploadId", upload.UploadID).Int("part", partNumber).Msg("Failed to stage part")
		WriteError(w, ErrInternalError)
		return
	}

	part := &metadata.Part{
		UploadID:   upload.UploadID,
		PartNumber: partNumber,
		Size:       size,
		ETag:       etag,
	}
	if err := h.meta.UpsertPart(r.Context(), part); err != nil {
		log.Error().Err(err).Str("uploadId", upload.UploadID).Int("part", partNumber).Msg("Failed to save part metadata")
		WriteError(w, ErrInternalError)
		return
	}

	w.Header().Set("ETag", quoteETag(etag))
	w.WriteHeader(http.StatusOK)
}

// CompleteMultipartUpload handles POST /{bucket}/{key}?uploadId=ID.
func (h *Handler) CompleteMultipartUpload(w http.ResponseWriter, r *http.Request) {
	bucket, upload := h.getUploadForRequest(w, r)
	if upload == nil {
		return
	}
	bucketName := GetBucket(r)
	key := GetKey(r)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteError(w, ErrInvalidRequest)
		return
	}
	var req CompleteMultipartUpload
	if err := xml.Unmarshal(body, &req); err != nil {
		WriteError(w, ErrMalformedXML)
		return
	}
	if len(req.Parts) == 0 {
		WriteError(w, ErrMalformedXML)
		return
	}

	// Part numbers must be strictly ascending.
	for i := 1; i < len(req.Parts); i++ {
		if req.Parts[i].PartNumber <= req.Parts[i-1].PartNumber {
			WriteError(w, ErrInvalidPartOrder)
			return
		}
	}

	partNumbers := make([]int, 0, len(req.Parts))
	for _, p := range req.Parts {
		stored, err := h.meta.GetPart(r.Context(), upload.UploadID, p.PartNumber)
		if err != nil {
			WriteError(w, ErrInvalidArgument)
			return
		}
		if p.ETag != "" && strings.Trim(p.ETag, `"`) != stored.ETag {
			WriteError(w, ErrInvalidPart)
			return
		}
		partNumbers = append(partNumbers, p.PartNumber)
	}

	size, partETags, err := h.blobs.AssembleParts(bucketName, key, upload.UploadID, partNumbers)
	if err != nil {
		if errors.Is(err, storage.ErrPartNotStaged) {
			WriteError(w, ErrInvalidPart)
			return
		}
		log.Error().Err(err).Str("bucket", bucketName).Str("uploadId", upload.UploadID).Msg("Failed to assemble parts")
		WriteError(w, ErrInternalError)
		return
	}

	etag, err := multipartETag(partETags)
	if err != nil {
		log.Error().Err(err).Str("uploadId", upload.UploadID).Msg("Failed to compute multipart ETag")
		WriteError(w, ErrInternalError)
		return
	}

	obj := &metadata.Object{
		BucketID:    bucket.ID,
		Key:         key,
		Size:        size,
		ETag:        etag,
		ContentType: upload.ContentType,
		Metadata:    upload.Metadata,
	}
	if err := h.meta.CompleteUpload(r.Context(), upload.UploadID, obj); err != nil {
		log.Error().Err(err).Str("uploadId", upload.UploadID).Msg("Failed to complete upload")
		WriteError(w, ErrInternalError)
		return
	}

	writeXML(w, http.StatusOK, CompleteMultipartUploadResult{
		Xmlns:    s3Namespace,
		Location: "/" + bucketName + "/" + key,
		Bucket:   bucketName,
		Key:      key,
		ETag:     quoteETag(etag),
	})
}

// multipartETag derives the S3 multipart ETag: the MD5 of the concatenated
// binary part MD5s, suffixed with the part count.
func multipartETag(partETags []string) (string, error) {
	hash := md5.New()
	for _, e := range partETags {
		raw, err := hex.DecodeString(e)
		if err != nil {
			return "", fmt.Errorf("invalid part etag %q: %w", e, err)
		}
		hash.Write(raw)
	}
	return fmt.Sprintf("%s-%d", hex.EncodeToString(hash.Sum(nil)), len(partETags)), nil
}

// AbortMultipartUpload handles DELETE /{bucket}/{key}?uploadId=ID.
func (h *Handler) AbortMultipartUpload(w http.ResponseWriter, r *http.Request) {
	_, upload := h.getUploadForRequest(w, r)
	if upload == nil {
		return
	}

	if err := h.blobs.RemoveStaging(upload.UploadID); err != nil {
		log.Error().Err(err).Str("uploadId", upload.UploadID).Msg("Failed to remove staged parts")
		WriteError(w, ErrInternalError)
		return
	}
	if err := h.meta.DeleteUpload(r.Context(), upload.UploadID); err != nil {
		log.Error().Err(err).Str("uploadId", upload.UploadID).Msg("Failed to delete upload metadata")
		WriteError(w, ErrInternalError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListParts handles GET /{bucket}/{key}?uploadId=ID.
func (h *Handler) ListParts(w http.ResponseWriter, r *http.Request) {
	_, upload := h.getUploadForRequest(w, r)
	if upload == nil {
		return
	}

	parts, err := h.meta.ListParts(r.Context(), upload.UploadID)
	if err != nil {
		log.Error().Err(err).Str("uploadId", upload.UploadID).Msg("Failed to list parts")
		WriteError(w, ErrInternalError)
		return
	}

	result := ListPartsResult{
		Xmlns:    s3Namespace,
		Bucket:   GetBucket(r),
		Key:      upload.Key,
		UploadID: upload.UploadID,
		MaxParts: 10000,
	}
	for _, p := range parts {
		result.Parts = append(result.Parts, PartEntry{
			PartNumber:   p.PartNumber,
			LastModified: iso8601(p.CreatedAt),
			ETag:         quoteETag(p.ETag),
			Size:         p.Size,
		})
	}
	writeXML(w, http.StatusOK, result)
}

// ListMultipartUploads handles GET /{bucket}?uploads.
func (h *Handler) ListMultipartUploads(w http.ResponseWriter, r *http.Request) {
	bucketName := GetBucket(r)
	bucket, err := h.meta.GetBucket(r.Context(), bucketName)
	if err != nil {
		WriteErrorWithResource(w, ErrNoSuchBucket, "/"+bucketName)
		return
	}

	uploads, err := h.meta.ListUploads(r.Context(), bucket.ID)
	if err != nil {
		log.Error().Err(err).Str("bucket", bucketName).Msg("Failed to list uploads")
		WriteError(w, ErrInternalError)
		return
	}

	result := ListMultipartUploadsResult{
		Xmlns:  s3Namespace,
		Bucket: bucketName,
	}
	for _, u := range uploads {
		result.Uploads = append(result.Uploads, UploadEntry{
			Key:       u.Key,
			UploadID:  u.UploadID,
			Initiated: iso8601(u.InitiatedAt),
		})
	}
	writeXML(w, http.StatusOK, result)
}
