// Package metadata implements the relational metadata store backing the
// Skiff server: access keys, buckets, objects, and multipart upload state.
package metadata

import (
	"errors"
	"time"
)

// AccessKey is a set of S3 API credentials. The secret is returned to the
// caller exactly once, on creation; it is stored for signature derivation.
type AccessKey struct {
	ID              string
	AccessKeyID     string
	SecretAccessKey string
	DisplayName     string
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Bucket ACL values.
const (
	ACLPrivate    = "private"
	ACLPublicRead = "public-read"
)

// Bucket is a named container of objects, owned by an access key.
type Bucket struct {
	ID        string
	Name      string
	OwnerID   string
	Region    string
	ACL       string
	MaxSize   int64 // bytes; 0 = unlimited
	CreatedAt time.Time
}

// Object is the metadata row for a stored object. StoragePath is advisory:
// readers derive the filesystem location from (bucket, key).
type Object struct {
	ID           string
	BucketID     string
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	StoragePath  string
	Metadata     map[string]string
	LastModified time.Time
	CreatedAt    time.Time
}

// Upload is an in-progress multipart upload.
type Upload struct {
	ID          string
	UploadID    string
	BucketID    string
	Key         string
	ContentType string
	Metadata    map[string]string
	InitiatedAt time.Time
}

// Part is a staged part of a multipart upload.
type Part struct {
	ID          string
	UploadID    string
	PartNumber  int
	Size        int64
	ETag        string
	StoragePath string
	CreatedAt   time.Time
}

// Stats summarizes the metadata store for the admin API.
type Stats struct {
	AccessKeys int64 `json:"accessKeys"`
	Buckets    int64 `json:"buckets"`
	Objects    int64 `json:"objects"`
}

// Sentinel errors returned by the store.
var (
	ErrAccessKeyNotFound = errors.New("access key not found")
	ErrBucketNotFound    = errors.New("bucket not found")
	ErrBucketExists      = errors.New("bucket already exists")
	ErrObjectNotFound    = errors.New("object not found")
	ErrUploadNotFound    = errors.New("upload not found")
	ErrPartNotFound      = errors.New("part not found")
	ErrLastAccessKey     = errors.New("cannot delete the only access key owning buckets")
)
