package storage

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// multipartDir is the per-bucket staging area for in-flight uploads. It is
// hidden from listings and excluded from bucket size accounting.
const multipartDir = ".multipart"

// EmptyMD5 is the hex MD5 of the empty payload, used as the ETag of folder
// markers and zero-byte objects.
const EmptyMD5 = "d41d8cd98f00b204e9800998ecf8427e"

var (
	// ErrInvalidKey is returned when a key would resolve outside its
	// bucket directory.
	ErrInvalidKey = errors.New("storage: key escapes bucket directory")

	// ErrBlobNotFound is returned when no file exists for a key.
	ErrBlobNotFound = errors.New("storage: blob not found")

	// ErrPartNotStaged is returned on assembly when a referenced part file
	// is missing from the staging area.
	ErrPartNotStaged = errors.New("storage: staged part not found")
)

// BlobStore keeps object payloads on the local filesystem. Each bucket is a
// directory under the data root and each key maps to a relative path inside
// it. Metadata lives elsewhere; this layer deals only in bytes.
type BlobStore struct {
	dataDir string
}

// NewBlobStore creates the data root if needed and returns a store over it.
func NewBlobStore(dataDir string) (*BlobStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	abs, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, err
	}
	return &BlobStore{dataDir: abs}, nil
}

// objectPath resolves bucket/key to an absolute path, rejecting keys that
// would traverse out of the bucket directory.
func (b *BlobStore) objectPath(bucket, key string) (string, error) {
	bucketPath := filepath.Join(b.dataDir, bucket)
	p := filepath.Join(bucketPath, filepath.FromSlash(key))
	if p != bucketPath && !strings.HasPrefix(p, bucketPath+string(filepath.Separator)) {
		return "", ErrInvalidKey
	}
	return p, nil
}

// EnsureBucketDir creates the directory backing a bucket.
func (b *BlobStore) EnsureBucketDir(bucket string) error {
	return os.MkdirAll(filepath.Join(b.dataDir, bucket), 0o755)
}

// RemoveBucketDir removes a bucket directory and everything in it,
// including any multipart staging.
func (b *BlobStore) RemoveBucketDir(bucket string) error {
	return os.RemoveAll(filepath.Join(b.dataDir, bucket))
}

// reshape makes room for path by converting any ancestor that exists as a
// regular file into a directory. A key like "a/b" may have been stored as a
// file before "a/b/c" arrives; the file is replaced by a directory and the
// flat key keeps its metadata row with no backing file.
func (b *BlobStore) reshape(path, bucketPath string) error {
	dir := filepath.Dir(path)
	for p := dir; strings.HasPrefix(p, bucketPath) && p != bucketPath; p = filepath.Dir(p) {
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		if !info.IsDir() {
			if err := os.Remove(p); err != nil {
				return err
			}
		}
	}
	return os.MkdirAll(dir, 0o755)
}

// Put writes the payload for bucket/key atomically (temp file then rename)
// and returns the byte count and hex MD5 of what was written. A key ending
// in "/" is a folder marker: only the directory is created.
func (b *BlobStore) Put(bucket, key string, body io.Reader) (int64, string, error) {
	path, err := b.objectPath(bucket, key)
	if err != nil {
		return 0, "", err
	}
	bucketPath := filepath.Join(b.dataDir, bucket)

	if strings.HasSuffix(key, "/") {
		// Treat the marker as the parent of a phantom child so the marker
		// path itself gets converted if a flat file sits there.
		if err := b.reshape(filepath.Join(path, "_"), bucketPath); err != nil {
			return 0, "", err
		}
		// Drain the body so chunked encodings terminate cleanly.
		io.Copy(io.Discard, body)
		return 0, EmptyMD5, nil
	}

	if err := b.reshape(path, bucketPath); err != nil {
		return 0, "", err
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return 0, "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		tmpFile.Close()
		os.Remove(tmpPath)
	}()

	hash := md5.New()
	written, err := io.Copy(io.MultiWriter(tmpFile, hash), body)
	if err != nil {
		return 0, "", fmt.Errorf("failed to write object: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return 0, "", fmt.Errorf("failed to close temp file: %w", err)
	}

	// A directory may sit at the target path when the key was previously a
	// folder marker; an empty one is folded back into a flat file.
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		if err := os.Remove(path); err != nil {
			return 0, "", fmt.Errorf("key is an existing folder prefix: %w", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return 0, "", fmt.Errorf("failed to rename temp file: %w", err)
	}

	return written, hex.EncodeToString(hash.Sum(nil)), nil
}

// Open returns a reader over the full payload for bucket/key along with its
// size. Folder markers have no backing file and read as empty.
func (b *BlobStore) Open(bucket, key string) (io.ReadCloser, int64, error) {
	path, err := b.objectPath(bucket, key)
	if err != nil {
		return nil, 0, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, ErrBlobNotFound
		}
		return nil, 0, err
	}
	if info.IsDir() {
		return io.NopCloser(strings.NewReader("")), 0, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	return file, info.Size(), nil
}

// OpenRange returns a reader over bytes [start, end] of bucket/key.
func (b *BlobStore) OpenRange(bucket, key string, start, end int64) (io.ReadCloser, error) {
	path, err := b.objectPath(bucket, key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlobNotFound
		}
		return nil, err
	}
	if _, err := file.Seek(start, io.SeekStart); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to seek: %w", err)
	}
	return &limitedReader{file, end - start + 1}, nil
}

// limitedReader limits reading to a specific number of bytes.
type limitedReader struct {
	r io.ReadCloser
	n int64
}

func (lr *limitedReader) Read(p []byte) (int, error) {
	if lr.n <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > lr.n {
		p = p[:lr.n]
	}
	n, err := lr.r.Read(p)
	lr.n -= int64(n)
	return n, err
}

func (lr *limitedReader) Close() error {
	return lr.r.Close()
}

// Remove deletes the payload for bucket/key. Deleting a key with no backing
// file is not an error; the metadata row is the source of truth.
func (b *BlobStore) Remove(bucket, key string) error {
	path, err := b.objectPath(bucket, key)
	if err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		// Folder markers only remove the directory when it is empty;
		// objects beneath the prefix keep their files.
		if err := os.Remove(path); err != nil && !isDirNotEmpty(err) {
			return err
		}
		return nil
	}
	return os.Remove(path)
}

func isDirNotEmpty(err error) bool {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return strings.Contains(pe.Err.Error(), "not empty")
	}
	return false
}

// Copy duplicates the payload of one object into another location, writing
// through the same temp-and-rename path as Put.
func (b *BlobStore) Copy(srcBucket, srcKey, dstBucket, dstKey string) (int64, string, error) {
	src, _, err := b.Open(srcBucket, srcKey)
	if err != nil {
		return 0, "", err
	}
	defer src.Close()
	return b.Put(dstBucket, dstKey, src)
}

// stagingPath returns the file for one staged part of an upload. Staging
// lives at the storage root, outside any bucket directory, keyed by the
// upload id alone.
func (b *BlobStore) stagingPath(uploadID string, partNumber int) string {
	return filepath.Join(b.dataDir, multipartDir, uploadID, fmt.Sprintf("part-%d", partNumber))
}

// StagePart writes one part of a multipart upload into the staging area and
// returns its size and hex MD5.
func (b *BlobStore) StagePart(uploadID string, partNumber int, body io.Reader) (int64, string, error) {
	path := b.stagingPath(uploadID, partNumber)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, "", err
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return 0, "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		tmpFile.Close()
		os.Remove(tmpPath)
	}()

	hash := md5.New()
	written, err := io.Copy(io.MultiWriter(tmpFile, hash), body)
	if err != nil {
		return 0, "", fmt.Errorf("failed to write part: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return 0, "", err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return 0, "", err
	}

	return written, hex.EncodeToString(hash.Sum(nil)), nil
}

// AssembleParts concatenates the given staged parts, in the order provided,
// into the final object path and removes the staging directory. It returns
// the total size and the hex MD5 of each part in order, for the multipart
// ETag computation.
func (b *BlobStore) AssembleParts(bucket, key, uploadID string, partNumbers []int) (int64, []string, error) {
	path, err := b.objectPath(bucket, key)
	if err != nil {
		return 0, nil, err
	}
	bucketPath := filepath.Join(b.dataDir, bucket)
	if err := b.reshape(path, bucketPath); err != nil {
		return 0, nil, err
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		tmpFile.Close()
		os.Remove(tmpPath)
	}()

	var total int64
	etags := make([]string, 0, len(partNumbers))
	for _, n := range partNumbers {
		partPath := b.stagingPath(uploadID, n)
		part, err := os.Open(partPath)
		if err != nil {
			if os.IsNotExist(err) {
				return 0, nil, ErrPartNotStaged
			}
			return 0, nil, err
		}

		hash := md5.New()
		written, err := io.Copy(io.MultiWriter(tmpFile, hash), part)
		part.Close()
		if err != nil {
			return 0, nil, fmt.Errorf("failed to assemble part %d: %w", n, err)
		}
		total += written
		etags = append(etags, hex.EncodeToString(hash.Sum(nil)))
	}

	if err := tmpFile.Close(); err != nil {
		return 0, nil, err
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		if err := os.Remove(path); err != nil {
			return 0, nil, fmt.Errorf("key is an existing folder prefix: %w", err)
		}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return 0, nil, err
	}

	b.RemoveStaging(uploadID)
	return total, etags, nil
}

// RemoveStaging drops all staged parts for an upload.
func (b *BlobStore) RemoveStaging(uploadID string) error {
	return os.RemoveAll(filepath.Join(b.dataDir, multipartDir, uploadID))
}

// TotalSize walks the bucket directory and sums file sizes, skipping the
// multipart staging area. Used to enforce per-bucket size limits.
func (b *BlobStore) TotalSize(bucket string) (int64, error) {
	bucketPath := filepath.Join(b.dataDir, bucket)
	var total int64
	err := filepath.WalkDir(bucketPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if d.Name() == multipartDir {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return 0, err
	}
	return total, nil
}
