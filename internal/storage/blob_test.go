package storage

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BlobStore {
	t.Helper()
	store, err := NewBlobStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.EnsureBucketDir("test-bucket"))
	return store
}

func TestPutAndOpen(t *testing.T) {
	store := newTestStore(t)

	size, etag, err := store.Put("test-bucket", "hello.txt", strings.NewReader("Hello, World!"))
	require.NoError(t, err)
	assert.Equal(t, int64(13), size)
	assert.Equal(t, "65a8e27d8879283831b664bd8b7f0ad4", etag)

	body, n, err := store.Open("test-bucket", "hello.txt")
	require.NoError(t, err)
	defer body.Close()
	assert.Equal(t, int64(13), n)

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "Hello, World!", string(data))
}

func TestPutOverwrite(t *testing.T) {
	store := newTestStore(t)

	_, _, err := store.Put("test-bucket", "key", strings.NewReader("first"))
	require.NoError(t, err)
	_, _, err = store.Put("test-bucket", "key", strings.NewReader("second"))
	require.NoError(t, err)

	body, _, err := store.Open("test-bucket", "key")
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestKeyEscapesBucket(t *testing.T) {
	store := newTestStore(t)

	_, _, err := store.Put("test-bucket", "../../etc/passwd", strings.NewReader("nope"))
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, _, err = store.Open("test-bucket", "../outside")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestFolderMarker(t *testing.T) {
	store := newTestStore(t)

	size, etag, err := store.Put("test-bucket", "photos/", strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
	assert.Equal(t, EmptyMD5, etag)

	body, n, err := store.Open("test-bucket", "photos/")
	require.NoError(t, err)
	defer body.Close()
	assert.Equal(t, int64(0), n)
}

func TestFileToDirectoryReshape(t *testing.T) {
	store := newTestStore(t)

	// "a/b" lands as a flat file first; a deeper key forces it to become
	// a directory.
	_, _, err := store.Put("test-bucket", "a/b", strings.NewReader("flat"))
	require.NoError(t, err)
	_, _, err = store.Put("test-bucket", "a/b/c.txt", strings.NewReader("deep"))
	require.NoError(t, err)

	body, _, err := store.Open("test-bucket", "a/b/c.txt")
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "deep", string(data))
}

func TestOpenRange(t *testing.T) {
	store := newTestStore(t)

	_, _, err := store.Put("test-bucket", "range.txt", strings.NewReader("0123456789"))
	require.NoError(t, err)

	body, err := store.OpenRange("test-bucket", "range.txt", 2, 5)
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "2345", string(data))
}

func TestRemove(t *testing.T) {
	store := newTestStore(t)

	_, _, err := store.Put("test-bucket", "gone.txt", strings.NewReader("x"))
	require.NoError(t, err)
	require.NoError(t, store.Remove("test-bucket", "gone.txt"))

	_, _, err = store.Open("test-bucket", "gone.txt")
	assert.ErrorIs(t, err, ErrBlobNotFound)

	// Removing a key with no backing file is not an error.
	assert.NoError(t, store.Remove("test-bucket", "never-existed"))
}

func TestCopy(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.EnsureBucketDir("other-bucket"))

	_, srcETag, err := store.Put("test-bucket", "src.txt", strings.NewReader("copy me"))
	require.NoError(t, err)

	size, etag, err := store.Copy("test-bucket", "src.txt", "other-bucket", "dst.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(7), size)
	assert.Equal(t, srcETag, etag)

	body, _, err := store.Open("other-bucket", "dst.txt")
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "copy me", string(data))
}

func TestStageAndAssembleParts(t *testing.T) {
	store := newTestStore(t)
	uploadID := "upload-123"

	size1, etag1, err := store.StagePart(uploadID, 1, strings.NewReader("hello "))
	require.NoError(t, err)
	assert.Equal(t, int64(6), size1)
	assert.NotEmpty(t, etag1)

	size2, etag2, err := store.StagePart(uploadID, 2, strings.NewReader("world"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), size2)

	total, etags, err := store.AssembleParts("test-bucket", "joined.txt", uploadID, []int{1, 2})
	require.NoError(t, err)
	assert.Equal(t, int64(11), total)
	require.Len(t, etags, 2)
	assert.Equal(t, etag1, etags[0])
	assert.Equal(t, etag2, etags[1])

	body, _, err := store.Open("test-bucket", "joined.txt")
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	// Staging is gone after assembly.
	_, err = os.Stat(filepath.Join(store.dataDir, multipartDir, uploadID))
	assert.True(t, os.IsNotExist(err))
}

func TestAssembleMissingPart(t *testing.T) {
	store := newTestStore(t)

	_, _, err := store.StagePart("up", 1, strings.NewReader("only one"))
	require.NoError(t, err)

	_, _, err = store.AssembleParts("test-bucket", "out.txt", "up", []int{1, 2})
	assert.ErrorIs(t, err, ErrPartNotStaged)
}

func TestTotalSizeSkipsStaging(t *testing.T) {
	store := newTestStore(t)

	_, _, err := store.Put("test-bucket", "a.txt", strings.NewReader("aaaa"))
	require.NoError(t, err)
	_, _, err = store.Put("test-bucket", "dir/b.txt", strings.NewReader("bbbbbb"))
	require.NoError(t, err)
	_, _, err = store.StagePart("pending", 1, strings.NewReader("ignored bytes"))
	require.NoError(t, err)

	total, err := store.TotalSize("test-bucket")
	require.NoError(t, err)
	assert.Equal(t, int64(10), total)

	// The whole-store walk skips the staging area too.
	total, err = store.TotalSize("")
	require.NoError(t, err)
	assert.Equal(t, int64(10), total)
}
