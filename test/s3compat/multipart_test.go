package s3compat

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seaward/skiff/test/testutil"
)

func TestMultipartUploadComplete(t *testing.T) {
	ts := testutil.NewTestServer(t)
	defer ts.Cleanup()

	client := ts.S3Client(t)
	ctx := context.Background()
	bucketName := testutil.RandomBucketName()
	cleanup := ts.CreateTestBucket(t, bucketName)
	defer cleanup()

	create, err := client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(bucketName),
		Key:         aws.String("assembled.txt"),
		ContentType: aws.String("text/plain"),
	})
	require.NoError(t, err)
	uploadID := aws.ToString(create.UploadId)
	require.NotEmpty(t, uploadID)

	parts := []string{"hello ", "world"}
	completed := make([]types.CompletedPart, 0, len(parts))
	for i, content := range parts {
		up, err := client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(bucketName),
			Key:        aws.String("assembled.txt"),
			UploadId:   aws.String(uploadID),
			PartNumber: aws.Int32(int32(i + 1)),
			Body:       strings.NewReader(content),
		})
		require.NoError(t, err)
		completed = append(completed, types.CompletedPart{
			ETag:       up.ETag,
			PartNumber: aws.Int32(int32(i + 1)),
		})
	}

	done, err := client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(bucketName),
		Key:      aws.String("assembled.txt"),
		UploadId: aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	require.NoError(t, err)
	// MD5 of the concatenated part MD5s, dash, part count.
	assert.Equal(t, `"e09e4fd6265b36115fe3db32df945d84-2"`, aws.ToString(done.ETag))

	got, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String("assembled.txt"),
	})
	require.NoError(t, err)
	defer got.Body.Close()

	data, err := io.ReadAll(got.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
	assert.Equal(t, "text/plain", aws.ToString(got.ContentType))
}

func TestCopyMultipartSourcedObject(t *testing.T) {
	ts := testutil.NewTestServer(t)
	defer ts.Cleanup()

	client := ts.S3Client(t)
	ctx := context.Background()
	bucketName := testutil.RandomBucketName()
	cleanup := ts.CreateTestBucket(t, bucketName)
	defer cleanup()

	create, err := client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String("source.txt"),
	})
	require.NoError(t, err)
	uploadID := aws.ToString(create.UploadId)

	completed := make([]types.CompletedPart, 0, 2)
	for i, content := range []string{"hello ", "world"} {
		up, err := client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(bucketName),
			Key:        aws.String("source.txt"),
			UploadId:   aws.String(uploadID),
			PartNumber: aws.Int32(int32(i + 1)),
			Body:       strings.NewReader(content),
		})
		require.NoError(t, err)
		completed = append(completed, types.CompletedPart{
			ETag:       up.ETag,
			PartNumber: aws.Int32(int32(i + 1)),
		})
	}

	done, err := client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(bucketName),
		Key:      aws.String("source.txt"),
		UploadId: aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	require.NoError(t, err)
	sourceETag := aws.ToString(done.ETag)

	// The copy keeps the source's composed -N ETag rather than a
	// recomputed whole-body MD5.
	copied, err := client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(bucketName),
		Key:        aws.String("copied.txt"),
		CopySource: aws.String(bucketName + "/source.txt"),
	})
	require.NoError(t, err)
	require.NotNil(t, copied.CopyObjectResult)
	assert.Equal(t, sourceETag, aws.ToString(copied.CopyObjectResult.ETag))

	head, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String("copied.txt"),
	})
	require.NoError(t, err)
	assert.Equal(t, sourceETag, aws.ToString(head.ETag))
	assert.Equal(t, int64(11), aws.ToInt64(head.ContentLength))
}

func TestMultipartUploadListParts(t *testing.T) {
	ts := testutil.NewTestServer(t)
	defer ts.Cleanup()

	client := ts.S3Client(t)
	ctx := context.Background()
	bucketName := testutil.RandomBucketName()
	cleanup := ts.CreateTestBucket(t, bucketName)
	defer cleanup()

	create, err := client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String("listed.bin"),
	})
	require.NoError(t, err)
	uploadID := aws.ToString(create.UploadId)

	for i := 1; i <= 3; i++ {
		_, err := client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(bucketName),
			Key:        aws.String("listed.bin"),
			UploadId:   aws.String(uploadID),
			PartNumber: aws.Int32(int32(i)),
			Body:       strings.NewReader(strings.Repeat("x", i)),
		})
		require.NoError(t, err)
	}

	out, err := client.ListParts(ctx, &s3.ListPartsInput{
		Bucket:   aws.String(bucketName),
		Key:      aws.String("listed.bin"),
		UploadId: aws.String(uploadID),
	})
	require.NoError(t, err)
	require.Len(t, out.Parts, 3)
	for i, p := range out.Parts {
		assert.Equal(t, int32(i+1), aws.ToInt32(p.PartNumber))
		assert.Equal(t, int64(i+1), aws.ToInt64(p.Size))
	}
}

func TestMultipartUploadAbort(t *testing.T) {
	ts := testutil.NewTestServer(t)
	defer ts.Cleanup()

	client := ts.S3Client(t)
	ctx := context.Background()
	bucketName := testutil.RandomBucketName()
	cleanup := ts.CreateTestBucket(t, bucketName)
	defer cleanup()

	create, err := client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String("aborted.bin"),
	})
	require.NoError(t, err)
	uploadID := aws.ToString(create.UploadId)

	_, err = client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(bucketName),
		Key:        aws.String("aborted.bin"),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(1),
		Body:       strings.NewReader("discarded"),
	})
	require.NoError(t, err)

	_, err = client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(bucketName),
		Key:      aws.String("aborted.bin"),
		UploadId: aws.String(uploadID),
	})
	require.NoError(t, err)

	// The upload is gone; further part uploads fail.
	_, err = client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(bucketName),
		Key:        aws.String("aborted.bin"),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(2),
		Body:       strings.NewReader("late"),
	})
	require.Error(t, err)

	// And the object never materialized.
	_, err = client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String("aborted.bin"),
	})
	require.Error(t, err)
}

func TestMultipartCompleteWrongOrder(t *testing.T) {
	ts := testutil.NewTestServer(t)
	defer ts.Cleanup()

	client := ts.S3Client(t)
	ctx := context.Background()
	bucketName := testutil.RandomBucketName()
	cleanup := ts.CreateTestBucket(t, bucketName)
	defer cleanup()

	create, err := client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String("misordered.bin"),
	})
	require.NoError(t, err)
	uploadID := aws.ToString(create.UploadId)

	etags := map[int32]*string{}
	for _, n := range []int32{1, 2} {
		up, err := client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(bucketName),
			Key:        aws.String("misordered.bin"),
			UploadId:   aws.String(uploadID),
			PartNumber: aws.Int32(n),
			Body:       strings.NewReader("part data"),
		})
		require.NoError(t, err)
		etags[n] = up.ETag
	}

	_, err = client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(bucketName),
		Key:      aws.String("misordered.bin"),
		UploadId: aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: []types.CompletedPart{
				{ETag: etags[2], PartNumber: aws.Int32(2)},
				{ETag: etags[1], PartNumber: aws.Int32(1)},
			},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "InvalidPartOrder")
}

func TestMultipartCompleteUnknownPart(t *testing.T) {
	ts := testutil.NewTestServer(t)
	defer ts.Cleanup()

	client := ts.S3Client(t)
	ctx := context.Background()
	bucketName := testutil.RandomBucketName()
	cleanup := ts.CreateTestBucket(t, bucketName)
	defer cleanup()

	create, err := client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String("incomplete.bin"),
	})
	require.NoError(t, err)
	uploadID := aws.ToString(create.UploadId)

	up, err := client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(bucketName),
		Key:        aws.String("incomplete.bin"),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(1),
		Body:       strings.NewReader("only part"),
	})
	require.NoError(t, err)

	_, err = client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(bucketName),
		Key:      aws.String("incomplete.bin"),
		UploadId: aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: []types.CompletedPart{
				{ETag: up.ETag, PartNumber: aws.Int32(1)},
				{ETag: aws.String(`"deadbeefdeadbeefdeadbeefdeadbeef"`), PartNumber: aws.Int32(2)},
			},
		},
	})
	require.Error(t, err)
}

func TestMultipartUploadUnknownID(t *testing.T) {
	ts := testutil.NewTestServer(t)
	defer ts.Cleanup()

	client := ts.S3Client(t)
	ctx := context.Background()
	bucketName := testutil.RandomBucketName()
	cleanup := ts.CreateTestBucket(t, bucketName)
	defer cleanup()

	_, err := client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(bucketName),
		Key:        aws.String("ghost.bin"),
		UploadId:   aws.String("nonexistent-upload-id"),
		PartNumber: aws.Int32(1),
		Body:       strings.NewReader("nowhere"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NoSuchUpload")
}
