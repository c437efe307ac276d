package s3compat

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seaward/skiff/test/testutil"
)

func TestHealthCheck(t *testing.T) {
	ts := testutil.NewTestServer(t)
	defer ts.Cleanup()

	// HEAD / answers without credentials.
	resp, err := http.Head(ts.Endpoint + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUnsupportedMethod(t *testing.T) {
	ts := testutil.NewTestServer(t)
	defer ts.Cleanup()

	// WebDAV verbs get 405 rather than an auth challenge.
	req, err := http.NewRequest("PROPFIND", ts.Endpoint+"/", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Contains(t, string(body), "MethodNotAllowed")
}

func TestErrorResponseShape(t *testing.T) {
	ts := testutil.NewTestServer(t)
	defer ts.Cleanup()

	client := ts.S3Client(t)
	ctx := context.Background()
	bucketName := testutil.RandomBucketName()
	cleanup := ts.CreateTestBucket(t, bucketName)
	defer cleanup()

	// Fetch a missing key with a raw presigned request so the error body
	// can be inspected directly.
	presigner := s3.NewPresignClient(client)
	presigned, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String("does/not/exist"),
	})
	require.NoError(t, err)

	resp, err := http.Get(presigned.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "application/xml", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), xml.Header),
		"error document missing XML prologue: %q", body)

	var s3err struct {
		XMLName   xml.Name `xml:"Error"`
		Code      string   `xml:"Code"`
		Message   string   `xml:"Message"`
		RequestID string   `xml:"RequestId"`
	}
	require.NoError(t, xml.Unmarshal(body, &s3err))
	assert.Equal(t, "NoSuchKey", s3err.Code)
	assert.NotEmpty(t, s3err.Message)
	assert.NotEmpty(t, s3err.RequestID)
}

func TestBucketErrorCodes(t *testing.T) {
	ts := testutil.NewTestServer(t)
	defer ts.Cleanup()

	client := ts.S3Client(t)
	ctx := context.Background()

	_, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String("never-created-bucket"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NoSuchBucket")

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String("never-created-bucket"),
		Key:    aws.String("orphan.txt"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NoSuchBucket")
}
