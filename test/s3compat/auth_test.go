package s3compat

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seaward/skiff/internal/metadata"
	"github.com/seaward/skiff/test/testutil"
)

func TestValidSignatureV4(t *testing.T) {
	ts := testutil.NewTestServer(t)
	defer ts.Cleanup()

	client := ts.S3Client(t)
	ctx := context.Background()
	bucketName := testutil.RandomBucketName()

	_, err := client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(bucketName),
	})
	require.NoError(t, err)

	_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucketName),
	})
	require.NoError(t, err)
}

func TestWrongSecretKey(t *testing.T) {
	ts := testutil.NewTestServer(t)
	defer ts.Cleanup()

	client := ts.S3ClientWithCredentials(t, ts.AccessKey, "not-the-right-secret")
	ctx := context.Background()

	_, err := client.ListBuckets(ctx, &s3.ListBucketsInput{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SignatureDoesNotMatch")
}

func TestUnknownAccessKey(t *testing.T) {
	ts := testutil.NewTestServer(t)
	defer ts.Cleanup()

	client := ts.S3ClientWithCredentials(t, "AKIANOSUCHKEYEXISTS0", ts.SecretKey)
	ctx := context.Background()

	_, err := client.ListBuckets(ctx, &s3.ListBucketsInput{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "InvalidAccessKeyId")
}

func TestAnonymousAccessDenied(t *testing.T) {
	ts := testutil.NewTestServer(t)
	defer ts.Cleanup()

	client := ts.S3Client(t)
	ctx := context.Background()
	bucketName := testutil.RandomBucketName()
	cleanup := ts.CreateTestBucket(t, bucketName)
	defer cleanup()

	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String("secret.txt"),
		Body:   strings.NewReader("confidential"),
	})
	require.NoError(t, err)

	resp, err := http.Get(ts.Endpoint + "/" + bucketName + "/secret.txt")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "MissingSecurityHeader")
}

func TestAnonymousReadPublicBucket(t *testing.T) {
	ts := testutil.NewTestServer(t)
	defer ts.Cleanup()

	client := ts.S3Client(t)
	ctx := context.Background()
	bucketName := testutil.RandomBucketName()
	cleanup := ts.CreateTestBucket(t, bucketName)
	defer cleanup()

	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String("index.html"),
		Body:   strings.NewReader("<h1>hello</h1>"),
	})
	require.NoError(t, err)

	require.NoError(t, ts.Metadata().UpdateBucket(ctx, bucketName, metadata.ACLPublicRead, 0))

	resp, err := http.Get(ts.Endpoint + "/" + bucketName + "/index.html")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<h1>hello</h1>", string(body))

	// Bucket-level reads are anonymous too: listing and sub-resources key
	// off the bucket ACL alone.
	listResp, err := http.Get(ts.Endpoint + "/" + bucketName + "?list-type=2")
	require.NoError(t, err)
	listBody, err := io.ReadAll(listResp.Body)
	listResp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, listResp.StatusCode)
	assert.Contains(t, string(listBody), "index.html")

	locResp, err := http.Get(ts.Endpoint + "/" + bucketName + "?location")
	require.NoError(t, err)
	locResp.Body.Close()
	assert.Equal(t, http.StatusOK, locResp.StatusCode)

	// Anonymous writes stay forbidden even on a public-read bucket.
	req, err := http.NewRequest(http.MethodPut, ts.Endpoint+"/"+bucketName+"/new.txt", strings.NewReader("nope"))
	require.NoError(t, err)
	putResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	putResp.Body.Close()
	assert.NotEqual(t, http.StatusOK, putResp.StatusCode)
}

func TestPresignedGetV4(t *testing.T) {
	ts := testutil.NewTestServer(t)
	defer ts.Cleanup()

	client := ts.S3Client(t)
	ctx := context.Background()
	bucketName := testutil.RandomBucketName()
	cleanup := ts.CreateTestBucket(t, bucketName)
	defer cleanup()

	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String("shared.txt"),
		Body:   strings.NewReader("presigned payload"),
	})
	require.NoError(t, err)

	presigner := s3.NewPresignClient(client)
	presigned, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String("shared.txt"),
	}, s3.WithPresignExpires(5*time.Minute))
	require.NoError(t, err)

	resp, err := http.Get(presigned.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", body)
	assert.Equal(t, "presigned payload", string(body))
}

// presignV2 builds a legacy query-string-auth GET URL by hand.
func presignV2(endpoint, accessKey, secretKey, bucket, key string, expiresAt int64) string {
	expires := strconv.FormatInt(expiresAt, 10)
	stringToSign := "GET\n\n\n" + expires + "\n/" + bucket + "/" + key

	mac := hmac.New(sha1.New, []byte(secretKey))
	mac.Write([]byte(stringToSign))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	q := url.Values{}
	q.Set("AWSAccessKeyId", accessKey)
	q.Set("Expires", expires)
	q.Set("Signature", signature)
	return fmt.Sprintf("%s/%s/%s?%s", endpoint, bucket, key, q.Encode())
}

func TestPresignedGetV2(t *testing.T) {
	ts := testutil.NewTestServer(t)
	defer ts.Cleanup()

	client := ts.S3Client(t)
	ctx := context.Background()
	bucketName := testutil.RandomBucketName()
	cleanup := ts.CreateTestBucket(t, bucketName)
	defer cleanup()

	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String("legacy.txt"),
		Body:   strings.NewReader("v2 still works"),
	})
	require.NoError(t, err)

	link := presignV2(ts.Endpoint, ts.AccessKey, ts.SecretKey, bucketName, "legacy.txt",
		time.Now().Add(10*time.Minute).Unix())

	resp, err := http.Get(link)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", body)
	assert.Equal(t, "v2 still works", string(body))
}

func TestPresignedGetV2SubResource(t *testing.T) {
	ts := testutil.NewTestServer(t)
	defer ts.Cleanup()

	bucketName := testutil.RandomBucketName()
	cleanup := ts.CreateTestBucket(t, bucketName)
	defer cleanup()

	// Sub-resources join the canonicalized resource, so the signature must
	// cover "?location".
	expires := strconv.FormatInt(time.Now().Add(10*time.Minute).Unix(), 10)
	stringToSign := "GET\n\n\n" + expires + "\n/" + bucketName + "?location"

	mac := hmac.New(sha1.New, []byte(ts.SecretKey))
	mac.Write([]byte(stringToSign))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	q := url.Values{}
	q.Set("AWSAccessKeyId", ts.AccessKey)
	q.Set("Expires", expires)
	q.Set("Signature", signature)
	link := ts.Endpoint + "/" + bucketName + "?location&" + q.Encode()

	resp, err := http.Get(link)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", body)
	assert.Contains(t, string(body), "LocationConstraint")
}

func TestPresignedGetV2Expired(t *testing.T) {
	ts := testutil.NewTestServer(t)
	defer ts.Cleanup()

	client := ts.S3Client(t)
	ctx := context.Background()
	bucketName := testutil.RandomBucketName()
	cleanup := ts.CreateTestBucket(t, bucketName)
	defer cleanup()

	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String("stale.txt"),
		Body:   strings.NewReader("too late"),
	})
	require.NoError(t, err)

	link := presignV2(ts.Endpoint, ts.AccessKey, ts.SecretKey, bucketName, "stale.txt",
		time.Now().Add(-1*time.Minute).Unix())

	resp, err := http.Get(link)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, string(body), "expired")
}

func TestPresignedGetV2BadSignature(t *testing.T) {
	ts := testutil.NewTestServer(t)
	defer ts.Cleanup()

	client := ts.S3Client(t)
	ctx := context.Background()
	bucketName := testutil.RandomBucketName()
	cleanup := ts.CreateTestBucket(t, bucketName)
	defer cleanup()

	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String("guarded.txt"),
		Body:   strings.NewReader("no entry"),
	})
	require.NoError(t, err)

	link := presignV2(ts.Endpoint, ts.AccessKey, "wrong-secret", bucketName, "guarded.txt",
		time.Now().Add(10*time.Minute).Unix())

	resp, err := http.Get(link)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
