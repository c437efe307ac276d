package testutil

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Client returns an S3 client pointed at the test server, using the
// seeded credentials and path-style addressing.
func (ts *TestServer) S3Client(t *testing.T) *s3.Client {
	t.Helper()
	return ts.S3ClientWithCredentials(t, ts.AccessKey, ts.SecretKey)
}

// S3ClientWithCredentials returns an S3 client using explicit credentials,
// for tests exercising rejected or anonymous access.
func (ts *TestServer) S3ClientWithCredentials(t *testing.T, accessKey, secretKey string) *s3.Client {
	t.Helper()

	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey,
			secretKey,
			"",
		)),
	)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(ts.Endpoint)
		o.UsePathStyle = true
	})
}

// CreateTestBucket creates a bucket and returns a cleanup function that
// empties and deletes it.
func (ts *TestServer) CreateTestBucket(t *testing.T, name string) func() {
	t.Helper()

	client := ts.S3Client(t)
	ctx := context.Background()

	if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(name),
	}); err != nil {
		t.Fatalf("failed to create test bucket: %v", err)
	}

	return func() {
		listOutput, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket: aws.String(name),
		})
		if err == nil {
			for _, obj := range listOutput.Contents {
				client.DeleteObject(ctx, &s3.DeleteObjectInput{
					Bucket: aws.String(name),
					Key:    obj.Key,
				})
			}
		}
		client.DeleteBucket(ctx, &s3.DeleteBucketInput{
			Bucket: aws.String(name),
		})
	}
}

// RandomBucketName generates a random bucket name.
func RandomBucketName() string {
	return "test-bucket-" + randomString(8)
}

// RandomObjectKey generates a random object key.
func RandomObjectKey() string {
	return "test-object-" + randomString(8)
}

func randomString(n int) string {
	b := make([]byte, n/2+1)
	rand.Read(b)
	return hex.EncodeToString(b)[:n]
}
