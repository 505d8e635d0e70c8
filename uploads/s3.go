package uploads

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3API is the slice of the S3 client the store needs.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 stores blobs in an S3 bucket under a key prefix.
type S3 struct {
	client  s3API
	bucket  string
	prefix  string
	baseURL string
}

var _ BlobStore = (*S3)(nil)

// NewS3 wraps an aws-sdk-go-v2 S3 client. baseURL is the public URL
// prefix objects are reachable under, such as a CDN or bucket website
// endpoint.
func NewS3(client *s3.Client, bucket, prefix, baseURL string) *S3 {
	return newS3(client, bucket, prefix, baseURL)
}

func newS3(client s3API, bucket, prefix, baseURL string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: prefix, baseURL: baseURL}
}

func (s *S3) Put(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	key := s.prefix + name
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"upload-time": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return "", fmt.Errorf("uploads: put s3 object: %w", err)
	}
	return s.baseURL + "/" + key, nil
}
