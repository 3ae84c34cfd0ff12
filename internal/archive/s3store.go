package archive

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store writes archive blobs to an S3 bucket.
type S3Store struct {
	Bucket string
	client *s3.Client
}

// NewS3Store builds an S3Store for bucket. With accessKey and secretKey
// both set, those static credentials are used; otherwise the default AWS
// credential chain (environment, shared config, instance role) applies.
func NewS3Store(ctx context.Context, bucket, accessKey, secretKey string) (*S3Store, error) {
	var opts []func(*config.LoadOptions) error
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load AWS config: %w", err)
	}
	return &S3Store{Bucket: bucket, client: s3.NewFromConfig(cfg)}, nil
}

func (s *S3Store) Put(ctx context.Context, key string, r io.Reader) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
		Body:   r,
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put %s/%s: %w", s.Bucket, key, err)
	}
	return nil
}
