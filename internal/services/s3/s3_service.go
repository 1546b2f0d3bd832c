package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/shibstack/shibstack/internal/client"
)

// S3API is the slice of the S3 API the service needs.
type S3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Service struct {
	client S3API
	region string
}

func NewS3Service(region string) (*S3Service, error) {
	client, err := client.NewS3Client(region)
	if err != nil {
		return nil, err
	}
	return &S3Service{client: client, region: region}, nil
}

func NewS3ServiceWithClient(client S3API, region string) *S3Service {
	return &S3Service{client: client, region: region}
}

// EnsureBucket creates the template bucket if it does not exist yet. An
// existing bucket owned by the caller is fine; anything else is an error.
func (s *S3Service) EnsureBucket(ctx context.Context, bucket string) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	// us-east-1 rejects an explicit location constraint.
	if s.region != "" && s.region != "us-east-1" {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(s.region),
		}
	}

	if _, err := s.client.CreateBucket(ctx, input); err != nil {
		var owned *s3types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("failed to create template bucket %s: %w", bucket, err)
	}

	slog.Info("✅ created template bucket", "bucket", bucket)
	return nil
}

// UploadTemplate puts one synthesized template under the template folder.
func (s *S3Service) UploadTemplate(ctx context.Context, bucket, folder, file string, body []byte) error {
	key := fmt.Sprintf("%s/%s", folder, file)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/x-yaml"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload template %s: %w", key, err)
	}

	slog.Info("📁 uploaded template", "bucket", bucket, "key", key)
	return nil
}

// TemplateURL is the HTTPS location CloudFormation fetches a nested template
// from.
func (s *S3Service) TemplateURL(bucket, folder, file string) string {
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s/%s", bucket, folder, file)
}
