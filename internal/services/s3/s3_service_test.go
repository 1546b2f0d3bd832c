package s3

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/shibstack/shibstack/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureBucket_SkipsCreateWhenBucketExists(t *testing.T) {
	created := false

	mockClient := &mocks.MockS3API{
		HeadBucketFunc: func(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
			return &s3.HeadBucketOutput{}, nil
		},
		CreateBucketFunc: func(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
			created = true
			return &s3.CreateBucketOutput{}, nil
		},
	}

	service := NewS3ServiceWithClient(mockClient, "us-east-1")
	err := service.EnsureBucket(context.Background(), "idp-templates")

	require.NoError(t, err)
	assert.False(t, created)
}

func TestEnsureBucket_CreatesWithLocationConstraint(t *testing.T) {
	tests := []struct {
		name               string
		region             string
		expectedConstraint bool
	}{
		{name: "us_east_1_has_no_constraint", region: "us-east-1", expectedConstraint: false},
		{name: "other_regions_get_constraint", region: "eu-west-1", expectedConstraint: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var input *s3.CreateBucketInput

			mockClient := &mocks.MockS3API{
				HeadBucketFunc: func(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
					return nil, errors.New("NotFound")
				},
				CreateBucketFunc: func(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
					input = params
					return &s3.CreateBucketOutput{}, nil
				},
			}

			service := NewS3ServiceWithClient(mockClient, tt.region)
			err := service.EnsureBucket(context.Background(), "idp-templates")

			require.NoError(t, err)
			require.NotNil(t, input)
			if tt.expectedConstraint {
				require.NotNil(t, input.CreateBucketConfiguration)
				assert.Equal(t, s3types.BucketLocationConstraint(tt.region), input.CreateBucketConfiguration.LocationConstraint)
			} else {
				assert.Nil(t, input.CreateBucketConfiguration)
			}
		})
	}
}

func TestEnsureBucket_ToleratesAlreadyOwned(t *testing.T) {
	mockClient := &mocks.MockS3API{
		HeadBucketFunc: func(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
			return nil, errors.New("NotFound")
		},
		CreateBucketFunc: func(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
			return nil, &s3types.BucketAlreadyOwnedByYou{}
		},
	}

	service := NewS3ServiceWithClient(mockClient, "us-east-1")
	err := service.EnsureBucket(context.Background(), "idp-templates")

	assert.NoError(t, err)
}

func TestEnsureBucket_PropagatesCreateFailure(t *testing.T) {
	mockClient := &mocks.MockS3API{
		HeadBucketFunc: func(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
			return nil, errors.New("NotFound")
		},
		CreateBucketFunc: func(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
			return nil, &s3types.BucketAlreadyExists{}
		},
	}

	service := NewS3ServiceWithClient(mockClient, "us-east-1")
	err := service.EnsureBucket(context.Background(), "idp-templates")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create template bucket")
}

func TestUploadTemplate_KeyAndContentType(t *testing.T) {
	var input *s3.PutObjectInput

	mockClient := &mocks.MockS3API{
		PutObjectFunc: func(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
			input = params
			return &s3.PutObjectOutput{}, nil
		},
	}

	service := NewS3ServiceWithClient(mockClient, "us-east-1")
	err := service.UploadTemplate(context.Background(), "idp-templates", "shibboleth-idp", "root.yaml", []byte("Resources: {}"))

	require.NoError(t, err)
	require.NotNil(t, input)
	assert.Equal(t, "idp-templates", *input.Bucket)
	assert.Equal(t, "shibboleth-idp/root.yaml", *input.Key)
	assert.Equal(t, "application/x-yaml", *input.ContentType)

	body, err := io.ReadAll(input.Body)
	require.NoError(t, err)
	assert.Equal(t, "Resources: {}", string(body))
}

func TestTemplateURL(t *testing.T) {
	service := NewS3ServiceWithClient(&mocks.MockS3API{}, "us-east-1")

	url := service.TemplateURL("idp-templates", "shibboleth-idp", "vpc.yaml")
	assert.Equal(t, "https://idp-templates.s3.amazonaws.com/shibboleth-idp/vpc.yaml", url)
}
