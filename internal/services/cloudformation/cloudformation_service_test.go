package cloudformation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/shibstack/shibstack/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func describeStacksFunc(status cfntypes.StackStatus, outputs []cfntypes.Output) func(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
	return func(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
		return &cloudformation.DescribeStacksOutput{
			Stacks: []cfntypes.Stack{
				{
					StackName:   params.StackName,
					StackStatus: status,
					Outputs:     outputs,
				},
			},
		}, nil
	}
}

func noEvents(ctx context.Context, params *cloudformation.DescribeStackEventsInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStackEventsOutput, error) {
	return &cloudformation.DescribeStackEventsOutput{}, nil
}

func notFoundErr() error {
	return errors.New("ValidationError: Stack with id shibboleth-idp does not exist")
}

func TestDeploy_CreatesWhenStackAbsent(t *testing.T) {
	created := false
	describeCalls := 0

	mockClient := &mocks.MockCloudFormationAPI{
		DescribeStacksFunc: func(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
			describeCalls++
			if describeCalls == 1 {
				return nil, notFoundErr()
			}
			return describeStacksFunc(cfntypes.StackStatusCreateComplete, nil)(ctx, params, optFns...)
		},
		CreateStackFunc: func(ctx context.Context, params *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error) {
			created = true
			assert.Equal(t, "shibboleth-idp", *params.StackName)
			assert.Equal(t, "https://bucket.s3.amazonaws.com/root.yaml", *params.TemplateURL)
			assert.Equal(t, []cfntypes.Capability{cfntypes.CapabilityCapabilityIam}, params.Capabilities)
			assert.NotEmpty(t, *params.ClientRequestToken)
			return &cloudformation.CreateStackOutput{StackId: aws.String("stack-id")}, nil
		},
		DescribeStackEventsFunc: noEvents,
	}

	service := NewCloudFormationServiceWithClient(mockClient)
	err := service.Deploy(context.Background(), "shibboleth-idp", "https://bucket.s3.amazonaws.com/root.yaml", map[string]string{"LaunchType": "Fargate"})

	require.NoError(t, err)
	assert.True(t, created)
}

func TestDeploy_UpdatesWhenStackExists(t *testing.T) {
	updated := false

	mockClient := &mocks.MockCloudFormationAPI{
		DescribeStacksFunc: describeStacksFunc(cfntypes.StackStatusUpdateComplete, nil),
		UpdateStackFunc: func(ctx context.Context, params *cloudformation.UpdateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error) {
			updated = true
			return &cloudformation.UpdateStackOutput{}, nil
		},
		DescribeStackEventsFunc: noEvents,
	}

	service := NewCloudFormationServiceWithClient(mockClient)
	err := service.Deploy(context.Background(), "shibboleth-idp", "https://bucket.s3.amazonaws.com/root.yaml", nil)

	require.NoError(t, err)
	assert.True(t, updated)
}

func TestDeploy_NoChangesIsSentinel(t *testing.T) {
	mockClient := &mocks.MockCloudFormationAPI{
		DescribeStacksFunc: describeStacksFunc(cfntypes.StackStatusUpdateComplete, nil),
		UpdateStackFunc: func(ctx context.Context, params *cloudformation.UpdateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error) {
			return nil, errors.New("ValidationError: No updates are to be performed.")
		},
	}

	service := NewCloudFormationServiceWithClient(mockClient)
	err := service.Deploy(context.Background(), "shibboleth-idp", "https://bucket.s3.amazonaws.com/root.yaml", nil)

	assert.ErrorIs(t, err, ErrNoChanges)
}

func TestDeploy_FailsOnRollback(t *testing.T) {
	mockClient := &mocks.MockCloudFormationAPI{
		DescribeStacksFunc: describeStacksFunc(cfntypes.StackStatusRollbackComplete, nil),
		UpdateStackFunc: func(ctx context.Context, params *cloudformation.UpdateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error) {
			return &cloudformation.UpdateStackOutput{}, nil
		},
		DescribeStackEventsFunc: noEvents,
	}

	service := NewCloudFormationServiceWithClient(mockClient)
	err := service.Deploy(context.Background(), "shibboleth-idp", "https://bucket.s3.amazonaws.com/root.yaml", nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "ROLLBACK_COMPLETE")
}

func TestDestroy_ToleratesAbsentStack(t *testing.T) {
	mockClient := &mocks.MockCloudFormationAPI{
		DescribeStacksFunc: func(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
			return nil, notFoundErr()
		},
	}

	service := NewCloudFormationServiceWithClient(mockClient)
	err := service.Destroy(context.Background(), "shibboleth-idp")

	assert.NoError(t, err)
}

func TestDestroy_DeletesAndWaitsForDisappearance(t *testing.T) {
	deleted := false
	describeCalls := 0

	mockClient := &mocks.MockCloudFormationAPI{
		DescribeStacksFunc: func(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
			describeCalls++
			if describeCalls == 1 {
				return describeStacksFunc(cfntypes.StackStatusCreateComplete, nil)(ctx, params, optFns...)
			}
			return nil, notFoundErr()
		},
		DeleteStackFunc: func(ctx context.Context, params *cloudformation.DeleteStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error) {
			deleted = true
			return &cloudformation.DeleteStackOutput{}, nil
		},
		DescribeStackEventsFunc: func(ctx context.Context, params *cloudformation.DescribeStackEventsInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStackEventsOutput, error) {
			return nil, notFoundErr()
		},
	}

	service := NewCloudFormationServiceWithClient(mockClient)
	err := service.Destroy(context.Background(), "shibboleth-idp")

	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestOutputs_KeysByOutputName(t *testing.T) {
	outputs := []cfntypes.Output{
		{OutputKey: aws.String("ServiceUrl"), OutputValue: aws.String("https://sso.example.com/idp/")},
		{OutputKey: aws.String("LoadBalancerDNSName"), OutputValue: aws.String("lb.example.com")},
	}

	mockClient := &mocks.MockCloudFormationAPI{
		DescribeStacksFunc: describeStacksFunc(cfntypes.StackStatusCreateComplete, outputs),
	}

	service := NewCloudFormationServiceWithClient(mockClient)
	got, err := service.Outputs(context.Background(), "shibboleth-idp")

	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"ServiceUrl":          "https://sso.example.com/idp/",
		"LoadBalancerDNSName": "lb.example.com",
	}, got)
}

func TestStatus_EmptyWhenAbsent(t *testing.T) {
	mockClient := &mocks.MockCloudFormationAPI{
		DescribeStacksFunc: func(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
			return nil, notFoundErr()
		},
	}

	service := NewCloudFormationServiceWithClient(mockClient)
	status, err := service.Status(context.Background(), "shibboleth-idp")

	require.NoError(t, err)
	assert.Empty(t, status)
}

func TestEvents_FiltersAndReordersOldestFirst(t *testing.T) {
	now := time.Now()

	mockClient := &mocks.MockCloudFormationAPI{
		DescribeStackEventsFunc: func(ctx context.Context, params *cloudformation.DescribeStackEventsInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStackEventsOutput, error) {
			// Newest first, as the API returns them.
			return &cloudformation.DescribeStackEventsOutput{
				StackEvents: []cfntypes.StackEvent{
					{LogicalResourceId: aws.String("Service"), Timestamp: aws.Time(now)},
					{LogicalResourceId: aws.String("VPC"), Timestamp: aws.Time(now.Add(-1 * time.Minute))},
					{LogicalResourceId: aws.String("Old"), Timestamp: aws.Time(now.Add(-3 * time.Hour))},
				},
			}, nil
		},
	}

	service := NewCloudFormationServiceWithClient(mockClient)
	events, err := service.Events(context.Background(), "shibboleth-idp", now.Add(-1*time.Hour))

	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "VPC", *events[0].LogicalResourceId)
	assert.Equal(t, "Service", *events[1].LogicalResourceId)
}

func TestValidateTemplate_WrapsFailure(t *testing.T) {
	mockClient := &mocks.MockCloudFormationAPI{
		ValidateTemplateFunc: func(ctx context.Context, params *cloudformation.ValidateTemplateInput, optFns ...func(*cloudformation.Options)) (*cloudformation.ValidateTemplateOutput, error) {
			return nil, errors.New("unresolved resource dependencies")
		},
	}

	service := NewCloudFormationServiceWithClient(mockClient)
	err := service.ValidateTemplate(context.Background(), []byte("Resources: {}"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "template validation failed")
}

func TestToParameters(t *testing.T) {
	params := toParameters(map[string]string{"LaunchType": "Fargate"})

	require.Len(t, params, 1)
	assert.Equal(t, "LaunchType", *params[0].ParameterKey)
	assert.Equal(t, "Fargate", *params[0].ParameterValue)
}
