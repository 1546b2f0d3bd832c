package cloudformation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/google/uuid"
	"github.com/shibstack/shibstack/internal/client"
	"golang.org/x/time/rate"
)

// CloudFormationAPI is the slice of the CloudFormation API the service needs.
type CloudFormationAPI interface {
	CreateStack(ctx context.Context, params *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error)
	UpdateStack(ctx context.Context, params *cloudformation.UpdateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error)
	DeleteStack(ctx context.Context, params *cloudformation.DeleteStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error)
	DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
	DescribeStackEvents(ctx context.Context, params *cloudformation.DescribeStackEventsInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStackEventsOutput, error)
	ValidateTemplate(ctx context.Context, params *cloudformation.ValidateTemplateInput, optFns ...func(*cloudformation.Options)) (*cloudformation.ValidateTemplateOutput, error)
}

// ErrNoChanges is returned by Deploy when the stack is already in the
// requested state.
var ErrNoChanges = errors.New("stack is already up to date")

type CloudFormationService struct {
	client  CloudFormationAPI
	limiter *rate.Limiter
}

func NewCloudFormationService(region string) (*CloudFormationService, error) {
	client, err := client.NewCloudFormationClient(region)
	if err != nil {
		return nil, err
	}
	return newService(client), nil
}

func NewCloudFormationServiceWithClient(client CloudFormationAPI) *CloudFormationService {
	return newService(client)
}

func newService(client CloudFormationAPI) *CloudFormationService {
	// DescribeStackEvents throttles hard; one poll every 5 seconds is plenty
	// for a deploy that takes half an hour.
	return &CloudFormationService{
		client:  client,
		limiter: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
}

// Deploy creates the stack, or updates it when it already exists, and blocks
// until CloudFormation reaches a terminal state, streaming stack events while
// it waits. Returns ErrNoChanges when an update has nothing to do.
func (c *CloudFormationService) Deploy(ctx context.Context, stackName, templateURL string, parameters map[string]string) error {
	token := uuid.NewString()
	params := toParameters(parameters)
	capabilities := []cfntypes.Capability{cfntypes.CapabilityCapabilityIam}

	exists, err := c.stackExists(ctx, stackName)
	if err != nil {
		return err
	}

	start := time.Now()
	if exists {
		slog.Info("🏁 updating stack", "stack", stackName)
		_, err = c.client.UpdateStack(ctx, &cloudformation.UpdateStackInput{
			StackName:          aws.String(stackName),
			TemplateURL:        aws.String(templateURL),
			Parameters:         params,
			Capabilities:       capabilities,
			ClientRequestToken: aws.String(token),
		})
		if err != nil {
			if strings.Contains(err.Error(), "No updates are to be performed") {
				return ErrNoChanges
			}
			return fmt.Errorf("failed to update stack %s: %w", stackName, err)
		}
	} else {
		slog.Info("🏁 creating stack", "stack", stackName)
		_, err = c.client.CreateStack(ctx, &cloudformation.CreateStackInput{
			StackName:          aws.String(stackName),
			TemplateURL:        aws.String(templateURL),
			Parameters:         params,
			Capabilities:       capabilities,
			ClientRequestToken: aws.String(token),
			OnFailure:          cfntypes.OnFailureRollback,
			TimeoutInMinutes:   aws.Int32(120),
		})
		if err != nil {
			return fmt.Errorf("failed to create stack %s: %w", stackName, err)
		}
	}

	status, err := c.waitForStack(ctx, stackName, start)
	if err != nil {
		return err
	}
	if !isSuccessStatus(status) {
		return fmt.Errorf("stack %s finished in state %s", stackName, status)
	}

	slog.Info("✅ stack deployed", "stack", stackName, "status", string(status))
	return nil
}

// Destroy deletes the stack and blocks until it is gone.
func (c *CloudFormationService) Destroy(ctx context.Context, stackName string) error {
	exists, err := c.stackExists(ctx, stackName)
	if err != nil {
		return err
	}
	if !exists {
		slog.Info("✅ stack already deleted", "stack", stackName)
		return nil
	}

	slog.Info("🏁 deleting stack", "stack", stackName)
	start := time.Now()
	if _, err := c.client.DeleteStack(ctx, &cloudformation.DeleteStackInput{
		StackName:          aws.String(stackName),
		ClientRequestToken: aws.String(uuid.NewString()),
	}); err != nil {
		return fmt.Errorf("failed to delete stack %s: %w", stackName, err)
	}

	status, err := c.waitForStack(ctx, stackName, start)
	if err != nil {
		return err
	}
	if status != "" && status != cfntypes.StackStatusDeleteComplete {
		return fmt.Errorf("stack %s finished in state %s", stackName, status)
	}

	slog.Info("✅ stack deleted", "stack", stackName)
	return nil
}

// ValidateTemplate asks CloudFormation to check a synthesized template body.
func (c *CloudFormationService) ValidateTemplate(ctx context.Context, body []byte) error {
	_, err := c.client.ValidateTemplate(ctx, &cloudformation.ValidateTemplateInput{
		TemplateBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("template validation failed: %w", err)
	}
	return nil
}

// Outputs returns the outputs of a deployed stack keyed by output name.
func (c *CloudFormationService) Outputs(ctx context.Context, stackName string) (map[string]string, error) {
	stack, err := c.describeStack(ctx, stackName)
	if err != nil {
		return nil, err
	}
	if stack == nil {
		return nil, fmt.Errorf("stack %s does not exist", stackName)
	}

	outputs := make(map[string]string, len(stack.Outputs))
	for _, o := range stack.Outputs {
		if o.OutputKey != nil && o.OutputValue != nil {
			outputs[*o.OutputKey] = *o.OutputValue
		}
	}
	return outputs, nil
}

// Status returns the current stack status, or the empty string when the
// stack does not exist.
func (c *CloudFormationService) Status(ctx context.Context, stackName string) (string, error) {
	stack, err := c.describeStack(ctx, stackName)
	if err != nil {
		return "", err
	}
	if stack == nil {
		return "", nil
	}
	return string(stack.StackStatus), nil
}

// Events returns the stack events newer than the given time, oldest first.
func (c *CloudFormationService) Events(ctx context.Context, stackName string, since time.Time) ([]cfntypes.StackEvent, error) {
	output, err := c.client.DescribeStackEvents(ctx, &cloudformation.DescribeStackEventsInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe stack events for %s: %w", stackName, err)
	}

	// The API returns newest first.
	var events []cfntypes.StackEvent
	for i := len(output.StackEvents) - 1; i >= 0; i-- {
		e := output.StackEvents[i]
		if e.Timestamp != nil && e.Timestamp.After(since) {
			events = append(events, e)
		}
	}
	return events, nil
}

func (c *CloudFormationService) waitForStack(ctx context.Context, stackName string, since time.Time) (cfntypes.StackStatus, error) {
	lastEvent := since

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("wait cancelled: %w", err)
		}

		events, err := c.Events(ctx, stackName, lastEvent)
		if err != nil {
			// The stack disappears mid-poll during a delete.
			if isNotFound(err) {
				return "", nil
			}
			return "", err
		}
		for _, e := range events {
			logEvent(e)
			if e.Timestamp.After(lastEvent) {
				lastEvent = *e.Timestamp
			}
		}

		stack, err := c.describeStack(ctx, stackName)
		if err != nil {
			return "", err
		}
		if stack == nil {
			return "", nil
		}
		if isTerminalStatus(stack.StackStatus) {
			return stack.StackStatus, nil
		}
	}
}

func (c *CloudFormationService) stackExists(ctx context.Context, stackName string) (bool, error) {
	stack, err := c.describeStack(ctx, stackName)
	if err != nil {
		return false, err
	}
	return stack != nil, nil
}

func (c *CloudFormationService) describeStack(ctx context.Context, stackName string) (*cfntypes.Stack, error) {
	output, err := c.client.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to describe stack %s: %w", stackName, err)
	}
	if len(output.Stacks) == 0 {
		return nil, nil
	}
	return &output.Stacks[0], nil
}

func toParameters(values map[string]string) []cfntypes.Parameter {
	params := make([]cfntypes.Parameter, 0, len(values))
	for key, value := range values {
		params = append(params, cfntypes.Parameter{
			ParameterKey:   aws.String(key),
			ParameterValue: aws.String(value),
		})
	}
	return params
}

func logEvent(e cfntypes.StackEvent) {
	status := string(e.ResourceStatus)
	resource := aws.ToString(e.LogicalResourceId)
	reason := aws.ToString(e.ResourceStatusReason)

	if strings.Contains(status, "FAILED") || strings.Contains(status, "ROLLBACK") {
		slog.Error("❌ stack event", "resource", resource, "status", status, "reason", reason)
		return
	}
	slog.Info("📋 stack event", "resource", resource, "status", status)
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "does not exist")
}

func isTerminalStatus(s cfntypes.StackStatus) bool {
	return !strings.HasSuffix(string(s), "_IN_PROGRESS")
}

func isSuccessStatus(s cfntypes.StackStatus) bool {
	switch s {
	case cfntypes.StackStatusCreateComplete, cfntypes.StackStatusUpdateComplete:
		return true
	default:
		return false
	}
}
