package client

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
)

// NewCloudFormationClient builds a CloudFormation client with a slightly
// more patient retryer than the default. Deploys poll DescribeStackEvents in
// a tight loop and the service throttles that API aggressively.
func NewCloudFormationClient(region string) (*cloudformation.Client, error) {
	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRetryer(func() aws.Retryer {
			return retry.NewStandard(func(opts *retry.StandardOptions) {
				opts.MaxAttempts = 5
				opts.MaxBackoff = 30 * time.Second
			})
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("❌ Failed to load AWS config: %v", err)
	}

	if region != "" {
		cfg.Region = region
	}

	return cloudformation.NewFromConfig(cfg), nil
}
