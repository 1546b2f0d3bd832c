package ec2

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/shibstack/shibstack/internal/client"
)

// EC2API is the slice of the EC2 API the service needs.
type EC2API interface {
	DescribeAvailabilityZones(ctx context.Context, params *ec2.DescribeAvailabilityZonesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeAvailabilityZonesOutput, error)
}

type EC2Service struct {
	client EC2API
}

func NewEC2Service(region string) (*EC2Service, error) {
	client, err := client.NewEC2Client(region)
	if err != nil {
		return nil, err
	}
	return &EC2Service{client: client}, nil
}

func NewEC2ServiceWithClient(client EC2API) *EC2Service {
	return &EC2Service{client: client}
}

// AvailabilityZones returns the first two available zones of the region in
// alphabetical order. The subnet layout spans exactly two zones.
func (e *EC2Service) AvailabilityZones(ctx context.Context) ([2]string, error) {
	var zones [2]string

	input := &ec2.DescribeAvailabilityZonesInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("state"), Values: []string{"available"}},
			{Name: aws.String("zone-type"), Values: []string{"availability-zone"}},
		},
	}
	output, err := e.client.DescribeAvailabilityZones(ctx, input)
	if err != nil {
		return zones, fmt.Errorf("failed to describe availability zones: %w", err)
	}

	var names []string
	for _, az := range output.AvailabilityZones {
		if az.ZoneName != nil {
			names = append(names, *az.ZoneName)
		}
	}
	if len(names) < 2 {
		return zones, fmt.Errorf("region has %d available zones, need at least 2", len(names))
	}

	sort.Strings(names)
	zones[0] = names[0]
	zones[1] = names[1]
	return zones, nil
}
