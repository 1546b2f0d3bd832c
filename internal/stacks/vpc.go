package stacks

import (
	"github.com/aws/smithy-go/ptr"
	"github.com/awslabs/goformation/v7/cloudformation"
	"github.com/awslabs/goformation/v7/cloudformation/ec2"
	"github.com/awslabs/goformation/v7/cloudformation/tags"
	"github.com/shibstack/shibstack/internal/graph"
)

// VPC is the network leaf of the composition: a VPC with two public and two
// private subnets spread over two availability zones, NAT gateways for the
// private halves, and the route tables tying it together.
func VPC(cfg Config) Stack {
	params := []graph.ParameterSpec{
		{Name: "EnvironmentName", Type: "String"},
		{Name: "AvailabilityZone1", Type: "String"},
		{Name: "AvailabilityZone2", Type: "String"},
		{Name: "VpcCIDR", Type: "String", AllowedPattern: cidrPattern, ConstraintDescription: "must be a valid IPv4 CIDR block"},
		{Name: "PublicSubnet1CIDR", Type: "String", AllowedPattern: cidrPattern, ConstraintDescription: "must be a valid IPv4 CIDR block"},
		{Name: "PublicSubnet2CIDR", Type: "String", AllowedPattern: cidrPattern, ConstraintDescription: "must be a valid IPv4 CIDR block"},
		{Name: "PrivateSubnet1CIDR", Type: "String", AllowedPattern: cidrPattern, ConstraintDescription: "must be a valid IPv4 CIDR block"},
		{Name: "PrivateSubnet2CIDR", Type: "String", AllowedPattern: cidrPattern, ConstraintDescription: "must be a valid IPv4 CIDR block"},
	}

	t := cloudformation.NewTemplate()
	t.Description = "Network for the Shibboleth IdP: VPC, public and private subnets over two availability zones, NAT gateways and routing"
	declareParameters(t, params)

	nameTag := func(suffix string) []tags.Tag {
		return []tags.Tag{{Key: "Name", Value: cloudformation.Sub("${EnvironmentName} " + suffix)}}
	}

	t.Resources["VPC"] = &ec2.VPC{
		CidrBlock:          cloudformation.RefPtr("VpcCIDR"),
		EnableDnsSupport:   ptr.Bool(true),
		EnableDnsHostnames: ptr.Bool(true),
		Tags:               nameTag("VPC"),
	}

	t.Resources["InternetGateway"] = &ec2.InternetGateway{
		Tags: nameTag("IGW"),
	}

	t.Resources["InternetGatewayAttachment"] = &ec2.VPCGatewayAttachment{
		VpcId:             cloudformation.Ref("VPC"),
		InternetGatewayId: cloudformation.RefPtr("InternetGateway"),
	}

	t.Resources["PublicSubnet1"] = &ec2.Subnet{
		VpcId:               cloudformation.Ref("VPC"),
		AvailabilityZone:    cloudformation.RefPtr("AvailabilityZone1"),
		CidrBlock:           cloudformation.RefPtr("PublicSubnet1CIDR"),
		MapPublicIpOnLaunch: ptr.Bool(true),
		Tags:                nameTag("Public Subnet (AZ1)"),
	}
	t.Resources["PublicSubnet2"] = &ec2.Subnet{
		VpcId:               cloudformation.Ref("VPC"),
		AvailabilityZone:    cloudformation.RefPtr("AvailabilityZone2"),
		CidrBlock:           cloudformation.RefPtr("PublicSubnet2CIDR"),
		MapPublicIpOnLaunch: ptr.Bool(true),
		Tags:                nameTag("Public Subnet (AZ2)"),
	}
	t.Resources["PrivateSubnet1"] = &ec2.Subnet{
		VpcId:            cloudformation.Ref("VPC"),
		AvailabilityZone: cloudformation.RefPtr("AvailabilityZone1"),
		CidrBlock:        cloudformation.RefPtr("PrivateSubnet1CIDR"),
		Tags:             nameTag("Private Subnet (AZ1)"),
	}
	t.Resources["PrivateSubnet2"] = &ec2.Subnet{
		VpcId:            cloudformation.Ref("VPC"),
		AvailabilityZone: cloudformation.RefPtr("AvailabilityZone2"),
		CidrBlock:        cloudformation.RefPtr("PrivateSubnet2CIDR"),
		Tags:             nameTag("Private Subnet (AZ2)"),
	}

	t.Resources["NatGateway1EIP"] = &ec2.EIP{
		AWSCloudFormationDependsOn: []string{"InternetGatewayAttachment"},
		Domain:                     ptr.String("vpc"),
	}
	t.Resources["NatGateway2EIP"] = &ec2.EIP{
		AWSCloudFormationDependsOn: []string{"InternetGatewayAttachment"},
		Domain:                     ptr.String("vpc"),
	}
	t.Resources["NatGateway1"] = &ec2.NatGateway{
		AllocationId: ptr.String(cloudformation.GetAtt("NatGateway1EIP", "AllocationId")),
		SubnetId:     cloudformation.Ref("PublicSubnet1"),
	}
	t.Resources["NatGateway2"] = &ec2.NatGateway{
		AllocationId: ptr.String(cloudformation.GetAtt("NatGateway2EIP", "AllocationId")),
		SubnetId:     cloudformation.Ref("PublicSubnet2"),
	}

	t.Resources["PublicRouteTable"] = &ec2.RouteTable{
		VpcId: cloudformation.Ref("VPC"),
		Tags:  nameTag("Public Routes"),
	}
	t.Resources["DefaultPublicRoute"] = &ec2.Route{
		AWSCloudFormationDependsOn: []string{"InternetGatewayAttachment"},
		RouteTableId:               cloudformation.Ref("PublicRouteTable"),
		DestinationCidrBlock:       ptr.String("0.0.0.0/0"),
		GatewayId:                  cloudformation.RefPtr("InternetGateway"),
	}
	t.Resources["PublicSubnet1RouteTableAssociation"] = &ec2.SubnetRouteTableAssociation{
		RouteTableId: cloudformation.Ref("PublicRouteTable"),
		SubnetId:     cloudformation.Ref("PublicSubnet1"),
	}
	t.Resources["PublicSubnet2RouteTableAssociation"] = &ec2.SubnetRouteTableAssociation{
		RouteTableId: cloudformation.Ref("PublicRouteTable"),
		SubnetId:     cloudformation.Ref("PublicSubnet2"),
	}

	t.Resources["PrivateRouteTable1"] = &ec2.RouteTable{
		VpcId: cloudformation.Ref("VPC"),
		Tags:  nameTag("Private Routes (AZ1)"),
	}
	t.Resources["DefaultPrivateRoute1"] = &ec2.Route{
		RouteTableId:         cloudformation.Ref("PrivateRouteTable1"),
		DestinationCidrBlock: ptr.String("0.0.0.0/0"),
		NatGatewayId:         cloudformation.RefPtr("NatGateway1"),
	}
	t.Resources["PrivateSubnet1RouteTableAssociation"] = &ec2.SubnetRouteTableAssociation{
		RouteTableId: cloudformation.Ref("PrivateRouteTable1"),
		SubnetId:     cloudformation.Ref("PrivateSubnet1"),
	}
	t.Resources["PrivateRouteTable2"] = &ec2.RouteTable{
		VpcId: cloudformation.Ref("VPC"),
		Tags:  nameTag("Private Routes (AZ2)"),
	}
	t.Resources["DefaultPrivateRoute2"] = &ec2.Route{
		RouteTableId:         cloudformation.Ref("PrivateRouteTable2"),
		DestinationCidrBlock: ptr.String("0.0.0.0/0"),
		NatGatewayId:         cloudformation.RefPtr("NatGateway2"),
	}
	t.Resources["PrivateSubnet2RouteTableAssociation"] = &ec2.SubnetRouteTableAssociation{
		RouteTableId: cloudformation.Ref("PrivateRouteTable2"),
		SubnetId:     cloudformation.Ref("PrivateSubnet2"),
	}

	t.Outputs["VPC"] = cloudformation.Output{
		Description: ptr.String("ID of the created VPC"),
		Value:       cloudformation.Ref("VPC"),
	}
	t.Outputs["PublicSubnet1"] = cloudformation.Output{
		Description: ptr.String("ID of the public subnet in the first availability zone"),
		Value:       cloudformation.Ref("PublicSubnet1"),
	}
	t.Outputs["PublicSubnet2"] = cloudformation.Output{
		Description: ptr.String("ID of the public subnet in the second availability zone"),
		Value:       cloudformation.Ref("PublicSubnet2"),
	}
	t.Outputs["PrivateSubnet1"] = cloudformation.Output{
		Description: ptr.String("ID of the private subnet in the first availability zone"),
		Value:       cloudformation.Ref("PrivateSubnet1"),
	}
	t.Outputs["PrivateSubnet2"] = cloudformation.Output{
		Description: ptr.String("ID of the private subnet in the second availability zone"),
		Value:       cloudformation.Ref("PrivateSubnet2"),
	}
	t.Outputs["PublicSubnets"] = cloudformation.Output{
		Description: ptr.String("Comma separated list of the public subnet IDs"),
		Value:       cloudformation.Join(",", []string{cloudformation.Ref("PublicSubnet1"), cloudformation.Ref("PublicSubnet2")}),
	}
	t.Outputs["PrivateSubnets"] = cloudformation.Output{
		Description: ptr.String("Comma separated list of the private subnet IDs"),
		Value:       cloudformation.Join(",", []string{cloudformation.Ref("PrivateSubnet1"), cloudformation.Ref("PrivateSubnet2")}),
	}

	return Stack{
		Def: graph.StackDef{
			Name:         StackVPC,
			TemplateFile: TemplateFileVPC,
			Parameters:   params,
			Outputs: []string{
				"VPC",
				"PublicSubnet1", "PublicSubnet2",
				"PrivateSubnet1", "PrivateSubnet2",
				"PublicSubnets", "PrivateSubnets",
			},
			Bindings: map[string]graph.Binding{
				"EnvironmentName":    graph.Literal(cfg.EnvironmentName),
				"AvailabilityZone1":  graph.Literal(cfg.AvailabilityZones[0]),
				"AvailabilityZone2":  graph.Literal(cfg.AvailabilityZones[1]),
				"VpcCIDR":            graph.RootParam("VpcCIDR"),
				"PublicSubnet1CIDR":  graph.RootParam("PublicSubnet1CIDR"),
				"PublicSubnet2CIDR":  graph.RootParam("PublicSubnet2CIDR"),
				"PrivateSubnet1CIDR": graph.RootParam("PrivateSubnet1CIDR"),
				"PrivateSubnet2CIDR": graph.RootParam("PrivateSubnet2CIDR"),
			},
		},
		Template: t,
	}
}
