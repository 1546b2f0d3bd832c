package stacks

import (
	"github.com/aws/smithy-go/ptr"
	"github.com/awslabs/goformation/v7/cloudformation"
	"github.com/awslabs/goformation/v7/cloudformation/autoscaling"
	"github.com/awslabs/goformation/v7/cloudformation/ec2"
	"github.com/awslabs/goformation/v7/cloudformation/ecs"
	"github.com/awslabs/goformation/v7/cloudformation/iam"
	"github.com/shibstack/shibstack/internal/graph"
	"github.com/shibstack/shibstack/internal/types"
)

// Cluster provisions the ECS cluster. On the Fargate launch type the
// cluster is all that's needed; on EC2 an autoscaling group of container
// instances is added, gated behind the IsEC2 condition so exactly one shape
// materializes.
func Cluster(cfg Config) Stack {
	params := []graph.ParameterSpec{
		{Name: "EnvironmentName", Type: "String"},
		{Name: "LaunchType", Type: "String", Default: string(types.LaunchTypeFargate), HasDefault: true, AllowedValues: types.AllLaunchTypes()},
		{Name: "SourceSecurityGroup", Type: "String"},
		{Name: "PrivateSubnet1", Type: "String"},
		{Name: "PrivateSubnet2", Type: "String"},
		{Name: "VPC", Type: "String"},
		{Name: "InstanceType", Type: "String", Default: "t3.large", HasDefault: true},
		{Name: "ClusterSize", Type: "Number", Default: "2", HasDefault: true},
	}

	t := cloudformation.NewTemplate()
	t.Description = "ECS cluster for the Shibboleth IdP, with an EC2 container instance fleet when the EC2 launch type is selected"
	declareParameters(t, params)

	// The ECS-optimized AMI resolves through SSM so the template never
	// hardcodes an image id.
	amiParam := cloudformation.Parameter{
		Type:    "AWS::SSM::Parameter::Value<AWS::EC2::Image::Id>",
		Default: "/aws/service/ecs/optimized-ami/amazon-linux-2/recommended/image_id",
	}
	t.Parameters["ECSAMI"] = amiParam

	t.Conditions["IsEC2"] = cloudformation.Equals(cloudformation.Ref("LaunchType"), string(types.LaunchTypeEC2))

	t.Resources["Cluster"] = &ecs.Cluster{
		ClusterName: cloudformation.RefPtr("EnvironmentName"),
	}

	t.Resources["HostSecurityGroup"] = &ec2.SecurityGroup{
		AWSCloudFormationCondition: "IsEC2",
		GroupDescription:           "Allows traffic from the load balancer to the ECS container instances",
		VpcId:                      cloudformation.RefPtr("VPC"),
		SecurityGroupIngress: []ec2.SecurityGroup_Ingress{
			{
				IpProtocol:            "tcp",
				FromPort:              ptr.Int(1),
				ToPort:                ptr.Int(65535),
				SourceSecurityGroupId: cloudformation.RefPtr("SourceSecurityGroup"),
			},
		},
	}

	t.Resources["EC2Role"] = &iam.Role{
		AWSCloudFormationCondition: "IsEC2",
		AssumeRolePolicyDocument: map[string]any{
			"Version": "2012-10-17",
			"Statement": []any{
				map[string]any{
					"Effect":    "Allow",
					"Principal": map[string]any{"Service": "ec2.amazonaws.com"},
					"Action":    "sts:AssumeRole",
				},
			},
		},
		ManagedPolicyArns: []string{
			"arn:aws:iam::aws:policy/service-role/AmazonEC2ContainerServiceforEC2Role",
		},
	}

	t.Resources["InstanceProfile"] = &iam.InstanceProfile{
		AWSCloudFormationCondition: "IsEC2",
		Roles:                      []string{cloudformation.Ref("EC2Role")},
	}

	t.Resources["LaunchConfiguration"] = &autoscaling.LaunchConfiguration{
		AWSCloudFormationCondition: "IsEC2",
		ImageId:                    cloudformation.Ref("ECSAMI"),
		InstanceType:               cloudformation.Ref("InstanceType"),
		IamInstanceProfile:         cloudformation.RefPtr("InstanceProfile"),
		SecurityGroups:             []string{cloudformation.Ref("HostSecurityGroup")},
		UserData: ptr.String(cloudformation.Base64(cloudformation.Sub(
			"#!/bin/bash\necho ECS_CLUSTER=${Cluster} >> /etc/ecs/ecs.config\n"))),
	}

	t.Resources["AutoScalingGroup"] = &autoscaling.AutoScalingGroup{
		AWSCloudFormationCondition: "IsEC2",
		MinSize:                    cloudformation.Ref("ClusterSize"),
		MaxSize:                    cloudformation.Ref("ClusterSize"),
		DesiredCapacity:            cloudformation.RefPtr("ClusterSize"),
		LaunchConfigurationName:    cloudformation.RefPtr("LaunchConfiguration"),
		VPCZoneIdentifier: []string{
			cloudformation.Ref("PrivateSubnet1"),
			cloudformation.Ref("PrivateSubnet2"),
		},
		Tags: []autoscaling.AutoScalingGroup_TagProperty{
			{
				Key:               "Name",
				Value:             cloudformation.Sub("${EnvironmentName} ECS host"),
				PropagateAtLaunch: true,
			},
		},
	}

	t.Outputs["ClusterName"] = cloudformation.Output{
		Description: ptr.String("Name of the ECS cluster"),
		Value:       cloudformation.Ref("Cluster"),
	}
	t.Outputs["HostSecurityGroup"] = cloudformation.Output{
		Condition:   ptr.String("IsEC2"),
		Description: ptr.String("Security group of the EC2 container instances"),
		Value:       cloudformation.Ref("HostSecurityGroup"),
	}

	return Stack{
		Def: graph.StackDef{
			Name:         StackCluster,
			TemplateFile: TemplateFileCluster,
			Parameters:   params,
			// HostSecurityGroup is conditional and therefore not part of the
			// composition contract.
			Outputs: []string{"ClusterName"},
			Bindings: map[string]graph.Binding{
				"EnvironmentName":     graph.Literal(cfg.EnvironmentName),
				"LaunchType":          graph.RootParam("LaunchType"),
				"SourceSecurityGroup": graph.OutputRef(StackLB, "SecurityGroup"),
				"PrivateSubnet1":      graph.OutputRef(StackVPC, "PrivateSubnet1"),
				"PrivateSubnet2":      graph.OutputRef(StackVPC, "PrivateSubnet2"),
				"VPC":                 graph.OutputRef(StackVPC, "VPC"),
			},
		},
		Template: t,
	}
}
