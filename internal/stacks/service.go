package stacks

import (
	"strconv"

	"github.com/aws/smithy-go/ptr"
	"github.com/awslabs/goformation/v7/cloudformation"
	"github.com/awslabs/goformation/v7/cloudformation/ec2"
	"github.com/awslabs/goformation/v7/cloudformation/ecs"
	"github.com/awslabs/goformation/v7/cloudformation/iam"
	"github.com/awslabs/goformation/v7/cloudformation/logs"
	"github.com/shibstack/shibstack/internal/graph"
	"github.com/shibstack/shibstack/internal/types"
)

// Service runs the IdP container on the cluster. Both launch type shapes are
// present in the template behind IsFargate/IsEC2 conditions: an awsvpc task
// on Fargate with its own security group, or a bridge-mode task that rides
// the container instances' security group on EC2. Exactly one service
// materializes.
func Service(cfg Config) Stack {
	params := []graph.ParameterSpec{
		{Name: "EnvironmentName", Type: "String"},
		{Name: "LaunchType", Type: "String", Default: string(types.LaunchTypeFargate), HasDefault: true, AllowedValues: types.AllLaunchTypes()},
		{Name: "Cluster", Type: "String"},
		{Name: "TargetGroup", Type: "String"},
		{Name: "SourceSecurityGroup", Type: "String"},
		{Name: "PrivateSubnet1", Type: "String"},
		{Name: "PrivateSubnet2", Type: "String"},
		{Name: "VPC", Type: "String"},
		{
			Name: "CodeCommitRepoName", Type: "String",
			Default: "shibboleth-idp", HasDefault: true,
			AllowedPattern:        repoNamePattern,
			MaxLength:             100,
			ConstraintDescription: "must only contain letters, numbers, underscores, periods and dashes",
		},
		{Name: "SealerKeyArn", Type: "String"},
		{Name: "ParentDomain", Type: "String"},
		{Name: "FullyQualifiedDomainName", Type: "String"},
	}

	t := cloudformation.NewTemplate()
	t.Description = "ECS service and task definitions for the Shibboleth IdP, one per launch type"
	declareParameters(t, params)

	t.Conditions["IsFargate"] = cloudformation.Equals(cloudformation.Ref("LaunchType"), string(types.LaunchTypeFargate))
	t.Conditions["IsEC2"] = cloudformation.Equals(cloudformation.Ref("LaunchType"), string(types.LaunchTypeEC2))

	// Runtime access is the sealer key only. Everything else the IdP needs
	// is baked into the image by the build pipeline.
	t.Resources["TaskRole"] = &iam.Role{
		AssumeRolePolicyDocument: map[string]any{
			"Version": "2012-10-17",
			"Statement": []any{
				map[string]any{
					"Effect":    "Allow",
					"Principal": map[string]any{"Service": "ecs-tasks.amazonaws.com"},
					"Action":    "sts:AssumeRole",
				},
			},
		},
		Policies: []iam.Role_Policy{
			{
				PolicyName: "read-sealer-key",
				PolicyDocument: map[string]any{
					"Version": "2012-10-17",
					"Statement": []any{
						map[string]any{
							"Effect": "Allow",
							"Action": []any{
								"secretsmanager:GetResourcePolicy",
								"secretsmanager:GetSecretValue",
								"secretsmanager:DescribeSecret",
								"secretsmanager:ListSecretVersionIds",
							},
							"Resource": cloudformation.Ref("SealerKeyArn"),
						},
					},
				},
			},
		},
	}

	t.Resources["TaskExecutionRole"] = &iam.Role{
		AssumeRolePolicyDocument: map[string]any{
			"Version": "2012-10-17",
			"Statement": []any{
				map[string]any{
					"Effect":    "Allow",
					"Principal": map[string]any{"Service": "ecs-tasks.amazonaws.com"},
					"Action":    "sts:AssumeRole",
				},
			},
		},
		ManagedPolicyArns: []string{
			"arn:aws:iam::aws:policy/service-role/AmazonECSTaskExecutionRolePolicy",
		},
	}

	t.Resources["LogGroup"] = &logs.LogGroup{
		LogGroupName:    ptr.String(cloudformation.Sub("/ecs/${AWS::StackName}")),
		RetentionInDays: ptr.Int(30),
	}

	// The image URI mirrors what the pipeline pushes; the ECR repository is
	// named after the CodeCommit repository.
	imageURI := cloudformation.Sub("${AWS::AccountId}.dkr.ecr.${AWS::Region}.amazonaws.com/${CodeCommitRepoName}")

	containerDefinition := func(memory int) ecs.TaskDefinition_ContainerDefinition {
		return ecs.TaskDefinition_ContainerDefinition{
			Name:      types.ContainerName,
			Image:     imageURI,
			Essential: ptr.Bool(true),
			Memory:    ptr.Int(memory),
			PortMappings: []ecs.TaskDefinition_PortMapping{
				{
					ContainerPort: ptr.Int(types.ContainerPort),
					Protocol:      ptr.String("tcp"),
				},
			},
			Environment: []ecs.TaskDefinition_KeyValuePair{
				{Name: ptr.String(types.SealerKeyEnvVar), Value: cloudformation.RefPtr("SealerKeyArn")},
				{Name: ptr.String("PARENT_DOMAIN"), Value: cloudformation.RefPtr("ParentDomain")},
				{Name: ptr.String("FULLY_QUALIFIED_DOMAIN_NAME"), Value: cloudformation.RefPtr("FullyQualifiedDomainName")},
			},
			LogConfiguration: &ecs.TaskDefinition_LogConfiguration{
				LogDriver: "awslogs",
				Options: map[string]string{
					"awslogs-group":         cloudformation.Ref("LogGroup"),
					"awslogs-region":        cloudformation.Ref("AWS::Region"),
					"awslogs-stream-prefix": cloudformation.Ref("AWS::StackName"),
				},
			},
		}
	}

	t.Resources["FargateTaskDefinition"] = &ecs.TaskDefinition{
		AWSCloudFormationCondition: "IsFargate",
		Family:                     ptr.String(cloudformation.Sub("${EnvironmentName}-shibboleth-idp")),
		NetworkMode:                ptr.String("awsvpc"),
		RequiresCompatibilities:    []string{"FARGATE"},
		Cpu:                        ptr.String(strconv.Itoa(types.TaskCpu)),
		Memory:                     ptr.String(strconv.Itoa(types.FargateTaskMemory)),
		ExecutionRoleArn:           ptr.String(cloudformation.GetAtt("TaskExecutionRole", "Arn")),
		TaskRoleArn:                ptr.String(cloudformation.GetAtt("TaskRole", "Arn")),
		ContainerDefinitions: []ecs.TaskDefinition_ContainerDefinition{
			containerDefinition(types.FargateTaskMemory),
		},
	}

	// Bridge mode has no task-level sizing, so the CPU reservation rides on
	// the container definition instead.
	ec2Container := containerDefinition(types.EC2TaskMemory)
	ec2Container.Cpu = ptr.Int(types.TaskCpu)

	t.Resources["EC2TaskDefinition"] = &ecs.TaskDefinition{
		AWSCloudFormationCondition: "IsEC2",
		Family:                     ptr.String(cloudformation.Sub("${EnvironmentName}-shibboleth-idp")),
		NetworkMode:                ptr.String("bridge"),
		RequiresCompatibilities:    []string{"EC2"},
		ExecutionRoleArn:           ptr.String(cloudformation.GetAtt("TaskExecutionRole", "Arn")),
		TaskRoleArn:                ptr.String(cloudformation.GetAtt("TaskRole", "Arn")),
		ContainerDefinitions: []ecs.TaskDefinition_ContainerDefinition{
			ec2Container,
		},
	}

	t.Resources["FargateSecurityGroup"] = &ec2.SecurityGroup{
		AWSCloudFormationCondition: "IsFargate",
		GroupDescription:           "Allows traffic from the load balancer to the IdP tasks",
		VpcId:                      cloudformation.RefPtr("VPC"),
		SecurityGroupIngress: []ec2.SecurityGroup_Ingress{
			{
				IpProtocol:            "tcp",
				FromPort:              ptr.Int(types.ContainerPort),
				ToPort:                ptr.Int(types.ContainerPort),
				SourceSecurityGroupId: cloudformation.RefPtr("SourceSecurityGroup"),
			},
		},
	}

	t.Resources["FargateService"] = &ecs.Service{
		AWSCloudFormationCondition:    "IsFargate",
		ServiceName:                   ptr.String(cloudformation.Sub("${EnvironmentName}-" + types.ContainerName)),
		Cluster:                       cloudformation.RefPtr("Cluster"),
		LaunchType:                    ptr.String("FARGATE"),
		DesiredCount:                  ptr.Int(1),
		TaskDefinition:                cloudformation.RefPtr("FargateTaskDefinition"),
		HealthCheckGracePeriodSeconds: ptr.Int(180),
		NetworkConfiguration: &ecs.Service_NetworkConfiguration{
			AwsvpcConfiguration: &ecs.Service_AwsVpcConfiguration{
				SecurityGroups: []string{cloudformation.Ref("FargateSecurityGroup")},
				Subnets: []string{
					cloudformation.Ref("PrivateSubnet1"),
					cloudformation.Ref("PrivateSubnet2"),
				},
			},
		},
		LoadBalancers: []ecs.Service_LoadBalancer{
			{
				ContainerName:  ptr.String(types.ContainerName),
				ContainerPort:  ptr.Int(types.ContainerPort),
				TargetGroupArn: cloudformation.RefPtr("TargetGroup"),
			},
		},
	}

	t.Resources["EC2Service"] = &ecs.Service{
		AWSCloudFormationCondition:    "IsEC2",
		ServiceName:                   ptr.String(cloudformation.Sub("${EnvironmentName}-" + types.ContainerName)),
		Cluster:                       cloudformation.RefPtr("Cluster"),
		LaunchType:                    ptr.String("EC2"),
		DesiredCount:                  ptr.Int(1),
		TaskDefinition:                cloudformation.RefPtr("EC2TaskDefinition"),
		HealthCheckGracePeriodSeconds: ptr.Int(180),
		LoadBalancers: []ecs.Service_LoadBalancer{
			{
				ContainerName:  ptr.String(types.ContainerName),
				ContainerPort:  ptr.Int(types.ContainerPort),
				TargetGroupArn: cloudformation.RefPtr("TargetGroup"),
			},
		},
	}

	t.Outputs["Service"] = cloudformation.Output{
		Description: ptr.String("ARN of whichever service the launch type selected"),
		Value:       cloudformation.If("IsFargate", cloudformation.Ref("FargateService"), cloudformation.Ref("EC2Service")),
	}
	t.Outputs["TaskRole"] = cloudformation.Output{
		Description: ptr.String("ARN of the task role"),
		Value:       cloudformation.GetAtt("TaskRole", "Arn"),
	}
	t.Outputs["LogGroup"] = cloudformation.Output{
		Description: ptr.String("Log group the IdP container writes to"),
		Value:       cloudformation.Ref("LogGroup"),
	}

	return Stack{
		Def: graph.StackDef{
			Name:         StackService,
			TemplateFile: TemplateFileService,
			Parameters:   params,
			Outputs:      []string{"Service", "TaskRole", "LogGroup"},
			Bindings: map[string]graph.Binding{
				"EnvironmentName":          graph.Literal(cfg.EnvironmentName),
				"LaunchType":               graph.RootParam("LaunchType"),
				"Cluster":                  graph.OutputRef(StackCluster, "ClusterName"),
				"TargetGroup":              graph.OutputRef(StackLB, "TargetGroup"),
				"SourceSecurityGroup":      graph.OutputRef(StackLB, "SecurityGroup"),
				"PrivateSubnet1":           graph.OutputRef(StackVPC, "PrivateSubnet1"),
				"PrivateSubnet2":           graph.OutputRef(StackVPC, "PrivateSubnet2"),
				"VPC":                      graph.OutputRef(StackVPC, "VPC"),
				"CodeCommitRepoName":       graph.RootParam("CodeCommitRepoName"),
				"SealerKeyArn":             graph.OutputRef(StackSecrets, "SealerKeyArn"),
				"ParentDomain":             graph.RootParam("ParentDomain"),
				"FullyQualifiedDomainName": graph.RootParam("FullyQualifiedDomainName"),
			},
		},
		Template: t,
	}
}
