package stacks

import (
	"strings"
	"testing"

	"github.com/awslabs/goformation/v7/cloudformation"
	cfnstack "github.com/awslabs/goformation/v7/cloudformation/cloudformation"
	"github.com/awslabs/goformation/v7/cloudformation/ecs"
	"github.com/shibstack/shibstack/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRootValues() map[string]string {
	return map[string]string{
		"TemplateBucket":           "idp-templates",
		"ParentDomain":             "example.com",
		"FullyQualifiedDomainName": "sso.example.com",
		"CertificateARN":           "arn:aws:acm:us-east-1:123456789012:certificate/abc",
		"LDAPReadOnlyPassword":     "s3cret",
	}
}

func TestCompose_ResolvesCleanly(t *testing.T) {
	g, err := Compose(NewConfig("idp"))
	require.NoError(t, err)

	plan, err := g.Resolve(validRootValues())
	require.NoError(t, err)

	require.Len(t, plan.Stacks, 6)
	assert.Equal(t, [][]string{
		{StackSecrets, StackVPC},
		{StackLB},
		{StackCluster},
		{StackService},
		{StackPipeline},
	}, plan.Waves)
}

func TestCompose_PipelineDeploysAfterService(t *testing.T) {
	g, err := Compose(NewConfig("idp"))
	require.NoError(t, err)

	plan, err := g.Resolve(validRootValues())
	require.NoError(t, err)

	pipeline, ok := plan.Stack(StackPipeline)
	require.True(t, ok)
	assert.Contains(t, pipeline.DependsOn, StackService)

	service, ok := plan.Stack(StackService)
	require.True(t, ok)
	assert.NotContains(t, service.DependsOn, StackPipeline)

	found := false
	for _, p := range pipeline.Parameters {
		if p.Name == "Service" {
			found = true
			assert.True(t, p.Deferred)
			assert.Equal(t, StackService+"::Service", p.Value)
		}
	}
	assert.True(t, found)
}

func TestCompose_LDAPPasswordIsNoEcho(t *testing.T) {
	g, err := Compose(NewConfig("idp"))
	require.NoError(t, err)

	plan, err := g.Resolve(validRootValues())
	require.NoError(t, err)

	found := false
	for _, s := range plan.Stacks {
		for _, p := range s.Parameters {
			if p.Name == "LDAPReadOnlyPassword" {
				found = true
				assert.True(t, p.NoEcho, "stack %s leaks the LDAP password", s.Name)
			}
		}
	}
	assert.True(t, found)
}

func TestCompose_RejectsBadRootValues(t *testing.T) {
	tests := []struct {
		name        string
		override    map[string]string
		expectedErr string
	}{
		{
			name:        "missing_required_password",
			override:    map[string]string{"LDAPReadOnlyPassword": ""},
			expectedErr: "required root parameter has no value",
		},
		{
			name:        "malformed_vpc_cidr",
			override:    map[string]string{"VpcCIDR": "not-a-cidr"},
			expectedErr: "must be a valid IPv4 CIDR block",
		},
		{
			name:        "repo_name_with_spaces",
			override:    map[string]string{"CodeCommitRepoName": "my repo"},
			expectedErr: "must only contain letters, numbers, underscores, periods and dashes",
		},
		{
			name:        "repo_name_too_long",
			override:    map[string]string{"CodeCommitRepoName": strings.Repeat("a", 101)},
			expectedErr: "exceeds maximum length of 100",
		},
		{
			name:        "unknown_launch_type",
			override:    map[string]string{"LaunchType": "Lambda"},
			expectedErr: "not one of the allowed values",
		},
		{
			name:        "sealer_key_version_count_not_numeric",
			override:    map[string]string{"SealerKeyVersionCount": "many"},
			expectedErr: "is not a number",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Compose(NewConfig("idp"))
			require.NoError(t, err)

			values := validRootValues()
			for k, v := range tt.override {
				values[k] = v
			}

			_, err = g.Resolve(values)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectedErr)
		})
	}
}

func TestService_LaunchTypeShapes(t *testing.T) {
	stack := Service(NewConfig("idp"))
	tmpl := stack.Template

	assert.Contains(t, tmpl.Conditions, "IsFargate")
	assert.Contains(t, tmpl.Conditions, "IsEC2")

	fargate, ok := tmpl.Resources["FargateTaskDefinition"].(*ecs.TaskDefinition)
	require.True(t, ok)
	assert.Equal(t, "IsFargate", fargate.AWSCloudFormationCondition)
	assert.Equal(t, "awsvpc", *fargate.NetworkMode)
	assert.Equal(t, []string{"FARGATE"}, fargate.RequiresCompatibilities)
	assert.Equal(t, "2048", *fargate.Cpu)
	assert.Equal(t, "4096", *fargate.Memory)
	require.Len(t, fargate.ContainerDefinitions, 1)
	assert.Equal(t, types.ContainerName, fargate.ContainerDefinitions[0].Name)
	assert.Equal(t, 4096, *fargate.ContainerDefinitions[0].Memory)

	ec2Task, ok := tmpl.Resources["EC2TaskDefinition"].(*ecs.TaskDefinition)
	require.True(t, ok)
	assert.Equal(t, "IsEC2", ec2Task.AWSCloudFormationCondition)
	assert.Equal(t, "bridge", *ec2Task.NetworkMode)
	assert.Equal(t, []string{"EC2"}, ec2Task.RequiresCompatibilities)
	assert.Nil(t, ec2Task.Cpu)
	assert.Nil(t, ec2Task.Memory)
	require.Len(t, ec2Task.ContainerDefinitions, 1)
	assert.Equal(t, 3884, *ec2Task.ContainerDefinitions[0].Memory)
	// Bridge mode reserves CPU on the container, matching the Fargate
	// task-level 2048.
	assert.Equal(t, 2048, *ec2Task.ContainerDefinitions[0].Cpu)

	expectedImage := cloudformation.Sub("${AWS::AccountId}.dkr.ecr.${AWS::Region}.amazonaws.com/${CodeCommitRepoName}")
	assert.Equal(t, expectedImage, fargate.ContainerDefinitions[0].Image)
	assert.Equal(t, expectedImage, ec2Task.ContainerDefinitions[0].Image)
}

func TestService_FixedServiceNameMatchesPipelineTarget(t *testing.T) {
	stack := Service(NewConfig("idp"))

	expected := cloudformation.Sub("${EnvironmentName}-" + types.ContainerName)

	fargate, ok := stack.Template.Resources["FargateService"].(*ecs.Service)
	require.True(t, ok)
	assert.Equal(t, expected, *fargate.ServiceName)

	ec2Svc, ok := stack.Template.Resources["EC2Service"].(*ecs.Service)
	require.True(t, ok)
	assert.Equal(t, expected, *ec2Svc.ServiceName)
}

func TestTemplates_DeclareEveryContractParameter(t *testing.T) {
	for _, stack := range All(NewConfig("idp")) {
		for _, name := range paramNames(stack.Def.Parameters) {
			assert.Contains(t, stack.Template.Parameters, name,
				"stack %s does not declare %s", stack.Def.Name, name)
		}
	}
}

func TestCluster_ResolvesAmiThroughSSM(t *testing.T) {
	stack := Cluster(NewConfig("idp"))

	ami, ok := stack.Template.Parameters["ECSAMI"]
	require.True(t, ok)
	assert.Equal(t, "AWS::SSM::Parameter::Value<AWS::EC2::Image::Id>", ami.Type)

	// The AMI is template-internal and must not be part of the composition
	// contract, it resolves through its SSM default.
	assert.NotContains(t, paramNames(stack.Def.Parameters), "ECSAMI")
}

func TestRoot_DerivesNestedStacksFromBindings(t *testing.T) {
	cfg := NewConfig("idp")
	tmpl := Root(cfg)

	for _, s := range All(cfg) {
		assert.Contains(t, tmpl.Resources, logicalIDs[s.Def.Name])
	}

	service, ok := tmpl.Resources["Service"].(*cfnstack.Stack)
	require.True(t, ok)
	assert.Equal(t, []string{"Cluster", "LoadBalancer", "Secrets", "VPC"},
		service.AWSCloudFormationDependsOn)
	assert.Equal(t, templateURL(TemplateFileService), service.TemplateURL)

	assert.Equal(t, "idp", service.Parameters["EnvironmentName"])
	assert.Equal(t, cloudformation.Ref("LaunchType"), service.Parameters["LaunchType"])
	assert.Equal(t, cloudformation.Ref("CodeCommitRepoName"), service.Parameters["CodeCommitRepoName"])

	pipeline, ok := tmpl.Resources["DeploymentPipeline"].(*cfnstack.Stack)
	require.True(t, ok)
	assert.Contains(t, pipeline.AWSCloudFormationDependsOn, "Service")
	assert.Equal(t, cloudformation.GetAtt("Service", "Outputs.Service"),
		pipeline.Parameters["Service"])

	vpc, ok := tmpl.Resources["VPC"].(*cfnstack.Stack)
	require.True(t, ok)
	assert.Empty(t, vpc.AWSCloudFormationDependsOn)
	assert.Equal(t, cfg.AvailabilityZones[0], vpc.Parameters["AvailabilityZone1"])
}

func TestRoot_DeclaresRootParameters(t *testing.T) {
	tmpl := Root(NewConfig("idp"))

	for _, name := range paramNames(RootParameterSpecs()) {
		assert.Contains(t, tmpl.Parameters, name)
	}

	ldap, ok := tmpl.Parameters["LDAPReadOnlyPassword"]
	require.True(t, ok)
	require.NotNil(t, ldap.NoEcho)
	assert.True(t, *ldap.NoEcho)

	serviceURL, ok := tmpl.Outputs["ServiceUrl"]
	require.True(t, ok)
	assert.Equal(t, cloudformation.Sub("https://${FullyQualifiedDomainName}/idp/"), serviceURL.Value)

	assert.Contains(t, tmpl.Outputs, "LoadBalancerDNSName")
	assert.Contains(t, tmpl.Outputs, "PipelineUrl")
}
