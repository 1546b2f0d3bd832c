// Package stacks declares the nested CloudFormation stack set that runs a
// Shibboleth IdP on Amazon ECS: the six nested templates, the root template
// composing them, and the graph definitions the resolver validates before
// anything is deployed.
package stacks

import (
	"fmt"

	"github.com/awslabs/goformation/v7/cloudformation"
	"github.com/shibstack/shibstack/internal/graph"
	"github.com/shibstack/shibstack/internal/types"
)

// Stack names as they appear in the composition graph.
const (
	StackVPC      = "vpc"
	StackLB       = "load-balancer"
	StackCluster  = "ecs-cluster"
	StackSecrets  = "secrets"
	StackService  = "service"
	StackPipeline = "deployment-pipeline"
)

// Template object keys under the template folder. secrets.yml keeps its
// historical .yml extension.
const (
	TemplateFileVPC      = "vpc.yaml"
	TemplateFileLB       = "load-balancer.yaml"
	TemplateFileCluster  = "ecs-cluster.yaml"
	TemplateFileSecrets  = "secrets.yml"
	TemplateFileService  = "service.yaml"
	TemplateFilePipeline = "deployment-pipeline.yaml"
	TemplateFileRoot     = "root.yaml"
)

// Logical resource IDs of the nested stacks inside the root template.
var logicalIDs = map[string]string{
	StackVPC:      "VPC",
	StackLB:       "LoadBalancer",
	StackCluster:  "Cluster",
	StackSecrets:  "Secrets",
	StackService:  "Service",
	StackPipeline: "DeploymentPipeline",
}

// Parameter constraint patterns, kept identical to the source templates.
const (
	cidrPattern     = `(\d{1,3})\.(\d{1,3})\.(\d{1,3})\.(\d{1,3})/(\d{1,2})`
	repoNamePattern = `[A-Za-z0-9_.-]+`
)

// Config carries the compose-time values that are fixed before synthesis:
// the environment (root stack) name and the two availability zones the VPC
// subnets land in.
type Config struct {
	EnvironmentName   string
	AvailabilityZones [2]string
}

// NewConfig returns a Config with placeholder availability zones. Callers
// that know their region resolve real zone names through the EC2 API or the
// manifest before synthesis.
func NewConfig(environmentName string) Config {
	return Config{
		EnvironmentName:   environmentName,
		AvailabilityZones: [2]string{"us-east-1a", "us-east-1b"},
	}
}

// Stack pairs a graph definition with the template that implements it.
type Stack struct {
	Def      graph.StackDef
	Template *cloudformation.Template
}

// All returns the six nested stacks in composition order.
func All(cfg Config) []Stack {
	return []Stack{
		VPC(cfg),
		LoadBalancer(cfg),
		Cluster(cfg),
		Secrets(cfg),
		Service(cfg),
		Pipeline(cfg),
	}
}

// Compose builds the full composition graph: root parameters plus the six
// stack definitions with their bindings.
func Compose(cfg Config) (*graph.Graph, error) {
	g := graph.New()

	for _, p := range RootParameterSpecs() {
		g.AddRootParameter(p)
	}

	for _, s := range All(cfg) {
		if err := g.AddStack(s.Def); err != nil {
			return nil, fmt.Errorf("failed to compose stack set: %w", err)
		}
	}

	return g, nil
}

// RootParameterSpecs declares the deploy-time inputs of the root template,
// with the same constraints the source templates enforce.
func RootParameterSpecs() []graph.ParameterSpec {
	return []graph.ParameterSpec{
		{
			Name: "LaunchType", Type: "String",
			Default: string(types.LaunchTypeFargate), HasDefault: true,
			AllowedValues: types.AllLaunchTypes(),
		},
		{Name: "TemplateBucket", Type: "String"},
		{Name: "TemplateFolder", Type: "String", Default: "shibboleth-idp", HasDefault: true},
		{
			Name: "CodeCommitRepoName", Type: "String",
			Default: "shibboleth-idp", HasDefault: true,
			AllowedPattern:        repoNamePattern,
			MaxLength:             100,
			ConstraintDescription: "must only contain letters, numbers, underscores, periods and dashes",
		},
		{Name: "SealerKeyVersionCount", Type: "Number", Default: "10", HasDefault: true},
		{Name: "ParentDomain", Type: "String"},
		{Name: "FullyQualifiedDomainName", Type: "String"},
		{Name: "CertificateARN", Type: "String"},
		{
			Name: "VpcCIDR", Type: "String",
			Default: "10.215.0.0/16", HasDefault: true,
			AllowedPattern:        cidrPattern,
			ConstraintDescription: "must be a valid IPv4 CIDR block",
		},
		{
			Name: "PublicSubnet1CIDR", Type: "String",
			Default: "10.215.10.0/24", HasDefault: true,
			AllowedPattern:        cidrPattern,
			ConstraintDescription: "must be a valid IPv4 CIDR block",
		},
		{
			Name: "PublicSubnet2CIDR", Type: "String",
			Default: "10.215.20.0/24", HasDefault: true,
			AllowedPattern:        cidrPattern,
			ConstraintDescription: "must be a valid IPv4 CIDR block",
		},
		{
			Name: "PrivateSubnet1CIDR", Type: "String",
			Default: "10.215.30.0/24", HasDefault: true,
			AllowedPattern:        cidrPattern,
			ConstraintDescription: "must be a valid IPv4 CIDR block",
		},
		{
			Name: "PrivateSubnet2CIDR", Type: "String",
			Default: "10.215.40.0/24", HasDefault: true,
			AllowedPattern:        cidrPattern,
			ConstraintDescription: "must be a valid IPv4 CIDR block",
		},
		{Name: "LDAPUrl", Type: "String", Default: "ldaps://ad-ldap.example.com:636", HasDefault: true},
		{Name: "LDAPBaseDN", Type: "String", Default: "CN=Users,DC=example,DC=com", HasDefault: true},
		{Name: "LDAPReadOnlyUser", Type: "String", Default: "readonlyuser@example.com", HasDefault: true},
		{Name: "LDAPReadOnlyPassword", Type: "String", NoEcho: true},
	}
}

// templateURL is the HTTPS location of a nested template object once synth
// has uploaded it to the template bucket.
func templateURL(file string) string {
	return cloudformation.Sub("https://${TemplateBucket}.s3.amazonaws.com/${TemplateFolder}/" + file)
}

// newParameter converts a graph spec into its goformation equivalent so the
// emitted templates enforce exactly what the resolver checks.
func newParameter(p graph.ParameterSpec) cloudformation.Parameter {
	param := cloudformation.Parameter{
		Type: p.Type,
	}
	if p.HasDefault {
		param.Default = p.Default
	}
	if len(p.AllowedValues) > 0 {
		values := make([]any, len(p.AllowedValues))
		for i, v := range p.AllowedValues {
			values[i] = v
		}
		param.AllowedValues = values
	}
	if p.AllowedPattern != "" {
		pattern := p.AllowedPattern
		param.AllowedPattern = &pattern
	}
	if p.ConstraintDescription != "" {
		desc := p.ConstraintDescription
		param.ConstraintDescription = &desc
	}
	if p.MaxLength > 0 {
		max := p.MaxLength
		param.MaxLength = &max
	}
	if p.NoEcho {
		noEcho := true
		param.NoEcho = &noEcho
	}
	return param
}

// declareParameters installs every spec on the template.
func declareParameters(t *cloudformation.Template, specs []graph.ParameterSpec) {
	for _, p := range specs {
		t.Parameters[p.Name] = newParameter(p)
	}
}

// names pulls the parameter names out of a spec list.
func paramNames(specs []graph.ParameterSpec) []string {
	out := make([]string, len(specs))
	for i, p := range specs {
		out[i] = p.Name
	}
	return out
}
