package stacks

import (
	"sort"

	"github.com/aws/smithy-go/ptr"
	"github.com/awslabs/goformation/v7/cloudformation"
	cfnstack "github.com/awslabs/goformation/v7/cloudformation/cloudformation"
	"github.com/shibstack/shibstack/internal/graph"
)

// Root builds the parent template from the composition graph itself: every
// nested stack resource, its parameter map and its DependsOn list are derived
// from the same bindings the resolver validates, so the emitted template and
// the planned composition cannot drift apart.
func Root(cfg Config) *cloudformation.Template {
	t := cloudformation.NewTemplate()
	t.Description = "Shibboleth IdP on Amazon ECS: root stack composing the network, load balancer, cluster, secrets, service and pipeline"
	declareParameters(t, RootParameterSpecs())

	for _, s := range All(cfg) {
		t.Resources[logicalIDs[s.Def.Name]] = nestedStackResource(s.Def)
	}

	t.Outputs["LoadBalancerDNSName"] = cloudformation.Output{
		Description: ptr.String("DNS name of the load balancer, target for the IdP CNAME"),
		Value:       nestedOutput(StackLB, "LoadBalancerDNSName"),
	}
	t.Outputs["CanonicalHostedZoneID"] = cloudformation.Output{
		Description: ptr.String("Hosted zone ID of the load balancer, for alias records"),
		Value:       nestedOutput(StackLB, "CanonicalHostedZoneID"),
	}
	t.Outputs["ServiceUrl"] = cloudformation.Output{
		Description: ptr.String("URL of the IdP once DNS points at the load balancer"),
		Value:       cloudformation.Sub("https://${FullyQualifiedDomainName}/idp/"),
	}
	t.Outputs["PipelineUrl"] = cloudformation.Output{
		Description: ptr.String("Console URL of the release pipeline"),
		Value:       nestedOutput(StackPipeline, "PipelineUrl"),
	}

	return t
}

// nestedStackResource converts a stack definition into the corresponding
// AWS::CloudFormation::Stack resource. Literal bindings become fixed values,
// root bindings become Refs, and output bindings become GetAtts on the
// producing nested stack, which also drives the DependsOn list.
func nestedStackResource(def graph.StackDef) *cfnstack.Stack {
	parameters := make(map[string]string, len(def.Bindings))
	dependsOn := map[string]bool{}

	for paramName, b := range def.Bindings {
		switch b.Kind {
		case graph.BindingLiteral:
			parameters[paramName] = b.Value
		case graph.BindingRootParam:
			parameters[paramName] = cloudformation.Ref(b.Value)
		case graph.BindingOutputRef:
			parameters[paramName] = nestedOutput(b.Stack, b.Output)
			dependsOn[logicalIDs[b.Stack]] = true
		}
	}

	var deps []string
	for id := range dependsOn {
		deps = append(deps, id)
	}
	sort.Strings(deps)

	return &cfnstack.Stack{
		AWSCloudFormationDependsOn: deps,
		TemplateURL:                templateURL(def.TemplateFile),
		Parameters:                 parameters,
		TimeoutInMinutes:           ptr.Int(60),
	}
}

// nestedOutput references an output of a nested stack from the root.
func nestedOutput(stackName, output string) string {
	return cloudformation.GetAtt(logicalIDs[stackName], "Outputs."+output)
}
