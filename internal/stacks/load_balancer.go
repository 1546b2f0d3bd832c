package stacks

import (
	"github.com/aws/smithy-go/ptr"
	"github.com/awslabs/goformation/v7/cloudformation"
	"github.com/awslabs/goformation/v7/cloudformation/ec2"
	"github.com/awslabs/goformation/v7/cloudformation/elasticloadbalancingv2"
	"github.com/awslabs/goformation/v7/cloudformation/tags"
	"github.com/shibstack/shibstack/internal/graph"
	"github.com/shibstack/shibstack/internal/types"
)

// LoadBalancer fronts the IdP service: an internet-facing ALB on the public
// subnets with an HTTPS listener terminating on the supplied ACM
// certificate, forwarding to a target group that health checks the IdP
// status endpoint.
func LoadBalancer(cfg Config) Stack {
	params := []graph.ParameterSpec{
		{Name: "EnvironmentName", Type: "String"},
		{Name: "VPC", Type: "String"},
		{Name: "PublicSubnet1", Type: "String"},
		{Name: "PublicSubnet2", Type: "String"},
		{Name: "CertificateARN", Type: "String"},
		{Name: "LaunchType", Type: "String", Default: string(types.LaunchTypeFargate), HasDefault: true, AllowedValues: types.AllLaunchTypes()},
	}

	t := cloudformation.NewTemplate()
	t.Description = "Application load balancer for the Shibboleth IdP: security group, HTTPS listener and target group"
	declareParameters(t, params)

	// awsvpc tasks register by IP, bridge-mode tasks by instance.
	t.Conditions["IsFargate"] = cloudformation.Equals(cloudformation.Ref("LaunchType"), string(types.LaunchTypeFargate))

	t.Resources["SecurityGroup"] = &ec2.SecurityGroup{
		GroupDescription: "Allows inbound HTTPS to the IdP load balancer",
		VpcId:            cloudformation.RefPtr("VPC"),
		SecurityGroupIngress: []ec2.SecurityGroup_Ingress{
			{
				IpProtocol: "tcp",
				FromPort:   ptr.Int(types.ContainerPort),
				ToPort:     ptr.Int(types.ContainerPort),
				CidrIp:     ptr.String("0.0.0.0/0"),
			},
		},
		Tags: []tags.Tag{{Key: "Name", Value: cloudformation.Sub("${EnvironmentName}-alb-sg")}},
	}

	t.Resources["LoadBalancer"] = &elasticloadbalancingv2.LoadBalancer{
		Scheme: ptr.String("internet-facing"),
		Subnets: []string{
			cloudformation.Ref("PublicSubnet1"),
			cloudformation.Ref("PublicSubnet2"),
		},
		SecurityGroups: []string{cloudformation.Ref("SecurityGroup")},
		Tags:           []tags.Tag{{Key: "Name", Value: cloudformation.Sub("${EnvironmentName}-alb")}},
	}

	t.Resources["TargetGroup"] = &elasticloadbalancingv2.TargetGroup{
		VpcId:                      cloudformation.RefPtr("VPC"),
		Port:                       ptr.Int(types.ContainerPort),
		Protocol:                   ptr.String("HTTPS"),
		TargetType:                 ptr.String(cloudformation.If("IsFargate", "ip", "instance")),
		HealthCheckPath:            ptr.String("/idp/status"),
		HealthCheckProtocol:        ptr.String("HTTPS"),
		HealthCheckIntervalSeconds: ptr.Int(30),
		HealthyThresholdCount:      ptr.Int(2),
		UnhealthyThresholdCount:    ptr.Int(5),
		TargetGroupAttributes: []elasticloadbalancingv2.TargetGroup_TargetGroupAttribute{
			{Key: ptr.String("deregistration_delay.timeout_seconds"), Value: ptr.String("30")},
			{Key: ptr.String("stickiness.enabled"), Value: ptr.String("true")},
		},
	}

	t.Resources["HttpsListener"] = &elasticloadbalancingv2.Listener{
		LoadBalancerArn: cloudformation.Ref("LoadBalancer"),
		Port:            ptr.Int(types.ContainerPort),
		Protocol:        ptr.String("HTTPS"),
		Certificates: []elasticloadbalancingv2.Listener_Certificate{
			{CertificateArn: cloudformation.RefPtr("CertificateARN")},
		},
		DefaultActions: []elasticloadbalancingv2.Listener_Action{
			{
				Type:           "forward",
				TargetGroupArn: cloudformation.RefPtr("TargetGroup"),
			},
		},
	}

	t.Outputs["LoadBalancerDNSName"] = cloudformation.Output{
		Description: ptr.String("DNS name of the load balancer, target for the IdP CNAME"),
		Value:       cloudformation.GetAtt("LoadBalancer", "DNSName"),
	}
	t.Outputs["CanonicalHostedZoneID"] = cloudformation.Output{
		Description: ptr.String("Hosted zone ID of the load balancer, for alias records"),
		Value:       cloudformation.GetAtt("LoadBalancer", "CanonicalHostedZoneID"),
	}
	t.Outputs["LoadBalancerArn"] = cloudformation.Output{
		Value: cloudformation.Ref("LoadBalancer"),
	}
	t.Outputs["SecurityGroup"] = cloudformation.Output{
		Description: ptr.String("Security group attached to the load balancer"),
		Value:       cloudformation.Ref("SecurityGroup"),
	}
	t.Outputs["TargetGroup"] = cloudformation.Output{
		Description: ptr.String("Target group the IdP service registers into"),
		Value:       cloudformation.Ref("TargetGroup"),
	}

	return Stack{
		Def: graph.StackDef{
			Name:         StackLB,
			TemplateFile: TemplateFileLB,
			Parameters:   params,
			Outputs: []string{
				"LoadBalancerDNSName",
				"CanonicalHostedZoneID",
				"LoadBalancerArn",
				"SecurityGroup",
				"TargetGroup",
			},
			Bindings: map[string]graph.Binding{
				"EnvironmentName": graph.Literal(cfg.EnvironmentName),
				"VPC":             graph.OutputRef(StackVPC, "VPC"),
				"PublicSubnet1":   graph.OutputRef(StackVPC, "PublicSubnet1"),
				"PublicSubnet2":   graph.OutputRef(StackVPC, "PublicSubnet2"),
				"CertificateARN":  graph.RootParam("CertificateARN"),
				"LaunchType":      graph.RootParam("LaunchType"),
			},
		},
		Template: t,
	}
}
