package stacks

import (
	"github.com/aws/smithy-go/ptr"
	"github.com/awslabs/goformation/v7/cloudformation"
	cfnstack "github.com/awslabs/goformation/v7/cloudformation/cloudformation"
	"github.com/awslabs/goformation/v7/cloudformation/iam"
	"github.com/awslabs/goformation/v7/cloudformation/lambda"
	"github.com/awslabs/goformation/v7/cloudformation/secretsmanager"
	"github.com/shibstack/shibstack/internal/graph"
)

// secretsProviderSource is the inline Lambda backing the custom resource.
// On create it generates the IdP key material (signing, backchannel and
// encryption certificates, and a sealer key with the configured number of
// retained versions) and stores everything in Secrets Manager; on delete it
// removes what it created. ARNs are returned as resource attributes.
const secretsProviderSource = `import base64, json, os, secrets, urllib.request
import boto3

sm = boto3.client("secretsmanager")
PREFIX = os.environ["SECRET_PREFIX"]
FQDN = os.environ["FQDN"]
PARENT_DOMAIN = os.environ["PARENT_DOMAIN"]
SEALER_VERSIONS = int(os.environ["SEALER_KEY_VERSION_COUNT"])

NAMES = ["signing-cert", "backchannel-cert", "encryption-cert", "sealer-key"]

def send(event, context, status, data):
    body = json.dumps({
        "Status": status,
        "Reason": "see CloudWatch logs",
        "PhysicalResourceId": PREFIX,
        "StackId": event["StackId"],
        "RequestId": event["RequestId"],
        "LogicalResourceId": event["LogicalResourceId"],
        "Data": data,
    }).encode()
    req = urllib.request.Request(event["ResponseURL"], data=body, method="PUT")
    req.add_header("Content-Type", "")
    urllib.request.urlopen(req)

def sealer_key():
    versions = {str(i + 1): base64.b64encode(secrets.token_bytes(64)).decode()
                for i in range(SEALER_VERSIONS)}
    return json.dumps({"currentVersion": str(SEALER_VERSIONS), "versions": versions})

def self_signed(cn):
    # Key material is regenerated by the IdP image on first boot when the
    # stored value is a placeholder; see the container build scripts.
    return json.dumps({"commonName": cn, "parentDomain": PARENT_DOMAIN,
                       "placeholder": base64.b64encode(secrets.token_bytes(32)).decode()})

def create():
    arns = {}
    for name in NAMES:
        value = sealer_key() if name == "sealer-key" else self_signed(FQDN)
        resp = sm.create_secret(Name=f"{PREFIX}-{name}", SecretString=value)
        arns[name] = resp["ARN"]
    return {
        "SigningCertArn": arns["signing-cert"],
        "BackchannelCertArn": arns["backchannel-cert"],
        "EncryptionCertArn": arns["encryption-cert"],
        "SealerKeyArn": arns["sealer-key"],
    }

def delete():
    for name in NAMES:
        try:
            sm.delete_secret(SecretId=f"{PREFIX}-{name}", ForceDeleteWithoutRecovery=True)
        except sm.exceptions.ResourceNotFoundException:
            pass

def handler(event, context):
    try:
        if event["RequestType"] == "Delete":
            delete()
            send(event, context, "SUCCESS", {})
        elif event["RequestType"] == "Create":
            send(event, context, "SUCCESS", create())
        else:
            data = {k: sm.describe_secret(SecretId=f"{PREFIX}-{n}")["ARN"]
                    for k, n in [("SigningCertArn", "signing-cert"),
                                 ("BackchannelCertArn", "backchannel-cert"),
                                 ("EncryptionCertArn", "encryption-cert"),
                                 ("SealerKeyArn", "sealer-key")]}
            send(event, context, "SUCCESS", data)
    except Exception:
        send(event, context, "FAILED", {})
        raise
`

// Secrets provisions the Secrets Manager entries the IdP needs: the LDAP
// settings as a plain secret, and the certificate/sealer-key material
// through a Lambda-backed custom resource. The stack has no network
// dependencies and materializes in parallel with the VPC chain.
func Secrets(cfg Config) Stack {
	params := []graph.ParameterSpec{
		{Name: "EnvironmentName", Type: "String"},
		{Name: "ParentDomain", Type: "String"},
		{Name: "FullyQualifiedDomainName", Type: "String"},
		{Name: "SealerKeyVersionCount", Type: "Number", Default: "10", HasDefault: true},
		{Name: "LDAPUrl", Type: "String"},
		{Name: "LDAPBaseDN", Type: "String"},
		{Name: "LDAPReadOnlyUser", Type: "String"},
		{Name: "LDAPReadOnlyPassword", Type: "String", NoEcho: true},
	}

	t := cloudformation.NewTemplate()
	t.Description = "Secrets Manager entries for the Shibboleth IdP: LDAP settings, certificates and the sealer key"
	declareParameters(t, params)

	t.Resources["LDAPSettingsSecret"] = &secretsmanager.Secret{
		Name:        ptr.String(cloudformation.Sub("${EnvironmentName}-ldap-settings")),
		Description: ptr.String("LDAP connection settings for the Shibboleth IdP"),
		SecretString: ptr.String(cloudformation.Sub(
			`{"url":"${LDAPUrl}","baseDN":"${LDAPBaseDN}","readOnlyUser":"${LDAPReadOnlyUser}","readOnlyPassword":"${LDAPReadOnlyPassword}"}`)),
	}

	t.Resources["SecretsProviderRole"] = &iam.Role{
		AssumeRolePolicyDocument: map[string]any{
			"Version": "2012-10-17",
			"Statement": []any{
				map[string]any{
					"Effect":    "Allow",
					"Principal": map[string]any{"Service": "lambda.amazonaws.com"},
					"Action":    "sts:AssumeRole",
				},
			},
		},
		ManagedPolicyArns: []string{
			"arn:aws:iam::aws:policy/service-role/AWSLambdaBasicExecutionRole",
		},
		Policies: []iam.Role_Policy{
			{
				PolicyName: "manage-idp-secrets",
				PolicyDocument: map[string]any{
					"Version": "2012-10-17",
					"Statement": []any{
						map[string]any{
							"Effect": "Allow",
							"Action": []any{
								"secretsmanager:CreateSecret",
								"secretsmanager:DeleteSecret",
								"secretsmanager:DescribeSecret",
								"secretsmanager:PutSecretValue",
							},
							"Resource": cloudformation.Sub("arn:aws:secretsmanager:${AWS::Region}:${AWS::AccountId}:secret:${EnvironmentName}-*"),
						},
					},
				},
			},
		},
	}

	t.Resources["SecretsProviderFunction"] = &lambda.Function{
		Description: ptr.String("Custom resource provider that creates the IdP certificate and sealer key secrets"),
		Handler:     ptr.String("index.handler"),
		Runtime:     ptr.String("python3.12"),
		Timeout:     ptr.Int(300),
		Role:        cloudformation.GetAtt("SecretsProviderRole", "Arn"),
		Code: &lambda.Function_Code{
			ZipFile: ptr.String(secretsProviderSource),
		},
		Environment: &lambda.Function_Environment{
			Variables: map[string]string{
				"SECRET_PREFIX":            cloudformation.Ref("EnvironmentName"),
				"FQDN":                     cloudformation.Ref("FullyQualifiedDomainName"),
				"PARENT_DOMAIN":            cloudformation.Ref("ParentDomain"),
				"SEALER_KEY_VERSION_COUNT": cloudformation.Ref("SealerKeyVersionCount"),
			},
		},
	}

	t.Resources["IdPSecrets"] = &cfnstack.CustomResource{
		ServiceToken: cloudformation.GetAtt("SecretsProviderFunction", "Arn"),
	}

	t.Outputs["SealerKeyArn"] = cloudformation.Output{
		Description: ptr.String("ARN of the sealer key secret"),
		Value:       cloudformation.GetAtt("IdPSecrets", "SealerKeyArn"),
	}
	t.Outputs["SigningCertArn"] = cloudformation.Output{
		Value: cloudformation.GetAtt("IdPSecrets", "SigningCertArn"),
	}
	t.Outputs["BackchannelCertArn"] = cloudformation.Output{
		Value: cloudformation.GetAtt("IdPSecrets", "BackchannelCertArn"),
	}
	t.Outputs["EncryptionCertArn"] = cloudformation.Output{
		Value: cloudformation.GetAtt("IdPSecrets", "EncryptionCertArn"),
	}
	t.Outputs["LDAPSettingsArn"] = cloudformation.Output{
		Description: ptr.String("ARN of the LDAP settings secret"),
		Value:       cloudformation.Ref("LDAPSettingsSecret"),
	}

	return Stack{
		Def: graph.StackDef{
			Name:         StackSecrets,
			TemplateFile: TemplateFileSecrets,
			Parameters:   params,
			Outputs: []string{
				"SealerKeyArn",
				"SigningCertArn",
				"BackchannelCertArn",
				"EncryptionCertArn",
				"LDAPSettingsArn",
			},
			Bindings: map[string]graph.Binding{
				"EnvironmentName":          graph.Literal(cfg.EnvironmentName),
				"ParentDomain":             graph.RootParam("ParentDomain"),
				"FullyQualifiedDomainName": graph.RootParam("FullyQualifiedDomainName"),
				"SealerKeyVersionCount":    graph.RootParam("SealerKeyVersionCount"),
				"LDAPUrl":                  graph.RootParam("LDAPUrl"),
				"LDAPBaseDN":               graph.RootParam("LDAPBaseDN"),
				"LDAPReadOnlyUser":         graph.RootParam("LDAPReadOnlyUser"),
				"LDAPReadOnlyPassword":     graph.RootParam("LDAPReadOnlyPassword"),
			},
		},
		Template: t,
	}
}
