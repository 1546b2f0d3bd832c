package stacks

import (
	"github.com/aws/smithy-go/ptr"
	"github.com/awslabs/goformation/v7/cloudformation"
	"github.com/awslabs/goformation/v7/cloudformation/codebuild"
	"github.com/awslabs/goformation/v7/cloudformation/codecommit"
	"github.com/awslabs/goformation/v7/cloudformation/codepipeline"
	"github.com/awslabs/goformation/v7/cloudformation/ecr"
	"github.com/awslabs/goformation/v7/cloudformation/events"
	"github.com/awslabs/goformation/v7/cloudformation/iam"
	"github.com/awslabs/goformation/v7/cloudformation/s3"
	"github.com/shibstack/shibstack/internal/graph"
	"github.com/shibstack/shibstack/internal/types"
)

// buildSpec drives the CodeBuild stage: it reads the LDAP settings and
// certificate secrets, bakes them into the IdP image, pushes the image to
// ECR and emits the imagedefinitions.json the ECS deploy action consumes.
const buildSpec = `version: 0.2
phases:
  pre_build:
    commands:
      - aws ecr get-login-password --region $AWS_DEFAULT_REGION | docker login --username AWS --password-stdin $REPOSITORY_URI
      - IMAGE_TAG=$(echo $CODEBUILD_RESOLVED_SOURCE_VERSION | cut -c 1-7)
  build:
    commands:
      - >-
        docker build
        --build-arg LDAP_SETTINGS_SECRET_ID=$LDAP_SETTINGS_SECRET_ID
        --build-arg SIGNING_CERT_SECRET_ID=$SIGNING_CERT_SECRET_ID
        --build-arg BACKCHANNEL_CERT_SECRET_ID=$BACKCHANNEL_CERT_SECRET_ID
        --build-arg ENCRYPTION_CERT_SECRET_ID=$ENCRYPTION_CERT_SECRET_ID
        --build-arg PARENT_DOMAIN=$PARENT_DOMAIN
        --build-arg FULLY_QUALIFIED_DOMAIN_NAME=$FULLY_QUALIFIED_DOMAIN_NAME
        -t $REPOSITORY_URI:latest -t $REPOSITORY_URI:$IMAGE_TAG .
  post_build:
    commands:
      - docker push $REPOSITORY_URI:latest
      - docker push $REPOSITORY_URI:$IMAGE_TAG
      - printf '[{"name":"%s","imageUri":"%s"}]' "$CONTAINER_NAME" "$REPOSITORY_URI:$IMAGE_TAG" > imagedefinitions.json
artifacts:
  files:
    - imagedefinitions.json
`

// Pipeline provisions the image build and release chain: a CodeCommit
// repository holding the IdP configuration, an ECR repository for the built
// image, and a CodePipeline that rebuilds and redeploys the service on every
// push to main.
func Pipeline(cfg Config) Stack {
	params := []graph.ParameterSpec{
		{Name: "EnvironmentName", Type: "String"},
		{
			Name: "CodeCommitRepoName", Type: "String",
			Default: "shibboleth-idp", HasDefault: true,
			AllowedPattern:        repoNamePattern,
			MaxLength:             100,
			ConstraintDescription: "must only contain letters, numbers, underscores, periods and dashes",
		},
		{Name: "Cluster", Type: "String"},
		{Name: "Service", Type: "String"},
		{Name: "SealerKeyArn", Type: "String"},
		{Name: "LDAPSettingsArn", Type: "String"},
		{Name: "SigningCertArn", Type: "String"},
		{Name: "BackchannelCertArn", Type: "String"},
		{Name: "EncryptionCertArn", Type: "String"},
		{Name: "ParentDomain", Type: "String"},
		{Name: "FullyQualifiedDomainName", Type: "String"},
	}

	t := cloudformation.NewTemplate()
	t.Description = "Build and release pipeline for the Shibboleth IdP image: CodeCommit, ECR, CodeBuild and CodePipeline"
	declareParameters(t, params)

	t.Resources["CodeCommitRepo"] = &codecommit.Repository{
		RepositoryName:        cloudformation.Ref("CodeCommitRepoName"),
		RepositoryDescription: ptr.String("Shibboleth IdP configuration and container build context"),
	}

	t.Resources["EcrRepository"] = &ecr.Repository{
		RepositoryName: ptr.String(cloudformation.Ref("CodeCommitRepoName")),
	}

	t.Resources["ArtifactBucket"] = &s3.Bucket{
		VersioningConfiguration: &s3.Bucket_VersioningConfiguration{
			Status: "Enabled",
		},
	}

	t.Resources["CodeBuildRole"] = &iam.Role{
		AssumeRolePolicyDocument: map[string]any{
			"Version": "2012-10-17",
			"Statement": []any{
				map[string]any{
					"Effect":    "Allow",
					"Principal": map[string]any{"Service": "codebuild.amazonaws.com"},
					"Action":    "sts:AssumeRole",
				},
			},
		},
		Policies: []iam.Role_Policy{
			{
				PolicyName: "build-idp-image",
				PolicyDocument: map[string]any{
					"Version": "2012-10-17",
					"Statement": []any{
						map[string]any{
							"Effect": "Allow",
							"Action": []any{
								"logs:CreateLogGroup",
								"logs:CreateLogStream",
								"logs:PutLogEvents",
							},
							"Resource": "*",
						},
						map[string]any{
							"Effect":   "Allow",
							"Action":   "ecr:GetAuthorizationToken",
							"Resource": "*",
						},
						map[string]any{
							"Effect": "Allow",
							"Action": []any{
								"ecr:BatchCheckLayerAvailability",
								"ecr:CompleteLayerUpload",
								"ecr:InitiateLayerUpload",
								"ecr:PutImage",
								"ecr:UploadLayerPart",
								"ecr:BatchGetImage",
								"ecr:GetDownloadUrlForLayer",
							},
							"Resource": cloudformation.GetAtt("EcrRepository", "Arn"),
						},
						map[string]any{
							"Effect": "Allow",
							"Action": []any{
								"secretsmanager:GetSecretValue",
								"secretsmanager:DescribeSecret",
							},
							"Resource": []any{
								cloudformation.Ref("SealerKeyArn"),
								cloudformation.Ref("LDAPSettingsArn"),
								cloudformation.Ref("SigningCertArn"),
								cloudformation.Ref("BackchannelCertArn"),
								cloudformation.Ref("EncryptionCertArn"),
							},
						},
						map[string]any{
							"Effect": "Allow",
							"Action": []any{
								"s3:GetObject",
								"s3:GetObjectVersion",
								"s3:PutObject",
							},
							"Resource": cloudformation.Sub("${ArtifactBucket.Arn}/*"),
						},
					},
				},
			},
		},
	}

	t.Resources["BuildProject"] = &codebuild.Project{
		Name:        ptr.String(cloudformation.Sub("${EnvironmentName}-idp-image")),
		ServiceRole: cloudformation.GetAtt("CodeBuildRole", "Arn"),
		Artifacts: &codebuild.Project_Artifacts{
			Type: "CODEPIPELINE",
		},
		Source: &codebuild.Project_Source{
			Type:      "CODEPIPELINE",
			BuildSpec: ptr.String(buildSpec),
		},
		Environment: &codebuild.Project_Environment{
			ComputeType:    "BUILD_GENERAL1_SMALL",
			Image:          "aws/codebuild/standard:7.0",
			Type:           "LINUX_CONTAINER",
			PrivilegedMode: ptr.Bool(true),
			EnvironmentVariables: []codebuild.Project_EnvironmentVariable{
				{Name: "REPOSITORY_URI", Value: cloudformation.Sub("${AWS::AccountId}.dkr.ecr.${AWS::Region}.amazonaws.com/${EcrRepository}")},
				{Name: "CONTAINER_NAME", Value: types.ContainerName},
				{Name: "LDAP_SETTINGS_SECRET_ID", Value: cloudformation.Ref("LDAPSettingsArn")},
				{Name: "SIGNING_CERT_SECRET_ID", Value: cloudformation.Ref("SigningCertArn")},
				{Name: "BACKCHANNEL_CERT_SECRET_ID", Value: cloudformation.Ref("BackchannelCertArn")},
				{Name: "ENCRYPTION_CERT_SECRET_ID", Value: cloudformation.Ref("EncryptionCertArn")},
				{Name: "PARENT_DOMAIN", Value: cloudformation.Ref("ParentDomain")},
				{Name: "FULLY_QUALIFIED_DOMAIN_NAME", Value: cloudformation.Ref("FullyQualifiedDomainName")},
			},
		},
	}

	t.Resources["PipelineRole"] = &iam.Role{
		AssumeRolePolicyDocument: map[string]any{
			"Version": "2012-10-17",
			"Statement": []any{
				map[string]any{
					"Effect":    "Allow",
					"Principal": map[string]any{"Service": "codepipeline.amazonaws.com"},
					"Action":    "sts:AssumeRole",
				},
			},
		},
		Policies: []iam.Role_Policy{
			{
				PolicyName: "run-idp-pipeline",
				PolicyDocument: map[string]any{
					"Version": "2012-10-17",
					"Statement": []any{
						map[string]any{
							"Effect": "Allow",
							"Action": []any{
								"s3:GetObject",
								"s3:GetObjectVersion",
								"s3:GetBucketVersioning",
								"s3:PutObject",
							},
							"Resource": []any{
								cloudformation.GetAtt("ArtifactBucket", "Arn"),
								cloudformation.Sub("${ArtifactBucket.Arn}/*"),
							},
						},
						map[string]any{
							"Effect": "Allow",
							"Action": []any{
								"codecommit:GetBranch",
								"codecommit:GetCommit",
								"codecommit:UploadArchive",
								"codecommit:GetUploadArchiveStatus",
							},
							"Resource": cloudformation.GetAtt("CodeCommitRepo", "Arn"),
						},
						map[string]any{
							"Effect": "Allow",
							"Action": []any{
								"codebuild:StartBuild",
								"codebuild:BatchGetBuilds",
							},
							"Resource": cloudformation.GetAtt("BuildProject", "Arn"),
						},
						map[string]any{
							"Effect": "Allow",
							"Action": []any{
								"ecs:DescribeServices",
								"ecs:DescribeTaskDefinition",
								"ecs:DescribeTasks",
								"ecs:ListTasks",
								"ecs:RegisterTaskDefinition",
								"ecs:UpdateService",
							},
							"Resource": "*",
						},
						map[string]any{
							"Effect":    "Allow",
							"Action":    "iam:PassRole",
							"Resource":  "*",
							"Condition": map[string]any{"StringEqualsIfExists": map[string]any{"iam:PassedToService": "ecs-tasks.amazonaws.com"}},
						},
					},
				},
			},
		},
	}

	t.Resources["Pipeline"] = &codepipeline.Pipeline{
		Name:    ptr.String(cloudformation.Sub("${EnvironmentName}-idp")),
		RoleArn: cloudformation.GetAtt("PipelineRole", "Arn"),
		ArtifactStore: &codepipeline.Pipeline_ArtifactStore{
			Type:     "S3",
			Location: cloudformation.Ref("ArtifactBucket"),
		},
		Stages: []codepipeline.Pipeline_StageDeclaration{
			{
				Name: "Source",
				Actions: []codepipeline.Pipeline_ActionDeclaration{
					{
						Name: "Source",
						ActionTypeId: &codepipeline.Pipeline_ActionTypeId{
							Category: "Source",
							Owner:    "AWS",
							Provider: "CodeCommit",
							Version:  "1",
						},
						Configuration: map[string]any{
							"RepositoryName":       cloudformation.GetAtt("CodeCommitRepo", "Name"),
							"BranchName":           "main",
							"PollForSourceChanges": "false",
						},
						OutputArtifacts: []codepipeline.Pipeline_OutputArtifact{{Name: "Source"}},
					},
				},
			},
			{
				Name: "Build",
				Actions: []codepipeline.Pipeline_ActionDeclaration{
					{
						Name: "Build",
						ActionTypeId: &codepipeline.Pipeline_ActionTypeId{
							Category: "Build",
							Owner:    "AWS",
							Provider: "CodeBuild",
							Version:  "1",
						},
						Configuration: map[string]any{
							"ProjectName": cloudformation.Ref("BuildProject"),
						},
						InputArtifacts:  []codepipeline.Pipeline_InputArtifact{{Name: "Source"}},
						OutputArtifacts: []codepipeline.Pipeline_OutputArtifact{{Name: "Build"}},
					},
				},
			},
			{
				Name: "Deploy",
				Actions: []codepipeline.Pipeline_ActionDeclaration{
					{
						Name: "Deploy",
						ActionTypeId: &codepipeline.Pipeline_ActionTypeId{
							Category: "Deploy",
							Owner:    "AWS",
							Provider: "ECS",
							Version:  "1",
						},
						Configuration: map[string]any{
							"ClusterName": cloudformation.Ref("Cluster"),
							"ServiceName": cloudformation.Ref("Service"),
							"FileName":    "imagedefinitions.json",
						},
						InputArtifacts: []codepipeline.Pipeline_InputArtifact{{Name: "Build"}},
					},
				},
			},
		},
	}

	t.Resources["TriggerRole"] = &iam.Role{
		AssumeRolePolicyDocument: map[string]any{
			"Version": "2012-10-17",
			"Statement": []any{
				map[string]any{
					"Effect":    "Allow",
					"Principal": map[string]any{"Service": "events.amazonaws.com"},
					"Action":    "sts:AssumeRole",
				},
			},
		},
		Policies: []iam.Role_Policy{
			{
				PolicyName: "start-idp-pipeline",
				PolicyDocument: map[string]any{
					"Version": "2012-10-17",
					"Statement": []any{
						map[string]any{
							"Effect":   "Allow",
							"Action":   "codepipeline:StartPipelineExecution",
							"Resource": cloudformation.Sub("arn:aws:codepipeline:${AWS::Region}:${AWS::AccountId}:${Pipeline}"),
						},
					},
				},
			},
		},
	}

	t.Resources["TriggerRule"] = &events.Rule{
		Description: ptr.String("Starts the IdP pipeline on every push to main"),
		EventPattern: map[string]any{
			"source":      []any{"aws.codecommit"},
			"detail-type": []any{"CodeCommit Repository State Change"},
			"resources":   []any{cloudformation.GetAtt("CodeCommitRepo", "Arn")},
			"detail": map[string]any{
				"event":         []any{"referenceCreated", "referenceUpdated"},
				"referenceType": []any{"branch"},
				"referenceName": []any{"main"},
			},
		},
		Targets: []events.Rule_Target{
			{
				Arn:     cloudformation.Sub("arn:aws:codepipeline:${AWS::Region}:${AWS::AccountId}:${Pipeline}"),
				Id:      "codepipeline",
				RoleArn: ptr.String(cloudformation.GetAtt("TriggerRole", "Arn")),
			},
		},
	}

	t.Outputs["EcrRepositoryUri"] = cloudformation.Output{
		Description: ptr.String("URI of the image repository the service pulls from"),
		Value:       cloudformation.Sub("${AWS::AccountId}.dkr.ecr.${AWS::Region}.amazonaws.com/${EcrRepository}"),
	}
	t.Outputs["CodeCommitCloneUrlHttp"] = cloudformation.Output{
		Description: ptr.String("HTTPS clone URL of the configuration repository"),
		Value:       cloudformation.GetAtt("CodeCommitRepo", "CloneUrlHttp"),
	}
	t.Outputs["PipelineUrl"] = cloudformation.Output{
		Description: ptr.String("Console URL of the release pipeline"),
		Value:       cloudformation.Sub("https://console.aws.amazon.com/codepipeline/home?region=${AWS::Region}#/view/${Pipeline}"),
	}

	return Stack{
		Def: graph.StackDef{
			Name:         StackPipeline,
			TemplateFile: TemplateFilePipeline,
			Parameters:   params,
			Outputs: []string{
				"EcrRepositoryUri",
				"CodeCommitCloneUrlHttp",
				"PipelineUrl",
			},
			Bindings: map[string]graph.Binding{
				"EnvironmentName":          graph.Literal(cfg.EnvironmentName),
				"CodeCommitRepoName":       graph.RootParam("CodeCommitRepoName"),
				"Cluster":                  graph.OutputRef(StackCluster, "ClusterName"),
				"Service":                  graph.OutputRef(StackService, "Service"),
				"SealerKeyArn":             graph.OutputRef(StackSecrets, "SealerKeyArn"),
				"LDAPSettingsArn":          graph.OutputRef(StackSecrets, "LDAPSettingsArn"),
				"SigningCertArn":           graph.OutputRef(StackSecrets, "SigningCertArn"),
				"BackchannelCertArn":       graph.OutputRef(StackSecrets, "BackchannelCertArn"),
				"EncryptionCertArn":        graph.OutputRef(StackSecrets, "EncryptionCertArn"),
				"ParentDomain":             graph.RootParam("ParentDomain"),
				"FullyQualifiedDomainName": graph.RootParam("FullyQualifiedDomainName"),
			},
		},
		Template: t,
	}
}
