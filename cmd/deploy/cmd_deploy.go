package deploy

import (
	"fmt"
	"os"

	"github.com/shibstack/shibstack/internal/types"
	"github.com/shibstack/shibstack/internal/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	manifestPath   string
	stackName      string
	region         string
	launchType     string
	templateBucket string
)

func NewDeployCmd() *cobra.Command {
	deployCmd := &cobra.Command{
		Use:           "deploy",
		Short:         "Deploy the Shibboleth IdP stack set",
		Long:          "Synthesizes the templates, uploads them to the template bucket and creates or updates the root CloudFormation stack, streaming stack events until it finishes",
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PreRunE:       preRunDeploy,
		RunE:          runDeploy,
	}

	optionalFlags := pflag.NewFlagSet("optional", pflag.ExitOnError)
	optionalFlags.SortFlags = false

	optionalFlags.StringVar(&manifestPath, "manifest", "shibstack.yaml", "Path to the deployment manifest")
	optionalFlags.StringVar(&stackName, "stack-name", "", "Root stack name (overrides the manifest)")
	optionalFlags.StringVar(&region, "region", "", "AWS region (overrides the manifest)")
	optionalFlags.StringVar(&launchType, "launch-type", "", "ECS launch type: Fargate or EC2 (overrides the manifest)")
	optionalFlags.StringVar(&templateBucket, "template-bucket", "", "S3 bucket the templates are uploaded to (overrides the manifest)")

	deployCmd.Flags().AddFlagSet(optionalFlags)

	deployCmd.SetUsageFunc(func(c *cobra.Command) error {
		fmt.Printf("%s\n\n", c.Short)
		fmt.Printf("Optional Flags:\n%s\n", optionalFlags.FlagUsages())
		fmt.Println("All flags can be provided via environment variables (uppercase, with underscores).")
		return nil
	})

	return deployCmd
}

func preRunDeploy(cmd *cobra.Command, args []string) error {
	return utils.BindEnvToFlags(cmd)
}

func runDeploy(cmd *cobra.Command, args []string) error {
	opts, err := parseDeployOpts()
	if err != nil {
		return fmt.Errorf("failed to parse deploy opts: %v", err)
	}

	deployer := NewDeployer(*opts)

	if err := deployer.Run(); err != nil {
		return fmt.Errorf("failed to deploy: %v", err)
	}

	return nil
}

func parseDeployOpts() (*DeployerOpts, error) {
	manifest := types.NewManifest()

	if _, err := os.Stat(manifestPath); err == nil {
		manifest, err = types.LoadManifest(manifestPath)
		if err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to check manifest file: %v", err)
	}

	if stackName != "" {
		manifest.StackName = stackName
	}
	if region != "" {
		manifest.Region = region
	}
	if launchType != "" {
		manifest.LaunchType = launchType
	}
	if templateBucket != "" {
		manifest.TemplateBucket = templateBucket
	}

	if !types.LaunchType(manifest.LaunchType).IsValid() {
		return nil, fmt.Errorf("invalid launch type %q, must be one of %v", manifest.LaunchType, types.AllLaunchTypes())
	}
	if manifest.Region == "" {
		return nil, fmt.Errorf("region is required, set it in the manifest or via --region")
	}
	if manifest.TemplateBucket == "" {
		return nil, fmt.Errorf("template bucket is required, set it in the manifest or via --template-bucket")
	}

	return &DeployerOpts{
		Manifest: manifest,
	}, nil
}
