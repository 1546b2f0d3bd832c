package validate

import (
	"fmt"
	"os"

	"github.com/shibstack/shibstack/internal/types"
	"github.com/shibstack/shibstack/internal/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	manifestPath string
	stackName    string
	region       string
	launchType   string
	remote       bool
)

func NewValidateCmd() *cobra.Command {
	validateCmd := &cobra.Command{
		Use:           "validate",
		Short:         "Validate the stack composition and manifest",
		Long:          "Resolves the full stack composition against the manifest and reports every binding, constraint and dependency defect at once",
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PreRunE:       preRunValidate,
		RunE:          runValidate,
	}

	optionalFlags := pflag.NewFlagSet("optional", pflag.ExitOnError)
	optionalFlags.SortFlags = false

	optionalFlags.StringVar(&manifestPath, "manifest", "shibstack.yaml", "Path to the deployment manifest")
	optionalFlags.StringVar(&stackName, "stack-name", "", "Root stack name (overrides the manifest)")
	optionalFlags.StringVar(&region, "region", "", "AWS region (overrides the manifest)")
	optionalFlags.StringVar(&launchType, "launch-type", "", "ECS launch type: Fargate or EC2 (overrides the manifest)")
	optionalFlags.BoolVar(&remote, "remote", false, "Also run every synthesized template through the CloudFormation ValidateTemplate API")

	validateCmd.Flags().AddFlagSet(optionalFlags)

	validateCmd.SetUsageFunc(func(c *cobra.Command) error {
		fmt.Printf("%s\n\n", c.Short)
		fmt.Printf("Optional Flags:\n%s\n", optionalFlags.FlagUsages())
		fmt.Println("All flags can be provided via environment variables (uppercase, with underscores).")
		return nil
	})

	return validateCmd
}

func preRunValidate(cmd *cobra.Command, args []string) error {
	return utils.BindEnvToFlags(cmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	opts, err := parseValidateOpts()
	if err != nil {
		return fmt.Errorf("failed to parse validate opts: %v", err)
	}

	validator := NewValidator(*opts)

	if err := validator.Run(); err != nil {
		return fmt.Errorf("failed to validate: %v", err)
	}

	return nil
}

func parseValidateOpts() (*ValidatorOpts, error) {
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

	if !types.LaunchType(manifest.LaunchType).IsValid() {
		return nil, fmt.Errorf("invalid launch type %q, must be one of %v", manifest.LaunchType, types.AllLaunchTypes())
	}

	return &ValidatorOpts{
		Manifest: manifest,
		Remote:   remote,
	}, nil
}
