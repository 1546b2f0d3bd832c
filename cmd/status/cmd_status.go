package status

import (
	"fmt"
	"os"

	"github.com/shibstack/shibstack/internal/types"
	"github.com/shibstack/shibstack/internal/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	manifestPath  string
	stackName     string
	region        string
	verifySecrets bool
)

func NewStatusCmd() *cobra.Command {
	statusCmd := &cobra.Command{
		Use:           "status",
		Short:         "Show the state of the deployed stack",
		Long:          "Reports the CloudFormation status and outputs of the root stack, the tracked deployment lifecycle, and optionally verifies the Secrets Manager entries",
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PreRunE:       preRunStatus,
		RunE:          runStatus,
	}

	optionalFlags := pflag.NewFlagSet("optional", pflag.ExitOnError)
	optionalFlags.SortFlags = false

	optionalFlags.StringVar(&manifestPath, "manifest", "shibstack.yaml", "Path to the deployment manifest")
	optionalFlags.StringVar(&stackName, "stack-name", "", "Root stack name (overrides the manifest)")
	optionalFlags.StringVar(&region, "region", "", "AWS region (overrides the manifest)")
	optionalFlags.BoolVar(&verifySecrets, "verify-secrets", false, "Verify that every expected Secrets Manager entry exists")

	statusCmd.Flags().AddFlagSet(optionalFlags)

	statusCmd.SetUsageFunc(func(c *cobra.Command) error {
		fmt.Printf("%s\n\n", c.Short)
		fmt.Printf("Optional Flags:\n%s\n", optionalFlags.FlagUsages())
		fmt.Println("All flags can be provided via environment variables (uppercase, with underscores).")
		return nil
	})

	return statusCmd
}

func preRunStatus(cmd *cobra.Command, args []string) error {
	return utils.BindEnvToFlags(cmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	opts, err := parseStatusOpts()
	if err != nil {
		return fmt.Errorf("failed to parse status opts: %v", err)
	}

	reporter := NewStatusReporter(*opts)

	if err := reporter.Run(); err != nil {
		return fmt.Errorf("failed to report status: %v", err)
	}

	return nil
}

func parseStatusOpts() (*StatusReporterOpts, error) {
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

	if manifest.Region == "" {
		return nil, fmt.Errorf("region is required, set it in the manifest or via --region")
	}

	return &StatusReporterOpts{
		Manifest:      manifest,
		VerifySecrets: verifySecrets,
	}, nil
}
