package destroy

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
)

func NewDestroyCmd() *cobra.Command {
	destroyCmd := &cobra.Command{
		Use:           "destroy",
		Short:         "Delete the deployed stack set",
		Long:          "Deletes the root CloudFormation stack, which tears down every nested stack, and records the outcome in the state file",
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PreRunE:       preRunDestroy,
		RunE:          runDestroy,
	}

	optionalFlags := pflag.NewFlagSet("optional", pflag.ExitOnError)
	optionalFlags.SortFlags = false

	optionalFlags.StringVar(&manifestPath, "manifest", "shibstack.yaml", "Path to the deployment manifest")
	optionalFlags.StringVar(&stackName, "stack-name", "", "Root stack name (overrides the manifest)")
	optionalFlags.StringVar(&region, "region", "", "AWS region (overrides the manifest)")

	destroyCmd.Flags().AddFlagSet(optionalFlags)

	destroyCmd.SetUsageFunc(func(c *cobra.Command) error {
		fmt.Printf("%s\n\n", c.Short)
		fmt.Printf("Optional Flags:\n%s\n", optionalFlags.FlagUsages())
		fmt.Println("All flags can be provided via environment variables (uppercase, with underscores).")
		return nil
	})

	return destroyCmd
}

func preRunDestroy(cmd *cobra.Command, args []string) error {
	return utils.BindEnvToFlags(cmd)
}

func runDestroy(cmd *cobra.Command, args []string) error {
	opts, err := parseDestroyOpts()
	if err != nil {
		return fmt.Errorf("failed to parse destroy opts: %v", err)
	}

	destroyer := NewDestroyer(*opts)

	if err := destroyer.Run(); err != nil {
		return fmt.Errorf("failed to destroy: %v", err)
	}

	return nil
}

func parseDestroyOpts() (*DestroyerOpts, error) {
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

	return &DestroyerOpts{
		Manifest: manifest,
	}, nil
}
