package plan

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
	outputFile   string
)

func NewPlanCmd() *cobra.Command {
	planCmd := &cobra.Command{
		Use:           "plan",
		Short:         "Show the ordered instantiation plan",
		Long:          "Resolves the stack composition and prints the wave-ordered instantiation plan with every bound parameter, without touching AWS",
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PreRunE:       preRunPlan,
		RunE:          runPlan,
	}

	optionalFlags := pflag.NewFlagSet("optional", pflag.ExitOnError)
	optionalFlags.SortFlags = false

	optionalFlags.StringVar(&manifestPath, "manifest", "shibstack.yaml", "Path to the deployment manifest")
	optionalFlags.StringVar(&stackName, "stack-name", "", "Root stack name (overrides the manifest)")
	optionalFlags.StringVar(&region, "region", "", "AWS region (overrides the manifest)")
	optionalFlags.StringVar(&launchType, "launch-type", "", "ECS launch type: Fargate or EC2 (overrides the manifest)")
	optionalFlags.StringVar(&outputFile, "output-file", "", "Also write the raw markdown plan to this file")

	planCmd.Flags().AddFlagSet(optionalFlags)

	planCmd.SetUsageFunc(func(c *cobra.Command) error {
		fmt.Printf("%s\n\n", c.Short)
		fmt.Printf("Optional Flags:\n%s\n", optionalFlags.FlagUsages())
		fmt.Println("All flags can be provided via environment variables (uppercase, with underscores).")
		return nil
	})

	return planCmd
}

func preRunPlan(cmd *cobra.Command, args []string) error {
	return utils.BindEnvToFlags(cmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	opts, err := parsePlanOpts()
	if err != nil {
		return fmt.Errorf("failed to parse plan opts: %v", err)
	}

	planner := NewPlanner(*opts)

	if err := planner.Run(); err != nil {
		return fmt.Errorf("failed to plan: %v", err)
	}

	return nil
}

func parsePlanOpts() (*PlannerOpts, error) {
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

	return &PlannerOpts{
		Manifest:   manifest,
		OutputFile: outputFile,
	}, nil
}
