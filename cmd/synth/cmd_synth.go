package synth

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
	outputDir    string
)

func NewSynthCmd() *cobra.Command {
	synthCmd := &cobra.Command{
		Use:           "synth",
		Short:         "Synthesize the CloudFormation templates",
		Long:          "Synthesizes the root template and the six nested templates into a local directory, validating the stack composition first",
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PreRunE:       preRunSynth,
		RunE:          runSynth,
	}

	optionalFlags := pflag.NewFlagSet("optional", pflag.ExitOnError)
	optionalFlags.SortFlags = false

	optionalFlags.StringVar(&manifestPath, "manifest", "shibstack.yaml", "Path to the deployment manifest")
	optionalFlags.StringVar(&stackName, "stack-name", "", "Root stack name (overrides the manifest)")
	optionalFlags.StringVar(&region, "region", "", "AWS region (overrides the manifest)")
	optionalFlags.StringVar(&launchType, "launch-type", "", "ECS launch type: Fargate or EC2 (overrides the manifest)")
	optionalFlags.StringVar(&outputDir, "output-dir", "templates", "Directory the templates are written to")

	synthCmd.Flags().AddFlagSet(optionalFlags)

	synthCmd.SetUsageFunc(func(c *cobra.Command) error {
		fmt.Printf("%s\n\n", c.Short)
		fmt.Printf("Optional Flags:\n%s\n", optionalFlags.FlagUsages())
		fmt.Println("All flags can be provided via environment variables (uppercase, with underscores).")
		return nil
	})

	return synthCmd
}

func preRunSynth(cmd *cobra.Command, args []string) error {
	return utils.BindEnvToFlags(cmd)
}

func runSynth(cmd *cobra.Command, args []string) error {
	opts, err := parseSynthOpts()
	if err != nil {
		return fmt.Errorf("failed to parse synth opts: %v", err)
	}

	synthesizer := NewSynthesizer(*opts)

	if err := synthesizer.Run(); err != nil {
		return fmt.Errorf("failed to synth: %v", err)
	}

	return nil
}

func parseSynthOpts() (*SynthesizerOpts, error) {
	manifest, err := loadManifest()
	if err != nil {
		return nil, err
	}

	return &SynthesizerOpts{
		Manifest:  manifest,
		OutputDir: outputDir,
	}, nil
}

// loadManifest reads the manifest when it exists and overlays the override
// flags, so a missing shibstack.yaml still works when everything is supplied
// through flags or the environment.
func loadManifest() (*types.Manifest, error) {
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

	return manifest, nil
}
