package console

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
	port         string
)

func NewConsoleCmd() *cobra.Command {
	consoleCmd := &cobra.Command{
		Use:           "console",
		Short:         "Serve a local JSON API over the deployment",
		Long:          "Starts a local HTTP server exposing the stack composition, the CloudFormation status and outputs, and recent stack events as JSON",
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PreRunE:       preRunConsole,
		RunE:          runConsole,
	}

	optionalFlags := pflag.NewFlagSet("optional", pflag.ExitOnError)
	optionalFlags.SortFlags = false

	optionalFlags.StringVar(&manifestPath, "manifest", "shibstack.yaml", "Path to the deployment manifest")
	optionalFlags.StringVar(&stackName, "stack-name", "", "Root stack name (overrides the manifest)")
	optionalFlags.StringVar(&region, "region", "", "AWS region (overrides the manifest)")
	optionalFlags.StringVar(&port, "port", "8080", "Port the console listens on")

	consoleCmd.Flags().AddFlagSet(optionalFlags)

	consoleCmd.SetUsageFunc(func(c *cobra.Command) error {
		fmt.Printf("%s\n\n", c.Short)
		fmt.Printf("Optional Flags:\n%s\n", optionalFlags.FlagUsages())
		fmt.Println("All flags can be provided via environment variables (uppercase, with underscores).")
		return nil
	})

	return consoleCmd
}

func preRunConsole(cmd *cobra.Command, args []string) error {
	return utils.BindEnvToFlags(cmd)
}

func runConsole(cmd *cobra.Command, args []string) error {
	opts, err := parseConsoleOpts()
	if err != nil {
		return fmt.Errorf("failed to parse console opts: %v", err)
	}

	console := NewConsole(*opts)

	if err := console.Run(); err != nil {
		return fmt.Errorf("failed to run console: %v", err)
	}

	return nil
}

func parseConsoleOpts() (*ConsoleOpts, error) {
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

	return &ConsoleOpts{
		Manifest: manifest,
		Port:     port,
	}, nil
}
