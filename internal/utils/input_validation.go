package utils

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// sets flag values from corresponding environment variables if flags weren't explicitly provided
func BindEnvToFlags(cmd *cobra.Command) error {
	v := viper.New()

	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		flagName := f.Name

		// Convert flag name to environment variable name
		// e.g., "stack-name" -> "STACK_NAME"
		envVarName := strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))

		v.BindEnv(flagName, envVarName)

		// If the flag wasn't explicitly set via command line
		// AND
		// there's a value available from environment,
		// THEN
		// set the flag value from the environment
		if !f.Changed && v.IsSet(flagName) {
			val := v.Get(flagName)
			cmd.Flags().Set(f.Name, fmt.Sprintf("%v", val))
		}
	})

	return nil
}
