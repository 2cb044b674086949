package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tatenmitdaten/dbt-lambda/internal/config"
)

// NewParamsCommand creates the params command
func NewParamsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "params",
		Short: "Print the deployment parameters of an environment",
		Long: `Print the profile and parameter overrides that the samconfig
defines for an environment, one name=value per line.`,
		Args: cobra.NoArgs,
		RunE: runParams,
	}
	cmd.Flags().StringP("env", "e", "dev", "Target environment: dev, prod")
	cmd.Flags().String("file", "", "samconfig file (default: $SAM_CONFIG_FILE or src/samconfig.yaml)")
	return cmd
}

func runParams(cmd *cobra.Command, args []string) error {
	env, _ := cmd.Flags().GetString("env")
	file, _ := cmd.Flags().GetString("file")
	if err := setAppEnv(env); err != nil {
		return err
	}
	if file == "" {
		if err := setSamConfigDefault(); err != nil {
			return err
		}
	}

	params, err := config.LoadParameters(env, file)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", name, params[name])
	}
	return nil
}
