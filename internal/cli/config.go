package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vmkdrivers/update-drivers/internal/config"
)

func newConfigCommand(opts *rootOptions) *cobra.Command {
	var validate string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration an update pass would use, after merging defaults,
the config file, UPDATE_DRIVERS_* environment variables and flags.

With --validate, check a config file against the embedded schema instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if validate != "" {
				result, err := config.ValidateFile(validate)
				if err != nil {
					return err
				}
				if !result.Valid {
					return &config.SchemaError{Path: validate, Issues: result.Issues}
				}
				fmt.Fprintf(out, "%s is valid\n", validate)
				return nil
			}

			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			data, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = out.Write(data)
			return err
		},
	}
	cmd.Flags().StringVar(&validate, "validate", "", "validate this config file and exit")
	addPipelineFlags(cmd)
	return cmd
}
