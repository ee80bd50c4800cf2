package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vmkdrivers/update-drivers/internal/branding"
)

func newVersionCommand(opts *rootOptions) *cobra.Command {
	var (
		versionShort bool
		versionJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			b := opts.build

			if versionShort {
				fmt.Fprintln(out, b.Version)
				return nil
			}

			if versionJSON {
				info := map[string]string{
					"version": b.Version,
					"commit":  b.Commit,
					"date":    b.Date,
				}
				data, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("marshaling version info: %w", err)
				}
				fmt.Fprintln(out, string(data))
				return nil
			}

			fmt.Fprintf(out, "%s version %s (commit: %s, built: %s)\n", branding.CLIName(), b.Version, b.Commit, b.Date)
			return nil
		},
	}
	cmd.Flags().BoolVar(&versionShort, "short", false, "Print version number only")
	cmd.Flags().BoolVar(&versionJSON, "json", false, "Print version info as JSON")
	return cmd
}
