package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vmkdrivers/update-drivers/internal/locator"
)

func newScanCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List the archives an update pass would examine",
		Long: `Walk the scan root with the configured pattern and exclusion and print one
archive path per line. Nothing is extracted or modified.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			paths, err := locator.Find(cmd.Context(), locator.Options{
				Root:    cfg.Root,
				Pattern: cfg.Pattern,
				Exclude: cfg.Exclude,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range paths {
				fmt.Fprintln(out, p)
			}
			return nil
		},
	}
	addPipelineFlags(cmd)
	return cmd
}
