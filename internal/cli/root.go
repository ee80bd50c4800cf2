package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/vmkdrivers/update-drivers/internal/branding"
	"github.com/vmkdrivers/update-drivers/internal/config"
	"github.com/vmkdrivers/update-drivers/internal/pipeline"
	"github.com/vmkdrivers/update-drivers/internal/vmtar"
)

// BuildInfo is injected via ldflags at build time.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// ErrArchivesFailed is returned in strict mode when any archive failed.
var ErrArchivesFailed = errors.New("one or more archives failed")

type rootOptions struct {
	configFile string
	logLevel   string
	build      BuildInfo
	stderr     io.Writer
	tool       vmtar.Converter // test hook; nil runs the vmtar binary
}

func newRootCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   branding.CLIName(),
		Short: branding.Description(),
		Long: branding.DisplayName() + ` finds ESXi driver archives (.v0x) under a scan root, replaces the
driver modules they contain with same-named files from a local drivers
directory, and writes the rebuilt archives back in place.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(cmd, opts)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "config file (default ./"+branding.ConfigName()+".yaml when present)")
	pf.StringVar(&opts.logLevel, "log-level", config.DefaultLogLevel, "log level: debug, info, warn, error")

	addPipelineFlags(cmd)

	cmd.AddCommand(newScanCommand(opts))
	cmd.AddCommand(newConfigCommand(opts))
	cmd.AddCommand(newVersionCommand(opts))
	return cmd
}

// addPipelineFlags registers the flags every command reading the effective
// configuration understands. Names match the keys in config.Load.
func addPipelineFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("root", config.DefaultRoot, "directory scanned for archives")
	f.String("pattern", config.DefaultPattern, "glob matched against archive base names")
	f.String("exclude", config.DefaultExclude, "directory name pruned from the scan")
	f.String("drivers", config.DefaultDrivers, "directory holding replacement driver modules")
	f.String("module-dir", config.DefaultModuleDir, "driver module directory inside an archive")
	f.String("vmtar", config.DefaultVmtar, "path of the vmtar tool")
	f.Duration("vmtar-timeout", config.DefaultVmtarTimeout, "limit for a single vmtar invocation (0 disables)")
	f.String("scratch", "", "parent of the per-run scratch directory (default: working directory)")
	f.Bool("keep-workspace", false, "leave the scratch directory in place after the run")
	f.Bool("dry-run", false, "substitute drivers but never rewrite an archive")
	f.Bool("strict", false, "exit non-zero when any archive fails")
	f.String("report", "", "write a YAML run report to this file")
}

// loadConfig builds the effective configuration from the command's flags.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolving working directory: %w", err)
	}
	// Cobra merges the persistent --log-level into Flags() while parsing.
	return config.Load(wd, opts.configFile, cmd.Flags())
}

func newLogger(w io.Writer, level string) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{
		Prefix:          branding.CLIName(),
		ReportTimestamp: true,
	})
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

func runUpdate(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	logger := newLogger(opts.stderr, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := pipeline.NewRunner(cfg, logger)
	if opts.tool != nil {
		runner.Tool = opts.tool
	}

	rep, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	if cfg.Strict && rep.Failed() > 0 {
		return fmt.Errorf("%w: %s", ErrArchivesFailed, rep.Summary())
	}
	return nil
}

// Execute runs the command tree and reports a failure on stderr. It returns
// the error so main can choose the exit status.
func Execute(version, commit, date string) error {
	opts := &rootOptions{
		build:  BuildInfo{Version: version, Commit: commit, Date: date},
		stderr: os.Stderr,
	}
	return execute(context.Background(), newRootCommand(opts), os.Args[1:], opts.stderr)
}

func execute(ctx context.Context, cmd *cobra.Command, args []string, stderr io.Writer) error {
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, pipeline.ErrOverrideDirMissing) {
		fmt.Fprintln(stderr, err)
		return err
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return err
}
