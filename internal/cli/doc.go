// Package cli defines the Cobra command tree of update-drivers. The root
// command runs an update pass; subcommands expose the scanner, the effective
// configuration and build information. Commands only parse flags, build the
// logger and format output; the work happens in internal/pipeline.
package cli
