// Package config resolves the effective run configuration from defaults, an
// optional YAML config file, UPDATE_DRIVERS_* environment variables and
// command-line flags. Config files are validated against an embedded JSON
// schema before they are merged.
package config
