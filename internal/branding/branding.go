// Package branding provides compile-time identity values for the CLI.
//
// The values live in branding.yaml next to this file and are baked into the
// binary with //go:embed. Hard defaults apply when the file is empty.
package branding

import (
	_ "embed"
	"sync"

	"go.yaml.in/yaml/v3"
)

//go:embed branding.yaml
var rawBranding []byte

var (
	once     sync.Once
	defaults brand
)

type brand struct {
	CLIName     string `yaml:"cli_name"`
	DisplayName string `yaml:"display_name"`
	Description string `yaml:"description"`
	EnvPrefix   string `yaml:"env_prefix"`
	ConfigName  string `yaml:"config_name"`
}

func load() {
	once.Do(func() {
		defaults = brand{
			CLIName:     "update-drivers",
			DisplayName: "update-drivers",
			Description: "Replace driver modules inside ESXi .v0x archives in place",
			EnvPrefix:   "UPDATE_DRIVERS",
			ConfigName:  "update-drivers",
		}
		// Overlay with embedded YAML values.
		_ = yaml.Unmarshal(rawBranding, &defaults)
	})
}

// CLIName returns the root command name (e.g., "update-drivers").
func CLIName() string { load(); return defaults.CLIName }

// DisplayName returns the human-readable product name.
func DisplayName() string { load(); return defaults.DisplayName }

// Description returns the short product description.
func Description() string { load(); return defaults.Description }

// EnvPrefix returns the environment variable prefix (e.g., "UPDATE_DRIVERS").
func EnvPrefix() string { load(); return defaults.EnvPrefix }

// ConfigName returns the config file base name looked up in the working
// directory when --config is not given (e.g., "update-drivers" for
// update-drivers.yaml).
func ConfigName() string { load(); return defaults.ConfigName }
