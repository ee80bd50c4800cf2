package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/vmkdrivers/update-drivers/internal/branding"
	"go.yaml.in/yaml/v3"
)

const fileType = "yaml"

// Default values matching the behaviour of a run with no config at all.
const (
	DefaultRoot            = "/vmfs"
	DefaultPattern         = "*.v0*"
	DefaultExclude         = "temp"
	DefaultDrivers         = "drivers"
	DefaultModuleDir       = "usr/lib/vmware/vmkmod"
	DefaultVmtar           = "/bin/vmtar"
	DefaultVmtarTimeout    = 10 * time.Minute
	DefaultSignatureLength = 284
	DefaultLogLevel        = "info"
)

// SignedArchive describes how a signed archive base name is unwrapped.
type SignedArchive struct {
	Name             string `mapstructure:"name" yaml:"name"`
	StripSignature   bool   `mapstructure:"strip_signature" yaml:"strip_signature"`
	SignatureLength  int64  `mapstructure:"signature_length" yaml:"signature_length"`
	InnerCompression string `mapstructure:"inner_compression" yaml:"inner_compression,omitempty"`
}

// Config is the effective configuration of a run. Paths are absolute after Load.
type Config struct {
	Root           string          `mapstructure:"root" yaml:"root"`
	Pattern        string          `mapstructure:"pattern" yaml:"pattern"`
	Exclude        string          `mapstructure:"exclude" yaml:"exclude"`
	Drivers        string          `mapstructure:"drivers" yaml:"drivers"`
	ModuleDir      string          `mapstructure:"module_dir" yaml:"module_dir"`
	Vmtar          string          `mapstructure:"vmtar" yaml:"vmtar"`
	VmtarTimeout   time.Duration   `mapstructure:"vmtar_timeout" yaml:"vmtar_timeout"`
	Scratch        string          `mapstructure:"scratch" yaml:"scratch"`
	KeepWorkspace  bool            `mapstructure:"keep_workspace" yaml:"keep_workspace"`
	DryRun         bool            `mapstructure:"dry_run" yaml:"dry_run"`
	Strict         bool            `mapstructure:"strict" yaml:"strict"`
	Report         string          `mapstructure:"report" yaml:"report,omitempty"`
	LogLevel       string          `mapstructure:"log_level" yaml:"log_level"`
	SignedArchives []SignedArchive `mapstructure:"signed_archives" yaml:"signed_archives"`
}

// flagKeys maps CLI flag names to config keys. Flags missing from the
// FlagSet passed to Load are skipped.
var flagKeys = map[string]string{
	"root":           "root",
	"pattern":        "pattern",
	"exclude":        "exclude",
	"drivers":        "drivers",
	"module-dir":     "module_dir",
	"vmtar":          "vmtar",
	"vmtar-timeout":  "vmtar_timeout",
	"scratch":        "scratch",
	"keep-workspace": "keep_workspace",
	"dry-run":        "dry_run",
	"strict":         "strict",
	"report":         "report",
	"log-level":      "log_level",
}

// DefaultSignedArchives returns the signature table used when none is configured.
func DefaultSignedArchives() []SignedArchive {
	return []SignedArchive{
		{Name: "s.v00", StripSignature: true, SignatureLength: DefaultSignatureLength, InnerCompression: "xz"},
		{Name: "sb.v00", StripSignature: true, SignatureLength: DefaultSignatureLength, InnerCompression: "xz"},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("root", DefaultRoot)
	v.SetDefault("pattern", DefaultPattern)
	v.SetDefault("exclude", DefaultExclude)
	v.SetDefault("drivers", DefaultDrivers)
	v.SetDefault("module_dir", DefaultModuleDir)
	v.SetDefault("vmtar", DefaultVmtar)
	v.SetDefault("vmtar_timeout", DefaultVmtarTimeout)
	v.SetDefault("scratch", "")
	v.SetDefault("keep_workspace", false)
	v.SetDefault("dry_run", false)
	v.SetDefault("strict", false)
	v.SetDefault("report", "")
	v.SetDefault("log_level", DefaultLogLevel)

	defs := DefaultSignedArchives()
	table := make([]map[string]interface{}, 0, len(defs))
	for _, sa := range defs {
		table = append(table, map[string]interface{}{
			"name":              sa.Name,
			"strip_signature":   sa.StripSignature,
			"signature_length":  sa.SignatureLength,
			"inner_compression": sa.InnerCompression,
		})
	}
	v.SetDefault("signed_archives", table)
}

// Load builds the effective configuration. configFile may be empty, in which
// case <config name>.yaml in workDir is used when it exists. flags may be nil.
// Relative paths are resolved against workDir.
func Load(workDir, configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(branding.EnvPrefix())
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile == "" {
		candidate := filepath.Join(workDir, branding.ConfigName()+"."+fileType)
		if _, err := os.Stat(candidate); err == nil {
			configFile = candidate
		}
	} else if !filepath.IsAbs(configFile) {
		configFile = filepath.Join(workDir, configFile)
	}

	if configFile != "" {
		result, err := ValidateFile(configFile)
		if err != nil {
			return nil, err
		}
		if !result.Valid {
			return nil, &SchemaError{Path: configFile, Issues: result.Issues}
		}
		v.SetConfigFile(configFile)
		v.SetConfigType(fileType)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configFile, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("binding flag --%s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}

	cfg.resolvePaths(workDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolvePaths(workDir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(workDir, p)
	}
	c.Root = abs(c.Root)
	c.Drivers = abs(c.Drivers)
	if c.Scratch == "" {
		c.Scratch = workDir
	}
	c.Scratch = abs(c.Scratch)
	c.Report = abs(c.Report)
	c.ModuleDir = filepath.Clean(c.ModuleDir)
}

// Validate checks semantic constraints the schema cannot express.
func (c *Config) Validate() error {
	var errs []error
	if c.Root == "" {
		errs = append(errs, errors.New("root must not be empty"))
	}
	if _, err := filepath.Match(c.Pattern, ""); err != nil || c.Pattern == "" {
		errs = append(errs, fmt.Errorf("pattern %q is not a valid glob", c.Pattern))
	}
	if c.Exclude == "" || strings.ContainsRune(c.Exclude, filepath.Separator) {
		errs = append(errs, fmt.Errorf("exclude %q must be a single directory name", c.Exclude))
	}
	if filepath.IsAbs(c.ModuleDir) || c.ModuleDir == "." || strings.HasPrefix(c.ModuleDir, "..") {
		errs = append(errs, fmt.Errorf("module_dir %q must be relative to the archive root", c.ModuleDir))
	}
	if c.Vmtar == "" {
		errs = append(errs, errors.New("vmtar must not be empty"))
	}
	if c.VmtarTimeout < 0 {
		errs = append(errs, fmt.Errorf("vmtar_timeout %s must not be negative", c.VmtarTimeout))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q must be one of debug, info, warn, error", c.LogLevel))
	}

	seen := make(map[string]bool, len(c.SignedArchives))
	for _, sa := range c.SignedArchives {
		if sa.Name == "" || strings.ContainsAny(sa.Name, `/\`) {
			errs = append(errs, fmt.Errorf("signed archive name %q must be a base name", sa.Name))
		}
		if seen[sa.Name] {
			errs = append(errs, fmt.Errorf("signed archive %q listed twice", sa.Name))
		}
		seen[sa.Name] = true
		if sa.StripSignature && sa.SignatureLength <= 0 {
			errs = append(errs, fmt.Errorf("signed archive %q: signature_length must be positive", sa.Name))
		}
		switch sa.InnerCompression {
		case "", "xz", "gzip", "zstd":
		default:
			errs = append(errs, fmt.Errorf("signed archive %q: unknown inner_compression %q", sa.Name, sa.InnerCompression))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// SignatureTable indexes the signed archive entries by base name. An entry
// without inner_compression defaults to xz.
func (c *Config) SignatureTable() map[string]SignedArchive {
	table := make(map[string]SignedArchive, len(c.SignedArchives))
	for _, sa := range c.SignedArchives {
		if sa.InnerCompression == "" {
			sa.InnerCompression = "xz"
		}
		table[sa.Name] = sa
	}
	return table
}

// YAML renders the configuration the way a config file would express it.
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshaling configuration: %w", err)
	}
	return out, nil
}
