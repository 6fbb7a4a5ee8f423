// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/invowk/realmbridge/internal/cueutil"
	"github.com/invowk/realmbridge/internal/issue"

	"cuelang.org/go/cue"
	"github.com/spf13/viper"
)

const (
	// AppName is the application name.
	AppName = "realmbridge"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes environment variable overrides.
	EnvPrefix = "REALMBRIDGE"

	// keyDelimiter keeps dotted property names flat inside viper.
	keyDelimiter = "::"
)

//go:embed config_schema.cue
var configSchema string

// ConfigDir returns the realmbridge configuration directory below the
// platform's user configuration directory.
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(base, AppName), nil
}

// ConfigFilePath returns the path of the config file inside ConfigDir.
func ConfigFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName+"."+ConfigFileExt), nil
}

func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	defaults := DefaultConfig()
	v.SetDefault("log_level", string(defaults.LogLevel))
	v.SetDefault("storage_dir", defaults.StorageDir)
	v.SetDefault("stop_timeout", defaults.StopTimeout)
	v.SetDefault("start_level", defaults.StartLevel)
	v.SetDefault("descriptor", defaults.Descriptor)
	v.SetDefault("provider", defaults.Provider)
	v.SetDefault("include", defaults.Include)
	v.SetDefault("exclude", defaults.Exclude)

	path, err := resolveConfigPath(opts)
	if err != nil {
		return nil, "", err
	}

	var properties map[string]string
	if path != "" {
		properties, err = loadCUEIntoViper(v, path)
		if err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(path).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify the configuration values match the expected schema").
				WithSuggestion("Use 'realmbridge config show' to see the default configuration").
				WithIssue(issue.ConfigLoadFailedId).
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Properties = properties
	if cfg.Properties == nil {
		cfg.Properties = map[string]string{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(path).
			WithSuggestion("Use a positive stop_timeout such as \"10s\"").
			WithSuggestion("Check include and exclude patterns for unbalanced brackets").
			WithIssue(issue.ConfigLoadFailedId).
			Wrap(err).
			BuildError()
	}

	return &cfg, path, nil
}

// resolveConfigPath picks the config file: an explicit path must exist,
// otherwise the config directory and then the working directory are tried.
// It returns "" when no file exists.
func resolveConfigPath(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Use 'realmbridge config path' to see where the default file lives").
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		return opts.ConfigFilePath, nil
	}

	dir := opts.ConfigDirPath
	if dir == "" {
		var err error
		if dir, err = ConfigDir(); err != nil {
			return "", err
		}
	}
	candidates := []string{
		filepath.Join(dir, ConfigFileName+"."+ConfigFileExt),
		ConfigFileName + "." + ConfigFileExt,
	}
	for _, c := range candidates {
		if fileExists(c) {
			return c, nil
		}
	}
	return "", nil
}

// loadCUEIntoViper validates the file against #Config and merges it into v.
// Properties are returned separately so their keys keep their case.
func loadCUEIntoViper(v *viper.Viper, path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := cueutil.CheckFileSize(data, cueutil.DefaultMaxFileSize, path); err != nil {
		return nil, err
	}

	unified, err := cueutil.Unify([]byte(configSchema), data, "#Config", path)
	if err != nil {
		return nil, err
	}
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return nil, cueutil.FormatError(err, path)
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return nil, cueutil.FormatError(err, path)
	}

	var properties map[string]string
	if raw, ok := configMap["properties"].(map[string]any); ok {
		properties = make(map[string]string, len(raw))
		for k, val := range raw {
			properties[k] = fmt.Sprint(val)
		}
	}
	delete(configMap, "properties")

	if err := v.MergeConfigMap(configMap); err != nil {
		return nil, fmt.Errorf("failed to merge config: %w", err)
	}
	return properties, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Save writes cfg to the config file in ConfigDir.
func Save(cfg *Config) error {
	path, err := ConfigFilePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(GenerateCUE(cfg)), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateCUE renders cfg as a config file.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// realmbridge configuration file\n\n")
	fmt.Fprintf(&sb, "log_level: %q\n", cfg.LogLevel)
	if cfg.StorageDir != "" {
		fmt.Fprintf(&sb, "storage_dir: %q\n", cfg.StorageDir)
	}
	fmt.Fprintf(&sb, "stop_timeout: %q\n", cfg.StopTimeout.String())
	fmt.Fprintf(&sb, "start_level: %d\n", cfg.StartLevel)
	fmt.Fprintf(&sb, "descriptor: %q\n", cfg.Descriptor)
	if cfg.Provider != "" {
		fmt.Fprintf(&sb, "provider: %q\n", cfg.Provider)
	}
	writeList(&sb, "include", cfg.Include)
	writeList(&sb, "exclude", cfg.Exclude)

	if len(cfg.Properties) > 0 {
		sb.WriteString("\nproperties: {\n")
		for _, k := range slices.Sorted(maps.Keys(cfg.Properties)) {
			fmt.Fprintf(&sb, "\t%q: %q\n", k, cfg.Properties[k])
		}
		sb.WriteString("}\n")
	}
	return sb.String()
}

func writeList(sb *strings.Builder, key string, values []string) {
	if len(values) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n%s: [\n", key)
	for _, v := range values {
		fmt.Fprintf(sb, "\t%q,\n", v)
	}
	sb.WriteString("]\n")
}
