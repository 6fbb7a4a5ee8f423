// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/invowk/realmbridge/internal/config"
	"github.com/invowk/realmbridge/internal/issue"

	"github.com/spf13/cobra"
)

// newConfigCommand creates the `realmbridge config` command tree.
// Subcommands that read configuration use the App's ConfigProvider.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage realmbridge configuration",
		Long: `Manage realmbridge configuration.

Configuration is stored in:
  - Linux: ~/.config/realmbridge/config.cue
  - macOS: ~/Library/Application Support/realmbridge/config.cue
  - Windows: %APPDATA%\realmbridge\config.cue

Every key can be overridden with a REALMBRIDGE_<KEY> environment variable.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfig(cmd.Context(), app)
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(app, force)
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing configuration file")
	cfgCmd.AddCommand(initCmd)

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfigPath(app)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setConfigValue(cmd.Context(), app, args[0], args[1])
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Output raw configuration as CUE",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(app.stdout, config.GenerateCUE(cfg))
			return nil
		},
	})

	return cfgCmd
}

func showConfig(ctx context.Context, app *App) error {
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		if rendered, renderErr := issue.Get(issue.ConfigLoadFailedId).Render("dark"); renderErr == nil {
			fmt.Fprint(app.stderr, rendered)
		}
		return err
	}

	keyStyle := CmdStyle
	valueStyle := SuccessStyle
	none := SubtitleStyle.Render("(none configured)")

	fmt.Fprintln(app.stdout, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(app.stdout)

	cfgPath := configPathFromContext(ctx)
	if cfgPath == "" {
		if p, pathErr := config.ConfigFilePath(); pathErr == nil && fileExistsCheck(p) {
			cfgPath = p
		}
	}
	if cfgPath != "" {
		fmt.Fprintf(app.stdout, "%s: %s\n", keyStyle.Render("Config file"), cfgPath)
	} else {
		fmt.Fprintf(app.stdout, "%s: %s\n", keyStyle.Render("Config file"), SubtitleStyle.Render("(using defaults)"))
	}
	fmt.Fprintln(app.stdout)

	storage := cfg.StorageDir
	if storage == "" {
		storage = os.TempDir() + " " + SubtitleStyle.Render("(default)")
	}
	provider := cfg.Provider
	if provider == "" {
		provider = SubtitleStyle.Render("(auto)")
	}

	fmt.Fprintf(app.stdout, "%s: %s\n", keyStyle.Render("log_level"), valueStyle.Render(string(cfg.LogLevel)))
	fmt.Fprintf(app.stdout, "%s: %s\n", keyStyle.Render("storage_dir"), valueStyle.Render(storage))
	fmt.Fprintf(app.stdout, "%s: %s\n", keyStyle.Render("stop_timeout"), valueStyle.Render(cfg.StopTimeout.String()))
	fmt.Fprintf(app.stdout, "%s: %s\n", keyStyle.Render("start_level"), valueStyle.Render(strconv.Itoa(cfg.StartLevel)))
	fmt.Fprintf(app.stdout, "%s: %s\n", keyStyle.Render("descriptor"), valueStyle.Render(cfg.Descriptor))
	fmt.Fprintf(app.stdout, "%s: %s\n", keyStyle.Render("provider"), valueStyle.Render(provider))

	for _, list := range []struct {
		key      string
		patterns []string
	}{
		{"include", cfg.Include},
		{"exclude", cfg.Exclude},
	} {
		fmt.Fprintln(app.stdout)
		fmt.Fprintf(app.stdout, "%s:\n", keyStyle.Render(list.key))
		if len(list.patterns) == 0 {
			fmt.Fprintf(app.stdout, "  %s\n", none)
		}
		for _, p := range list.patterns {
			fmt.Fprintf(app.stdout, "  - %s\n", valueStyle.Render(p))
		}
	}

	fmt.Fprintln(app.stdout)
	fmt.Fprintf(app.stdout, "%s:\n", keyStyle.Render("properties"))
	if len(cfg.Properties) == 0 {
		fmt.Fprintf(app.stdout, "  %s\n", none)
	}
	keys := make([]string, 0, len(cfg.Properties))
	for k := range cfg.Properties {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(app.stdout, "  %s = %s\n", k, valueStyle.Render(cfg.Properties[k]))
	}

	return nil
}

func initConfig(app *App, force bool) error {
	cfgPath, err := config.ConfigFilePath()
	if err != nil {
		return err
	}
	if fileExistsCheck(cfgPath) && !force {
		return issue.NewErrorContext().
			WithOperation("create configuration").
			WithResource(cfgPath).
			WithSuggestion("pass --force to overwrite it").
			Wrap(os.ErrExist).
			BuildError()
	}

	if err := config.Save(config.DefaultConfig()); err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}

	fmt.Fprintf(app.stdout, "%s Created default configuration at %s\n", SuccessStyle.Render("✓"), cfgPath)
	return nil
}

func showConfigPath(app *App) error {
	cfgDir, err := config.ConfigDir()
	if err != nil {
		return err
	}
	cfgPath, err := config.ConfigFilePath()
	if err != nil {
		return err
	}

	fmt.Fprintf(app.stdout, "Config directory: %s\n", cfgDir)
	fmt.Fprintf(app.stdout, "Config file: %s\n", cfgPath)
	return nil
}

func setConfigValue(ctx context.Context, app *App, key, value string) error {
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return err
	}

	switch key {
	case "log_level":
		cfg.LogLevel = config.LogLevel(value)
	case "storage_dir":
		cfg.StorageDir = value
	case "stop_timeout":
		d, parseErr := time.ParseDuration(value)
		if parseErr != nil {
			return fmt.Errorf("invalid stop_timeout: %w", parseErr)
		}
		cfg.StopTimeout = d
	case "start_level":
		n, parseErr := strconv.Atoi(value)
		if parseErr != nil {
			return fmt.Errorf("invalid start_level: %w", parseErr)
		}
		cfg.StartLevel = n
	case "descriptor":
		cfg.Descriptor = value
	case "provider":
		cfg.Provider = value
	default:
		return fmt.Errorf("unknown configuration key: %s\nValid keys: log_level, storage_dir, stop_timeout, start_level, descriptor, provider", key)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Fprintf(app.stdout, "%s Set %s = %s\n", SuccessStyle.Render("✓"), key, value)
	return nil
}

// fileExistsCheck checks if a file exists and is not a directory.
func fileExistsCheck(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
