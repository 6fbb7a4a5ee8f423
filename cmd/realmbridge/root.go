// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/invowk/realmbridge/internal/config"
	"github.com/invowk/realmbridge/internal/issue"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

type rootFlags struct {
	verbose  bool
	cfgFile  string
	logLevel string
}

// NewRootCommand builds the realmbridge command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "realmbridge",
		Short: "Bridge classloader realms to a module runtime",
		Long: TitleStyle.Render("realmbridge") + SubtitleStyle.Render(" - Bridge classloader realms to a module runtime") + `

realmbridge walks a graph of class-loading realms, discovers the module
archives visible from a realm and installs them into an embedded module
runtime, one runtime per realm.

Realm graphs are described in TOML, YAML or CUE files.

` + SubtitleStyle.Render("Examples:") + `
  realmbridge realms graph.toml           List the realms of a graph
  realmbridge realms graph.toml plugin    Render the realms visible from 'plugin'
  realmbridge modules graph.toml plugin   Start a runtime for 'plugin' and list its modules
  realmbridge issue                       List the troubleshooting guides
  realmbridge config show                 Show current configuration`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flags.cfgFile != "" {
				cmd.SetContext(contextWithConfigPath(cmd.Context(), flags.cfgFile))
			}
		},
	}
	rootCmd.SetOut(app.stdout)
	rootCmd.SetErr(app.stderr)

	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&flags.cfgFile, "config", "", "config file (default is $HOME/.config/realmbridge/config.cue)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")

	rootCmd.AddCommand(newRealmsCommand(app, flags))
	rootCmd.AddCommand(newModulesCommand(app, flags))
	rootCmd.AddCommand(newConfigCommand(app))
	rootCmd.AddCommand(newIssueCommand(app))

	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	app := NewApp(Dependencies{})
	rootCmd := NewRootCommand(app)

	// fang overrides rootCmd.Version, so the version goes through fang.WithVersion.
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

// loadConfig loads configuration and applies the --log-level override.
func (f *rootFlags) loadConfig(ctx context.Context, app *App) (*config.Config, error) {
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		level := config.LogLevel(f.logLevel)
		if err := level.Validate(); err != nil {
			return nil, err
		}
		cfg.LogLevel = level
	}
	return cfg, nil
}

// formatErrorForDisplay formats an error for user display.
// If the error is an ActionableError, it uses the Format method.
// In verbose mode, shows the full error chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}
