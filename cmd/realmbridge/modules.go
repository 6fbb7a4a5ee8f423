// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/invowk/realmbridge/internal/bridge"
	"github.com/invowk/realmbridge/internal/config"
	"github.com/invowk/realmbridge/internal/framework"
	// Registers the embedded runtime provider.
	_ "github.com/invowk/realmbridge/internal/framework/embedded"
	"github.com/invowk/realmbridge/internal/realm"
	"github.com/invowk/realmbridge/internal/watch"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
)

// newModulesCommand creates the `realmbridge modules` command.
func newModulesCommand(app *App, flags *rootFlags) *cobra.Command {
	opts := modulesOptions{}

	modulesCmd := &cobra.Command{
		Use:   "modules <graph> <realm>",
		Short: "Start a runtime for a realm and list its modules",
		Long: `Start a module runtime for a realm, install every module archive
visible from it and list the resulting modules with their state.

The runtime is stopped and its storage removed before the command returns.
With --watch the runtime is rebuilt whenever the graph file or an entry on
a realm classpath changes, until the command is interrupted. With --metrics
the runtime counters are printed in the Prometheus text format after each
listing.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.graph, opts.realm = args[0], args[1]
			err := runModules(cmd.Context(), app, flags, opts)
			if err != nil {
				var exitErr *ExitError
				if errors.As(err, &exitErr) {
					return err
				}
				return failWith(cmd, app, err, flags.verbose)
			}
			return nil
		},
	}

	modulesCmd.Flags().BoolVar(&opts.strict, "strict", false, "exit with status 2 when a module did not resolve")
	modulesCmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "rebuild the runtime when the graph or a classpath entry changes")
	modulesCmd.Flags().DurationVar(&opts.debounce, "debounce", 500*time.Millisecond, "quiet period before a rebuild in watch mode")
	modulesCmd.Flags().BoolVar(&opts.metrics, "metrics", false, "print runtime metrics after each listing")
	return modulesCmd
}

type (
	modulesOptions struct {
		graph    string
		realm    string
		strict   bool
		watch    bool
		metrics  bool
		debounce time.Duration
	}

	// modulesRun carries what every listing of one command invocation shares.
	modulesRun struct {
		app      *App
		cfg      *config.Config
		logger   *log.Logger
		metrics  *bridge.Metrics
		gatherer prometheus.Gatherer
		opts     modulesOptions
	}
)

func runModules(ctx context.Context, app *App, flags *rootFlags, opts modulesOptions) error {
	cfg, err := flags.loadConfig(ctx, app)
	if err != nil {
		return err
	}
	logger := log.NewWithOptions(app.stderr, log.Options{
		Prefix: bridge.DefaultName,
		Level:  cfg.LogLevel.Level(),
	})
	promReg := prometheus.NewRegistry()
	run := &modulesRun{
		app:      app,
		cfg:      cfg,
		logger:   logger,
		metrics:  bridge.NewMetrics(promReg),
		gatherer: promReg,
		opts:     opts,
	}

	if !opts.watch {
		return run.list(ctx)
	}

	// The first build may fail while the user is still fixing the graph.
	if err := run.list(ctx); err != nil {
		fmt.Fprintf(app.stderr, "%s %s\n", ErrorStyle.Render("Error:"), formatErrorForDisplay(err, flags.verbose))
	}

	graph, _ := realm.LoadGraph(opts.graph)
	w, err := watch.New(watch.Config{
		Targets:  watch.GraphTargets(opts.graph, graph),
		Debounce: opts.debounce,
		Logger:   logger.WithPrefix(bridge.DefaultName + "/watch"),
		OnChange: func(ctx context.Context, changed []string) error {
			fmt.Fprintln(app.stdout)
			fmt.Fprintln(app.stdout, SubtitleStyle.Render(fmt.Sprintf("%d file(s) changed, rebuilding", len(changed))))
			return run.list(ctx)
		},
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(app.stderr, SubtitleStyle.Render("Watching for changes, press Ctrl+C to stop"))
	return w.Run(ctx)
}

// list builds a runtime for the realm, prints its modules and disposes it.
func (run *modulesRun) list(ctx context.Context) error {
	app, opts := run.app, run.opts

	graph, err := loadGraph(opts.graph)
	if err != nil {
		return err
	}
	graph.SetLogger(run.logger.WithPrefix(bridge.DefaultName + "/realm"))
	r, err := lookupRealm(graph, opts.graph, opts.realm)
	if err != nil {
		return err
	}

	reg := bridge.New(
		bridge.WithConfig(run.cfg),
		bridge.WithLogger(run.logger),
		bridge.WithMetrics(run.metrics),
	)
	reg.Init()
	defer reg.Dispose(context.WithoutCancel(ctx))

	b, err := reg.GetOrCreate(ctx, r)
	if err != nil {
		return err
	}

	modules := b.Runtime().Context().Modules()
	fmt.Fprintln(app.stdout, TitleStyle.Render(b.Name()))
	fmt.Fprintln(app.stdout, renderModules(modules))

	stats := b.Connector().Stats()
	fmt.Fprintln(app.stdout, SubtitleStyle.Render(fmt.Sprintf(
		"candidates: %d  installed: %d  realms: %d  duplicates: %d  rejected: %d  failures: %d",
		stats.Candidates, stats.Installed, stats.Realms, stats.Duplicates, stats.Rejected, stats.Failures)))

	if opts.metrics {
		if err := writeMetrics(app.stdout, run.gatherer); err != nil {
			return err
		}
	}

	if opts.strict {
		if unresolved := unresolvedModules(modules); len(unresolved) > 0 {
			fmt.Fprintln(app.stderr, WarningStyle.Render(fmt.Sprintf("%d module(s) did not resolve: %v", len(unresolved), unresolved)))
			return &ExitError{Code: 2}
		}
	}
	return nil
}

// writeMetrics prints every gathered metric family in the text exposition
// format.
func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}

func renderModules(modules []framework.Module) string {
	rows := make([][]string, 0, len(modules))
	states := make([]framework.ModuleState, 0, len(modules))
	for _, m := range modules {
		rows = append(rows, []string{
			strconv.FormatInt(m.ID(), 10),
			m.State().String(),
			m.SymbolicName(),
			m.Version(),
			m.Location(),
		})
		states = append(states, m.State())
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(SubtitleStyle).
		Headers("ID", "STATE", "NAME", "VERSION", "LOCATION").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 1 && row >= 0 && row < len(states) {
				return cellStyle.Inherit(stateStyle(states[row]))
			}
			return cellStyle
		}).
		String()
}

func unresolvedModules(modules []framework.Module) []string {
	var ids []string
	for _, m := range modules {
		if m.ID() == framework.SystemModuleID {
			continue
		}
		if m.State() == framework.StateInstalled {
			ids = append(ids, m.SymbolicName())
		}
	}
	return ids
}
