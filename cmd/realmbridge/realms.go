// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"

	"github.com/invowk/realmbridge/internal/issue"
	"github.com/invowk/realmbridge/internal/manifest"
	"github.com/invowk/realmbridge/internal/realm"

	"github.com/spf13/cobra"
)

// newRealmsCommand creates the `realmbridge realms` command.
func newRealmsCommand(app *App, flags *rootFlags) *cobra.Command {
	var descriptor string

	realmsCmd := &cobra.Command{
		Use:   "realms <graph> [realm]",
		Short: "List or render the realms of a graph",
		Long: `List the realms declared in a realm graph file.

When a realm is named, the realms visible from it are rendered as a tree,
each annotated with the module descriptors found on its own classpath.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			graph, err := loadGraph(args[0])
			if err != nil {
				return failWith(cmd, app, err, flags.verbose)
			}

			if len(args) == 1 {
				listRealms(app, graph)
				return nil
			}

			r, err := lookupRealm(graph, args[0], args[1])
			if err != nil {
				return failWith(cmd, app, err, flags.verbose)
			}
			fmt.Fprintln(app.stdout, realm.Render(r, descriptor))
			return nil
		},
	}

	realmsCmd.Flags().StringVar(&descriptor, "descriptor", manifest.Path, "resource listed under each realm (empty to disable)")
	return realmsCmd
}

func listRealms(app *App, graph *realm.Graph) {
	fmt.Fprintln(app.stdout, TitleStyle.Render("Realms"))
	for _, r := range graph.Realms() {
		line := "  " + CmdStyle.Render(r.ID())
		if p := r.Parent(); p != nil {
			line += SubtitleStyle.Render(" (parent: " + p.ID() + ")")
		}
		if n := len(r.Classpath()); n > 0 {
			line += SubtitleStyle.Render(fmt.Sprintf(" [%d classpath entries]", n))
		}
		fmt.Fprintln(app.stdout, line)
	}
}

// loadGraph decodes a realm graph file into an actionable error on failure.
func loadGraph(path string) (*realm.Graph, error) {
	graph, err := realm.LoadGraph(path)
	if err != nil {
		ec := issue.NewErrorContext().
			WithOperation("load realm graph").
			WithResource(path).
			WithIssue(issue.GraphLoadFailedId).
			Wrap(err)
		if errors.Is(err, realm.ErrUnsupportedGraphFormat) {
			ec = ec.WithSuggestion("use a .toml, .yaml, .yml or .cue graph file")
		} else {
			ec = ec.WithSuggestion("check that every parent and import names a declared realm")
		}
		return nil, ec.BuildError()
	}
	return graph, nil
}

func lookupRealm(graph *realm.Graph, path, id string) (*realm.Realm, error) {
	r, ok := graph.Realm(id)
	if !ok {
		return nil, issue.NewErrorContext().
			WithOperation("find realm").
			WithResource(id).
			WithIssue(issue.RealmNotFoundId).
			WithSuggestion(fmt.Sprintf("run 'realmbridge realms %s' to list the declared realms", path)).
			Wrap(fmt.Errorf("%w: %s", realm.ErrUnknownRealm, id)).
			BuildError()
	}
	return r, nil
}

// failWith prints err in the CLI's error style and converts it to an exit code.
func failWith(cmd *cobra.Command, app *App, err error, verbose bool) error {
	cmd.SilenceErrors = true
	fmt.Fprintf(app.stderr, "\n%s %s\n", ErrorStyle.Render("Error:"), formatErrorForDisplay(err, verbose))
	var ae *issue.ActionableError
	if errors.As(err, &ae) && ae.Issue != 0 {
		fmt.Fprintln(app.stderr, SubtitleStyle.Render(fmt.Sprintf("\nRun 'realmbridge issue %d' for a troubleshooting guide.", ae.Issue)))
	}
	return &ExitError{Code: 1, Err: err}
}
