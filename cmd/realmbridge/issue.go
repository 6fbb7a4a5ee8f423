// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/invowk/realmbridge/internal/issue"

	"github.com/spf13/cobra"
)

// newIssueCommand creates the `realmbridge issue` command.
func newIssueCommand(app *App) *cobra.Command {
	var style string

	issueCmd := &cobra.Command{
		Use:   "issue [id]",
		Short: "Show troubleshooting guides",
		Long: `List the troubleshooting guides, or render one by id.

Errors that have a guide print its id next to the message.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				fmt.Fprintln(app.stdout, TitleStyle.Render("Troubleshooting guides"))
				for _, i := range issue.Values() {
					fmt.Fprintf(app.stdout, "  %s  %s\n", CmdStyle.Render(strconv.Itoa(int(i.Id()))), issueTitle(i))
				}
				return nil
			}

			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid issue id %q: %w", args[0], err)
			}
			i := issue.Get(issue.Id(n))
			if i == nil {
				return fmt.Errorf("no troubleshooting guide with id %d", n)
			}
			rendered, err := i.Render(style)
			if err != nil {
				return err
			}
			fmt.Fprint(app.stdout, rendered)
			return nil
		},
	}

	issueCmd.Flags().StringVar(&style, "style", "dark", "glamour style name or path to a style file")
	return issueCmd
}

// issueTitle returns the first heading of the guide.
func issueTitle(i *issue.Issue) string {
	for line := range strings.Lines(string(i.MarkdownMsg())) {
		line = strings.TrimSpace(line)
		if title, ok := strings.CutPrefix(line, "# "); ok {
			return title
		}
	}
	return ""
}
