// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"strconv"
	"strings"
	"testing"

	"github.com/invowk/realmbridge/internal/issue"
)

func TestIssue_List(t *testing.T) {
	t.Parallel()

	app, stdout, _ := newTestApp(t, nil)
	if err := execute(t, app, "issue"); err != nil {
		t.Fatalf("issue error = %v", err)
	}

	out := stdout.String()
	for _, i := range issue.Values() {
		title := issueTitle(i)
		if title == "" {
			t.Errorf("issue %d has no title", i.Id())
			continue
		}
		if !strings.Contains(out, title) {
			t.Errorf("output should list %q:\n%s", title, out)
		}
	}
}

func TestIssue_Render(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		arg     string
		want    string
		wantErr bool
	}{
		{name: "known id", arg: strconv.Itoa(int(issue.NoFactoryId)), want: "No module runtime factory found!"},
		{name: "unknown id", arg: "999", wantErr: true},
		{name: "not a number", arg: "nofactory", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, stdout, _ := newTestApp(t, nil)
			err := execute(t, app, "issue", "--style", "notty", tt.arg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("issue error = %v, wantErr %v", err, tt.wantErr)
			}
			if !strings.Contains(stdout.String(), tt.want) {
				t.Errorf("output should contain %q:\n%s", tt.want, stdout.String())
			}
		})
	}
}
