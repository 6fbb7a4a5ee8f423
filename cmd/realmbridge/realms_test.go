// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/invowk/realmbridge/internal/framework"
	"github.com/invowk/realmbridge/internal/framework/embedded"
	"github.com/invowk/realmbridge/internal/issue"
	"github.com/invowk/realmbridge/internal/manifest"
	"github.com/invowk/realmbridge/internal/realm"
	"github.com/invowk/realmbridge/internal/testutil"
)

const testGraph = `
[[realm]]
id = "core"
classpath = ["runtime.jar"]

[[realm]]
id = "plugin"
parent = "core"
classpath = ["a.jar", "b.jar"]

[[realm]]
id = "broken"
classpath = ["c.jar"]
imports = ["core"]
`

// writeTestGraph lays out a realm graph whose core realm ships the embedded
// runtime, whose plugin realm holds two modules and whose broken realm holds
// a module with a missing requirement.
func writeTestGraph(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	testutil.MustWriteBundle(t, filepath.Join(dir, "runtime.jar"), "realmbridge.runtime", nil, map[string]string{
		framework.FactoryResource: embedded.ProviderName + "\n",
	})
	testutil.MustWriteBundle(t, filepath.Join(dir, "a.jar"), "mod.a", nil, nil)
	testutil.MustWriteBundle(t, filepath.Join(dir, "b.jar"), "mod.b",
		map[string]string{manifest.HeaderRequireBundle: "mod.a"}, nil)
	testutil.MustWriteBundle(t, filepath.Join(dir, "c.jar"), "mod.c",
		map[string]string{manifest.HeaderRequireBundle: "missing.dep"}, nil)

	path := filepath.Join(dir, "graph.toml")
	testutil.MustWriteFile(t, path, []byte(testGraph))
	return path
}

func TestRealms_List(t *testing.T) {
	t.Parallel()

	app, stdout, _ := newTestApp(t, nil)
	if err := execute(t, app, "realms", writeTestGraph(t)); err != nil {
		t.Fatalf("realms error = %v", err)
	}

	out := stdout.String()
	for _, want := range []string{"core", "plugin", "(parent: core)", "broken", "[2 classpath entries]"} {
		if !strings.Contains(out, want) {
			t.Errorf("output should contain %q:\n%s", want, out)
		}
	}
}

func TestRealms_Render(t *testing.T) {
	t.Parallel()

	app, stdout, _ := newTestApp(t, nil)
	if err := execute(t, app, "realms", writeTestGraph(t), "plugin"); err != nil {
		t.Fatalf("realms error = %v", err)
	}

	out := stdout.String()
	for _, want := range []string{"plugin", "core", "a.jar!/" + manifest.Path} {
		if !strings.Contains(out, want) {
			t.Errorf("output should contain %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "broken") {
		t.Errorf("broken is not visible from plugin:\n%s", out)
	}
}

func TestRealms_Errors(t *testing.T) {
	t.Parallel()

	unsupported := filepath.Join(t.TempDir(), "graph.json")
	testutil.MustWriteFile(t, unsupported, []byte("{}"))

	tests := []struct {
		name      string
		args      func(graph string) []string
		wantIssue issue.Id
		wantErr   error
	}{
		{
			name:      "unknown realm",
			args:      func(graph string) []string { return []string{"realms", graph, "nope"} },
			wantIssue: issue.RealmNotFoundId,
			wantErr:   realm.ErrUnknownRealm,
		},
		{
			name:      "unsupported graph format",
			args:      func(string) []string { return []string{"realms", unsupported} },
			wantIssue: issue.GraphLoadFailedId,
			wantErr:   realm.ErrUnsupportedGraphFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, _, stderr := newTestApp(t, nil)
			err := execute(t, app, tt.args(writeTestGraph(t))...)

			var exitErr *ExitError
			if !errors.As(err, &exitErr) || exitErr.Code != 1 {
				t.Fatalf("error = %v, want ExitError with code 1", err)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			var ae *issue.ActionableError
			if !errors.As(err, &ae) || ae.Issue != tt.wantIssue {
				t.Errorf("error = %v, want issue %d", err, tt.wantIssue)
			}
			if !strings.Contains(stderr.String(), "realmbridge issue") {
				t.Errorf("stderr should point at the troubleshooting guide:\n%s", stderr.String())
			}
		})
	}
}
