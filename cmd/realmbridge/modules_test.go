// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/invowk/realmbridge/internal/config"
	"github.com/invowk/realmbridge/internal/connector"
	"github.com/invowk/realmbridge/internal/framework"
	"github.com/invowk/realmbridge/internal/issue"
	"github.com/invowk/realmbridge/internal/manifest"
	"github.com/invowk/realmbridge/internal/testutil"
)

func TestModules_List(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.StorageDir = t.TempDir()
	app, stdout, _ := newTestApp(t, cfg)

	if err := execute(t, app, "modules", writeTestGraph(t), "plugin"); err != nil {
		t.Fatalf("modules error = %v", err)
	}

	out := stdout.String()
	for _, want := range []string{
		"realm = plugin",
		"STATE",
		framework.SystemModuleLocation,
		"mod.a",
		"mod.b",
		connector.RealmModuleID("plugin"),
		connector.RealmModuleID("core"),
		"installed: 2",
		"realms: 2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output should contain %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "runtime.jar") {
		t.Errorf("the runtime archive should not be installed as a module:\n%s", out)
	}

	entries, err := os.ReadDir(cfg.StorageDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("runtime storage should be removed on exit, found %d entries", len(entries))
	}
}

func TestModules_Strict(t *testing.T) {
	t.Parallel()

	graph := writeTestGraph(t)

	t.Run("all resolved", func(t *testing.T) {
		t.Parallel()

		app, _, _ := newTestApp(t, nil)
		if err := execute(t, app, "modules", "--strict", graph, "plugin"); err != nil {
			t.Errorf("modules --strict error = %v", err)
		}
	})

	t.Run("unresolved module", func(t *testing.T) {
		t.Parallel()

		app, stdout, stderr := newTestApp(t, nil)
		err := execute(t, app, "modules", "--strict", graph, "broken")

		var exitErr *ExitError
		if !errors.As(err, &exitErr) || exitErr.Code != 2 {
			t.Fatalf("error = %v, want ExitError with code 2", err)
		}
		if !strings.Contains(stdout.String(), "mod.c") {
			t.Errorf("modules should still be listed:\n%s", stdout.String())
		}
		if !strings.Contains(stderr.String(), "did not resolve: [mod.c]") {
			t.Errorf("stderr should name the unresolved module:\n%s", stderr.String())
		}
	})
}

func TestModules_Metrics(t *testing.T) {
	t.Parallel()

	app, stdout, _ := newTestApp(t, nil)
	if err := execute(t, app, "modules", "--metrics", writeTestGraph(t), "plugin"); err != nil {
		t.Fatalf("modules --metrics error = %v", err)
	}

	out := stdout.String()
	for _, want := range []string{
		"# TYPE realmbridge_runtime_created_total counter",
		"realmbridge_runtime_created_total 1",
		"realmbridge_runtime_active 1",
		"realmbridge_discovery_installed_total 2",
		"realmbridge_discovery_realm_modules_total 2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output should contain %q:\n%s", want, out)
		}
	}
}

func TestModules_CorruptClasspathEntry(t *testing.T) {
	t.Parallel()

	graph := writeTestGraph(t)
	testutil.MustWriteFile(t, filepath.Join(filepath.Dir(graph), "b.jar"), []byte("not a zip archive"))

	app, stdout, stderr := newTestApp(t, nil)
	if err := execute(t, app, "modules", graph, "plugin"); err != nil {
		t.Fatalf("modules error = %v", err)
	}
	if out := stdout.String(); !strings.Contains(out, "mod.a") || !strings.Contains(out, "installed: 1") {
		t.Errorf("the readable module should still be listed:\n%s", out)
	}
	if !strings.Contains(stderr.String(), "skipping unreadable classpath entry") {
		t.Errorf("stderr should warn about b.jar:\n%s", stderr.String())
	}
}

func TestModules_NoFactory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testutil.MustWriteBundle(t, filepath.Join(dir, "a.jar"), "mod.a", nil, nil)
	graph := filepath.Join(dir, "graph.yaml")
	testutil.MustWriteFile(t, graph, []byte("realms:\n  - id: lonely\n    classpath: [a.jar]\n"))

	app, _, stderr := newTestApp(t, nil)
	err := execute(t, app, "modules", graph, "lonely")

	if !errors.Is(err, framework.ErrNoFactory) {
		t.Fatalf("error = %v, want ErrNoFactory", err)
	}
	var ae *issue.ActionableError
	if !errors.As(err, &ae) || ae.Issue != issue.NoFactoryId {
		t.Errorf("error = %v, want issue %d", err, issue.NoFactoryId)
	}
	if !strings.Contains(stderr.String(), "Error:") {
		t.Errorf("stderr should carry the error:\n%s", stderr.String())
	}
}

func TestModules_ConfigError(t *testing.T) {
	t.Parallel()

	var stderr strings.Builder
	app := NewApp(Dependencies{
		Config: &stubConfigProvider{err: config.ErrInvalidConfig},
		Stdout: &strings.Builder{},
		Stderr: &stderr,
	})

	err := execute(t, app, "modules", writeTestGraph(t), "plugin")
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("error = %v, want ErrInvalidConfig", err)
	}
}

// syncBuffer is a bytes.Buffer safe for the watcher goroutine and the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitFor(t *testing.T, buf *syncBuffer, cond func(string) bool) {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for !cond(buf.String()) {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for output:\n%s", buf.String())
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestModules_Watch(t *testing.T) {
	t.Parallel()

	graph := writeTestGraph(t)
	cfg := config.DefaultConfig()
	cfg.StorageDir = t.TempDir()

	stdout := &syncBuffer{}
	app := NewApp(Dependencies{
		Config: &stubConfigProvider{cfg: cfg},
		Stdout: stdout,
		Stderr: &syncBuffer{},
	})
	root := NewRootCommand(app)
	root.SetArgs([]string{"modules", "--watch", "--debounce", "50ms", graph, "plugin"})

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- root.ExecuteContext(ctx) }()

	waitFor(t, stdout, func(s string) bool { return strings.Contains(s, "mod.b") })
	// Let the watcher register before touching the archive.
	time.Sleep(200 * time.Millisecond)

	testutil.MustWriteBundle(t, filepath.Join(filepath.Dir(graph), "b.jar"), "mod.b",
		map[string]string{manifest.HeaderVersion: "2.0.0"}, nil)

	waitFor(t, stdout, func(s string) bool {
		return strings.Contains(s, "rebuilding") && strings.Contains(s, "2.0.0")
	})

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("modules --watch error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("modules --watch did not stop after cancellation")
	}
}
