// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/invowk/realmbridge/internal/config"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// useConfigDir points the config directory at a fresh temp dir.
// Callers must not run in parallel.
func useConfigDir(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	config.SetConfigDirOverride(dir)
	t.Cleanup(config.Reset)
	return dir
}

func TestConfigDump(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Provider = "embedded"
	cfg.Include = []string{"com.acme.*"}
	app, stdout, _ := newTestApp(t, cfg)

	if err := execute(t, app, "config", "dump"); err != nil {
		t.Fatalf("config dump error = %v", err)
	}
	if diff := cmp.Diff(config.GenerateCUE(cfg), stdout.String()); diff != "" {
		t.Errorf("config dump mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigShow(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.StorageDir = "/var/lib/realmbridge"
	cfg.Exclude = []string{"*.tests"}
	cfg.Properties = map[string]string{"b": "2", "a": "1"}
	app, stdout, _ := newTestApp(t, cfg)

	if err := execute(t, app, "--config", "/etc/realmbridge/config.cue", "config", "show"); err != nil {
		t.Fatalf("config show error = %v", err)
	}

	out := stdout.String()
	for _, want := range []string{
		"Config file: /etc/realmbridge/config.cue",
		"storage_dir: /var/lib/realmbridge",
		"provider: (auto)",
		"- *.tests",
		"(none configured)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output should contain %q:\n%s", want, out)
		}
	}
	if a, b := strings.Index(out, "a = 1"), strings.Index(out, "b = 2"); a < 0 || b < a {
		t.Errorf("properties should be listed sorted:\n%s", out)
	}
}

func TestConfigPath(t *testing.T) {
	dir := useConfigDir(t)
	app, stdout, _ := newTestApp(t, nil)

	if err := execute(t, app, "config", "path"); err != nil {
		t.Fatalf("config path error = %v", err)
	}
	want := "Config directory: " + dir + "\nConfig file: " + filepath.Join(dir, "config.cue") + "\n"
	if diff := cmp.Diff(want, stdout.String()); diff != "" {
		t.Errorf("config path mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigInit(t *testing.T) {
	dir := useConfigDir(t)
	path := filepath.Join(dir, "config.cue")

	app, _, _ := newTestApp(t, nil)
	if err := execute(t, app, "config", "init"); err != nil {
		t.Fatalf("config init error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(config.GenerateCUE(config.DefaultConfig()), string(data)); diff != "" {
		t.Errorf("config file mismatch (-want +got):\n%s", diff)
	}

	if err := execute(t, app, "config", "init"); !errors.Is(err, os.ErrExist) {
		t.Errorf("second config init error = %v, want os.ErrExist", err)
	}
	if err := execute(t, app, "config", "init", "--force"); err != nil {
		t.Errorf("config init --force error = %v", err)
	}
}

func TestConfigSet(t *testing.T) {
	dir := useConfigDir(t)

	tests := []struct {
		key     string
		value   string
		wantErr bool
		check   func(*config.Config) bool
	}{
		{key: "log_level", value: "debug", check: func(c *config.Config) bool { return c.LogLevel == config.LogLevelDebug }},
		{key: "stop_timeout", value: "3s", check: func(c *config.Config) bool { return c.StopTimeout == 3*time.Second }},
		{key: "start_level", value: "4", check: func(c *config.Config) bool { return c.StartLevel == 4 }},
		{key: "provider", value: "embedded", check: func(c *config.Config) bool { return c.Provider == "embedded" }},
		{key: "log_level", value: "loud", wantErr: true},
		{key: "stop_timeout", value: "soon", wantErr: true},
		{key: "start_level", value: "0", wantErr: true},
		{key: "color", value: "red", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			// Not parallel: every case writes the shared config file.
			app := NewApp(Dependencies{
				Config: config.NewProvider(),
				Stdout: &strings.Builder{},
				Stderr: &strings.Builder{},
			})

			err := execute(t, app, "config", "set", tt.key, tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("config set error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			cfg, path, err := config.LoadWithPath(t.Context(), config.LoadOptions{ConfigDirPath: dir})
			if err != nil {
				t.Fatalf("LoadWithPath() error = %v", err)
			}
			if path == "" {
				t.Fatal("config set should write a config file")
			}
			if !tt.check(cfg) {
				t.Errorf("%s was not persisted: %+v", tt.key, cfg)
			}
		})
	}

	cfg, _, err := config.LoadWithPath(t.Context(), config.LoadOptions{ConfigDirPath: dir})
	if err != nil {
		t.Fatal(err)
	}
	want := config.DefaultConfig()
	want.LogLevel = config.LogLevelDebug
	want.StopTimeout = 3 * time.Second
	want.StartLevel = 4
	want.Provider = "embedded"
	if diff := cmp.Diff(want, cfg, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("final config mismatch (-want +got):\n%s", diff)
	}
}
