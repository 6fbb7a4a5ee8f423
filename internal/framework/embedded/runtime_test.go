// SPDX-License-Identifier: MPL-2.0

package embedded

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/invowk/realmbridge/internal/content"
	"github.com/invowk/realmbridge/internal/framework"
	"github.com/invowk/realmbridge/internal/manifest"
	"github.com/invowk/realmbridge/internal/testutil"

	"github.com/google/go-cmp/cmp"
)

type (
	mapConnector map[string]content.Content

	eventRecorder struct {
		mu     sync.Mutex
		events []framework.Event
	}

	greeter interface{ Greet() string }

	staticGreeter string
)

func (c mapConnector) Connect(location string) (content.Content, bool) {
	v, ok := c[location]
	return v, ok
}

func (r *eventRecorder) FrameworkEvent(ev framework.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) types() []framework.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]framework.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func (g staticGreeter) Greet() string { return string(g) }

func bundle(name, requires string) content.Content {
	h := map[string]string{manifest.HeaderSymbolicName: name, manifest.HeaderVersion: "1.0.0"}
	if requires != "" {
		h[manifest.HeaderRequireBundle] = requires
	}
	return content.NewSystem(h, nil)
}

func newTestRuntime(t *testing.T, conn mapConnector) (*Runtime, *eventRecorder) {
	t.Helper()
	rt, err := New(map[string]string{
		framework.PropStorage:             filepath.Join(t.TempDir(), "storage"),
		framework.PropBeginningStartLevel: "6",
	}, conn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := &eventRecorder{}
	if err := rt.Init(rec); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return rt, rec
}

func stopRuntime(t *testing.T, rt *Runtime) {
	t.Helper()
	if err := rt.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.WaitForStop(ctx); err != nil {
		t.Fatalf("WaitForStop: %v", err)
	}
}

func TestNew_RequiresConnector(t *testing.T) {
	t.Parallel()
	if _, err := New(nil, nil); err == nil {
		t.Fatal("expected error for nil connector")
	}
}

func TestFactory_Registered(t *testing.T) {
	t.Parallel()
	f, ok := framework.DefaultProviders.Lookup(ProviderName)
	if !ok {
		t.Fatalf("provider %q not registered", ProviderName)
	}
	rt, err := f.NewRuntime(nil, mapConnector{})
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	if _, ok := rt.(*Runtime); !ok {
		t.Errorf("expected *Runtime, got %T", rt)
	}
}

func TestRuntime_SystemModule(t *testing.T) {
	t.Parallel()

	t.Run("from connector", func(t *testing.T) {
		t.Parallel()
		rt, _ := newTestRuntime(t, mapConnector{
			framework.SystemModuleLocation: bundle("org.example.system", ""),
		})
		m, ok := rt.Module(framework.SystemModuleID)
		if !ok {
			t.Fatal("system module missing")
		}
		if m.SymbolicName() != "org.example.system" {
			t.Errorf("SymbolicName() = %q", m.SymbolicName())
		}
		if m.Location() != framework.SystemModuleLocation {
			t.Errorf("Location() = %q", m.Location())
		}
	})

	t.Run("fallback", func(t *testing.T) {
		t.Parallel()
		rt, _ := newTestRuntime(t, mapConnector{})
		m, ok := rt.Module(framework.SystemModuleID)
		if !ok {
			t.Fatal("system module missing")
		}
		if m.SymbolicName() != systemSymbolicName {
			t.Errorf("SymbolicName() = %q, want %q", m.SymbolicName(), systemSymbolicName)
		}
	})
}

func TestRuntime_Install(t *testing.T) {
	t.Parallel()

	rt, _ := newTestRuntime(t, mapConnector{
		"/lib/a.jar":        bundle("a", ""),
		"/lib/b.jar":        bundle("b", ""),
		"/lib/nameless.jar": content.NewSystem(nil, nil),
	})

	a, err := rt.Install("/lib/a.jar")
	if err != nil {
		t.Fatalf("Install a: %v", err)
	}
	b, err := rt.Install("/lib/b.jar")
	if err != nil {
		t.Fatalf("Install b: %v", err)
	}
	if a.ID() != 1 || b.ID() != 2 {
		t.Errorf("ids = %d, %d; want 1, 2", a.ID(), b.ID())
	}

	again, err := rt.Install("/lib/a.jar")
	if err != nil {
		t.Fatalf("reinstall: %v", err)
	}
	if again.ID() != a.ID() {
		t.Errorf("reinstall returned id %d, want %d", again.ID(), a.ID())
	}

	if _, err := rt.Install("/lib/unknown.jar"); !errors.Is(err, framework.ErrUnknownLocation) {
		t.Errorf("expected ErrUnknownLocation, got %v", err)
	}
	if _, err := rt.Install("/lib/nameless.jar"); !errors.Is(err, ErrMissingSymbolicName) {
		t.Errorf("expected ErrMissingSymbolicName, got %v", err)
	}

	if got, ok := rt.ModuleByLocation("/lib/b.jar"); !ok || got.ID() != b.ID() {
		t.Errorf("ModuleByLocation(b) = %v, %v", got, ok)
	}
	if n := len(rt.Modules()); n != 3 {
		t.Errorf("Modules() has %d entries, want 3", n)
	}
}

func TestRuntime_StartResolvesAndReportsErrors(t *testing.T) {
	t.Parallel()

	rt, rec := newTestRuntime(t, mapConnector{
		"/lib/a.jar": bundle("a", ""),
		"/lib/b.jar": bundle("b", "a"),
		"/lib/c.jar": bundle("c", "missing"),
	})
	for _, loc := range []string{"/lib/a.jar", "/lib/b.jar", "/lib/c.jar"} {
		if _, err := rt.Install(loc); err != nil {
			t.Fatalf("Install %s: %v", loc, err)
		}
	}

	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopRuntime(t, rt)

	if rt.State() != StateRunning {
		t.Errorf("State() = %s, want running", rt.State())
	}
	if _, err := os.Stat(rt.Property(framework.PropStorage)); err != nil {
		t.Errorf("storage directory not created: %v", err)
	}
	if rt.StartLevel() != 6 {
		t.Errorf("StartLevel() = %d, want 6", rt.StartLevel())
	}

	want := map[string]framework.ModuleState{
		framework.SystemModuleLocation: framework.StateActive,
		"/lib/a.jar":                   framework.StateResolved,
		"/lib/b.jar":                   framework.StateResolved,
		"/lib/c.jar":                   framework.StateInstalled,
	}
	got := make(map[string]framework.ModuleState)
	for _, m := range rt.Modules() {
		got[m.Location()] = m.State()
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("module states mismatch (-want +got):\n%s", diff)
	}

	wantEvents := []framework.EventType{framework.EventError, framework.EventStarted}
	if diff := cmp.Diff(wantEvents, rec.types()); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}

	c, _ := rt.ModuleByLocation("/lib/c.jar")
	if err := c.Start(); !errors.Is(err, ErrUnresolved) {
		t.Errorf("starting unresolved module: expected ErrUnresolved, got %v", err)
	}
}

func TestRuntime_ModuleStartStop(t *testing.T) {
	t.Parallel()

	path := testutil.MustWriteBundle(t, filepath.Join(t.TempDir(), "a.jar"), "a", nil, map[string]string{
		"a/A.class": "class",
	})
	archive := content.NewArchive(path, map[string]string{manifest.HeaderSymbolicName: "a"}, nil)

	rt, _ := newTestRuntime(t, mapConnector{path: archive})
	m, err := rt.Install(path)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}

	if err := m.Start(); !errors.Is(err, framework.ErrNotRunning) {
		t.Errorf("start before runtime start: expected ErrNotRunning, got %v", err)
	}

	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("module Start: %v", err)
	}
	if m.State() != framework.StateActive {
		t.Errorf("State() = %s, want active", m.State())
	}
	if !archive.IsOpen() {
		t.Error("content should be open while the module is active")
	}

	stopRuntime(t, rt)

	if rt.State() != StateStopped {
		t.Errorf("runtime State() = %s, want stopped", rt.State())
	}
	if m.State() != framework.StateResolved {
		t.Errorf("module State() = %s, want resolved", m.State())
	}
	if archive.IsOpen() {
		t.Error("content should be closed after stop")
	}
}

func TestRuntime_LateInstallResolves(t *testing.T) {
	t.Parallel()

	rt, rec := newTestRuntime(t, mapConnector{
		"/lib/base.jar":   bundle("base", ""),
		"/lib/late.jar":   bundle("late", "base"),
		"/lib/orphan.jar": bundle("orphan", "nowhere"),
	})
	if _, err := rt.Install("/lib/base.jar"); err != nil {
		t.Fatal(err)
	}
	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopRuntime(t, rt)

	late, err := rt.Install("/lib/late.jar")
	if err != nil {
		t.Fatalf("Install late: %v", err)
	}
	if late.State() != framework.StateResolved {
		t.Errorf("late State() = %s, want resolved", late.State())
	}

	orphan, err := rt.Install("/lib/orphan.jar")
	if err != nil {
		t.Fatalf("Install orphan: %v", err)
	}
	if orphan.State() != framework.StateInstalled {
		t.Errorf("orphan State() = %s, want installed", orphan.State())
	}
	types := rec.types()
	if types[len(types)-1] != framework.EventError {
		t.Errorf("expected a trailing error event, got %v", types)
	}
}

func TestRuntime_Services(t *testing.T) {
	t.Parallel()

	rt, _ := newTestRuntime(t, mapConnector{})
	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	typ := reflect.TypeFor[greeter]()
	if _, err := rt.RegisterService(typ, staticGreeter("low"), map[string]any{framework.PropServiceRanking: 1}); err != nil {
		t.Fatalf("RegisterService: %v", err)
	}
	if _, err := rt.RegisterService(typ, staticGreeter("high"), map[string]any{framework.PropServiceRanking: 10}); err != nil {
		t.Fatalf("RegisterService: %v", err)
	}

	refs := rt.References(typ, nil)
	if len(refs) != 2 {
		t.Fatalf("References() returned %d, want 2", len(refs))
	}
	svc, ok := rt.Service(refs[0])
	if !ok {
		t.Fatal("Service() returned false")
	}
	if g := svc.(greeter).Greet(); g != "high" {
		t.Errorf("best service = %q, want high", g)
	}
	if refs[0].Module().ID() != framework.SystemModuleID {
		t.Errorf("service module = %d, want system", refs[0].Module().ID())
	}

	stopRuntime(t, rt)

	if n := len(rt.Services()); n != 0 {
		t.Errorf("services after stop = %d, want 0", n)
	}
	if _, err := rt.RegisterService(typ, staticGreeter("late"), nil); !errors.Is(err, framework.ErrNotRunning) {
		t.Errorf("register after stop: expected ErrNotRunning, got %v", err)
	}
}

func TestRuntime_StopBeforeStart(t *testing.T) {
	t.Parallel()

	rt, rec := newTestRuntime(t, mapConnector{})
	stopRuntime(t, rt)

	if rt.State() != StateStopped {
		t.Errorf("State() = %s, want stopped", rt.State())
	}
	if err := rt.Start(context.Background()); err == nil {
		t.Error("expected error starting a stopped runtime")
	}
	if n := len(rec.types()); n != 0 {
		t.Errorf("expected no events, got %d", n)
	}
}

func TestRuntime_StorageFailure(t *testing.T) {
	t.Parallel()

	blocker := filepath.Join(t.TempDir(), "file")
	testutil.MustWriteFile(t, blocker, []byte("x"))

	rt, err := New(map[string]string{framework.PropStorage: filepath.Join(blocker, "storage")}, mapConnector{})
	if err != nil {
		t.Fatal(err)
	}
	if err := rt.Start(context.Background()); err == nil {
		t.Fatal("expected storage creation failure")
	}
	if rt.State() != StateFailed {
		t.Errorf("State() = %s, want failed", rt.State())
	}
	if rt.Err() == nil {
		t.Error("Err() should report the failure")
	}
}
