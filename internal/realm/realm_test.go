// SPDX-License-Identifier: MPL-2.0

package realm

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/invowk/realmbridge/internal/testutil"

	"github.com/charmbracelet/log"
	"github.com/google/go-cmp/cmp"
)

const descriptor = "META-INF/MANIFEST.MF"

func TestResources_DelegationOrder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	own := testutil.MustWriteBundle(t, filepath.Join(dir, "own.jar"), "mod.own", nil, nil)
	parentJar := testutil.MustWriteBundle(t, filepath.Join(dir, "parent.jar"), "mod.parent", nil, nil)
	importJar := testutil.MustWriteBundle(t, filepath.Join(dir, "import.jar"), "mod.import", nil, nil)

	parent := New("parent", WithClasspath(parentJar))
	imported := New("imported", WithClasspath(importJar))
	r := New("child", WithParent(parent), WithImports(imported), WithClasspath(own))

	got, err := r.Resources(descriptor)
	if err != nil {
		t.Fatalf("Resources() error = %v", err)
	}
	want := []string{
		"jar:file:" + filepath.ToSlash(own) + "!/" + descriptor,
		"jar:file:" + filepath.ToSlash(parentJar) + "!/" + descriptor,
		"jar:file:" + filepath.ToSlash(importJar) + "!/" + descriptor,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Resources() mismatch (-want +got):\n%s", diff)
	}
}

func TestResources_DiamondReportedOnce(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	shared := testutil.MustWriteBundle(t, filepath.Join(dir, "shared.jar"), "mod.shared", nil, nil)

	base := New("base", WithClasspath(shared))
	left := New("left", WithParent(base))
	right := New("right", WithParent(base))
	top := New("top", WithImports(left, right))

	got, err := top.Resources(descriptor)
	if err != nil {
		t.Fatalf("Resources() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Resources() returned %d URIs, want 1: %v", len(got), got)
	}
}

func TestResources_CycleTerminates(t *testing.T) {
	t.Parallel()

	a := New("a")
	b := New("b", WithImports(a))
	a.Import(b)

	got, err := a.Resources(descriptor)
	if err != nil {
		t.Fatalf("Resources() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Resources() = %v, want none", got)
	}
}

func TestResources_DirectoryEntry(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testutil.MustWriteFile(t, filepath.Join(dir, "classes", "META-INF", "MANIFEST.MF"), []byte("Manifest-Version: 1.0\n"))

	r := New("dir", WithClasspath(filepath.Join(dir, "classes"), filepath.Join(dir, "missing.jar")))
	got, err := r.Resources(descriptor)
	if err != nil {
		t.Fatalf("Resources() error = %v", err)
	}
	if len(got) != 1 || !strings.HasPrefix(got[0], "file:") || !strings.HasSuffix(got[0], "/META-INF/MANIFEST.MF") {
		t.Errorf("Resources() = %v, want one file: URI", got)
	}
}

func TestResources_SkipsCorruptArchive(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	broken := filepath.Join(dir, "broken.jar")
	testutil.MustWriteFile(t, broken, []byte("not a zip archive"))
	good := testutil.MustWriteJar(t, filepath.Join(dir, "good.jar"), map[string]string{
		descriptor:           "Manifest-Version: 1.0\n",
		"org/acme/Api.class": "cafebabe",
	})

	var logs bytes.Buffer
	r := New("mixed", WithClasspath(broken, good), WithLogger(log.New(&logs)))

	got, err := r.Resources(descriptor)
	if err != nil {
		t.Fatalf("Resources() error = %v", err)
	}
	want := []string{JarURI{Archive: good, Entry: descriptor}.String()}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Resources() mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(logs.String(), "broken.jar") {
		t.Errorf("expected a warning naming broken.jar, got %q", logs.String())
	}

	cls, err := r.LoadClass("org.acme.Api")
	if err != nil {
		t.Fatalf("LoadClass() error = %v", err)
	}
	if cls.Loader != r {
		t.Errorf("LoadClass() loader = %v, want %v", cls.Loader, r)
	}

	if out := Render(r, descriptor); !strings.Contains(out, "unreadable:") {
		t.Errorf("Render() should list the unreadable entry, got:\n%s", out)
	}
}

func TestLoadClass(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	apiJar := testutil.MustWriteJar(t, filepath.Join(dir, "api.jar"), map[string]string{
		"org/acme/Api.class": "cafebabe",
	})
	implJar := testutil.MustWriteJar(t, filepath.Join(dir, "impl.jar"), map[string]string{
		"org/acme/impl/Impl.class": "cafebabe",
	})

	api := New("api", WithClasspath(apiJar))
	impl := New("impl", WithParent(api), WithClasspath(implJar))

	cls, err := impl.LoadClass("org.acme.Api")
	if err != nil {
		t.Fatalf("LoadClass() error = %v", err)
	}
	if cls.Loader != api {
		t.Errorf("defining loader = %v, want api", cls.Loader.ID())
	}
	if want := "file:" + filepath.ToSlash(apiJar); cls.CodeSource != want {
		t.Errorf("CodeSource = %q, want %q", cls.CodeSource, want)
	}

	cls, err = impl.LoadClass("org.acme.impl.Impl")
	if err != nil {
		t.Fatalf("LoadClass() error = %v", err)
	}
	if cls.Loader != impl {
		t.Errorf("defining loader = %v, want impl", cls.Loader.ID())
	}

	_, err = api.LoadClass("org.acme.impl.Impl")
	if !errors.Is(err, ErrClassNotFound) {
		t.Fatalf("LoadClass() error = %v, want ErrClassNotFound", err)
	}
	var notFound *ClassNotFoundError
	if !errors.As(err, &notFound) || notFound.Realm != "api" {
		t.Errorf("error should be *ClassNotFoundError for realm api, got %v", err)
	}
}

func TestImport_Idempotent(t *testing.T) {
	t.Parallel()

	a := New("a")
	b := New("b")
	a.Import(b)
	a.Import(b)
	if got := len(a.Imports()); got != 1 {
		t.Errorf("len(Imports()) = %d, want 1", got)
	}
}
