// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  Headers
	}{
		{
			name:  "simple headers",
			input: "Manifest-Version: 1.0\nBundle-SymbolicName: mod.a\n",
			want:  Headers{"Manifest-Version": "1.0", "Bundle-SymbolicName": "mod.a"},
		},
		{
			name:  "continuation line",
			input: "Require-Bundle: mod.a,\n mod.b\nBundle-Version: 1.2.3\n",
			want:  Headers{"Require-Bundle": "mod.a,mod.b", "Bundle-Version": "1.2.3"},
		},
		{
			name:  "stops at first blank line",
			input: "Bundle-SymbolicName: mod.a\n\nName: org/acme/\nSealed: true\n",
			want:  Headers{"Bundle-SymbolicName": "mod.a"},
		},
		{
			name:  "crlf line endings",
			input: "Bundle-SymbolicName: mod.a\r\nBundle-Version: 2.0\r\n",
			want:  Headers{"Bundle-SymbolicName": "mod.a", "Bundle-Version": "2.0"},
		},
		{
			name:  "empty input",
			input: "",
			want:  Headers{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Parse(strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		wantLine int
	}{
		{name: "leading continuation", input: " orphan\n", wantLine: 1},
		{name: "missing colon", input: "Bundle-SymbolicName: a\nbroken line\n", wantLine: 2},
		{name: "empty key", input: ": value\n", wantLine: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse(strings.NewReader(tt.input))
			if !errors.Is(err, ErrInvalidManifest) {
				t.Fatalf("Parse() error = %v, want ErrInvalidManifest", err)
			}
			var parseErr *ParseError
			if !errors.As(err, &parseErr) {
				t.Fatalf("error should be *ParseError, got %T", err)
			}
			if parseErr.Line != tt.wantLine {
				t.Errorf("Line = %d, want %d", parseErr.Line, tt.wantLine)
			}
		})
	}
}

func TestSymbolicName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value string
		want  string
	}{
		{value: "mod.a", want: "mod.a"},
		{value: "mod.a;singleton:=true", want: "mod.a"},
		{value: " mod.a ; singleton:=true", want: "mod.a"},
		{value: "", want: ""},
	}

	for _, tt := range tests {
		h := Headers{HeaderSymbolicName: tt.value}
		if got := SymbolicName(h); got != tt.want {
			t.Errorf("SymbolicName(%q) = %q, want %q", tt.value, got, tt.want)
		}
	}

	if got := SymbolicName(Headers{}); got != "" {
		t.Errorf("SymbolicName(empty) = %q, want empty", got)
	}
}

func TestIsSingleton(t *testing.T) {
	t.Parallel()

	if !IsSingleton(Headers{HeaderSymbolicName: "mod.a; singleton:=true"}) {
		t.Error("expected singleton")
	}
	if IsSingleton(Headers{HeaderSymbolicName: "mod.a"}) {
		t.Error("expected non-singleton without attributes")
	}
	if IsSingleton(Headers{HeaderSymbolicName: "mod.a;singleton:=false"}) {
		t.Error("expected non-singleton for singleton:=false")
	}
}

func TestVersion(t *testing.T) {
	t.Parallel()

	if got := Version(Headers{}); got != "0.0.0" {
		t.Errorf("Version(empty) = %q, want 0.0.0", got)
	}
	if got := Version(Headers{HeaderVersion: "1.4.0.qualifier"}); got != "1.4.0.qualifier" {
		t.Errorf("Version() = %q", got)
	}
}

func TestRequiredBundles(t *testing.T) {
	t.Parallel()

	h := Headers{
		HeaderRequireBundle: `mod.a;bundle-version="[1.0,2.0)",mod.b;resolution:=optional, mod.c`,
	}
	want := []string{"mod.a", "mod.b", "mod.c"}
	if diff := cmp.Diff(want, RequiredBundles(h)); diff != "" {
		t.Errorf("RequiredBundles() mismatch (-want +got):\n%s", diff)
	}

	if got := RequiredBundles(Headers{}); got != nil {
		t.Errorf("RequiredBundles(empty) = %v, want nil", got)
	}

	if !IsOptional(h, "mod.b") {
		t.Error("mod.b should be optional")
	}
	if IsOptional(h, "mod.c") {
		t.Error("mod.c should not be optional")
	}
}
