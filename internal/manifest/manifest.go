// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// Path is the archive-relative location of the module descriptor.
	Path = "META-INF/MANIFEST.MF"

	// HeaderSymbolicName carries the module identifier.
	HeaderSymbolicName = "Bundle-SymbolicName"
	// HeaderVersion carries the module version.
	HeaderVersion = "Bundle-Version"
	// HeaderName carries the human-readable module name.
	HeaderName = "Bundle-Name"
	// HeaderRequireBundle lists the modules this module depends on.
	HeaderRequireBundle = "Require-Bundle"
	// HeaderManifestVersion is the manifest format version.
	HeaderManifestVersion = "Manifest-Version"
	// HeaderBundleManifestVersion is the module header format version.
	HeaderBundleManifestVersion = "Bundle-ManifestVersion"
	// HeaderExportPackage lists the packages a module makes visible.
	HeaderExportPackage = "Export-Package"

	// maxLineLength mirrors the JAR format limit of 72 bytes per line, with
	// generous headroom for hand-written manifests.
	maxLineLength = 64 * 1024
)

// ErrInvalidManifest is the sentinel error wrapped by ParseError.
var ErrInvalidManifest = errors.New("invalid manifest")

type (
	// Headers is the main section of a manifest, keyed by header name.
	Headers map[string]string

	// ParseError reports a malformed manifest line.
	// It wraps ErrInvalidManifest for errors.Is() compatibility.
	ParseError struct {
		Line   int
		Reason string
	}
)

// Error implements the error interface for ParseError.
func (e *ParseError) Error() string {
	return fmt.Sprintf("manifest line %d: %s", e.Line, e.Reason)
}

// Unwrap returns ErrInvalidManifest for errors.Is() compatibility.
func (e *ParseError) Unwrap() error { return ErrInvalidManifest }

// Parse reads the main section of a manifest. Continuation lines start with a
// single space and extend the previous header value. Parsing stops at the first
// blank line, which ends the main section.
func Parse(r io.Reader) (Headers, error) {
	headers := make(Headers)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineLength)

	var (
		lineNo  int
		lastKey string
	)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if lineNo == 1 {
			line = strings.TrimPrefix(line, "\uFEFF")
		}
		if line == "" {
			break
		}

		if line[0] == ' ' {
			if lastKey == "" {
				return nil, &ParseError{Line: lineNo, Reason: "continuation line without a header"}
			}
			headers[lastKey] += line[1:]
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, &ParseError{Line: lineNo, Reason: fmt.Sprintf("missing ':' in %q", line)}
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, &ParseError{Line: lineNo, Reason: "empty header name"}
		}
		headers[key] = strings.TrimPrefix(value, " ")
		lastKey = key
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	return headers, nil
}

// SymbolicName returns the module identifier with any ';' attributes removed,
// or the empty string when the header is absent.
func SymbolicName(h Headers) string {
	name, _, _ := strings.Cut(h[HeaderSymbolicName], ";")
	return strings.TrimSpace(name)
}

// IsSingleton reports whether the symbolic name carries singleton:=true.
func IsSingleton(h Headers) bool {
	_, attrs, found := strings.Cut(h[HeaderSymbolicName], ";")
	if !found {
		return false
	}
	for attr := range strings.SplitSeq(attrs, ";") {
		key, value, ok := strings.Cut(attr, ":=")
		if ok && strings.TrimSpace(key) == "singleton" && strings.TrimSpace(value) == "true" {
			return true
		}
	}
	return false
}

// Version returns the module version, defaulting to 0.0.0.
func Version(h Headers) string {
	if v := strings.TrimSpace(h[HeaderVersion]); v != "" {
		return v
	}
	return "0.0.0"
}

// RequiredBundles returns the symbolic names listed in Require-Bundle, in
// declaration order. Attributes and directives are dropped.
func RequiredBundles(h Headers) []string {
	var names []string
	for _, clause := range clauses(h[HeaderRequireBundle]) {
		name, _, _ := strings.Cut(clause, ";")
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// IsOptional reports whether the Require-Bundle clause for name is marked
// resolution:=optional.
func IsOptional(h Headers, name string) bool {
	for _, clause := range clauses(h[HeaderRequireBundle]) {
		parts := strings.Split(clause, ";")
		if strings.TrimSpace(parts[0]) != name {
			continue
		}
		for _, attr := range parts[1:] {
			key, value, ok := strings.Cut(attr, ":=")
			if ok && strings.TrimSpace(key) == "resolution" && strings.Trim(strings.TrimSpace(value), `"`) == "optional" {
				return true
			}
		}
	}
	return false
}

// clauses splits a header value on commas that are outside quoted strings.
func clauses(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	var (
		out     []string
		current strings.Builder
		quoted  bool
	)
	for _, r := range raw {
		switch {
		case r == '"':
			quoted = !quoted
			current.WriteRune(r)
		case r == ',' && !quoted:
			out = append(out, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	return append(out, current.String())
}
