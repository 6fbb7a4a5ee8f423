// SPDX-License-Identifier: MPL-2.0

package realm

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/invowk/realmbridge/internal/cueutil"

	"github.com/charmbracelet/log"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

var (
	// ErrUnknownRealm is returned when a graph file references an undeclared realm.
	ErrUnknownRealm = errors.New("unknown realm")
	// ErrDuplicateRealm is returned when a graph file declares the same id twice.
	ErrDuplicateRealm = errors.New("duplicate realm")
	// ErrUnsupportedGraphFormat is returned for graph files that are not TOML, YAML or CUE.
	ErrUnsupportedGraphFormat = errors.New("unsupported graph format")
)

//go:embed graph_schema.cue
var graphSchema []byte

type (
	// GraphFile is the on-disk description of a realm graph.
	GraphFile struct {
		Realms []RealmSpec `toml:"realm" yaml:"realms" json:"realms"`
	}

	// RealmSpec declares one realm in a graph file.
	RealmSpec struct {
		ID        string   `toml:"id" yaml:"id" json:"id"`
		Parent    string   `toml:"parent,omitempty" yaml:"parent,omitempty" json:"parent,omitempty"`
		Imports   []string `toml:"imports,omitempty" yaml:"imports,omitempty" json:"imports,omitempty"`
		Classpath []string `toml:"classpath,omitempty" yaml:"classpath,omitempty" json:"classpath,omitempty"`
	}

	// Graph is a decoded realm graph.
	Graph struct {
		// Order lists realm ids in declaration order.
		Order []string

		realms map[string]*Realm
	}

	// GraphError reports a structural problem in a graph file.
	GraphError struct {
		Realm string
		Ref   string
		Err   error
	}
)

// Error implements the error interface for GraphError.
func (e *GraphError) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("realm %q: %v %q", e.Realm, e.Err, e.Ref)
	}
	return fmt.Sprintf("realm %q: %v", e.Realm, e.Err)
}

// Unwrap returns the underlying sentinel.
func (e *GraphError) Unwrap() error { return e.Err }

// LoadGraph reads a realm graph from a .toml, .yaml, .yml or .cue file. Relative
// classpath entries are resolved against the file's directory.
func LoadGraph(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read realm graph: %w", err)
	}

	var gf GraphFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&gf); err != nil {
			return nil, fmt.Errorf("decode realm graph %s: %w", path, err)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&gf); err != nil {
			return nil, fmt.Errorf("decode realm graph %s: %w", path, err)
		}
	case ".cue":
		result, err := cueutil.ParseAndDecode[GraphFile](graphSchema, data, "#Graph", cueutil.WithFilename(path))
		if err != nil {
			return nil, fmt.Errorf("decode realm graph: %w", err)
		}
		gf = *result.Value
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedGraphFormat, ext)
	}

	return gf.Build(filepath.Dir(path))
}

// Build creates the realms declared by the file and links their edges.
// Parents and imports may reference realms declared later in the file.
func (gf GraphFile) Build(baseDir string) (*Graph, error) {
	g := &Graph{realms: make(map[string]*Realm, len(gf.Realms))}
	for _, spec := range gf.Realms {
		if _, exists := g.realms[spec.ID]; exists {
			return nil, &GraphError{Realm: spec.ID, Err: ErrDuplicateRealm}
		}
		entries := make([]string, 0, len(spec.Classpath))
		for _, entry := range spec.Classpath {
			if !filepath.IsAbs(entry) {
				entry = filepath.Join(baseDir, filepath.FromSlash(entry))
			}
			entries = append(entries, entry)
		}
		g.realms[spec.ID] = New(spec.ID, WithClasspath(entries...))
		g.Order = append(g.Order, spec.ID)
	}

	for _, spec := range gf.Realms {
		r := g.realms[spec.ID]
		if spec.Parent != "" {
			parent, ok := g.realms[spec.Parent]
			if !ok {
				return nil, &GraphError{Realm: spec.ID, Ref: spec.Parent, Err: ErrUnknownRealm}
			}
			r.SetParent(parent)
		}
		for _, id := range spec.Imports {
			imp, ok := g.realms[id]
			if !ok {
				return nil, &GraphError{Realm: spec.ID, Ref: id, Err: ErrUnknownRealm}
			}
			r.Import(imp)
		}
	}

	return g, nil
}

// Realm returns the realm with the given id.
func (g *Graph) Realm(id string) (*Realm, bool) {
	r, ok := g.realms[id]
	return r, ok
}

// SetLogger sets the logger of every realm in the graph.
func (g *Graph) SetLogger(logger *log.Logger) {
	for _, r := range g.realms {
		r.SetLogger(logger)
	}
}

// Realms returns the realms in declaration order.
func (g *Graph) Realms() []*Realm {
	out := make([]*Realm, 0, len(g.Order))
	for _, id := range g.Order {
		out = append(out, g.realms[id])
	}
	return out
}
