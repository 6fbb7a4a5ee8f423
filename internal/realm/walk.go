// SPDX-License-Identifier: MPL-2.0

package realm

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/tree"
)

var (
	realmStyle    = lipgloss.NewStyle().Bold(true)
	resourceStyle = lipgloss.NewStyle().Faint(true)
	backRefStyle  = lipgloss.NewStyle().Italic(true).Faint(true)
)

// Collect returns start and every realm reachable from it through parent and
// import edges. Each realm appears once, in delegation order.
func Collect(start *Realm) []*Realm {
	if start == nil {
		return nil
	}
	var realms []*Realm
	_ = start.delegate(func(r *Realm) (bool, error) {
		realms = append(realms, r)
		return false, nil
	})
	return realms
}

// Render draws the realm graph rooted at start as a tree. Every realm is
// expanded once; later references to it are rendered as back-reference leaves.
// When descriptor is not empty each realm lists the matching resources found
// on its own classpath.
func Render(start *Realm, descriptor string) string {
	if start == nil {
		return ""
	}
	rendered := make(map[*Realm]bool)
	return renderNode(start, "", descriptor, rendered).(*tree.Tree).String()
}

// renderNode returns a *tree.Tree for an expanded realm or a string leaf for a
// back-reference.
func renderNode(r *Realm, edge, descriptor string, rendered map[*Realm]bool) any {
	label := r.id
	if edge != "" {
		label = edge + " " + label
	}

	if rendered[r] {
		return backRefStyle.Render(label + " (see above)")
	}
	rendered[r] = true

	node := tree.Root(realmStyle.Render(label))
	if descriptor != "" {
		uris, unreadable := r.ownResources(descriptor)
		for _, uri := range uris {
			node.Child(resourceStyle.Render(uri))
		}
		for _, err := range unreadable {
			node.Child(resourceStyle.Render("unreadable: " + err.Error()))
		}
	}
	if parent := r.Parent(); parent != nil {
		node.Child(renderNode(parent, "parent", descriptor, rendered))
	}
	for _, imp := range r.Imports() {
		node.Child(renderNode(imp, "import", descriptor, rendered))
	}
	return node
}
