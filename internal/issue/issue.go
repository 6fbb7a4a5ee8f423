// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
)

const (
	NoFactoryId Id = iota + 1
	AmbiguousFactoryId
	RealmNotFoundId
	GraphLoadFailedId
	ConfigLoadFailedId
	ModuleUnresolvedId
	InvalidFilterId
)

type (
	Id int

	MarkdownMsg string

	HttpLink string

	Issue struct {
		id       Id
		mdMsg    MarkdownMsg
		docLinks []HttpLink
		extLinks []HttpLink
	}
)

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

// Render renders the issue as terminal Markdown using the glamour style at stylePath.
func (i *Issue) Render(stylePath string) (string, error) {
	var md strings.Builder
	md.WriteString(string(i.mdMsg))
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		md.WriteString("\n\n## See also\n")
		for _, link := range slices.Concat(i.docLinks, i.extLinks) {
			md.WriteString("- <" + string(link) + ">\n")
		}
	}
	return render(md.String(), stylePath)
}

var (
	render = glamour.Render

	noFactoryIssue = &Issue{
		id: NoFactoryId,
		mdMsg: `
# No module runtime factory found!

No archive visible from the realm declares a runtime factory in
` + "`META-INF/services/realmbridge.framework.Factory`" + `.

## Things you can try:
- Add the archive that ships the runtime to the realm's classpath or to a
  realm it imports
- Check the provider names listed in the resource; each must be registered
~~~
$ realmbridge realms graph.toml plugin --descriptor META-INF/services/realmbridge.framework.Factory
~~~`,
		extLinks: []HttpLink{"https://docs.osgi.org/specification/osgi.core/8.0.0/framework.connect.html"},
	}

	ambiguousFactoryIssue = &Issue{
		id: AmbiguousFactoryId,
		mdMsg: `
# More than one runtime factory found!

Several archives visible from the realm declare different runtime factories.
The bridge will not pick one for you.

## Things you can try:
- Remove all but one runtime archive from the realm graph
- Pin the provider in your configuration:
~~~cue
provider: "embedded"
~~~`,
	}

	realmNotFoundIssue = &Issue{
		id: RealmNotFoundId,
		mdMsg: `
# Realm not found!

The realm id you asked for is not declared in the graph file.

## Things you can try:
- List the declared realms:
~~~
$ realmbridge realms graph.toml
~~~
- Check the spelling, realm ids are case-sensitive`,
	}

	graphLoadFailedIssue = &Issue{
		id: GraphLoadFailedId,
		mdMsg: `
# Realm graph could not be loaded!

## Things you can try:
- Use a .toml, .yaml, .yml or .cue file
- Make sure every parent and import names a declared realm
- Declare each realm id once

## Example graph (TOML):
~~~toml
[[realm]]
id = "maven.api"
classpath = ["lib/api.jar"]

[[realm]]
id = "plugin>acme"
parent = "maven.api"
classpath = ["lib/acme.jar", "lib/runtime.jar"]
~~~`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

## Things you can try:
- Check the CUE syntax of your config file
- Show the effective defaults:
~~~
$ realmbridge config show
~~~
- Write a fresh config file and edit it:
~~~
$ realmbridge config dump > "$(realmbridge config path)"
~~~`,
	}

	moduleUnresolvedIssue = &Issue{
		id: ModuleUnresolvedId,
		mdMsg: `
# Module could not be resolved!

A module names a Require-Bundle that no installed module provides.

## Things you can try:
- Add the archive of the required module to the realm graph
- Mark the requirement optional with ` + "`resolution:=optional`" + `
- Check your include and exclude patterns, they may filter the module out`,
	}

	invalidFilterIssue = &Issue{
		id: InvalidFilterId,
		mdMsg: `
# Invalid service filter!

Filters use LDAP syntax: every expression is wrapped in parentheses.

## Examples:
~~~
(service.ranking>=10)
(&(objectClass=greeter)(lang=en))
(|(name=a*)(!(name=*test)))
~~~`,
	}

	issues = map[Id]*Issue{
		noFactoryIssue.Id():        noFactoryIssue,
		ambiguousFactoryIssue.Id(): ambiguousFactoryIssue,
		realmNotFoundIssue.Id():    realmNotFoundIssue,
		graphLoadFailedIssue.Id():  graphLoadFailedIssue,
		configLoadFailedIssue.Id(): configLoadFailedIssue,
		moduleUnresolvedIssue.Id(): moduleUnresolvedIssue,
		invalidFilterIssue.Id():    invalidFilterIssue,
	}
)

// Values returns every catalog entry ordered by id.
func Values() []*Issue {
	return slices.SortedFunc(maps.Values(issues), func(a, b *Issue) int {
		return int(a.id) - int(b.id)
	})
}

func Get(id Id) *Issue {
	return issues[id]
}
