// SPDX-License-Identifier: MPL-2.0

package connector

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/invowk/realmbridge/internal/realm"
)

// StartListResource is the resource naming modules to start once the runtime runs.
const StartListResource = "META-INF/realmbridge/start.bundles"

type (
	// StartEntry describes how a listed module is treated.
	StartEntry struct {
		// ID is the module identifier.
		ID string
		// Start requests that the module is started after the runtime starts.
		Start bool
		// Isolated modules get content without a loader.
		Isolated bool
	}

	// StartList holds start entries in first-listed order. A later entry for
	// the same identifier replaces the earlier one in place.
	StartList struct {
		entries []StartEntry
		index   map[string]int
	}
)

// ParseStartList reads lines of the form "[>]<id>[,<bool>]". Blank lines
// and lines starting with '#' are skipped.
func ParseStartList(r io.Reader) ([]StartEntry, error) {
	var entries []StartEntry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id, flag, _ := strings.Cut(line, ",")
		entry := StartEntry{Start: strings.EqualFold(strings.TrimSpace(flag), "true")}
		if rest, ok := strings.CutPrefix(id, ">"); ok {
			entry.Isolated = true
			id = rest
		}
		entry.ID = strings.TrimSpace(id)
		if entry.ID == "" {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read start list: %w", err)
	}
	return entries, nil
}

// ReadStartList merges every start list resource visible from loader in
// resource order. A resource that cannot be read is reported to warn and
// skipped; only a failed enumeration is an error.
func ReadStartList(loader realm.Loader, warn func(uri string, err error)) (*StartList, error) {
	uris, err := loader.Resources(StartListResource)
	if err != nil {
		return nil, fmt.Errorf("enumerate %s: %w", StartListResource, err)
	}

	list := &StartList{}
	for _, uri := range uris {
		entries, err := readStartListURI(uri)
		if err != nil {
			if warn != nil {
				warn(uri, err)
			}
			continue
		}
		list.Add(entries...)
	}
	return list, nil
}

func readStartListURI(uri string) (entries []StartEntry, err error) {
	rc, err := realm.OpenResource(uri)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rc.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	entries, err = ParseStartList(rc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", uri, err)
	}
	return entries, nil
}

// Add appends entries, replacing existing entries with the same identifier.
func (l *StartList) Add(entries ...StartEntry) {
	if l.index == nil {
		l.index = make(map[string]int)
	}
	for _, e := range entries {
		if i, ok := l.index[e.ID]; ok {
			l.entries[i] = e
			continue
		}
		l.index[e.ID] = len(l.entries)
		l.entries = append(l.entries, e)
	}
}

// Lookup returns the entry for id.
func (l *StartList) Lookup(id string) (StartEntry, bool) {
	if l == nil {
		return StartEntry{}, false
	}
	i, ok := l.index[id]
	if !ok {
		return StartEntry{}, false
	}
	return l.entries[i], true
}

// Entries returns a copy of the entries in list order.
func (l *StartList) Entries() []StartEntry {
	if l == nil {
		return nil
	}
	return slices.Clone(l.entries)
}

// ToStart returns the identifiers of entries marked for start.
func (l *StartList) ToStart() []string {
	var ids []string
	for _, e := range l.Entries() {
		if e.Start {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// Len returns the number of entries.
func (l *StartList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.entries)
}
