// SPDX-License-Identifier: MPL-2.0

package bridge

import (
	"fmt"
	"io"
	"maps"
	"path/filepath"
	"strconv"

	"github.com/invowk/realmbridge/internal/framework"
	"github.com/invowk/realmbridge/internal/realm"

	"github.com/magiconair/properties"
)

// PropertiesResource holds runtime properties contributed by archives on the
// loader. A key found in several resources keeps every value, comma separated.
const PropertiesResource = "META-INF/realmbridge/framework.properties"

// storagePrefix names per-runtime storage directories.
const storagePrefix = "realmbridge."

// readProperties merges every PropertiesResource visible from loader in
// resource order. Unreadable resources are reported through warn and skipped.
func readProperties(loader realm.Loader, warn func(uri string, err error)) (map[string]string, error) {
	uris, err := loader.Resources(PropertiesResource)
	if err != nil {
		return nil, fmt.Errorf("enumerate %s: %w", PropertiesResource, err)
	}

	merged := make(map[string]string)
	for _, uri := range uris {
		p, err := loadProperties(uri)
		if err != nil {
			warn(uri, err)
			continue
		}
		for _, key := range p.Keys() {
			value, _ := p.Get(key)
			if prev, ok := merged[key]; ok {
				merged[key] = prev + "," + value
			} else {
				merged[key] = value
			}
		}
	}
	return merged, nil
}

func loadProperties(uri string) (*properties.Properties, error) {
	rc, err := realm.OpenResource(uri)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", uri, err)
	}
	l := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	p, err := l.LoadBytes(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", uri, err)
	}
	return p, nil
}

// fixedProperties are set on every runtime and override any other source.
func fixedProperties(storageRoot, id string, startLevel int) map[string]string {
	return map[string]string{
		framework.PropUseSystemProperties: "false",
		framework.PropParentLoader:        "fwk",
		framework.PropStorage:             filepath.Join(storageRoot, storagePrefix+id),
		framework.PropBeginningStartLevel: strconv.Itoa(startLevel),
		framework.PropUUID:                id,
	}
}

// layerProperties copies the layers into one map, later layers winning.
func layerProperties(layers ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, layer := range layers {
		maps.Copy(out, layer)
	}
	return out
}
