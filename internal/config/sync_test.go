// SPDX-License-Identifier: MPL-2.0

package config

import (
	"reflect"
	"strings"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// These tests keep the Config json tags and the #Config schema aligned.

func extractCUEFields(t *testing.T, val cue.Value) map[string]bool {
	t.Helper()

	fields := make(map[string]bool)
	iter, err := val.Fields(cue.Definitions(false), cue.Optional(true))
	if err != nil {
		t.Fatalf("failed to iterate CUE fields: %v", err)
	}
	for iter.Next() {
		sel := iter.Selector()
		if sel.LabelType().IsHidden() || sel.IsDefinition() {
			continue
		}
		// Optional fields carry a "?" suffix.
		fields[strings.TrimSuffix(sel.String(), "?")] = iter.IsOptional()
	}
	return fields
}

func extractGoJSONTags(t *testing.T, typ reflect.Type) map[string]bool {
	t.Helper()

	fields := make(map[string]bool)
	for i := range typ.NumField() {
		field := typ.Field(i)
		if !field.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		fields[name] = strings.Contains(opts, "omitempty")
	}
	return fields
}

func configDefinition(t *testing.T) cue.Value {
	t.Helper()

	schema := cuecontext.New().CompileString(configSchema)
	if schema.Err() != nil {
		t.Fatalf("failed to compile CUE schema: %v", schema.Err())
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	if def.Err() != nil {
		t.Fatalf("failed to lookup #Config: %v", def.Err())
	}
	return def
}

func TestConfigSchemaSync(t *testing.T) {
	t.Parallel()

	cueFields := extractCUEFields(t, configDefinition(t))
	goFields := extractGoJSONTags(t, reflect.TypeFor[Config]())

	for field := range cueFields {
		if _, ok := goFields[field]; !ok {
			t.Errorf("CUE field %q not found in Config (missing json tag)", field)
		}
	}
	for field := range goFields {
		if _, ok := cueFields[field]; !ok {
			t.Errorf("Config json tag %q not found in #Config", field)
		}
	}
}

func TestConfigSchemaConstraints(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cueData string
		wantErr bool
	}{
		{name: "empty file", cueData: ``},
		{name: "duration ms", cueData: `stop_timeout: "250ms"`},
		{name: "duration fraction", cueData: `stop_timeout: "1.5s"`},
		{name: "duration missing unit", cueData: `stop_timeout: "10"`, wantErr: true},
		{name: "start level negative", cueData: `start_level: -1`, wantErr: true},
		{name: "start level string", cueData: `start_level: "6"`, wantErr: true},
		{name: "empty descriptor", cueData: `descriptor: ""`, wantErr: true},
		{name: "empty include", cueData: `include: [""]`, wantErr: true},
		{name: "property string", cueData: `properties: {"a.b": "c"}`},
		{name: "property number", cueData: `properties: {"a.b": 1}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := cuecontext.New()
			def := ctx.CompileString(configSchema).LookupPath(cue.ParsePath("#Config"))
			user := ctx.CompileString(tt.cueData)
			if user.Err() != nil {
				t.Fatalf("compile: %v", user.Err())
			}
			err := def.Unify(user).Validate(cue.Concrete(true))
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
