// SPDX-License-Identifier: Apache-2.0

// Package loader discovers and parses migration files (spec §6): TOML or
// JSON, one `actions` array of tagged records per file, sorted
// lexicographically by file name. Whichever format a file is written
// in, it is canonicalized to JSON, checked against the migration
// schema, and decoded the same way.
package loader

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/reshapehq/reshape/pkg/migrations"
)

//go:embed schema.json
var schemaFS embed.FS

var validator *jsonschema.Schema

func init() {
	raw, err := schemaFS.ReadFile("schema.json")
	if err != nil {
		panic(fmt.Errorf("loader: reading embedded migration schema: %w", err))
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		panic(fmt.Errorf("loader: parsing embedded migration schema: %w", err))
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("reshape://migration.schema.json", doc); err != nil {
		panic(fmt.Errorf("loader: registering embedded migration schema: %w", err))
	}

	validator, err = compiler.Compile("reshape://migration.schema.json")
	if err != nil {
		panic(fmt.Errorf("loader: compiling embedded migration schema: %w", err))
	}
}

// Load scans dir for migration files (.json, .toml) and parses each
// into a migrations.Migration, returned in lexicographic order by file
// name (spec §6) — the order migrations are applied in.
func Load(dir string) ([]*migrations.Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("loader: reading migration directory %q: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".json", ".toml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	migs := make([]*migrations.Migration, 0, len(names))
	for _, name := range names {
		m, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("loader: %s: %w", name, err)
		}
		migs = append(migs, m)
	}
	return migs, nil
}

// LoadFile parses a single migration file. The file is validated
// against the migration schema before being decoded, so a malformed
// file is reported as a configuration error rather than surfacing as a
// confusing failure deeper in the engine (spec §7 kind 1).
func LoadFile(path string) (*migrations.Migration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening migration file: %w", err)
	}

	canonical, err := canonicalize(path, raw)
	if err != nil {
		return nil, err
	}

	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(canonical))
	if err != nil {
		return nil, fmt.Errorf("decoding migration file: %w", err)
	}
	if err := validator.Validate(instance); err != nil {
		return nil, fmt.Errorf("migration file does not conform to the migration schema: %w", err)
	}

	var m migrations.Migration
	if err := json.Unmarshal(canonical, &m); err != nil {
		return nil, fmt.Errorf("parsing migration actions: %w", err)
	}

	if m.Name == "" {
		m.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	return &m, nil
}

// canonicalize normalises a migration file into the single JSON
// representation the rest of the engine understands, regardless of
// which of the two supported formats it was written in.
func canonicalize(path string, raw []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return raw, nil

	case ".toml":
		var doc map[string]interface{}
		if err := toml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("parsing TOML: %w", err)
		}
		canonical, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("converting TOML to JSON: %w", err)
		}
		return canonical, nil

	default:
		return nil, fmt.Errorf("unsupported migration file extension %q", filepath.Ext(path))
	}
}
