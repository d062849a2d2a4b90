package datastore

import (
	"context"
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"
)

// Seed is a YAML fixture: collection name to list of records.
//
//	projects:
//	  - id: p-001
//	    name: Route Bouaké-Katiola
//	    status: en_cours
type Seed map[string][]map[string]any

// LoadSeed decodes a YAML fixture and inserts every record. Collections are
// loaded in name order. It returns the number of inserted records.
func LoadSeed(ctx context.Context, store Store, r io.Reader) (int, error) {
	var seed Seed
	if err := yaml.NewDecoder(r).Decode(&seed); err != nil {
		if err == io.EOF {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to parse seed: %w", err)
	}

	names := make([]string, 0, len(seed))
	for name := range seed {
		names = append(names, name)
	}
	sort.Strings(names)

	n := 0
	for _, name := range names {
		for i, raw := range seed[name] {
			if _, err := store.Insert(ctx, name, Record(raw)); err != nil {
				return n, fmt.Errorf("seed %s[%d]: %w", name, i, err)
			}
			n++
		}
	}
	return n, nil
}
