package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sgi/pkg/datastore"
	"sgi/pkg/utils"
)

// ResolveProject finds projects matching a free reference: an exact id, a
// project code (case-insensitive) or a fragment of the name. An exact id or
// code match returns a single record; a name search returns up to limit.
func ResolveProject(ctx context.Context, store datastore.Store, ref string, limit int) ([]datastore.Record, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, nil
	}

	rec, err := store.Get(ctx, datastore.Projects, ref)
	switch {
	case err == nil:
		return []datastore.Record{rec}, nil
	case !errors.Is(err, datastore.ErrNotFound):
		return nil, fmt.Errorf("failed to load project %q: %w", ref, err)
	}

	byCode, err := store.Find(ctx, datastore.Query{
		Collection: datastore.Projects,
		Filters:    []datastore.Filter{{Field: "code", Op: datastore.OpLike, Value: ref}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search project codes: %w", err)
	}
	for _, r := range byCode {
		if utils.Fold(r.String("code")) == utils.Fold(ref) {
			return []datastore.Record{r}, nil
		}
	}

	matches, err := store.Find(ctx, datastore.Query{
		Collection: datastore.Projects,
		Filters:    []datastore.Filter{{Field: "name", Op: datastore.OpLike, Value: ref}},
		OrderBy:    "name",
		Limit:      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search project names: %w", err)
	}
	return matches, nil
}

// ProjectTitle renders "CODE · Name" for prompts and summaries.
func ProjectTitle(r datastore.Record) string {
	if code := r.String("code"); code != "" {
		return code + " · " + r.String("name")
	}
	return r.String("name")
}
