package datastore

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sgi/pkg/persistence"
)

const fixture = `
projects:
  - id: p1
    code: RTE-01
    name: Route Bouaké-Katiola
    status: en_cours
    region: Gbêkê
    budget: 1200000000
    progress: 45
  - id: p2
    code: ECO-02
    name: École primaire de Sakassou
    status: termine
    region: Gbêkê
    budget: 150000000
    progress: 100
  - id: p3
    code: PNT-03
    name: Pont de Béoumi
    status: en_cours
    region: Gbêkê
    budget: 800000000
    progress: 70
  - id: p4
    code: HOP-04
    name: Hôpital de Daloa
    status: suspendu
    region: Haut-Sassandra
    budget: 2500000000
    progress: 20
stock:
  - id: s1
    name: Ciment CPJ 42.5
    quantity: 320
`

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		s := NewMemory()
		_, err := LoadSeed(context.Background(), s, strings.NewReader(fixture))
		require.NoError(t, err)
		fn(t, s)
	})
	t.Run("sqlite", func(t *testing.T) {
		db, err := persistence.Open(filepath.Join(t.TempDir(), "records.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		s, err := NewSQL(db)
		require.NoError(t, err)
		n, err := LoadSeed(context.Background(), s, strings.NewReader(fixture))
		require.NoError(t, err)
		require.Equal(t, 5, n)
		fn(t, s)
	})
}

func ids(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID()
	}
	return out
}

func TestFindEqualityAndCount(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		q := Query{Collection: Projects, Filters: []Filter{Eq("status", "en_cours")}}

		got, err := s.Find(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, []string{"p1", "p3"}, ids(got))

		n, err := s.Count(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}

func TestFindRangeOrderLimit(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		got, err := s.Find(ctx, Query{
			Collection: Projects,
			Filters:    []Filter{{Field: "budget", Op: OpGte, Value: 500000000}},
			OrderBy:    "budget",
			Desc:       true,
			Limit:      2,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"p4", "p1"}, ids(got))

		got, err = s.Find(ctx, Query{Collection: Projects, OrderBy: "progress", Offset: 1, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"p1", "p3"}, ids(got))
	})
}

func TestFindLikeIsAccentInsensitive(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		got, err := s.Find(context.Background(), Query{
			Collection: Projects,
			Filters:    []Filter{{Field: "name", Op: OpLike, Value: "beoumi"}},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"p3"}, ids(got))

		got, err = s.Find(context.Background(), Query{
			Collection: Projects,
			Filters:    []Filter{{Field: "status", Op: OpNe, Value: "en_cours"}},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"p2", "p4"}, ids(got))
	})
}

func TestInsertGetUpdate(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		id, err := s.Insert(ctx, Incidents, Record{"type": "securite", "severity": "haute"})
		require.NoError(t, err)
		require.NotEmpty(t, id)

		rec, err := s.Get(ctx, Incidents, id)
		require.NoError(t, err)
		assert.Equal(t, "haute", rec.String("severity"))
		assert.NotEmpty(t, rec.String("created_at"))

		require.NoError(t, s.Update(ctx, Projects, "p1", Record{"progress": 50, "id": "ignored"}))
		p1, err := s.Get(ctx, Projects, "p1")
		require.NoError(t, err)
		assert.Equal(t, float64(50), p1.Number("progress"))
		assert.Equal(t, "p1", p1.ID())
		assert.Equal(t, "Route Bouaké-Katiola", p1.String("name"))

		_, err = s.Get(ctx, Projects, "nope")
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.True(t, errors.Is(s.Update(ctx, Projects, "nope", Record{"a": 1}), ErrNotFound))
	})
}

func TestQueryValidation(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		_, err := s.Find(context.Background(), Query{Collection: "projects; DROP TABLE records"})
		assert.Error(t, err)
		_, err = s.Find(context.Background(), Query{Collection: Projects, OrderBy: "name desc"})
		assert.Error(t, err)
		_, err = s.Count(context.Background(), Query{Collection: Projects, Filters: []Filter{{Field: "x", Op: "regex"}}})
		assert.Error(t, err)
	})
}

func TestRecordAccessors(t *testing.T) {
	r := Record{"id": "p1", "budget": float64(1500), "code": 12.5}
	assert.Equal(t, "p1", r.ID())
	assert.Equal(t, "12.5", r.String("code"))
	assert.Equal(t, float64(1500), r.Number("budget"))
	assert.Equal(t, "", r.String("missing"))
}
