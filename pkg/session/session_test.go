package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sgi/pkg/persistence"
)

func newSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := persistence.Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLStore(persistence.NewStore(db))
}

// forEachStore runs a test against both implementations.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLStore(t)) })
}

func TestGetDefaultsToIdle(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		sess := s.Get(context.Background(), "never-seen")
		require.NotNil(t, sess)
		assert.Equal(t, StateIdle, sess.State)
		assert.Nil(t, sess.Data)
		assert.True(t, sess.IsIdle())
	})
}

func TestUpdateIsLeftFoldOfPartials(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		id := "2250701020304"

		require.NoError(t, s.Update(ctx, id, "INCIDENT_CATEGORY", IncidentSlots{Type: "securite"}))
		require.NoError(t, s.Update(ctx, id, "INCIDENT_SEVERITY", IncidentSlots{Category: "chute"}))
		require.NoError(t, s.Update(ctx, id, "INCIDENT_DESCRIPTION", IncidentSlots{Severity: "moyenne"}))
		require.NoError(t, s.Update(ctx, id, "INCIDENT_DESCRIPTION", IncidentSlots{Severity: "haute"}))
		require.NoError(t, s.Update(ctx, id, "INCIDENT_PHOTO", nil))

		sess := s.Get(ctx, id)
		assert.Equal(t, State("INCIDENT_PHOTO"), sess.State)
		assert.Equal(t, IncidentSlots{Type: "securite", Category: "chute", Severity: "haute"}, sess.Data)
		assert.Equal(t, FamilyIncident, sess.Family())
		assert.False(t, sess.UpdatedAt.IsZero())
	})
}

func TestOtherFamilyReplacesSlots(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Update(ctx, "u", "INCIDENT_SEVERITY", IncidentSlots{Type: "qualite"}))
		require.NoError(t, s.Update(ctx, "u", "STOCK_QUERY", StockSlots{Query: "ciment"}))

		sess := s.Get(ctx, "u")
		assert.Equal(t, StockSlots{Query: "ciment"}, sess.Data)
	})
}

func TestClearResetsWholesale(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Update(ctx, "u", "MEDIA_CAPTION", MediaSlots{ProjectID: "p1", MediaID: "m1"}))
		require.NoError(t, s.Clear(ctx, "u"))

		sess := s.Get(ctx, "u")
		assert.Equal(t, StateIdle, sess.State)
		assert.Nil(t, sess.Data)
	})
}

func TestEmptyIdentityRejected(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		err := s.Update(context.Background(), "", "X", nil)
		assert.True(t, errors.Is(err, ErrEmptyIdentity))
		assert.True(t, errors.Is(s.Clear(context.Background(), ""), ErrEmptyIdentity))
	})
}

func TestIdentitiesAreIsolated(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Update(ctx, "a", "FINANCE_PROJECT", FinanceSlots{Query: "route"}))
		assert.True(t, s.Get(ctx, "b").IsIdle())
	})
}

func TestSQLStoreUnreadableDataFallsBackToIdle(t *testing.T) {
	store := newSQLStore(t)
	ctx := context.Background()
	require.NoError(t, store.store.PutSession(ctx, &persistence.SessionRow{
		Identity: "u", State: "STOCK_SELECT", Family: "stock", DataJSON: "{not json", UpdatedAt: time.Now(),
	}))

	sess := store.Get(ctx, "u")
	assert.Equal(t, StateIdle, sess.State)
	assert.Nil(t, sess.Data)
}

func TestMergeKeepsUntouchedFields(t *testing.T) {
	merged, err := Merge(&ProjectUpdateSlots{ProjectID: "p1", Field: "statut"}, ProjectUpdateSlots{Value: "termine"})
	require.NoError(t, err)
	assert.Equal(t, ProjectUpdateSlots{ProjectID: "p1", Field: "statut", Value: "termine"}, merged)

	merged, err = Merge(nil, nil)
	require.NoError(t, err)
	assert.Nil(t, merged)

	merged, err = Merge(MediaSlots{Candidates: []string{"a", "b"}}, MediaSlots{Candidates: []string{"c"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, merged.(MediaSlots).Candidates)
}

func TestEncodeDecodeSlots(t *testing.T) {
	family, raw, err := EncodeSlots(SignalementSlots{SignalementID: "s1", Action: "resolu"})
	require.NoError(t, err)
	assert.Equal(t, FamilySignalement, family)

	back, err := DecodeSlots(family, raw)
	require.NoError(t, err)
	assert.Equal(t, SignalementSlots{SignalementID: "s1", Action: "resolu"}, back)

	_, err = DecodeSlots("bogus", "{}")
	assert.Error(t, err)
}
