package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInboundInputPrefersSelection(t *testing.T) {
	in := &Inbound{Text: "  Haute ", SelectionID: "sev_haute"}
	assert.Equal(t, "sev_haute", in.Input())

	in.SelectionID = ""
	assert.Equal(t, "Haute", in.Input())
}

func TestInteractiveValidate(t *testing.T) {
	ok := NewButtons("Confirmer ?", Button{ID: "confirm_yes", Title: "Oui"}, Button{ID: "confirm_no", Title: "Non"})
	require.NoError(t, ok.Validate())
	assert.Len(t, ok.Options(), 2)

	tooMany := NewButtons("x",
		Button{ID: "a", Title: "A"}, Button{ID: "b", Title: "B"},
		Button{ID: "c", Title: "C"}, Button{ID: "d", Title: "D"})
	assert.Error(t, tooMany.Validate())

	dup := NewList("Choisir", "Voir", Section{Rows: []Row{{ID: "x", Title: "1"}, {ID: "x", Title: "2"}}})
	assert.Error(t, dup.Validate())

	noLabel := NewList("Choisir", "", Section{Rows: []Row{{ID: "x", Title: "1"}}})
	assert.Error(t, noLabel.Validate())

	list := NewList("Menu", "Ouvrir",
		Section{Title: "A", Rows: []Row{{ID: "1", Title: "un"}}},
		Section{Title: "B", Rows: []Row{{ID: "2", Title: "deux"}, {ID: "3", Title: "trois"}}})
	require.NoError(t, list.Validate())
	assert.Equal(t, 3, list.RowCount())
	assert.Equal(t, "deux", list.Options()[1].Title)
}
