package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	o, ok := Lookup(Severities, "CRITIQUE")
	require.True(t, ok)
	assert.Equal(t, "critique", o.Code)

	o, ok = Lookup(IncidentTypes, "securité")
	require.True(t, ok)
	assert.Equal(t, "securite", o.Code)

	o, ok = Lookup(ProjectStatuses, "2")
	require.True(t, ok)
	assert.Equal(t, "en_cours", o.Code)

	_, ok = Lookup(ProjectStatuses, "9")
	assert.False(t, ok)
	_, ok = Lookup(ProjectStatuses, "")
	assert.False(t, ok)
}

func TestNormalizeProjectField(t *testing.T) {
	v, err := NormalizeProjectField(FieldStatus, "Terminé")
	require.NoError(t, err)
	assert.Equal(t, "termine", v)

	v, err = NormalizeProjectField(FieldProgress, "75 %")
	require.NoError(t, err)
	assert.Equal(t, 75, v)

	v, err = NormalizeProjectField(FieldEndDate, "31/12/2026")
	require.NoError(t, err)
	assert.Equal(t, "2026-12-31", v)

	_, err = NormalizeProjectField(FieldProgress, "140")
	assert.True(t, errors.Is(err, ErrInvalidValue))

	_, err = NormalizeProjectField("budget", "1")
	assert.True(t, errors.Is(err, ErrInvalidValue))
}

func TestFormatAmount(t *testing.T) {
	s := FormatAmount(1250000)
	assert.True(t, strings.HasSuffix(s, "FCFA"))
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	assert.Equal(t, "1250000", digits)
}

func TestStatusForAction(t *testing.T) {
	s, ok := StatusForAction("resoudre")
	require.True(t, ok)
	assert.Equal(t, "resolu", s)
	_, ok = StatusForAction("archiver")
	assert.False(t, ok)
}
