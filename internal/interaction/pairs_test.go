package interaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/pilltrail/pilltrail/internal/errors"
)

func TestDefaultKnownPairsValid(t *testing.T) {
	pairs, err := DefaultKnownPairs()
	require.NoError(t, err)
	assert.Equal(t, len(defaultPairEntries), pairs.Len())

	entry, ok := pairs.Lookup("Warfarin", "Aspirin")
	require.True(t, ok)
	assert.Equal(t, SeverityMajor, entry.Severity)
}

func TestKnownPairsLookupIsUnorderedAndCaseInsensitive(t *testing.T) {
	pairs, err := DefaultKnownPairs()
	require.NoError(t, err)

	a, okA := pairs.Lookup("aspirin", "WARFARIN")
	b, okB := pairs.Lookup("Warfarin", "Aspirin")
	require.True(t, okA)
	require.True(t, okB)
	assert.Equal(t, a, b)
}

func TestNewKnownPairsRejectsConflictingDuplicates(t *testing.T) {
	_, err := NewKnownPairs([]PairEntry{
		{"Warfarin", "Aspirin", SeverityMajor, "bleeding risk"},
		{"aspirin", "warfarin", SeverityMinor, "bleeding risk"},
	})
	require.Error(t, err)
	assert.Equal(t, "INTERACT_003", apperrors.GetCode(err))
}

func TestNewKnownPairsAllowsConsistentDuplicates(t *testing.T) {
	pairs, err := NewKnownPairs([]PairEntry{
		{"Warfarin", "Aspirin", SeverityMajor, "bleeding risk"},
		{"Aspirin", "Warfarin", SeverityMajor, "bleeding risk"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, pairs.Len())
}

func TestNewKnownPairsRejectsBadEntries(t *testing.T) {
	tests := []struct {
		name    string
		entries []PairEntry
	}{
		{"empty drug name", []PairEntry{{"", "Aspirin", SeverityMajor, "x"}}},
		{"unknown severity", []PairEntry{{"Warfarin", "Aspirin", Severity("catastrophic"), "x"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewKnownPairs(tt.entries)
			assert.Error(t, err)
		})
	}
}
