package fortune

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTiersPartitionRange(t *testing.T) {
	tiers := DefaultTiers()
	require.NoError(t, tiers.Validate(0, 100))
	for v := 0; v <= 100; v++ {
		n := 0
		for _, tier := range tiers {
			if tier.Min <= v && v <= tier.Max {
				n++
			}
		}
		assert.Equal(t, 1, n, "value %d", v)
	}

	label, icon := tiers.Classify(87)
	assert.Equal(t, "好运", label)
	assert.Equal(t, "😊", icon)
	label, icon = tiers.Classify(100)
	assert.Equal(t, "万事皆允", label)
	assert.Equal(t, "🤩", icon)
}

func TestClassifyFallback(t *testing.T) {
	label, icon := DefaultTiers().Classify(101)
	assert.Equal(t, "unknown", label)
	assert.Equal(t, "?", icon)

	label, icon = Tiers(nil).Classify(0)
	assert.Equal(t, "unknown", label)
	assert.Equal(t, "?", icon)
}

func TestTiersValidate(t *testing.T) {
	tests := []struct {
		name     string
		tiers    Tiers
		min, max int
		kind     string
		from, to int
	}{
		{"empty", nil, 0, 10, "empty", 0, 0},
		{"inverted", Tiers{{5, 1, "a", "a"}}, 0, 10, "inverted", 5, 1},
		{"overlap", Tiers{{0, 5, "a", "a"}, {5, 10, "b", "b"}}, 0, 10, "overlap", 5, 5},
		{"unsorted", Tiers{{6, 10, "b", "b"}, {0, 5, "a", "a"}}, 0, 10, "overlap", 0, 10},
		{"inner gap", Tiers{{0, 3, "a", "a"}, {6, 10, "b", "b"}}, 0, 10, "gap", 4, 5},
		{"low gap", Tiers{{2, 10, "a", "a"}}, 0, 10, "gap", 0, 1},
		{"high gap", Tiers{{0, 7, "a", "a"}}, 0, 10, "gap", 8, 10},
		{"default vs wider range", DefaultTiers(), 0, 120, "gap", 101, 120},
		{"gap before open top", Tiers{{0, 3, "a", "a"}, {5, math.MaxInt, "b", "b"}}, 0, math.MaxInt, "gap", 4, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tiers.Validate(tt.min, tt.max)
			var tce *TierCoverageError
			require.ErrorAs(t, err, &tce)
			assert.Equal(t, tt.kind, tce.Kind)
			if tt.kind != "empty" {
				assert.Equal(t, tt.from, tce.From)
				assert.Equal(t, tt.to, tce.To)
			}
		})
	}

	// Tiers wider than the range are fine.
	assert.NoError(t, DefaultTiers().Validate(10, 50))
	assert.NoError(t, Tiers{{math.MinInt, 3, "a", "a"}, {4, math.MaxInt, "b", "b"}}.Validate(math.MinInt, math.MaxInt))
}
