package planner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zephyr-ci/zephyr/internal/config"
)

func TestExpandMatrixNoDefinitionYieldsSingleCombo(t *testing.T) {
	t.Parallel()

	combos, err := expandMatrix(nil)
	require.NoError(t, err)
	require.Len(t, combos, 1)
	require.Equal(t, "", combos[0].NameSuffix)
}

func TestExpandMatrixCartesianProductSize(t *testing.T) {
	t.Parallel()

	def := &config.MatrixDefinition{
		Values: []config.MatrixDimension{
			{Key: "os", Values: []any{"linux", "darwin"}},
			{Key: "go", Values: []any{"1.22", "1.23", "1.24"}},
		},
	}

	combos, err := expandMatrix(def)
	require.NoError(t, err)
	require.Len(t, combos, 6)

	suffixes := make(map[string]bool, len(combos))
	for _, c := range combos {
		suffixes[c.NameSuffix] = true
	}
	require.Len(t, suffixes, 6, "every combination must have a distinct name suffix")
	require.True(t, suffixes["linux-1.22"])
	require.True(t, suffixes["darwin-1.24"])
}

func TestExpandMatrixExcludeRemovesOne(t *testing.T) {
	t.Parallel()

	def := &config.MatrixDefinition{
		Values: []config.MatrixDimension{
			{Key: "os", Values: []any{"linux", "darwin"}},
			{Key: "go", Values: []any{"1.22", "1.23"}},
		},
		Exclude: []map[string]any{
			{"os": "darwin", "go": "1.22"},
		},
	}

	combos, err := expandMatrix(def)
	require.NoError(t, err)
	require.Len(t, combos, 3)
	for _, c := range combos {
		require.NotEqual(t, "darwin-1.22", c.NameSuffix)
	}
}

func TestExpandMatrixIncludeOverridesExistingCombo(t *testing.T) {
	t.Parallel()

	def := &config.MatrixDefinition{
		Values: []config.MatrixDimension{
			{Key: "os", Values: []any{"linux"}},
			{Key: "go", Values: []any{"1.22"}},
		},
		Include: []map[string]any{
			{"os": "linux", "go": "1.22", "tags": "race"},
		},
	}

	combos, err := expandMatrix(def)
	require.NoError(t, err)
	require.Len(t, combos, 1)
	require.Equal(t, "race", combos[0].Values["tags"])
}

func TestExpandMatrixIncludeSynthesisesNewComboFilledFromBase(t *testing.T) {
	t.Parallel()

	def := &config.MatrixDefinition{
		Values: []config.MatrixDimension{
			{Key: "os", Values: []any{"linux", "darwin"}},
			{Key: "go", Values: []any{"1.22", "1.23"}},
		},
		Include: []map[string]any{
			{"os": "windows"},
		},
	}

	combos, err := expandMatrix(def)
	require.NoError(t, err)
	require.Len(t, combos, 5)

	var found bool
	for _, c := range combos {
		if c.Values["os"] == "windows" {
			found = true
			require.Equal(t, "1.22", c.Values["go"], "unfilled dimensions fall back to the first declared value")
		}
	}
	require.True(t, found)
}
