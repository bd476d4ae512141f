package planner

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInterpolateResolvesMatrixStepsAndNeeds(t *testing.T) {
	t.Parallel()

	ctx := PlaceholderContext{
		Matrix: map[string]any{"go": "1.23"},
		StepOutput: map[string]map[string]string{
			"build": {"artifact": "bin/app"},
		},
		NeedsOutput: map[string]map[string]string{
			"lint": {"report": "lint.json"},
		},
	}

	got := Interpolate(
		"go${{ matrix.go }} artifact=${{ steps.build.outputs.artifact }} report=${{ needs.lint.outputs.report }}",
		ctx,
	)
	require.Equal(t, "go1.23 artifact=bin/app report=lint.json", got)
}

func TestInterpolateResolvesMissingMatrixKeyToEmptyString(t *testing.T) {
	t.Parallel()

	got := Interpolate("value=${{ matrix.missing }}", PlaceholderContext{Matrix: map[string]any{}})
	require.Equal(t, "value=", got)
}

func TestInterpolateLeavesUnresolvedNeedsAndStepsExpressionVerbatim(t *testing.T) {
	t.Parallel()

	got := Interpolate("report=${{ needs.lint.outputs.report }} art=${{ steps.build.outputs.artifact }}", PlaceholderContext{})
	require.Equal(t, "report=${{ needs.lint.outputs.report }} art=${{ steps.build.outputs.artifact }}", got)
}

func TestInterpolateResolvesSecretValue(t *testing.T) {
	t.Parallel()

	got := Interpolate("token=${{ secret.API_TOKEN }}", PlaceholderContext{Secrets: map[string]string{"API_TOKEN": "abc123"}})
	require.Equal(t, "token=abc123", got)
}

func TestInterpolateLeavesUnresolvedSecretExpressionVerbatim(t *testing.T) {
	t.Parallel()

	got := Interpolate("token=${{ secret.MISSING }}", PlaceholderContext{})
	require.Equal(t, "token=${{ secret.MISSING }}", got)
}

func TestInterpolateIsIdempotentOnPlainText(t *testing.T) {
	t.Parallel()

	got := Interpolate("no placeholders here", PlaceholderContext{})
	require.Equal(t, "no placeholders here", got)
}

func TestMatrixEnvUppercasesKeys(t *testing.T) {
	t.Parallel()

	env := MatrixEnv(map[string]any{"go": "1.23", "os": "linux"})
	require.Equal(t, "1.23", env["MATRIX_GO"])
	require.Equal(t, "linux", env["MATRIX_OS"])
}
