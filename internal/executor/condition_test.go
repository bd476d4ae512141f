package executor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvaluateConditionEmptyIsAlwaysTrue(t *testing.T) {
	t.Parallel()

	ok, err := EvaluateCondition("", ConditionContext{})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEvaluateConditionBranchEquality(t *testing.T) {
	t.Parallel()

	ok, err := EvaluateCondition(`branch == 'main'`, ConditionContext{Branch: "main"})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = EvaluateCondition(`branch == 'main'`, ConditionContext{Branch: "dev"})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEvaluateConditionInequality(t *testing.T) {
	t.Parallel()

	ok, err := EvaluateCondition(`event.type != 'pull_request'`, ConditionContext{EventType: "push"})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEvaluateConditionConjunction(t *testing.T) {
	t.Parallel()

	ctx := ConditionContext{
		Branch:      "main",
		NeedsStatus: map[string]string{"build": "success"},
	}
	ok, err := EvaluateCondition(`branch == 'main' && needs.build.status == 'success'`, ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ctx.NeedsStatus["build"] = "failure"
	ok, err = EvaluateCondition(`branch == 'main' && needs.build.status == 'success'`, ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEvaluateConditionStepOutcomeField(t *testing.T) {
	t.Parallel()

	ctx := ConditionContext{StepOutcome: map[string]string{"build": "failure"}}
	ok, err := EvaluateCondition(`steps.build.outcome == 'failure'`, ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEvaluateConditionUnsupportedClauseErrors(t *testing.T) {
	t.Parallel()

	_, err := EvaluateCondition(`branch contains 'main'`, ConditionContext{})
	require.Error(t, err)
}
