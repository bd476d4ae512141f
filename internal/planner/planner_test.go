package planner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zephyr-ci/zephyr/internal/config"
	streamyerrors "github.com/zephyr-ci/zephyr/pkg/errors"
)

func TestResolvePipelinesStaticFiltersByTrigger(t *testing.T) {
	t.Parallel()

	set := config.NewStaticPipelineSet([]config.PipelineDefinition{
		{Name: "ci", Triggers: []string{"push"}},
		{Name: "release", Triggers: []string{"tag"}},
	})

	matched, err := ResolvePipelines(set, config.TriggerContext{EventType: "push"})
	require.NoError(t, err)
	require.Len(t, matched, 1)
	require.Equal(t, "ci", matched[0].Name)
}

func TestResolvePipelinesDynamicInvokesFunction(t *testing.T) {
	t.Parallel()

	set := config.NewDynamicPipelineSet(func(ctx config.TriggerContext) ([]config.PipelineDefinition, error) {
		return []config.PipelineDefinition{{Name: "dyn-" + ctx.Branch, Triggers: []string{ctx.EventType}}}, nil
	})

	matched, err := ResolvePipelines(set, config.TriggerContext{Branch: "main", EventType: "push"})
	require.NoError(t, err)
	require.Len(t, matched, 1)
	require.Equal(t, "dyn-main", matched[0].Name)
}

func TestValidatePipelineRejectsDuplicateJobName(t *testing.T) {
	t.Parallel()

	p := config.PipelineDefinition{
		Name: "ci",
		Jobs: []config.JobDefinition{{Name: "build"}, {Name: "build"}},
	}
	err := ValidatePipeline(p)
	require.Error(t, err)
	var valErr *streamyerrors.ValidationError
	require.ErrorAs(t, err, &valErr)
}

func TestValidatePipelineRejectsUndeclaredDependency(t *testing.T) {
	t.Parallel()

	p := config.PipelineDefinition{
		Name: "ci",
		Jobs: []config.JobDefinition{{Name: "test", DependsOn: []string{"build"}}},
	}
	require.Error(t, ValidatePipeline(p))
}

func TestValidatePipelineRejectsSelfDependency(t *testing.T) {
	t.Parallel()

	p := config.PipelineDefinition{
		Name: "ci",
		Jobs: []config.JobDefinition{{Name: "build", DependsOn: []string{"build"}}},
	}
	require.Error(t, ValidatePipeline(p))
}

func TestValidatePipelineRejectsDuplicateMatrixKey(t *testing.T) {
	t.Parallel()

	p := config.PipelineDefinition{
		Name: "ci",
		Jobs: []config.JobDefinition{{
			Name: "build",
			Matrix: &config.MatrixDefinition{
				Values: []config.MatrixDimension{
					{Key: "go", Values: []any{"1.22"}},
					{Key: "go", Values: []any{"1.23"}},
				},
			},
		}},
	}
	require.Error(t, ValidatePipeline(p))
}

func TestExpandJobsFansDependsOnAcrossMatrixSiblings(t *testing.T) {
	t.Parallel()

	p := config.PipelineDefinition{
		Name: "ci",
		Env:  map[string]string{"CI": "true"},
		Jobs: []config.JobDefinition{
			{
				Name: "build",
				Matrix: &config.MatrixDefinition{
					Values: []config.MatrixDimension{{Key: "go", Values: []any{"1.22", "1.23"}}},
				},
			},
			{Name: "publish", DependsOn: []string{"build"}},
		},
	}

	expanded, err := ExpandJobs(p)
	require.NoError(t, err)
	require.Len(t, expanded, 3)

	var publish *ExpandedJob
	var buildIDs []string
	for i := range expanded {
		switch expanded[i].BaseName {
		case "build":
			buildIDs = append(buildIDs, expanded[i].InstanceID)
		case "publish":
			publish = &expanded[i]
		}
	}

	require.NotNil(t, publish)
	require.ElementsMatch(t, buildIDs, publish.DependsOn, "publish must depend on every build matrix instance")
}

func TestExpandJobsMatrixWithExclusionProducesExpectedDisplayNames(t *testing.T) {
	t.Parallel()

	p := config.PipelineDefinition{
		Name: "ci",
		Jobs: []config.JobDefinition{{
			Name: "test",
			Matrix: &config.MatrixDefinition{
				Values: []config.MatrixDimension{
					{Key: "os", Values: []any{"ubuntu", "alpine"}},
					{Key: "node", Values: []any{"18", "20"}},
				},
				Exclude: []map[string]any{{"os": "alpine", "node": "18"}},
			},
		}},
	}

	expanded, err := ExpandJobs(p)
	require.NoError(t, err)
	require.Len(t, expanded, 3)

	var names []string
	for _, j := range expanded {
		names = append(names, j.DisplayName)
	}
	require.ElementsMatch(t, []string{
		"test (os=ubuntu, node=18)",
		"test (os=ubuntu, node=20)",
		"test (os=alpine, node=20)",
	}, names)
}

func TestExpandJobsEnvLayersPipelineJobThenMatrix(t *testing.T) {
	t.Parallel()

	p := config.PipelineDefinition{
		Name: "ci",
		Env:  map[string]string{"SCOPE": "pipeline", "ONLY_PIPELINE": "1"},
		Jobs: []config.JobDefinition{{
			Name: "build",
			Env:  map[string]string{"SCOPE": "job"},
			Matrix: &config.MatrixDefinition{
				Values: []config.MatrixDimension{{Key: "scope", Values: []any{"matrix"}}},
			},
		}},
	}

	expanded, err := ExpandJobs(p)
	require.NoError(t, err)
	require.Len(t, expanded, 1)
	require.Equal(t, "job", expanded[0].Env["SCOPE"], "job env overrides pipeline env")
	require.Equal(t, "1", expanded[0].Env["ONLY_PIPELINE"])
	require.Equal(t, "matrix", expanded[0].Env["MATRIX_SCOPE"])
}
