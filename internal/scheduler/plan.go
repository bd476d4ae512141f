package scheduler

import (
	"fmt"

	"github.com/zephyr-ci/zephyr/internal/config"
	"github.com/zephyr-ci/zephyr/internal/model"
	"github.com/zephyr-ci/zephyr/internal/planner"
	streamyerrors "github.com/zephyr-ci/zephyr/pkg/errors"
)

// jobPlan is everything executeJob needs to run one expanded job instance
// that the persisted model.Job row does not itself carry (step
// definitions, matrix values, the pipeline's declared env, the trigger
// that created the run). Plans live only in memory: they are rebuilt by
// QueuePipelineRun and never survive a process restart, which is why
// reconcileCrashedJobs can only fail orphaned running jobs, not resume
// them.
type jobPlan struct {
	runID    string
	project  model.Project
	pipeline config.PipelineDefinition
	instance planner.ExpandedJob
	trigger  config.TriggerContext
}

// resolveAndExpand runs the planner pipeline (resolve -> validate ->
// expand) for one named pipeline against a trigger context, returning the
// matched pipeline definition and its expanded jobs. Naming pipelineName
// explicitly (as both the CLI and a webhook dispatch that already knows
// which pipeline a provider event maps to do) looks the pipeline up
// directly rather than filtering by trigger.Triggers first: trigger
// matching exists to pick among several candidates when the caller does
// not already know which one applies, which does not describe either of
// this system's two callers.
func resolveAndExpand(doc *config.Document, pipelineName string, trigger config.TriggerContext) (config.PipelineDefinition, []planner.ExpandedJob, error) {
	var selected *config.PipelineDefinition
	for i := range doc.Pipelines {
		if doc.Pipelines[i].Name == pipelineName {
			selected = &doc.Pipelines[i]
			break
		}
	}
	if selected == nil {
		return config.PipelineDefinition{}, nil, streamyerrors.NewNotFoundError("pipeline", pipelineName)
	}

	if err := planner.ValidatePipeline(*selected); err != nil {
		return config.PipelineDefinition{}, nil, err
	}

	expanded, err := planner.ExpandJobs(*selected)
	if err != nil {
		return config.PipelineDefinition{}, nil, err
	}

	return *selected, expanded, nil
}

// instanceJobID scopes a planner-local instance id to one pipeline run, so
// matrix siblings of the same job across different runs never collide in
// the store.
func instanceJobID(runID, instanceID string) string {
	return fmt.Sprintf("%s::%s", runID, instanceID)
}

// matrixSemaphoreKey identifies the maxParallel semaphore shared by every
// instance of one matrixed job within one run.
func matrixSemaphoreKey(runID, baseName string) string {
	return fmt.Sprintf("%s::%s", runID, baseName)
}
