// Package store defines the persistence boundary the scheduler drives
// every status transition through, and provides an in-memory reference
// implementation. The backing engine (a real relational database) is an
// external collaborator; this package only owns the contract and a
// implementation capable of exercising the scheduler end to end in tests.
package store

import (
	"context"
	"time"

	"github.com/zephyr-ci/zephyr/internal/model"
)

// RunFilter narrows ListPipelineRuns.
type RunFilter struct {
	ProjectID string
	Status    model.RunStatus
	Limit     int
}

// Store is the persistence contract the scheduler and the HTTP edge read
// and write through. Every status transition in the
// system goes through Store so it can serialise concurrent writers.
type Store interface {
	CreateProject(ctx context.Context, p model.Project) (model.Project, error)
	GetProject(ctx context.Context, id string) (model.Project, error)
	ListProjects(ctx context.Context) ([]model.Project, error)

	CreatePipelineRun(ctx context.Context, r model.PipelineRun) (model.PipelineRun, error)
	GetPipelineRun(ctx context.Context, id string) (model.PipelineRun, error)
	ListPipelineRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error)
	UpdatePipelineRunStatus(ctx context.Context, id string, status model.RunStatus) error

	CreateJob(ctx context.Context, j model.Job) (model.Job, error)
	// UpdateJobStatus performs an atomic compare-and-swap: it succeeds only
	// if the job's current status equals expectedStatus, otherwise it
	// returns a *streamyerrors.StoreConflictError and leaves the row
	// untouched.
	UpdateJobStatus(ctx context.Context, id string, expectedStatus, newStatus model.JobStatus, outputs map[string]string, failureReason string) error
	GetJob(ctx context.Context, id string) (model.Job, error)
	GetJobsForPipelineRun(ctx context.Context, runID string) ([]model.Job, error)
	GetPendingJobs(ctx context.Context, limit int) ([]model.Job, error)
	CountJobsByStatus(ctx context.Context) (map[model.JobStatus]int, error)

	AppendLog(ctx context.Context, rec model.LogRecord) error
	GetLogsForJob(ctx context.Context, jobID string, since int64) ([]model.LogRecord, error)

	SaveWebhookDelivery(ctx context.Context, d model.WebhookDelivery) error

	Destroy(ctx context.Context) error
}

// Clock lets tests control CreatedAt/StartedAt/FinishedAt stamping.
type Clock func() time.Time
