package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zephyr-ci/zephyr/internal/model"
	streamyerrors "github.com/zephyr-ci/zephyr/pkg/errors"
)

// Memory is an in-memory Store, guarded by a single RWMutex. It is the
// reference implementation used by the CLI's synchronous run path and by
// the store and scheduler tests; nothing about it is durable across
// process restarts.
type Memory struct {
	mu sync.RWMutex

	clock Clock

	nextID int

	projects  map[string]model.Project
	runs      map[string]model.PipelineRun
	jobs      map[string]model.Job
	logs      map[string][]model.LogRecord
	webhooks  []model.WebhookDelivery
}

// NewMemory constructs an empty Memory store. If clock is nil, time.Now
// is used.
func NewMemory(clock Clock) *Memory {
	if clock == nil {
		clock = time.Now
	}
	return &Memory{
		clock:    clock,
		projects: make(map[string]model.Project),
		runs:     make(map[string]model.PipelineRun),
		jobs:     make(map[string]model.Job),
		logs:     make(map[string][]model.LogRecord),
	}
}

func (m *Memory) genID(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s-%d", prefix, m.nextID)
}

func (m *Memory) CreateProject(_ context.Context, p model.Project) (model.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.ID == "" {
		p.ID = m.genID("project")
	}
	m.projects[p.ID] = p
	return p, nil
}

func (m *Memory) GetProject(_ context.Context, id string) (model.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.projects[id]
	if !ok {
		return model.Project{}, streamyerrors.NewNotFoundError("project", id)
	}
	return p, nil
}

func (m *Memory) ListProjects(_ context.Context) ([]model.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Project, 0, len(m.projects))
	for _, p := range m.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CreatePipelineRun(_ context.Context, r model.PipelineRun) (model.PipelineRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.ID == "" {
		r.ID = m.genID("run")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = m.clock()
	}
	if r.Status == "" {
		r.Status = model.RunPending
	}
	m.runs[r.ID] = r
	return r, nil
}

func (m *Memory) GetPipelineRun(_ context.Context, id string) (model.PipelineRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[id]
	if !ok {
		return model.PipelineRun{}, streamyerrors.NewNotFoundError("pipeline_run", id)
	}
	return r, nil
}

func (m *Memory) ListPipelineRuns(_ context.Context, filter RunFilter) ([]model.PipelineRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.PipelineRun
	for _, r := range m.runs {
		if filter.ProjectID != "" && r.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *Memory) UpdatePipelineRunStatus(_ context.Context, id string, status model.RunStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[id]
	if !ok {
		return streamyerrors.NewNotFoundError("pipeline_run", id)
	}
	r.Status = status
	now := m.clock()
	switch status {
	case model.RunRunning:
		if r.StartedAt == nil {
			r.StartedAt = &now
		}
	default:
		if status.Terminal() && r.FinishedAt == nil {
			r.FinishedAt = &now
		}
	}
	m.runs[id] = r
	return nil
}

func (m *Memory) CreateJob(_ context.Context, j model.Job) (model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if j.ID == "" {
		j.ID = m.genID("job")
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = m.clock()
	}
	if j.Status == "" {
		j.Status = model.JobPending
	}
	m.jobs[j.ID] = j
	return j, nil
}

// UpdateJobStatus compares the stored status against expectedStatus before
// writing. A mismatch returns a StoreConflictError and leaves the row
// untouched; the scheduler driver loop treats that as a non-error signal
// to skip this job and re-poll.
func (m *Memory) UpdateJobStatus(_ context.Context, id string, expectedStatus, newStatus model.JobStatus, outputs map[string]string, failureReason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return streamyerrors.NewNotFoundError("job", id)
	}
	if j.Status != expectedStatus {
		return streamyerrors.NewStoreConflictError(id, string(expectedStatus))
	}

	j.Status = newStatus
	if outputs != nil {
		j.Outputs = outputs
	}
	if failureReason != "" {
		j.FailureReason = failureReason
	}

	now := m.clock()
	switch newStatus {
	case model.JobRunning:
		if j.StartedAt == nil {
			j.StartedAt = &now
		}
	default:
		if newStatus.Terminal() && j.FinishedAt == nil {
			j.FinishedAt = &now
		}
	}

	m.jobs[id] = j
	return nil
}

func (m *Memory) GetJob(_ context.Context, id string) (model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return model.Job{}, streamyerrors.NewNotFoundError("job", id)
	}
	return j, nil
}

func (m *Memory) GetJobsForPipelineRun(_ context.Context, runID string) ([]model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.Job
	for _, j := range m.jobs {
		if j.PipelineRunID == runID {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetPendingJobs(_ context.Context, limit int) ([]model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.Job
	for _, j := range m.jobs {
		if j.Status == model.JobPending || j.Status == model.JobReady {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CountJobsByStatus(_ context.Context) (map[model.JobStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[model.JobStatus]int)
	for _, j := range m.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

func (m *Memory) AppendLog(_ context.Context, rec model.LogRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.logs[rec.JobID]
	if rec.Seq == 0 {
		rec.Seq = int64(len(existing)) + 1
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = m.clock()
	}
	m.logs[rec.JobID] = append(existing, rec)
	return nil
}

func (m *Memory) GetLogsForJob(_ context.Context, jobID string, since int64) ([]model.LogRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.LogRecord
	for _, rec := range m.logs[jobID] {
		if rec.Seq > since {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *Memory) SaveWebhookDelivery(_ context.Context, d model.WebhookDelivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d.ReceivedAt.IsZero() {
		d.ReceivedAt = m.clock()
	}
	m.webhooks = append(m.webhooks, d)
	return nil
}

func (m *Memory) Destroy(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.projects = make(map[string]model.Project)
	m.runs = make(map[string]model.PipelineRun)
	m.jobs = make(map[string]model.Job)
	m.logs = make(map[string][]model.LogRecord)
	m.webhooks = nil
	return nil
}

var _ Store = (*Memory)(nil)
