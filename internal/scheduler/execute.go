package scheduler

import (
	"context"
	"os"
	"time"

	"github.com/zephyr-ci/zephyr/internal/config"
	"github.com/zephyr-ci/zephyr/internal/executor"
	"github.com/zephyr-ci/zephyr/internal/model"
	"github.com/zephyr-ci/zephyr/internal/observer"
	"github.com/zephyr-ci/zephyr/internal/planner"
)

// QueuePipelineRun implements queuePipelineRun: it resolves and expands
// the named pipeline against trigger, persists the run and one job row
// per expanded instance with its dependencies, keeps the in-memory
// execution plan for each job, and kicks the driver loop. It returns the
// persisted run.
func (s *Scheduler) QueuePipelineRun(ctx context.Context, project model.Project, pipelineName string, trigger config.TriggerContext) (model.PipelineRun, error) {
	doc, err := s.configLoader(project.ConfigPath)
	if err != nil {
		return model.PipelineRun{}, err
	}

	pipeline, expanded, err := resolveAndExpand(doc, pipelineName, trigger)
	if err != nil {
		return model.PipelineRun{}, err
	}

	run, err := s.store.CreatePipelineRun(ctx, model.PipelineRun{
		ProjectID:    project.ID,
		PipelineName: pipeline.Name,
		TriggerType:  trigger.EventType,
		TriggerData:  trigger.Extra,
		Branch:       trigger.Branch,
		CommitSHA:    trigger.CommitSHA,
		Status:       model.RunPending,
	})
	if err != nil {
		return model.PipelineRun{}, err
	}

	for _, instance := range expanded {
		deps := make([]string, 0, len(instance.DependsOn))
		for _, dep := range instance.DependsOn {
			deps = append(deps, instanceJobID(run.ID, dep))
		}

		job := model.Job{
			ID:            instanceJobID(run.ID, instance.InstanceID),
			PipelineRunID: run.ID,
			Name:          instance.DisplayName,
			RunnerImage:   instance.Definition.Runner.Image,
			DependsOn:     deps,
			Status:        model.JobPending,
		}
		s.plansMu.Lock()
		s.plans[job.ID] = jobPlan{runID: run.ID, project: project, pipeline: pipeline, instance: instance, trigger: trigger}
		s.plansMu.Unlock()

		if _, err := s.store.CreateJob(ctx, job); err != nil {
			s.plansMu.Lock()
			delete(s.plans, job.ID)
			s.plansMu.Unlock()
			return model.PipelineRun{}, err
		}
	}

	s.kick()
	return run, nil
}

// executeJob runs job.instance's step sequence to a terminal result,
// acquiring a VM if its runner is not local, persisting the outcome, and
// publishing it to the observer bus. It always removes job.ID from
// activeJobs and releases any held matrix semaphore before returning.
func (s *Scheduler) executeJob(ctx context.Context, job model.Job, semKey string) {
	defer s.jobsWG.Done()
	defer func() {
		s.mu.Lock()
		delete(s.activeJobs, job.ID)
		s.mu.Unlock()
		s.releaseMatrixSemaphore(semKey)
	}()

	s.plansMu.Lock()
	plan, ok := s.plans[job.ID]
	s.plansMu.Unlock()
	if !ok {
		s.finishJob(ctx, job, model.JobFailure, nil, "no execution plan found for job (scheduler restarted mid-run)")
		return
	}

	workdir, err := os.MkdirTemp("", "zephyr-job-*")
	if err != nil {
		s.finishJob(ctx, job, model.JobFailure, nil, "failed to create job workdir: "+err.Error())
		return
	}
	defer os.RemoveAll(workdir)

	var vm *model.PooledVM
	if s.pool != nil && !plan.instance.Definition.Runner.Local {
		acquired, err := s.pool.Acquire(ctx)
		if err != nil {
			s.finishJob(ctx, job, model.JobFailure, nil, "vm acquire failed: "+err.Error())
			return
		}
		vm = acquired
		defer func() { _ = s.pool.Release(context.Background(), vm.ID, false) }()
	}

	needsStatus, needsOutput := s.collectNeeds(ctx, plan)
	secretValues, secretSet := s.resolveSecrets(plan.instance.Definition.Secrets)

	env := make(map[string]string, len(plan.instance.Env)+3)
	for k, v := range plan.instance.Env {
		env[k] = v
	}
	env["ZEPHYR_BRANCH"] = plan.trigger.Branch
	env["ZEPHYR_COMMIT_SHA"] = plan.trigger.CommitSHA
	env["ZEPHYR_REPO_URL"] = plan.trigger.Repo

	result, err := s.exec.Run(ctx, executor.JobInput{
		Job:          plan.instance.Definition,
		Workdir:      workdir,
		Env:          env,
		Matrix:       plan.instance.Combination.Values,
		NeedsOutput:  needsOutput,
		NeedsStatus:  needsStatus,
		Branch:       plan.trigger.Branch,
		EventType:    plan.trigger.EventType,
		SecretValues: secretValues,
		Secrets:      secretSet,
	})
	if err != nil {
		s.finishJob(ctx, job, model.JobFailure, nil, "executor error: "+err.Error())
		return
	}

	for _, sr := range result.Steps {
		s.sink.IncStepCompletion(string(sr.Status))
	}

	finalStatus := model.JobSuccess
	reason := ""
	if result.Status == executor.OutcomeFailure {
		finalStatus = model.JobFailure
		reason = "one or more steps failed"
	}
	s.finishJob(ctx, job, finalStatus, result.Outputs, reason)
}

// finishJob persists the terminal status (CAS from running), publishes it
// to the observer bus, and advances the owning pipeline run's status once
// every one of its jobs has reached a terminal state.
func (s *Scheduler) finishJob(ctx context.Context, job model.Job, status model.JobStatus, outputs map[string]string, reason string) {
	if err := s.store.UpdateJobStatus(ctx, job.ID, model.JobRunning, status, outputs, reason); err != nil {
		s.log.Error(err, "scheduler: finalize job status failed", "job", job.ID)
	}

	s.bus.Publish(observer.Event{JobID: job.ID, Status: string(status), Timestamp: time.Now()})

	if status == model.JobFailure {
		s.propagateSkips(ctx, job.PipelineRunID)
	}
	s.maybeFinalizeRun(ctx, job.PipelineRunID)
	s.kick()
}

// propagateSkips reconstructs the run's graph (which replays the failure
// just persisted and so already carries its skip-on-failure closure) and
// persists model.JobSkipped for every job the graph now reports skipped
// but the store still shows pending, so a failed job's downstream jobs
// never sit in pending forever waiting on a dependency that will never
// succeed.
func (s *Scheduler) propagateSkips(ctx context.Context, runID string) {
	jobs, err := s.store.GetJobsForPipelineRun(ctx, runID)
	if err != nil {
		s.log.Error(err, "scheduler: list jobs for run failed", "run", runID)
		return
	}

	graph, err := reconstructGraph(jobs)
	if err != nil {
		s.log.Error(err, "scheduler: reconstruct graph failed", "run", runID)
		return
	}

	for _, j := range jobs {
		if j.Status != model.JobPending {
			continue
		}
		node, ok := graph.Node(j.ID)
		if !ok || node.Status != model.JobSkipped {
			continue
		}
		if err := s.store.UpdateJobStatus(ctx, j.ID, model.JobPending, model.JobSkipped, nil, "skipped: a dependency failed"); err != nil {
			s.log.Error(err, "scheduler: propagate skip failed", "job", j.ID)
		}
		s.bus.Publish(observer.Event{JobID: j.ID, Status: string(model.JobSkipped), Timestamp: time.Now()})
	}
}

func (s *Scheduler) maybeFinalizeRun(ctx context.Context, runID string) {
	jobs, err := s.store.GetJobsForPipelineRun(ctx, runID)
	if err != nil {
		s.log.Error(err, "scheduler: list jobs for run failed", "run", runID)
		return
	}

	allTerminal := true
	anyFailure := false
	for _, j := range jobs {
		if !j.Status.Terminal() {
			allTerminal = false
			break
		}
		if j.Status == model.JobFailure {
			anyFailure = true
		}
	}
	if !allTerminal {
		return
	}

	runStatus := model.RunSuccess
	if anyFailure {
		runStatus = model.RunFailure
	}
	if err := s.store.UpdatePipelineRunStatus(ctx, runID, runStatus); err != nil {
		s.log.Error(err, "scheduler: finalize run status failed", "run", runID)
	}
}

// collectNeeds aggregates the status and outputs of every upstream base
// job plan.instance's Definition declares a dependency on, across all of
// that base job's matrix instances: status is "failure" if any instance
// failed, else "success"; outputs are merged instance-by-instance with
// later instances overriding earlier ones on key collision.
func (s *Scheduler) collectNeeds(ctx context.Context, plan jobPlan) (map[string]string, map[string]map[string]string) {
	needsStatus := make(map[string]string, len(plan.instance.Definition.DependsOn))
	needsOutput := make(map[string]map[string]string, len(plan.instance.Definition.DependsOn))

	s.plansMu.Lock()
	var siblings []jobPlan
	for _, p := range s.plans {
		if p.runID == plan.runID {
			siblings = append(siblings, p)
		}
	}
	s.plansMu.Unlock()

	for _, baseName := range plan.instance.Definition.DependsOn {
		status := "success"
		outputs := make(map[string]string)

		for _, sibling := range siblings {
			if sibling.instance.BaseName != baseName {
				continue
			}

			depJob, err := s.store.GetJob(ctx, instanceJobID(plan.runID, sibling.instance.InstanceID))
			if err != nil {
				continue
			}
			if depJob.Status == model.JobFailure {
				status = "failure"
			}
			for k, v := range depJob.Outputs {
				outputs[k] = v
			}
		}

		needsStatus[baseName] = status
		needsOutput[baseName] = outputs
	}

	return needsStatus, needsOutput
}

// resolveSecrets looks up each declared secret name via s.secretResolver,
// returning a name->value map for interpolating ${{ secret.<name> }}
// expressions and a planner.SecretSet of the same values for masking them
// back out of captured step output. A name the resolver can't find is
// skipped: dispatch proceeds best-effort rather than failing the job over
// a secret it never ends up referencing.
func (s *Scheduler) resolveSecrets(names []string) (map[string]string, *planner.SecretSet) {
	values := make(map[string]string, len(names))
	resolved := make([]string, 0, len(names))

	for _, name := range names {
		v, ok := s.secretResolver(name)
		if !ok {
			continue
		}
		values[name] = v
		resolved = append(resolved, v)
	}

	return values, planner.NewSecretSet(resolved...)
}
