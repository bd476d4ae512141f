// Package scheduler drives pending jobs in the store to completion under
// a global concurrency cap, with at-least-once semantics across restarts.
// It owns the only long-lived driver loop in the system: everything else
// (planner, DAG engine, step executor, warm pool) is invoked by it, never
// the other way around.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/zephyr-ci/zephyr/internal/config"
	"github.com/zephyr-ci/zephyr/internal/executor"
	"github.com/zephyr-ci/zephyr/internal/logger"
	"github.com/zephyr-ci/zephyr/internal/metrics"
	"github.com/zephyr-ci/zephyr/internal/model"
	"github.com/zephyr-ci/zephyr/internal/observer"
	"github.com/zephyr-ci/zephyr/internal/store"
	streamyerrors "github.com/zephyr-ci/zephyr/pkg/errors"
)

// SecretResolver resolves a declared secret name to its value at dispatch
// time. Defaults to os.LookupEnv, so a job's `secrets:` list names
// environment variables on the scheduling host rather than storing
// values in pipeline configuration.
type SecretResolver func(name string) (string, bool)

// VMAcquirer is the subset of the warm pool's surface the scheduler needs.
// Satisfied by *vmpool.Pool; kept narrow so the scheduler's tests don't
// need a real hypervisor driver.
type VMAcquirer interface {
	Acquire(ctx context.Context) (*model.PooledVM, error)
	Release(ctx context.Context, id string, destroy bool) error
}

// ConfigLoader loads a project's declarative pipeline document from its
// ConfigPath. Defaults to config.ParseDocument.
type ConfigLoader func(path string) (*config.Document, error)

// Config bounds the driver loop's behaviour.
type Config struct {
	MaxConcurrent int
	PollInterval  time.Duration
}

// Scheduler is the job scheduler described by SPEC_FULL §4.5.
type Scheduler struct {
	cfg            Config
	store          store.Store
	bus            *observer.Bus
	sink           metrics.Sink
	pool           VMAcquirer
	exec           *executor.Executor
	log            *logger.Logger
	configLoader   ConfigLoader
	secretResolver SecretResolver

	mu         sync.Mutex
	running    bool
	activeJobs map[string]struct{}
	matrixSems map[string]*semaphore.Weighted

	plansMu sync.Mutex
	plans   map[string]jobPlan

	driverWG sync.WaitGroup
	jobsWG   sync.WaitGroup
	stopCh   chan struct{}
	kickCh   chan struct{}
}

// New constructs a Scheduler. A nil pool means every job runs without
// acquiring a VM, regardless of its runner's Local flag. A nil loader
// defaults to config.ParseDocument.
func New(cfg Config, st store.Store, bus *observer.Bus, sink metrics.Sink, pool VMAcquirer, log *logger.Logger, loader ConfigLoader) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if loader == nil {
		loader = config.ParseDocument
	}
	return &Scheduler{
		cfg:            cfg,
		store:          st,
		bus:            bus,
		sink:           sink,
		pool:           pool,
		exec:           executor.New(log),
		log:            log,
		configLoader:   loader,
		secretResolver: os.LookupEnv,
		activeJobs:     make(map[string]struct{}),
		matrixSems:     make(map[string]*semaphore.Weighted),
		plans:          make(map[string]jobPlan),
		stopCh:       make(chan struct{}),
		kickCh:       make(chan struct{}, 1),
	}
}

// Start runs bootstrap reconciliation (failing any job left stuck
// `running` by a prior crash) and launches the driver loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.reconcileCrashedJobs(ctx); err != nil {
		return err
	}

	s.driverWG.Add(1)
	go s.driverLoop(ctx)
	return nil
}

// Stop stops the driver loop, then awaits every in-flight executeJob
// before returning.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.driverWG.Wait()
	s.jobsWG.Wait()
}

func (s *Scheduler) driverLoop(ctx context.Context) {
	defer s.driverWG.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-s.kickCh:
			s.tick(ctx)
		case <-s.stopCh:
			return
		}
	}
}

// ActiveJobCount returns the number of jobs currently executing, for the
// HTTP edge's /health response.
func (s *Scheduler) ActiveJobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeJobs)
}

// kick wakes the driver loop immediately instead of waiting for the next
// poll tick. Non-blocking: a pending kick already queued is sufficient.
func (s *Scheduler) kick() {
	select {
	case s.kickCh <- struct{}{}:
	default:
	}
}

// tick is the scheduler's seven-step driver loop body, run once per poll
// period or kick.
func (s *Scheduler) tick(ctx context.Context) {
	counts, err := s.store.CountJobsByStatus(ctx)
	if err != nil {
		s.log.Error(err, "scheduler: count jobs by status failed")
		return
	}
	s.sink.SetQueueDepth(counts[model.JobPending])

	s.mu.Lock()
	active := len(s.activeJobs)
	s.mu.Unlock()
	if active >= s.cfg.MaxConcurrent {
		return
	}
	capacity := s.cfg.MaxConcurrent - active

	candidates, err := s.store.GetPendingJobs(ctx, capacity)
	if err != nil {
		s.log.Error(err, "scheduler: get pending jobs failed")
		return
	}

	for _, job := range candidates {
		runJobs, err := s.store.GetJobsForPipelineRun(ctx, job.PipelineRunID)
		if err != nil {
			s.log.Error(err, "scheduler: get jobs for run failed", "run", job.PipelineRunID)
			continue
		}

		graph, err := reconstructGraph(runJobs)
		if err != nil {
			s.log.Error(err, "scheduler: reconstruct graph failed", "run", job.PipelineRunID)
			continue
		}
		if !isReady(graph, job.ID) {
			continue
		}

		sem, semKey := s.matrixSemaphore(job)
		if sem != nil && !sem.TryAcquire(1) {
			continue
		}

		now := time.Now()
		if err := s.store.UpdateJobStatus(ctx, job.ID, model.JobPending, model.JobRunning, nil, ""); err != nil {
			if sem != nil {
				sem.Release(1)
			}
			continue
		}

		s.sink.ObserveQueueWait(now.Sub(job.CreatedAt))

		s.mu.Lock()
		s.activeJobs[job.ID] = struct{}{}
		s.mu.Unlock()

		s.jobsWG.Add(1)
		go s.executeJob(ctx, job, semKey)
	}
}

// matrixSemaphore returns the shared per-matrix semaphore for job, and the
// key it was stored under, if its plan declares maxParallel > 0. Returns
// (nil, "") when no limit applies.
func (s *Scheduler) matrixSemaphore(job model.Job) (*semaphore.Weighted, string) {
	s.plansMu.Lock()
	plan, ok := s.plans[job.ID]
	s.plansMu.Unlock()
	if !ok || plan.instance.Definition.MaxParallel <= 0 {
		return nil, ""
	}

	key := matrixSemaphoreKey(job.PipelineRunID, plan.instance.BaseName)

	s.mu.Lock()
	defer s.mu.Unlock()
	sem, ok := s.matrixSems[key]
	if !ok {
		sem = semaphore.NewWeighted(int64(plan.instance.Definition.MaxParallel))
		s.matrixSems[key] = sem
	}
	return sem, key
}

func (s *Scheduler) releaseMatrixSemaphore(key string) {
	if key == "" {
		return
	}
	s.mu.Lock()
	sem, ok := s.matrixSems[key]
	s.mu.Unlock()
	if ok {
		sem.Release(1)
	}
}

// reconcileCrashedJobs fails every job left `running` from a prior
// process, since in-memory plans and futures never survive a restart.
func (s *Scheduler) reconcileCrashedJobs(ctx context.Context) error {
	runs, err := s.store.ListPipelineRuns(ctx, store.RunFilter{})
	if err != nil {
		return err
	}

	for _, run := range runs {
		jobs, err := s.store.GetJobsForPipelineRun(ctx, run.ID)
		if err != nil {
			return err
		}
		for _, job := range jobs {
			if job.Status != model.JobRunning {
				continue
			}
			if err := s.store.UpdateJobStatus(ctx, job.ID, model.JobRunning, model.JobFailure, nil, "reconciled after restart: no live driver"); err != nil {
				var conflict *streamyerrors.StoreConflictError
				if !errors.As(err, &conflict) {
					return err
				}
			}
		}
	}
	return nil
}
