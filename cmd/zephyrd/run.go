package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zephyr-ci/zephyr/internal/config"
	"github.com/zephyr-ci/zephyr/internal/logger"
	"github.com/zephyr-ci/zephyr/internal/metrics"
	"github.com/zephyr-ci/zephyr/internal/model"
	"github.com/zephyr-ci/zephyr/internal/observer"
	"github.com/zephyr-ci/zephyr/internal/scheduler"
	"github.com/zephyr-ci/zephyr/internal/store"
)

type runOptions struct {
	ConfigPath string
	Pipeline   string
	Job        string
}

// newRunCmd builds the synchronous single-invocation command described in
// the external CLI contract: it loads a configuration file, queues one
// pipeline, and drives it to completion in-process against an ephemeral
// in-memory store before exiting, rather than staying up as a server.
// MaxConcurrent is pinned to 1 so the driver loop processes the run's jobs
// one at a time in the order the DAG engine makes them ready, approximating
// the synchronous topological walk a trivial store would perform directly.
func newRunCmd(root *rootFlags, log *logger.Logger) *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single pipeline to completion and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateRunOptions(opts); err != nil {
				return err
			}
			return runPipeline(cmd.Context(), log, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "Path to pipeline configuration file")
	cmd.Flags().StringVar(&opts.Pipeline, "pipeline", "", "Name of the pipeline to run")
	cmd.Flags().StringVar(&opts.Job, "job", "", "If set, print only this job's outcome")
	_ = cmd.MarkFlagRequired("config")
	_ = cmd.MarkFlagRequired("pipeline")

	return cmd
}

func validateRunOptions(opts runOptions) error {
	if strings.TrimSpace(opts.ConfigPath) == "" {
		return fmt.Errorf("config file is required")
	}
	abs, err := filepath.Abs(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return fmt.Errorf("config file does not exist: %w", err)
	}
	if strings.TrimSpace(opts.Pipeline) == "" {
		return fmt.Errorf("pipeline name is required")
	}
	return nil
}

func runPipeline(ctx context.Context, log *logger.Logger, opts runOptions) error {
	doc, err := config.ParseDocument(opts.ConfigPath)
	if err != nil {
		return err
	}

	st := store.NewMemory(time.Now)
	bus := observer.New(16)
	sink := metrics.Nop{}

	sched := scheduler.New(scheduler.Config{
		MaxConcurrent: 1,
		PollInterval:  25 * time.Millisecond,
	}, st, bus, sink, nil, log, nil)

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	project := model.Project{
		ID:          doc.Project.ID,
		Name:        doc.Project.Name,
		Description: doc.Project.Description,
		ConfigPath:  doc.Project.ConfigPath,
	}
	run, err := sched.QueuePipelineRun(ctx, project, opts.Pipeline, config.TriggerContext{EventType: "cli"})
	if err != nil {
		return fmt.Errorf("queue pipeline: %w", err)
	}

	deadline := time.Now().Add(30 * time.Minute)
	var final model.PipelineRun
	for time.Now().Before(deadline) {
		final, err = st.GetPipelineRun(ctx, run.ID)
		if err != nil {
			return err
		}
		if final.Status.Terminal() {
			break
		}
		time.Sleep(25 * time.Millisecond)
	}
	if !final.Status.Terminal() {
		return fmt.Errorf("pipeline %q did not complete within the allotted time", opts.Pipeline)
	}

	jobs, err := st.GetJobsForPipelineRun(ctx, run.ID)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		if opts.Job != "" && j.Name != opts.Job {
			continue
		}
		fmt.Printf("%-24s %-10s %s\n", j.Name, j.Status, j.FailureReason)
	}

	if final.Status != model.RunSuccess {
		return fmt.Errorf("pipeline %q failed", opts.Pipeline)
	}
	return nil
}
