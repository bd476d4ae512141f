// Package executor runs one job's ordered steps to a terminal result:
// condition and failure gates, environment composition, working directory
// resolution, dispatch by step kind, concurrent stdout/stderr capture,
// ::set-output extraction, and per-step timeout enforcement.
package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/zephyr-ci/zephyr/internal/config"
	"github.com/zephyr-ci/zephyr/internal/logger"
	"github.com/zephyr-ci/zephyr/internal/planner"
)

// Outcome is the terminal result of a single step or job.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeSkipped Outcome = "skipped"
)

// StepResult is the recorded result of one step's attempted execution.
type StepResult struct {
	StepID   string
	Outcome  Outcome
	Status   Outcome
	ExitCode int
	Output   string
	Outputs  map[string]string
	Started  time.Time
	Finished time.Time
}

// JobResult is the aggregate result of a job's full step sequence.
type JobResult struct {
	Status  Outcome
	Steps   []StepResult
	Outputs map[string]string
}

// JobInput is everything the executor needs to run one job's steps to a
// terminal result. Env is the already-composed pipeline ∪ job ∪ matrix
// environment produced by planner.ExpandJobs; the executor layers
// CI/ZEPHYR ambient vars and per-step overrides on top of it.
type JobInput struct {
	Job         config.JobDefinition
	Workdir     string
	Env         map[string]string
	Matrix      map[string]any
	NeedsOutput map[string]map[string]string
	NeedsStatus map[string]string
	Branch      string
	EventType   string
	// SecretValues holds the resolved value for every name in in.Job.Secrets,
	// used to resolve ${{ secret.<name> }} expressions before Secrets masks
	// them back out of captured output.
	SecretValues map[string]string
	Secrets      *planner.SecretSet
}

var setOutputRegex = regexp.MustCompile(`::set-output name=([a-zA-Z0-9_.-]+)::(.*)`)

const timeoutGraceDuration = 5 * time.Second

// Executor runs a job's steps sequentially against a logger sink.
type Executor struct {
	log *logger.Logger
}

// New constructs an Executor that streams step output through log.
func New(log *logger.Logger) *Executor {
	return &Executor{log: log}
}

// Run executes every step of in.Job in order and returns the aggregate
// job result. Cancelling ctx terminates the currently running step's
// process (SIGTERM, then SIGKILL after a grace period via cmd.WaitDelay)
// and marks every remaining step skipped.
func (e *Executor) Run(ctx context.Context, in JobInput) (JobResult, error) {
	result := JobResult{Status: OutcomeSuccess, Outputs: map[string]string{}}
	stepOutcome := make(map[string]string, len(in.Job.Steps))
	stepOutputsByID := make(map[string]map[string]string, len(in.Job.Steps))
	var pathPrefixes []string
	jobFailing := false

	for _, step := range in.Job.Steps {
		if ctx.Err() != nil {
			result.Steps = append(result.Steps, skippedResult(step.ID))
			stepOutcome[step.ID] = string(OutcomeSkipped)
			continue
		}

		runnable, err := EvaluateCondition(step.Condition, ConditionContext{
			Branch:      in.Branch,
			EventType:   in.EventType,
			NeedsStatus: in.NeedsStatus,
			StepOutcome: stepOutcome,
		})
		if err != nil {
			return result, err
		}

		if !runnable || (jobFailing && !step.ContinueOnError) {
			result.Steps = append(result.Steps, skippedResult(step.ID))
			stepOutcome[step.ID] = string(OutcomeSkipped)
			continue
		}

		sr := e.runStep(ctx, step, in, stepOutputsByID, &pathPrefixes)
		result.Steps = append(result.Steps, sr)
		stepOutcome[step.ID] = string(sr.Outcome)
		if len(sr.Outputs) > 0 {
			stepOutputsByID[step.ID] = sr.Outputs
			for k, v := range sr.Outputs {
				result.Outputs[k] = v
			}
		}

		if sr.Outcome == OutcomeFailure && !step.ContinueOnError {
			jobFailing = true
		}
	}

	if jobFailing {
		result.Status = OutcomeFailure
	}
	return result, nil
}

func skippedResult(stepID string) StepResult {
	return StepResult{StepID: stepID, Outcome: OutcomeSkipped, Status: OutcomeSkipped}
}

func (e *Executor) runStep(ctx context.Context, step config.StepDefinition, in JobInput, stepOutputsByID map[string]map[string]string, pathPrefixes *[]string) StepResult {
	started := time.Now()
	placeholderCtx := planner.PlaceholderContext{
		Matrix:      in.Matrix,
		NeedsOutput: in.NeedsOutput,
		StepOutput:  stepOutputsByID,
		Secrets:     in.SecretValues,
	}
	env := composeEnv(in.Env, step.Env, *pathPrefixes, placeholderCtx)
	workdir := resolveWorkdir(in.Workdir, step.Workdir)

	switch step.Type {
	case config.StepSetup:
		return e.runSetup(step, started, pathPrefixes)
	case config.StepCheckout:
		return e.runCheckout(ctx, step, env, workdir, started)
	default:
		return e.runCommand(ctx, step, env, workdir, started, in.Secrets)
	}
}

// composeEnv layers base (pipeline ∪ job ∪ matrix, already merged by the
// planner), the CI/ZEPHYR ambient variables, and the step's own env, each
// overriding the last, then resolves ${{ ... }} placeholders in every
// value and prepends any runtimes provisioned by earlier setup steps onto
// PATH.
func composeEnv(base, stepEnv map[string]string, pathPrefixes []string, ctx planner.PlaceholderContext) map[string]string {
	env := make(map[string]string, len(base)+len(stepEnv)+2)
	for k, v := range base {
		env[k] = v
	}
	env["CI"] = "true"
	env["ZEPHYR"] = "true"
	for k, v := range stepEnv {
		env[k] = v
	}
	for k, v := range env {
		env[k] = planner.Interpolate(v, ctx)
	}
	if len(pathPrefixes) > 0 {
		basePath, ok := env["PATH"]
		if !ok {
			basePath = os.Getenv("PATH")
		}
		env["PATH"] = strings.Join(append(append([]string{}, pathPrefixes...), basePath), ":")
	}
	return env
}

func resolveWorkdir(jobWorkdir, stepWorkdir string) string {
	if stepWorkdir == "" {
		return jobWorkdir
	}
	if filepath.IsAbs(stepWorkdir) {
		return stepWorkdir
	}
	return filepath.Join(jobWorkdir, stepWorkdir)
}

// runSetup performs the required side effect of a setup step: the named
// runtime at the named version becomes reachable on PATH for subsequent
// steps. It is an idempotent provisioning stub, not a real toolchain
// installer.
func (e *Executor) runSetup(step config.StepDefinition, started time.Time, pathPrefixes *[]string) StepResult {
	binDir := fmt.Sprintf("/opt/zephyr-runtimes/%s/%s/bin", step.Runtime, step.Version)
	*pathPrefixes = append(*pathPrefixes, binDir)
	if e.log != nil {
		e.log.Info("runtime provisioned", "step", step.ID, "runtime", step.Runtime, "version", step.Version)
	}
	return StepResult{
		StepID:   step.ID,
		Outcome:  OutcomeSuccess,
		Status:   OutcomeSuccess,
		ExitCode: 0,
		Output:   fmt.Sprintf("provisioned %s %s on PATH", step.Runtime, step.Version),
		Started:  started,
		Finished: time.Now(),
	}
}

func (e *Executor) runCheckout(ctx context.Context, step config.StepDefinition, env map[string]string, workdir string, started time.Time) StepResult {
	cfg := CheckoutConfig{RepoURL: env["ZEPHYR_REPO_URL"]}
	if sha := env["ZEPHYR_COMMIT_SHA"]; sha != "" {
		cfg.Ref = sha
	} else {
		cfg.Ref = env["ZEPHYR_BRANCH"]
	}

	if err := Checkout(ctx, workdir, cfg); err != nil {
		return StepResult{StepID: step.ID, Outcome: OutcomeFailure, Status: OutcomeFailure, ExitCode: 1, Output: err.Error(), Started: started, Finished: time.Now()}
	}
	return StepResult{StepID: step.ID, Outcome: OutcomeSuccess, Status: OutcomeSuccess, ExitCode: 0, Started: started, Finished: time.Now()}
}

// runCommand invokes `shell -c command`, capturing stdout and stderr
// concurrently and enforcing the step's timeout if declared.
func (e *Executor) runCommand(ctx context.Context, step config.StepDefinition, env map[string]string, workdir string, started time.Time, secrets *planner.SecretSet) StepResult {
	shell := step.Shell
	if shell == "" {
		shell = "bash"
	}

	stepCtx := ctx
	var cancel context.CancelFunc
	if step.TimeoutSeconds > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, time.Duration(step.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(stepCtx, shell, "-c", step.Command)
	cmd.Dir = workdir
	cmd.Env = envToSlice(env)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = timeoutGraceDuration

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return failedStepResult(step.ID, started, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return failedStepResult(step.ID, started, err)
	}

	if err := cmd.Start(); err != nil {
		return failedStepResult(step.ID, started, err)
	}

	var mu sync.Mutex
	var output strings.Builder
	var wg sync.WaitGroup
	wg.Add(2)
	go e.captureStream(&wg, &mu, &output, stdout, "stdout", step.ID, secrets)
	go e.captureStream(&wg, &mu, &output, stderr, "stderr", step.ID, secrets)
	wg.Wait()

	waitErr := cmd.Wait()
	finished := time.Now()
	timedOut := stepCtx.Err() == context.DeadlineExceeded

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = 1
		}
	}

	finalOutput := output.String()
	if timedOut {
		exitCode = 124
		finalOutput += "\n[TIMEOUT] Step exceeded timeout limit"
	}

	outcome := OutcomeSuccess
	if exitCode != 0 {
		outcome = OutcomeFailure
	}
	status := outcome
	if outcome == OutcomeFailure && step.ContinueOnError {
		status = OutcomeSuccess
	}

	return StepResult{
		StepID:   step.ID,
		Outcome:  outcome,
		Status:   status,
		ExitCode: exitCode,
		Output:   finalOutput,
		Outputs:  extractOutputs(finalOutput),
		Started:  started,
		Finished: finished,
	}
}

func (e *Executor) captureStream(wg *sync.WaitGroup, mu *sync.Mutex, out *strings.Builder, r io.Reader, stream, stepID string, secrets *planner.SecretSet) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if secrets != nil {
			line = secrets.Mask(line)
		}

		mu.Lock()
		out.WriteString(line)
		out.WriteString("\n")
		mu.Unlock()

		if e.log == nil {
			continue
		}
		if stream == "stderr" {
			e.log.Warn(line, "step", stepID, "stream", stream)
		} else {
			e.log.Info(line, "step", stepID, "stream", stream)
		}
	}
}

func extractOutputs(output string) map[string]string {
	var outputs map[string]string
	for _, line := range strings.Split(output, "\n") {
		m := setOutputRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if outputs == nil {
			outputs = make(map[string]string)
		}
		outputs[m[1]] = m[2]
	}
	return outputs
}

func envToSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func failedStepResult(stepID string, started time.Time, err error) StepResult {
	return StepResult{
		StepID:   stepID,
		Outcome:  OutcomeFailure,
		Status:   OutcomeFailure,
		ExitCode: 1,
		Output:   err.Error(),
		Started:  started,
		Finished: time.Now(),
	}
}
