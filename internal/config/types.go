// Package config holds the already-parsed pipeline configuration the
// planner consumes. The declarative configuration surface itself (the
// authoring format beyond this Go representation) is an external
// collaborator per the specification; this package only needs to carry a
// validated, YAML-loadable version of it plus the "pipelines is a list or a
// computation" distinction the planner's resolvePipelines operation acts on.
package config

import (
	"fmt"

	streamyerrors "github.com/zephyr-ci/zephyr/pkg/errors"
)

// TriggerContext carries the facts about an incoming event used to resolve
// dynamic pipeline sets and to evaluate step conditions.
type TriggerContext struct {
	Branch    string
	CommitSHA string
	EventType string
	Repo      string
	Extra     map[string]string
}

// Project identifies the owner of a set of pipelines.
type Project struct {
	ID          string `yaml:"id" validate:"required"`
	Name        string `yaml:"name" validate:"required,min=1,max=100"`
	Description string `yaml:"description,omitempty"`
	ConfigPath  string `yaml:"-"`
}

// Document is the top-level shape loaded from a pipeline configuration
// file: a project plus a static list of pipelines. A dynamic pipeline set
// (a function of TriggerContext) cannot be expressed in YAML and is only
// ever constructed in Go — see PipelineSet.
type Document struct {
	Project   Project              `yaml:"project" validate:"required"`
	Pipelines []PipelineDefinition `yaml:"pipelines" validate:"required,min=1,dive"`
}

// PipelineSetKind distinguishes a static pipeline list from a computation
// over the trigger context (the source's "pipelines: list | function").
type PipelineSetKind string

const (
	PipelineSetStatic  PipelineSetKind = "static"
	PipelineSetDynamic PipelineSetKind = "dynamic"
)

// PipelineSet is the tagged variant described in SPEC_FULL's design notes:
// Static(list) | Dynamic(fn). Exactly one of Static/Dynamic is populated
// according to Kind.
type PipelineSet struct {
	Kind    PipelineSetKind
	Static  []PipelineDefinition
	Dynamic func(ctx TriggerContext) ([]PipelineDefinition, error)
}

// NewStaticPipelineSet wraps a concrete pipeline list.
func NewStaticPipelineSet(pipelines []PipelineDefinition) PipelineSet {
	return PipelineSet{Kind: PipelineSetStatic, Static: pipelines}
}

// NewDynamicPipelineSet wraps a computation over the trigger context.
func NewDynamicPipelineSet(fn func(ctx TriggerContext) ([]PipelineDefinition, error)) PipelineSet {
	return PipelineSet{Kind: PipelineSetDynamic, Dynamic: fn}
}

// PipelineDefinition is a named collection of jobs with triggers and
// shared environment.
type PipelineDefinition struct {
	Name     string          `yaml:"name" validate:"required"`
	Triggers []string        `yaml:"triggers" validate:"required,min=1"`
	Env      map[string]string `yaml:"env,omitempty"`
	Jobs     []JobDefinition `yaml:"jobs" validate:"required,min=1,dive"`
}

// Runner describes the execution environment a job's steps run in.
type Runner struct {
	Image string `yaml:"image" validate:"required"`
	Local bool   `yaml:"local,omitempty"`
}

// JobDefinition is an ordered list of steps executed on one runner.
type JobDefinition struct {
	Name        string            `yaml:"name" validate:"required"`
	Runner      Runner            `yaml:"runner" validate:"required"`
	DependsOn   []string          `yaml:"depends_on,omitempty"`
	Env         map[string]string `yaml:"env,omitempty"`
	Matrix      *MatrixDefinition `yaml:"matrix,omitempty"`
	MaxParallel int               `yaml:"max_parallel,omitempty"`
	// Secrets names opaque values resolved from the scheduling host's
	// environment at dispatch time (not stored in the pipeline
	// configuration itself), exposed to steps as ${{ secret.<name> }} and
	// masked in captured output.
	Secrets []string         `yaml:"secrets,omitempty"`
	Steps   []StepDefinition `yaml:"steps" validate:"required,min=1,dive"`
}

// MatrixDimension is one declared dimension of a matrix sweep. Values is a
// heterogeneous scalar list (string | number | bool), decoded as `any` by
// yaml.v3 and stringified at interpolation points.
type MatrixDimension struct {
	Key    string `yaml:"key" validate:"required,matrix_key"`
	Values []any  `yaml:"values" validate:"required,min=1"`
}

// MatrixDefinition declares a Cartesian-product parameter sweep over one or
// more dimensions, with optional exclude/include adjustments. Dimensions
// are declared as an ordered list (rather than a map) so YAML's document
// order IS the dimension declaration order the spec requires for product
// and nameSuffix ordering.
type MatrixDefinition struct {
	Values  []MatrixDimension  `yaml:"values" validate:"required,min=1,dive"`
	Exclude []map[string]any `yaml:"exclude,omitempty"`
	Include []map[string]any `yaml:"include,omitempty"`
}

// StepKind is the dispatch discriminator for a step.
type StepKind string

const (
	StepRun      StepKind = "run"
	StepSetup    StepKind = "setup"
	StepCheckout StepKind = "checkout"
)

// StepDefinition describes one executable action within a job.
type StepDefinition struct {
	ID              string            `yaml:"id" validate:"required,step_id"`
	Name            string            `yaml:"name,omitempty"`
	Type            StepKind          `yaml:"type" validate:"required,oneof=run setup checkout"`
	Condition       string            `yaml:"if,omitempty"`
	ContinueOnError bool              `yaml:"continue_on_error,omitempty"`
	TimeoutSeconds  int               `yaml:"timeout,omitempty" validate:"omitempty,min=1"`
	Env             map[string]string `yaml:"env,omitempty"`
	Workdir         string            `yaml:"workdir,omitempty"`

	// Run-step fields.
	Command string `yaml:"command,omitempty"`
	Shell   string `yaml:"shell,omitempty"`

	// Setup-step fields.
	Runtime string `yaml:"runtime,omitempty"`
	Version string `yaml:"version,omitempty"`
}

// Validate enforces the per-kind required fields that struct tags alone
// cannot express (a run step needs a command, a setup step needs a
// runtime).
func (s StepDefinition) Validate() error {
	switch s.Type {
	case StepRun:
		if s.Command == "" {
			return streamyerrors.NewValidationError(fmt.Sprintf("steps[%s].command", s.ID), "run step requires a command", nil)
		}
	case StepSetup:
		if s.Runtime == "" {
			return streamyerrors.NewValidationError(fmt.Sprintf("steps[%s].runtime", s.ID), "setup step requires a runtime", nil)
		}
	case StepCheckout:
		// No additional required fields; defaults to the trigger's branch/sha.
	default:
		return streamyerrors.NewValidationError(fmt.Sprintf("steps[%s].type", s.ID), fmt.Sprintf("unknown step type %q", s.Type), nil)
	}
	return nil
}
