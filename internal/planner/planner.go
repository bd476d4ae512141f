// Package planner turns a parsed configuration document into the flat,
// matrix-expanded job set the DAG engine and scheduler operate on:
// resolving which pipelines a trigger activates, validating cross-job
// references a single struct's tags cannot express, and expanding each
// job's matrix into concrete instances with their dependsOn fanned out
// across matrix siblings.
package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zephyr-ci/zephyr/internal/config"
	"github.com/zephyr-ci/zephyr/internal/model"
	streamyerrors "github.com/zephyr-ci/zephyr/pkg/errors"
)

// ExpandedJob is one matrix-expanded job instance, ready for DAG
// construction and execution. BaseName is the job name as declared in
// configuration; InstanceID is unique within the pipeline run once the
// combination's NameSuffix is appended.
type ExpandedJob struct {
	InstanceID  string
	DisplayName string
	BaseName    string
	DependsOn   []string
	Definition  config.JobDefinition
	Combination model.MatrixCombination
	Env         map[string]string
}

// ResolvePipelines selects the pipelines a trigger activates from a
// pipeline set, evaluating the dynamic function when the set's Kind is
// PipelineSetDynamic. A pipeline is selected when any of its declared
// triggers matches the incoming event type, or declares the wildcard "*".
func ResolvePipelines(set config.PipelineSet, ctx config.TriggerContext) ([]config.PipelineDefinition, error) {
	var candidates []config.PipelineDefinition
	switch set.Kind {
	case config.PipelineSetStatic:
		candidates = set.Static
	case config.PipelineSetDynamic:
		resolved, err := set.Dynamic(ctx)
		if err != nil {
			return nil, streamyerrors.NewValidationError("pipelines", "dynamic pipeline resolution failed", err)
		}
		candidates = resolved
	default:
		return nil, streamyerrors.NewValidationError("pipelines", fmt.Sprintf("unknown pipeline set kind %q", set.Kind), nil)
	}

	var matched []config.PipelineDefinition
	for _, p := range candidates {
		if triggersMatch(p.Triggers, ctx.EventType) {
			matched = append(matched, p)
		}
	}
	return matched, nil
}

func triggersMatch(triggers []string, eventType string) bool {
	for _, t := range triggers {
		if t == eventType || t == "*" {
			return true
		}
	}
	return false
}

// ValidatePipeline performs the cross-job checks struct tags cannot
// express: unique job names, dependsOn referencing only declared,
// non-self job names, and matrix dimension keys unique within a job.
// A failure here is the planner's InvalidConfig error kind.
func ValidatePipeline(p config.PipelineDefinition) error {
	seen := make(map[string]bool, len(p.Jobs))
	for _, j := range p.Jobs {
		if seen[j.Name] {
			return streamyerrors.NewValidationError("jobs", fmt.Sprintf("duplicate job name %q in pipeline %q", j.Name, p.Name), nil)
		}
		seen[j.Name] = true
	}

	for _, j := range p.Jobs {
		for _, dep := range j.DependsOn {
			if dep == j.Name {
				return streamyerrors.NewValidationError("jobs", fmt.Sprintf("job %q cannot depend on itself", j.Name), nil)
			}
			if !seen[dep] {
				return streamyerrors.NewValidationError("jobs", fmt.Sprintf("job %q depends on undeclared job %q", j.Name, dep), nil)
			}
		}
		if j.Matrix != nil {
			keys := make(map[string]bool, len(j.Matrix.Values))
			for _, dim := range j.Matrix.Values {
				if keys[dim.Key] {
					return streamyerrors.NewValidationError("matrix", fmt.Sprintf("job %q declares matrix key %q more than once", j.Name, dim.Key), nil)
				}
				keys[dim.Key] = true
			}
		}
	}
	return nil
}

// ExpandJobs expands every job in a pipeline by its matrix (if any) into
// ExpandedJob instances. A dependent job's single instance depends on
// every expanded instance of an upstream matrixed job: the upstream job is
// only complete, for DAG purposes, once all of its combinations have
// finished (see SPEC_FULL's matrix fan-in decision). Env layers pipeline
// env, then job env, then the instance's own MATRIX_* variables, each
// layer overriding the last.
func ExpandJobs(p config.PipelineDefinition) ([]ExpandedJob, error) {
	instancesByBase := make(map[string][]string, len(p.Jobs))
	var expanded []ExpandedJob

	for _, j := range p.Jobs {
		combos, err := expandMatrix(j.Matrix)
		if err != nil {
			return nil, err
		}
		for _, combo := range combos {
			instanceID, displayName := j.Name, j.Name
			if combo.NameSuffix != "" {
				instanceID = j.Name + "-" + combo.NameSuffix
				displayName = fmt.Sprintf("%s (%s)", j.Name, matrixDisplayLabel(j.Matrix, combo.Values))
			}
			env := mergeEnv(p.Env, j.Env, MatrixEnv(combo.Values))
			expanded = append(expanded, ExpandedJob{
				InstanceID:  instanceID,
				DisplayName: displayName,
				BaseName:    j.Name,
				Definition:  j,
				Combination: combo,
				Env:         env,
			})
			instancesByBase[j.Name] = append(instancesByBase[j.Name], instanceID)
		}
	}

	for i := range expanded {
		var deps []string
		for _, dep := range expanded[i].Definition.DependsOn {
			deps = append(deps, instancesByBase[dep]...)
		}
		expanded[i].DependsOn = deps
	}

	return expanded, nil
}

// matrixDisplayLabel renders a combination as "key=value, key2=value2" in
// declared dimension order, then any include-only keys sorted lexically —
// the human-readable form used in DisplayName, distinct from the
// filesystem/id-safe dash-joined NameSuffix.
func matrixDisplayLabel(def *config.MatrixDefinition, values map[string]any) string {
	if len(values) == 0 {
		return ""
	}
	var dims []config.MatrixDimension
	if def != nil {
		dims = def.Values
	}

	parts := make([]string, 0, len(values))
	seen := make(map[string]bool, len(dims))
	for _, dim := range dims {
		if v, ok := values[dim.Key]; ok {
			parts = append(parts, fmt.Sprintf("%s=%v", dim.Key, v))
			seen[dim.Key] = true
		}
	}
	var extraKeys []string
	for k := range values {
		if !seen[k] {
			extraKeys = append(extraKeys, k)
		}
	}
	sort.Strings(extraKeys)
	for _, k := range extraKeys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, values[k]))
	}
	return strings.Join(parts, ", ")
}

func mergeEnv(layers ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, layer := range layers {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}

// JobNodes converts expanded jobs into the DAG engine's flat input shape.
func JobNodes(jobs []ExpandedJob) []model.JobNode {
	nodes := make([]model.JobNode, len(jobs))
	for i, j := range jobs {
		nodes[i] = model.JobNode{ID: j.InstanceID, Name: j.DisplayName, DependsOn: j.DependsOn}
	}
	return nodes
}
