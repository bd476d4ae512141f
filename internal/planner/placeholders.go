package planner

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderRegex = regexp.MustCompile(`\$\{\{\s*([a-zA-Z0-9_.-]+)\s*\}\}`)

// PlaceholderContext supplies the values an executed step's `${{ ... }}`
// expressions may reference: the current job instance's matrix values,
// upstream jobs' declared outputs keyed by base job name, the current
// job's own prior steps' outputs keyed by step id, and secret values
// resolved for this job keyed by the name declared in configuration.
type PlaceholderContext struct {
	Matrix      map[string]any
	NeedsOutput map[string]map[string]string
	StepOutput  map[string]map[string]string
	Secrets     map[string]string
}

// Interpolate replaces every ${{ ... }} expression in s with its resolved
// value. A missing matrix key resolves to the empty string, matching a
// job's combination always supplying exactly its declared keys. A missing
// needs/steps/secret reference is left verbatim instead, so a typo in a
// job, step, or secret name surfaces in the executed command rather than
// silently disappearing.
func Interpolate(s string, ctx PlaceholderContext) string {
	return placeholderRegex.ReplaceAllStringFunc(s, func(match string) string {
		sub := placeholderRegex.FindStringSubmatch(match)
		expr := strings.TrimSpace(sub[1])
		if v, ok := resolveExpr(expr, ctx); ok {
			return v
		}
		return match
	})
}

func resolveExpr(expr string, ctx PlaceholderContext) (string, bool) {
	switch {
	case strings.HasPrefix(expr, "matrix."):
		key := strings.TrimPrefix(expr, "matrix.")
		v, ok := ctx.Matrix[key]
		if !ok {
			return "", true
		}
		return fmt.Sprint(v), true

	case strings.HasPrefix(expr, "needs."):
		job, name, ok := splitOutputsRef(strings.TrimPrefix(expr, "needs."))
		if !ok {
			return "", false
		}
		outputs, ok := ctx.NeedsOutput[job]
		if !ok {
			return "", false
		}
		v, ok := outputs[name]
		return v, ok

	case strings.HasPrefix(expr, "steps."):
		stepID, name, ok := splitOutputsRef(strings.TrimPrefix(expr, "steps."))
		if !ok {
			return "", false
		}
		outputs, ok := ctx.StepOutput[stepID]
		if !ok {
			return "", false
		}
		v, ok := outputs[name]
		return v, ok

	case strings.HasPrefix(expr, "secret."):
		name := strings.TrimPrefix(expr, "secret.")
		v, ok := ctx.Secrets[name]
		return v, ok

	default:
		return "", false
	}
}

// splitOutputsRef parses "<id>.outputs.<name>" into (id, name).
func splitOutputsRef(s string) (string, string, bool) {
	const marker = ".outputs."
	i := strings.Index(s, marker)
	if i < 0 {
		return "", "", false
	}
	return s[:i], s[i+len(marker):], true
}

// MatrixEnv produces the MATRIX_<UPPER(key)> environment variables a job
// instance's combination injects into every step, alongside the
// ${{ matrix.<key> }} expressions Interpolate resolves from the same
// values.
func MatrixEnv(values map[string]any) map[string]string {
	env := make(map[string]string, len(values))
	for k, v := range values {
		env["MATRIX_"+strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return env
}
