package executor

import (
	"fmt"
	"strings"

	streamyerrors "github.com/zephyr-ci/zephyr/pkg/errors"
)

// ConditionContext supplies the field values a step's `if` expression may
// reference: the triggering branch and event type, each already-completed
// upstream job's status, and each already-executed step's outcome within
// the current job.
type ConditionContext struct {
	Branch      string
	EventType   string
	NeedsStatus map[string]string
	StepOutcome map[string]string
}

// EvaluateCondition evaluates a step's condition expression: a
// conjunction, joined by "&&", of equality or inequality comparisons
// between one of the fields `branch`, `event.type`, `needs.<job>.status`,
// `steps.<id>.outcome` and a quoted literal. An empty expression is always
// true. This is a small, deterministic evaluator by design — no arbitrary
// host-language callback is accepted, only these named fields.
func EvaluateCondition(expr string, ctx ConditionContext) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true, nil
	}

	for _, clause := range strings.Split(expr, "&&") {
		ok, err := evaluateClause(strings.TrimSpace(clause), ctx)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evaluateClause(clause string, ctx ConditionContext) (bool, error) {
	op := "=="
	idx := strings.Index(clause, "==")
	if idx < 0 {
		op = "!="
		idx = strings.Index(clause, "!=")
	}
	if idx < 0 {
		return false, streamyerrors.NewValidationError("if", fmt.Sprintf("unsupported condition clause %q", clause), nil)
	}

	field := strings.TrimSpace(clause[:idx])
	literal := strings.Trim(strings.TrimSpace(clause[idx+2:]), `'"`)

	actual, err := resolveConditionField(field, ctx)
	if err != nil {
		return false, err
	}

	if op == "==" {
		return actual == literal, nil
	}
	return actual != literal, nil
}

func resolveConditionField(field string, ctx ConditionContext) (string, error) {
	switch {
	case field == "branch":
		return ctx.Branch, nil
	case field == "event.type":
		return ctx.EventType, nil
	case strings.HasPrefix(field, "needs.") && strings.HasSuffix(field, ".status"):
		job := strings.TrimSuffix(strings.TrimPrefix(field, "needs."), ".status")
		return ctx.NeedsStatus[job], nil
	case strings.HasPrefix(field, "steps.") && strings.HasSuffix(field, ".outcome"):
		id := strings.TrimSuffix(strings.TrimPrefix(field, "steps."), ".outcome")
		return ctx.StepOutcome[id], nil
	default:
		return "", streamyerrors.NewValidationError("if", fmt.Sprintf("unknown condition field %q", field), nil)
	}
}
