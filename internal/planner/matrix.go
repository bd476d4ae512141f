package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zephyr-ci/zephyr/internal/config"
	"github.com/zephyr-ci/zephyr/internal/model"
)

// expandMatrix computes every combination a job's matrix definition
// produces: the Cartesian product of its declared dimensions, in
// declaration order, with excluded combinations removed and included
// combinations folded in. A nil definition yields the single no-matrix
// combination. Dimension order is preserved so NameSuffix is deterministic
// across runs of the same configuration.
func expandMatrix(def *config.MatrixDefinition) ([]model.MatrixCombination, error) {
	if def == nil {
		return []model.MatrixCombination{{Index: 0, Values: map[string]any{}}}, nil
	}

	combos := cartesianProduct(def.Values)
	combos = applyExclude(combos, def.Exclude)
	combos = applyInclude(combos, def.Values, def.Include)

	result := make([]model.MatrixCombination, len(combos))
	for i, c := range combos {
		result[i] = model.MatrixCombination{
			Index:      i,
			Values:     c,
			NameSuffix: nameSuffix(def.Values, c),
		}
	}
	return result, nil
}

func cartesianProduct(dims []config.MatrixDimension) []map[string]any {
	combos := []map[string]any{{}}
	for _, dim := range dims {
		var next []map[string]any
		for _, combo := range combos {
			for _, v := range dim.Values {
				c := cloneValues(combo)
				c[dim.Key] = v
				next = append(next, c)
			}
		}
		combos = next
	}
	return combos
}

func cloneValues(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func applyExclude(combos []map[string]any, excludes []map[string]any) []map[string]any {
	if len(excludes) == 0 {
		return combos
	}
	var kept []map[string]any
	for _, combo := range combos {
		excluded := false
		for _, ex := range excludes {
			if matchesSubset(combo, ex) {
				excluded = true
				break
			}
		}
		if !excluded {
			kept = append(kept, combo)
		}
	}
	return kept
}

func matchesSubset(combo, subset map[string]any) bool {
	for k, v := range subset {
		cv, ok := combo[k]
		if !ok || fmt.Sprint(cv) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}

// applyInclude folds include entries into the product. An entry that
// partially matches an existing combination on every dimension key it
// specifies overrides that combination's values. An entry matching nothing
// is synthesised into a brand new combination: dimensions it does not
// mention are filled from each dimension's first declared value, then its
// own values are applied on top.
func applyInclude(combos []map[string]any, dims []config.MatrixDimension, includes []map[string]any) []map[string]any {
	if len(includes) == 0 {
		return combos
	}
	baseValues := make(map[string]any, len(dims))
	for _, dim := range dims {
		if len(dim.Values) > 0 {
			baseValues[dim.Key] = dim.Values[0]
		}
	}

	result := append([]map[string]any(nil), combos...)
	for _, inc := range includes {
		matched := false
		for i, combo := range result {
			if matchesPartial(combo, inc, dims) {
				result[i] = mergeOverride(combo, inc)
				matched = true
			}
		}
		if !matched {
			filled := cloneValues(baseValues)
			for k, v := range inc {
				filled[k] = v
			}
			result = append(result, filled)
		}
	}
	return result
}

func matchesPartial(combo, inc map[string]any, dims []config.MatrixDimension) bool {
	matchedAny := false
	for _, dim := range dims {
		incVal, ok := inc[dim.Key]
		if !ok {
			continue
		}
		matchedAny = true
		if fmt.Sprint(combo[dim.Key]) != fmt.Sprint(incVal) {
			return false
		}
	}
	return matchedAny
}

func mergeOverride(combo, inc map[string]any) map[string]any {
	out := cloneValues(combo)
	for k, v := range inc {
		out[k] = v
	}
	return out
}

// nameSuffix renders a combination's values, declared dimensions first in
// declaration order, then any extra keys an include entry introduced,
// sorted lexically for determinism.
func nameSuffix(dims []config.MatrixDimension, combo map[string]any) string {
	if len(combo) == 0 {
		return ""
	}
	parts := make([]string, 0, len(combo))
	seen := make(map[string]bool, len(dims))
	for _, dim := range dims {
		if v, ok := combo[dim.Key]; ok {
			parts = append(parts, fmt.Sprint(v))
			seen[dim.Key] = true
		}
	}
	var extraKeys []string
	for k := range combo {
		if !seen[k] {
			extraKeys = append(extraKeys, k)
		}
	}
	sort.Strings(extraKeys)
	for _, k := range extraKeys {
		parts = append(parts, fmt.Sprint(combo[k]))
	}
	return strings.Join(parts, "-")
}
