package policy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// undefined is the sentinel result of a failed attribute-path lookup.
// Per spec.md §4.6, comparisons against undefined are false for every
// operator except IsNull, which is true.
type undefinedT struct{}

var undefined = undefinedT{}

// lookup resolves a dot-notation attribute path against a nested map,
// returning undefined if any segment is missing or not a map.
func lookup(attrs map[string]any, path string) any {
	if attrs == nil {
		return undefined
	}
	segments := strings.Split(path, ".")
	var cur any = attrs
	for _, seg := range segments {
		m, ok := cur.(map[string]any)
		if !ok {
			return undefined
		}
		v, ok := m[seg]
		if !ok {
			return undefined
		}
		cur = v
	}
	return cur
}

// evalConditionSet evaluates every Condition in cs against attrs,
// combining results per cs.Mode. An empty condition set is vacuously
// true: a policy that declares no subject/resource constraints matches
// every subject/resource.
func evalConditionSet(cs ConditionSet, attrs map[string]any) bool {
	if len(cs.Conditions) == 0 {
		return true
	}
	if cs.Mode == MatchAny {
		for _, c := range cs.Conditions {
			if evalCondition(c, attrs) {
				return true
			}
		}
		return false
	}
	for _, c := range cs.Conditions {
		if !evalCondition(c, attrs) {
			return false
		}
	}
	return true
}

func evalCondition(c Condition, attrs map[string]any) bool {
	actual := lookup(attrs, c.Attribute)

	if c.Operator == OpIsNull {
		return actual == undefined || actual == nil
	}
	if c.Operator == OpIsNotNull {
		return actual != undefined && actual != nil
	}
	if actual == undefined {
		return false
	}

	switch c.Operator {
	case OpEquals:
		return looseEqual(actual, c.Value)
	case OpNotEquals:
		return !looseEqual(actual, c.Value)
	case OpContains:
		return containsVal(actual, c.Value)
	case OpNotContains:
		return !containsVal(actual, c.Value)
	case OpIn:
		return inSlice(actual, c.Value)
	case OpNotIn:
		return !inSlice(actual, c.Value)
	case OpGreaterThan:
		f1, f2, ok := asFloats(actual, c.Value)
		return ok && f1 > f2
	case OpLessThan:
		f1, f2, ok := asFloats(actual, c.Value)
		return ok && f1 < f2
	case OpBetween:
		f, fOK := toFloat(actual)
		lof, loOK := toFloat(c.Low)
		hif, hiOK := toFloat(c.High)
		return fOK && loOK && hiOK && f >= lof && f <= hif
	case OpMatchesRegex:
		pattern, ok := c.Value.(string)
		if !ok {
			return false
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(fmt.Sprint(actual))
	case OpStartsWith:
		prefix, ok := c.Value.(string)
		return ok && strings.HasPrefix(fmt.Sprint(actual), prefix)
	case OpEndsWith:
		suffix, ok := c.Value.(string)
		return ok && strings.HasSuffix(fmt.Sprint(actual), suffix)
	default:
		return false
	}
}

func looseEqual(a, b any) bool {
	if a == b {
		return true
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func containsVal(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		s, ok := needle.(string)
		return ok && strings.Contains(h, s)
	case []any:
		for _, v := range h {
			if looseEqual(v, needle) {
				return true
			}
		}
		return false
	case []string:
		s, ok := needle.(string)
		if !ok {
			return false
		}
		for _, v := range h {
			if v == s {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func inSlice(needle, haystack any) bool {
	switch h := haystack.(type) {
	case []any:
		for _, v := range h {
			if looseEqual(needle, v) {
				return true
			}
		}
	case []string:
		for _, v := range h {
			if looseEqual(needle, v) {
				return true
			}
		}
	}
	return false
}

func asFloats(a, b any) (float64, float64, bool) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	return af, bf, aok && bok
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
