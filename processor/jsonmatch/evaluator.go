package jsonmatch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/c360/watchpost/pkg/cache"
)

// Condition is a single field/operator/value test.
type Condition struct {
	// Field is a dotted path into the document; numeric segments index arrays.
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
	// Required makes a missing field an error instead of a failed condition.
	Required bool `json:"required,omitempty"`
}

// Supported operators.
const (
	OpEqual            = "eq"
	OpNotEqual         = "ne"
	OpLessThan         = "lt"
	OpLessThanEqual    = "lte"
	OpGreaterThan      = "gt"
	OpGreaterThanEqual = "gte"
	OpContains         = "contains"
	OpStartsWith       = "starts_with"
	OpEndsWith         = "ends_with"
	OpRegexMatch       = "regex"
)

// Logic operators.
const (
	LogicAnd = "and"
	LogicOr  = "or"
)

// OperatorFunc compares a document value with a configured value.
type OperatorFunc func(fieldValue, compareValue any) (bool, error)

// EvaluationError describes a condition that could not be evaluated.
type EvaluationError struct {
	Field    string
	Operator string
	Message  string
	Err      error
}

func (e *EvaluationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("evaluation error for field '%s' with operator '%s': %s: %v",
			e.Field, e.Operator, e.Message, e.Err)
	}
	return fmt.Sprintf("evaluation error for field '%s' with operator '%s': %s",
		e.Field, e.Operator, e.Message)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// Evaluator applies conditions to decoded JSON documents.
type Evaluator struct {
	operators map[string]OperatorFunc
	regexes   *cache.LRU[*regexp.Regexp]
}

// NewEvaluator creates an evaluator backed by the given regex cache.
func NewEvaluator(regexes *cache.LRU[*regexp.Regexp]) *Evaluator {
	e := &Evaluator{regexes: regexes}
	e.operators = map[string]OperatorFunc{
		OpEqual:            operatorEqual,
		OpNotEqual:         operatorNotEqual,
		OpLessThan:         ordered(func(c int) bool { return c < 0 }),
		OpLessThanEqual:    ordered(func(c int) bool { return c <= 0 }),
		OpGreaterThan:      ordered(func(c int) bool { return c > 0 }),
		OpGreaterThanEqual: ordered(func(c int) bool { return c >= 0 }),
		OpContains:         stringOp(strings.Contains),
		OpStartsWith:       stringOp(strings.HasPrefix),
		OpEndsWith:         stringOp(strings.HasSuffix),
		OpRegexMatch:       e.operatorRegex,
	}
	return e
}

// Supports reports whether op is a known operator.
func (e *Evaluator) Supports(op string) bool {
	_, ok := e.operators[op]
	return ok
}

// Evaluate combines the conditions with logic. An empty list matches.
func (e *Evaluator) Evaluate(doc any, conditions []Condition, logic string) (bool, error) {
	if len(conditions) == 0 {
		return true, nil
	}

	switch logic {
	case LogicAnd:
		for _, c := range conditions {
			ok, err := e.evaluateCondition(doc, c)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case LogicOr, "":
		for _, c := range conditions {
			ok, err := e.evaluateCondition(doc, c)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, &EvaluationError{Message: fmt.Sprintf("unsupported logic operator: %s", logic)}
	}
}

func (e *Evaluator) evaluateCondition(doc any, c Condition) (bool, error) {
	value, exists := lookup(doc, c.Field)
	if !exists {
		if c.Required {
			return false, &EvaluationError{Field: c.Field, Operator: c.Operator, Message: "required field not found"}
		}
		return false, nil
	}

	op, ok := e.operators[c.Operator]
	if !ok {
		return false, &EvaluationError{Field: c.Field, Operator: c.Operator, Message: "unsupported operator"}
	}

	result, err := op(value, c.Value)
	if err != nil {
		return false, &EvaluationError{Field: c.Field, Operator: c.Operator, Message: "operator execution failed", Err: err}
	}
	return result, nil
}

// lookup walks a dotted path through maps and arrays.
func lookup(doc any, path string) (any, bool) {
	current := doc
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			i, err := strconv.Atoi(segment)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			current = node[i]
		default:
			return nil, false
		}
	}
	return current, true
}

func operatorEqual(fieldValue, compareValue any) (bool, error) {
	return compareValues(fieldValue, compareValue) == 0, nil
}

func operatorNotEqual(fieldValue, compareValue any) (bool, error) {
	return compareValues(fieldValue, compareValue) != 0, nil
}

func ordered(accept func(int) bool) OperatorFunc {
	return func(fieldValue, compareValue any) (bool, error) {
		return accept(compareValues(fieldValue, compareValue)), nil
	}
}

func stringOp(fn func(s, substr string) bool) OperatorFunc {
	return func(fieldValue, compareValue any) (bool, error) {
		return fn(asString(fieldValue), asString(compareValue)), nil
	}
}

func (e *Evaluator) operatorRegex(fieldValue, compareValue any) (bool, error) {
	pattern, ok := compareValue.(string)
	if !ok {
		return false, fmt.Errorf("regex pattern must be a string")
	}
	re, err := e.compile(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(asString(fieldValue)), nil
}

func (e *Evaluator) compile(pattern string) (*regexp.Regexp, error) {
	if e.regexes != nil {
		if re, ok := e.regexes.Get(pattern); ok {
			return re, nil
		}
	}
	if err := validateRegexComplexity(pattern); err != nil {
		return nil, err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern '%s': %w", pattern, err)
	}
	if e.regexes != nil {
		_, _ = e.regexes.Set(pattern, re)
	}
	return re, nil
}

// validateRegexComplexity rejects patterns prone to heavy backtracking.
func validateRegexComplexity(pattern string) error {
	if len(pattern) > 500 {
		return fmt.Errorf("regex pattern too long (max 500 chars): %d chars", len(pattern))
	}
	for _, fragment := range []string{`(\w+)*\w`, `(\w*)+`, `(a+)+`, `(.*)*`, `(.+)+`, `(\d+)*\d`, `(\s+)*\s`} {
		if strings.Contains(pattern, fragment) {
			return fmt.Errorf("regex pattern contains nested quantifiers")
		}
	}
	if strings.Count(pattern, "(") > 20 {
		return fmt.Errorf("regex pattern has too many groups (max 20)")
	}
	depth, maxDepth := 0, 0
	for _, ch := range pattern {
		switch ch {
		case '(':
			depth++
			maxDepth = max(maxDepth, depth)
		case ')':
			depth--
		}
	}
	if maxDepth > 5 {
		return fmt.Errorf("regex pattern has excessive nesting depth (max 5 levels)")
	}
	return nil
}

// compareValues orders numerically when both sides are numbers, otherwise by
// string form.
func compareValues(a, b any) int {
	aNum, aIsNum := toFloat64(a)
	bNum, bIsNum := toFloat64(b)
	if aIsNum && bIsNum {
		switch {
		case aNum < bNum:
			return -1
		case aNum > bNum:
			return 1
		}
		return 0
	}
	return strings.Compare(asString(a), asString(b))
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint64:
		return float64(val), true
	case uint32:
		return float64(val), true
	default:
		return 0, false
	}
}
