// Package rule evaluates transition validation predicates against a work
// item snapshot.
package rule

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zulandar/trellis/internal/interp"
)

// Operators supported by Rule.Operator.
const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
	OpContains    = "contains"
)

// Rule is one operator-based predicate over a work item field. Field names
// resolve against standard fields first, then custom fields.
type Rule struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
	Message  string `json:"message,omitempty"`
}

// FailureMessage is the message surfaced when the rule fails. Falls back
// to a generated description when no custom message is configured.
func (r Rule) FailureMessage() string {
	if r.Message != "" {
		return r.Message
	}
	return fmt.Sprintf("%s must be %s %s", r.Field, strings.ReplaceAll(r.Operator, "_", " "), r.Value)
}

// Eval applies the rule to a snapshot. Unknown fields evaluate as empty
// strings; unknown operators fail closed.
func Eval(r Rule, snap interp.Snapshot) bool {
	actual, _ := snap.Lookup(r.Field)
	switch r.Operator {
	case OpEquals:
		return actual == r.Value
	case OpNotEquals:
		return actual != r.Value
	case OpGreaterThan:
		return compare(actual, r.Value) > 0
	case OpLessThan:
		return compare(actual, r.Value) < 0
	case OpContains:
		return strings.Contains(actual, r.Value)
	default:
		return false
	}
}

// Validate rejects rules with unknown operators or empty field names at
// configuration-save time.
func Validate(r Rule) error {
	if r.Field == "" {
		return fmt.Errorf("rule: field is required")
	}
	switch r.Operator {
	case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpContains:
		return nil
	default:
		return fmt.Errorf("rule: unknown operator %q", r.Operator)
	}
}

// RequiredFields reports which of the named fields are absent or empty on
// the snapshot. All failures are collected so callers can surface the
// complete list at once.
func RequiredFields(names []string, snap interp.Snapshot) []string {
	var missing []string
	for _, name := range names {
		if v, ok := snap.Lookup(name); !ok || v == "" {
			missing = append(missing, fmt.Sprintf("%s is required", name))
		}
	}
	return missing
}

// compare orders two values numerically when both parse as numbers,
// falling back to lexicographic comparison. Dates in YYYY-MM-DD order
// correctly under the fallback.
func compare(a, b string) int {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		switch {
		case fa > fb:
			return 1
		case fa < fb:
			return -1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}
