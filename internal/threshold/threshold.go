// Package threshold parses and evaluates pass/fail conditions against a
// metrics snapshot after a run.
//
// Expressions follow the k6 form used by the chat load scripts:
//
//	http_req_duration: p(95)<1000
//	http_req_failed:   rate<0.05
//	ws_msgs_sent:      count>100000
//
// The shorthand "p95 < 500ms" is accepted as well. Duration values are
// converted to milliseconds, the unit of every time trend.
package threshold

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/foreigner-chat/chatload/internal/metrics"
)

// Spec binds an expression to the metric it is evaluated against.
type Spec struct {
	Metric     string `json:"metric" yaml:"metric"`
	Expression string `json:"expression" yaml:"expression"`
}

func (s Spec) String() string {
	return s.Metric + ": " + s.Expression
}

// Operator is a comparison operator.
type Operator string

const (
	Less         Operator = "<"
	LessEqual    Operator = "<="
	Greater      Operator = ">"
	GreaterEqual Operator = ">="
	Equal        Operator = "=="
	NotEqual     Operator = "!="
)

// Predicate is a parsed expression: Stat Op Value.
type Predicate struct {
	Stat  string
	Op    Operator
	Value float64
}

func (p Predicate) String() string {
	return fmt.Sprintf("%s%s%s", p.Stat, p.Op, strconv.FormatFloat(p.Value, 'f', -1, 64))
}

// Check compares an observed value against the predicate.
func (p Predicate) Check(observed float64) bool {
	switch p.Op {
	case Less:
		return observed < p.Value
	case LessEqual:
		return observed <= p.Value
	case Greater:
		return observed > p.Value
	case GreaterEqual:
		return observed >= p.Value
	case Equal:
		return observed == p.Value
	case NotEqual:
		return observed != p.Value
	default:
		return false
	}
}

var exprRegex = regexp.MustCompile(`^(p\(\s*[0-9.]+\s*\)|[a-z]+[0-9.]*)\s*(<=|>=|==|!=|<>|<|>|=)\s*(.+)$`)

var shorthandPercentile = regexp.MustCompile(`^p([0-9]+(?:\.[0-9]+)?)$`)

// Parse parses an expression like "p(95)<500", "p95 < 500ms" or "rate<0.05".
func Parse(expr string) (Predicate, error) {
	trimmed := strings.TrimSpace(expr)
	matches := exprRegex.FindStringSubmatch(trimmed)
	if len(matches) != 4 {
		return Predicate{}, &ParseError{Expression: expr, Reason: "expected <stat> <op> <value>"}
	}

	stat, err := normalizeStat(matches[1])
	if err != nil {
		return Predicate{}, &ParseError{Expression: expr, Reason: err.Error()}
	}

	value, err := parseValue(strings.TrimSpace(matches[3]))
	if err != nil {
		return Predicate{}, &ParseError{Expression: expr, Reason: err.Error()}
	}

	return Predicate{Stat: stat, Op: normalizeOp(matches[2]), Value: value}, nil
}

func normalizeStat(stat string) (string, error) {
	stat = strings.ReplaceAll(stat, " ", "")
	if m := shorthandPercentile.FindStringSubmatch(stat); m != nil {
		stat = "p(" + m[1] + ")"
	}
	if strings.HasPrefix(stat, "p(") {
		if _, ok := metrics.ParsePercentile(stat); !ok {
			return "", fmt.Errorf("invalid percentile %q", stat)
		}
		return stat, nil
	}

	switch stat {
	case "count", "rate", "value", "min", "max", "avg", "med", "passes", "fails":
		return stat, nil
	}
	return "", fmt.Errorf("unknown statistic %q", stat)
}

func normalizeOp(op string) Operator {
	switch op {
	case "=":
		return Equal
	case "<>":
		return NotEqual
	}
	return Operator(op)
}

func parseValue(s string) (float64, error) {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	return float64(d) / float64(time.Millisecond), nil
}

// ParseAll flattens a metric → expressions map into specs ordered by metric
// name, validating every expression. All problems are reported together.
func ParseAll(m map[string][]string) ([]Spec, error) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		specs []Spec
		errs  []string
	)
	for _, name := range names {
		for _, expr := range m[name] {
			if _, err := Parse(expr); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", name, err))
				continue
			}
			specs = append(specs, Spec{Metric: name, Expression: expr})
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid thresholds: %s", strings.Join(errs, "; "))
	}
	return specs, nil
}
