// ABOUTME: Summary metrics declared as expressions over collection records
// ABOUTME: Count metrics use boolean expressions, averages use numeric ones

package resource

import (
	"errors"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/2389/pymemap-console/internal/grid"
)

// MetricSpec declares one summary figure. Exactly one of Count or Average is set.
//
// Count is a boolean expression; the metric is the number of records for
// which it holds. Average is a numeric expression; the metric is its mean
// over all records, with non-numeric results counted as zero.
type MetricSpec struct {
	Label     string
	Count     string
	Average   string
	Precision int
}

// Metric is one computed summary figure.
type Metric struct {
	Label string
	Value string
}

type metric struct {
	spec MetricSpec
	prog *vm.Program
}

func compileMetric(ms MetricSpec) (metric, error) {
	if ms.Label == "" {
		return metric{}, errors.New("metric without label")
	}
	var (
		prog *vm.Program
		err  error
	)
	switch {
	case ms.Count != "" && ms.Average == "":
		prog, err = expr.Compile(ms.Count, expr.AsBool(), expr.AllowUndefinedVariables())
	case ms.Average != "" && ms.Count == "":
		prog, err = expr.Compile(ms.Average, expr.AllowUndefinedVariables())
	default:
		return metric{}, fmt.Errorf("metric %q: set exactly one of count or average", ms.Label)
	}
	if err != nil {
		return metric{}, fmt.Errorf("metric %q: compile expression: %w", ms.Label, err)
	}
	if ms.Precision == 0 {
		ms.Precision = 1
	}
	return metric{spec: ms, prog: prog}, nil
}

// Summarize computes the binding's metrics over records.
func (b *Binding) Summarize(records []grid.Record) []Metric {
	out := make([]Metric, 0, len(b.metrics))
	for _, m := range b.metrics {
		out = append(out, Metric{Label: m.spec.Label, Value: m.eval(records)})
	}
	return out
}

func (m metric) eval(records []grid.Record) string {
	if m.spec.Count != "" {
		n := 0
		for _, r := range records {
			if ok, _ := m.run(r).(bool); ok {
				n++
			}
		}
		return fmt.Sprint(n)
	}

	sum := 0.0
	for _, r := range records {
		if f, ok := toFloat64(m.run(r)); ok {
			sum += f
		}
	}
	avg := 0.0
	if len(records) > 0 {
		avg = sum / float64(len(records))
	}
	return fmt.Sprintf("%.*f", m.spec.Precision, avg)
}

// run evaluates the expression against one record. Evaluation errors, such as
// comparing a missing value, yield nil.
func (m metric) run(r grid.Record) any {
	out, err := expr.Run(m.prog, map[string]any(r))
	if err != nil {
		return nil
	}
	return out
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
