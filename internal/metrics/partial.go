// Package metrics is the columnar-store accessor for per-run metric
// summaries: batch aggregate fetch, metric name discovery, metric-based run
// filtering and metric-based sorted page retrieval.
package metrics

import (
	"github.com/pkg/errors"
)

// Aggregation selects which aggregate of a metric's values to compute.
type Aggregation string

// Supported aggregations.
const (
	AggMin      Aggregation = "MIN"
	AggMax      Aggregation = "MAX"
	AggAvg      Aggregation = "AVG"
	AggLast     Aggregation = "LAST"
	AggVariance Aggregation = "VARIANCE"
)

// AllAggregations lists every supported aggregation.
var AllAggregations = []Aggregation{AggMin, AggMax, AggAvg, AggLast, AggVariance}

// ParseAggregation validates an aggregation name.
func ParseAggregation(s string) (Aggregation, error) {
	for _, agg := range AllAggregations {
		if string(agg) == s {
			return agg, nil
		}
	}
	return "", errors.Errorf("unknown aggregation %q", s)
}

// Partial is the incrementally-mergeable summary state of one (run, metric)
// pair: the Go-side counterpart of the columnar store's partial aggregate
// columns. Merging partials is associative and commutative, which is what
// lets out-of-order concurrent ingestion still produce exact aggregates.
type Partial struct {
	Min       float64
	Max       float64
	Sum       float64
	Count     uint64
	LastValue float64
	LastStep  uint64
	SumSq     float64
}

// Observe folds one raw (value, step) observation into the state.
func (p Partial) Observe(value float64, step uint64) Partial {
	if p.Count == 0 {
		return Partial{
			Min: value, Max: value, Sum: value, Count: 1,
			LastValue: value, LastStep: step, SumSq: value * value,
		}
	}
	out := p
	if value < out.Min {
		out.Min = value
	}
	if value > out.Max {
		out.Max = value
	}
	out.Sum += value
	out.Count++
	out.SumSq += value * value
	if step >= out.LastStep {
		out.LastValue = value
		out.LastStep = step
	}
	return out
}

// Merge combines two partial states into one.
func (p Partial) Merge(o Partial) Partial {
	if p.Count == 0 {
		return o
	}
	if o.Count == 0 {
		return p
	}
	out := Partial{
		Min:       p.Min,
		Max:       p.Max,
		Sum:       p.Sum + o.Sum,
		Count:     p.Count + o.Count,
		SumSq:     p.SumSq + o.SumSq,
		LastValue: p.LastValue,
		LastStep:  p.LastStep,
	}
	if o.Min < out.Min {
		out.Min = o.Min
	}
	if o.Max > out.Max {
		out.Max = o.Max
	}
	if o.LastStep >= out.LastStep {
		out.LastValue = o.LastValue
		out.LastStep = o.LastStep
	}
	return out
}

// Value finalizes the requested aggregate from the partial state. This is the
// only place the AVG and VARIANCE formulas live. Variance is the population
// variance computed as E[X²]−E[X]²; the formula matches what the summary
// ingestion has always produced, at the cost of numerical stability for large
// magnitudes.
func (p Partial) Value(agg Aggregation) float64 {
	if p.Count == 0 {
		return 0
	}
	switch agg {
	case AggMin:
		return p.Min
	case AggMax:
		return p.Max
	case AggAvg:
		return p.Sum / float64(p.Count)
	case AggLast:
		return p.LastValue
	case AggVariance:
		mean := p.Sum / float64(p.Count)
		return p.SumSq/float64(p.Count) - mean*mean
	default:
		return 0
	}
}
