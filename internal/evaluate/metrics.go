// Package evaluate computes comparison metrics between paired primary
// (observed) and secondary (simulated) values.
package evaluate

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/couchcryptid/hydroeval/internal/domain"
)

// ErrUnknownMetric is returned for metric names outside the catalog.
var ErrUnknownMetric = errors.New("unknown metric")

// Pair is one joined observation: a primary and secondary value at the same time.
type Pair struct {
	ValueTime time.Time
	Primary   float64
	Secondary float64
}

// series holds a group's pairs split into columns, computed once per group.
type series struct {
	times     []time.Time
	primary   []float64
	secondary []float64
	errs      []float64 // secondary - primary
}

func newSeries(pairs []Pair) series {
	s := series{
		times:     make([]time.Time, len(pairs)),
		primary:   make([]float64, len(pairs)),
		secondary: make([]float64, len(pairs)),
		errs:      make([]float64, len(pairs)),
	}
	for i, p := range pairs {
		s.times[i] = p.ValueTime
		s.primary[i] = p.Primary
		s.secondary[i] = p.Secondary
		s.errs[i] = p.Secondary - p.Primary
	}
	return s
}

type metric struct {
	name    string
	compute func(s series) any
}

// catalog is the ordered set of supported metrics. Results that are
// undefined for the data (NaN, Inf) are reported as nil.
var catalog = []metric{
	{"primary_count", func(s series) any { return int64(len(s.primary)) }},
	{"secondary_count", func(s series) any { return int64(len(s.secondary)) }},
	{"primary_minimum", func(s series) any { return floats.Min(s.primary) }},
	{"secondary_minimum", func(s series) any { return floats.Min(s.secondary) }},
	{"primary_maximum", func(s series) any { return floats.Max(s.primary) }},
	{"secondary_maximum", func(s series) any { return floats.Max(s.secondary) }},
	{"primary_average", func(s series) any { return stat.Mean(s.primary, nil) }},
	{"secondary_average", func(s series) any { return stat.Mean(s.secondary, nil) }},
	{"primary_sum", func(s series) any { return floats.Sum(s.primary) }},
	{"secondary_sum", func(s series) any { return floats.Sum(s.secondary) }},
	{"primary_variance", func(s series) any { return variance(s.primary) }},
	{"secondary_variance", func(s series) any { return variance(s.secondary) }},
	{"max_value_delta", func(s series) any { return floats.Max(s.secondary) - floats.Max(s.primary) }},
	{"mean_error", func(s series) any { return stat.Mean(s.errs, nil) }},
	{"mean_absolute_error", meanAbsoluteError},
	{"mean_squared_error", meanSquaredError},
	{"root_mean_squared_error", func(s series) any { return math.Sqrt(meanSquaredError(s).(float64)) }},
	{"relative_bias", func(s series) any { return floats.Sum(s.errs) / floats.Sum(s.primary) }},
	{"multiplicative_bias", func(s series) any { return stat.Mean(s.secondary, nil) / stat.Mean(s.primary, nil) }},
	{"pearson_correlation", func(s series) any { return correlation(s) }},
	{"r_squared", func(s series) any { r := correlation(s); return r * r }},
	{"nash_sutcliffe_efficiency", nashSutcliffe},
	{"kling_gupta_efficiency", klingGupta},
	{"primary_max_value_time", func(s series) any { return s.times[floats.MaxIdx(s.primary)] }},
	{"secondary_max_value_time", func(s series) any { return s.times[floats.MaxIdx(s.secondary)] }},
	{"max_value_timedelta", func(s series) any {
		return s.times[floats.MaxIdx(s.secondary)].Sub(s.times[floats.MaxIdx(s.primary)]).Seconds()
	}},
}

// Names returns every supported metric in catalog order.
func Names() []string {
	names := make([]string, len(catalog))
	for i, m := range catalog {
		names[i] = m.name
	}
	return names
}

// Resolve validates requested metric names. An empty request selects all
// metrics; duplicates are dropped keeping the first occurrence.
func Resolve(include []string) ([]string, error) {
	if len(include) == 0 {
		return Names(), nil
	}
	out := make([]string, 0, len(include))
	for _, name := range include {
		if lookup(name) == nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, name)
		}
		if !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	return out, nil
}

// Compute evaluates the named metrics over pairs, returning one value per name
// (int64, float64, time.Time or nil). Names must come from Resolve. An empty
// group yields all nils.
func Compute(pairs []Pair, names []string) []any {
	out := make([]any, len(names))
	if len(pairs) == 0 {
		return out
	}
	s := newSeries(pairs)
	for i, name := range names {
		out[i] = finite(lookup(name).compute(s))
	}
	return out
}

// Type returns the column type of a metric's values.
func Type(name string) domain.FieldType {
	switch {
	case strings.HasSuffix(name, "_count"):
		return domain.FieldInteger
	case strings.HasSuffix(name, "_max_value_time"):
		return domain.FieldTimestamp
	default:
		return domain.FieldReal
	}
}

func lookup(name string) *metric {
	for i := range catalog {
		if catalog[i].name == name {
			return &catalog[i]
		}
	}
	return nil
}

func finite(v any) any {
	if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return nil
	}
	return v
}

// variance is the unbiased sample variance; undefined below two points.
func variance(x []float64) float64 {
	if len(x) < 2 {
		return math.NaN()
	}
	return stat.Variance(x, nil)
}

func correlation(s series) float64 {
	if len(s.primary) < 2 {
		return math.NaN()
	}
	if stat.StdDev(s.primary, nil) == 0 || stat.StdDev(s.secondary, nil) == 0 {
		return math.NaN()
	}
	return stat.Correlation(s.primary, s.secondary, nil)
}

func meanAbsoluteError(s series) any {
	var sum float64
	for _, e := range s.errs {
		sum += math.Abs(e)
	}
	return sum / float64(len(s.errs))
}

func meanSquaredError(s series) any {
	return floats.Dot(s.errs, s.errs) / float64(len(s.errs))
}

// nashSutcliffe is 1 - SSE / sum of squared primary deviations from its mean.
func nashSutcliffe(s series) any {
	mean := stat.Mean(s.primary, nil)
	var den float64
	for _, p := range s.primary {
		den += (p - mean) * (p - mean)
	}
	if den == 0 {
		return math.NaN()
	}
	return 1 - floats.Dot(s.errs, s.errs)/den
}

// klingGupta combines correlation, variability ratio and bias ratio:
// 1 - sqrt((r-1)² + (α-1)² + (β-1)²).
func klingGupta(s series) any {
	r := correlation(s)
	pStd := stat.StdDev(s.primary, nil)
	pMean := stat.Mean(s.primary, nil)
	if math.IsNaN(r) || pStd == 0 || pMean == 0 {
		return math.NaN()
	}
	alpha := stat.StdDev(s.secondary, nil) / pStd
	beta := stat.Mean(s.secondary, nil) / pMean
	return 1 - math.Sqrt((r-1)*(r-1)+(alpha-1)*(alpha-1)+(beta-1)*(beta-1))
}
