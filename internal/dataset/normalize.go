package dataset

import (
	"fmt"
	"math"
	"sort"
)

// Normalization kinds accepted by NewScaler.
const (
	NormMinMax   = "minmax"
	NormStandard = "standard"
	NormQuantile = "quantile"
)

// quantileBound keeps the quantile transform away from the infinite tails
// of the normal distribution.
const quantileBound = 1e-7

// Scaler learns a per-column transform on one matrix and applies it to others.
type Scaler interface {
	Fit(X [][]float64)
	Transform(X [][]float64) [][]float64
}

// NewScaler returns the scaler for a normalization kind. An empty kind
// selects min-max scaling.
func NewScaler(kind string) (Scaler, error) {
	switch kind {
	case "", NormMinMax:
		return &MinMaxScaler{}, nil
	case NormStandard:
		return &StandardScaler{}, nil
	case NormQuantile:
		return &QuantileScaler{MaxQuantiles: 1000}, nil
	default:
		return nil, ErrInvalidNormalizer
	}
}

func columns(X [][]float64) int {
	if len(X) == 0 {
		return 0
	}
	return len(X[0])
}

func column(X [][]float64, j int) []float64 {
	out := make([]float64, len(X))
	for i, row := range X {
		out[i] = row[j]
	}
	return out
}

func transformEach(X [][]float64, fn func(j int, v float64) float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, row := range X {
		nr := make([]float64, len(row))
		for j, v := range row {
			nr[j] = fn(j, v)
		}
		out[i] = nr
	}
	return out
}

// MinMaxScaler maps each column onto [0, 1] using the fitted range.
type MinMaxScaler struct {
	Min, Scale []float64
}

func (s *MinMaxScaler) Fit(X [][]float64) {
	p := columns(X)
	s.Min = make([]float64, p)
	s.Scale = make([]float64, p)
	for j := 0; j < p; j++ {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, row := range X {
			lo = math.Min(lo, row[j])
			hi = math.Max(hi, row[j])
		}
		s.Min[j] = lo
		s.Scale[j] = hi - lo
		if s.Scale[j] == 0 {
			s.Scale[j] = 1
		}
	}
}

func (s *MinMaxScaler) Transform(X [][]float64) [][]float64 {
	return transformEach(X, func(j int, v float64) float64 {
		return (v - s.Min[j]) / s.Scale[j]
	})
}

// StandardScaler centres each column and divides by its population std.
type StandardScaler struct {
	Mean, Std []float64
}

func (s *StandardScaler) Fit(X [][]float64) {
	p := columns(X)
	s.Mean = make([]float64, p)
	s.Std = make([]float64, p)
	for j := 0; j < p; j++ {
		mean, std := meanStd(column(X, j), 0)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		s.Mean[j], s.Std[j] = mean, std
	}
}

func (s *StandardScaler) Transform(X [][]float64) [][]float64 {
	return transformEach(X, func(j int, v float64) float64 {
		return (v - s.Mean[j]) / s.Std[j]
	})
}

// QuantileScaler maps each column through its empirical CDF onto a
// standard normal distribution.
type QuantileScaler struct {
	MaxQuantiles int
	References   []float64
	Quantiles    [][]float64

	negRefs   []float64
	negQuants [][]float64
}

func (s *QuantileScaler) Fit(X [][]float64) {
	n := len(X)
	nq := s.MaxQuantiles
	if nq <= 0 || nq > n {
		nq = n
	}
	s.References = make([]float64, nq)
	for i := range s.References {
		if nq > 1 {
			s.References[i] = float64(i) / float64(nq-1)
		}
	}
	p := columns(X)
	s.Quantiles = make([][]float64, p)
	for j := 0; j < p; j++ {
		sorted := column(X, j)
		sort.Float64s(sorted)
		q := make([]float64, nq)
		for i, r := range s.References {
			q[i] = percentile(sorted, r)
		}
		// Enforce monotonicity against float rounding.
		for i := 1; i < nq; i++ {
			if q[i] < q[i-1] {
				q[i] = q[i-1]
			}
		}
		s.Quantiles[j] = q
	}
	s.mirror()
}

// mirror precomputes the negated, reversed tables used by the backward
// interpolation.
func (s *QuantileScaler) mirror() {
	s.negRefs = reverseNegate(s.References)
	s.negQuants = make([][]float64, len(s.Quantiles))
	for j, q := range s.Quantiles {
		s.negQuants[j] = reverseNegate(q)
	}
}

func reverseNegate(v []float64) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		out[i] = -v[len(v)-1-i]
	}
	return out
}

func (s *QuantileScaler) Transform(X [][]float64) [][]float64 {
	return transformEach(X, func(j int, v float64) float64 {
		return s.transformValue(j, v)
	})
}

func (s *QuantileScaler) transformValue(j int, v float64) float64 {
	q := s.Quantiles[j]
	if len(q) == 0 {
		return 0
	}
	lo, hi := q[0], q[len(q)-1]
	var p float64
	switch {
	case v-quantileBound < lo:
		p = 0
	case v+quantileBound > hi:
		p = 1
	default:
		// Average the forward and backward interpolation so repeated
		// quantiles map to the middle of their reference range.
		p = 0.5 * (interp(v, q, s.References) - interp(-v, s.negQuants[j], s.negRefs))
	}
	p = math.Min(math.Max(p, quantileBound), 1-quantileBound)
	return normPPF(p)
}

// percentile linearly interpolates a sorted sample at fraction r.
func percentile(sorted []float64, r float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	pos := r * float64(n-1)
	i := int(math.Floor(pos))
	if i >= n-1 {
		return sorted[n-1]
	}
	frac := pos - float64(i)
	return sorted[i] + frac*(sorted[i+1]-sorted[i])
}

// interp is one-dimensional piecewise linear interpolation over increasing xp.
func interp(x float64, xp, fp []float64) float64 {
	n := len(xp)
	if x <= xp[0] {
		return fp[0]
	}
	if x >= xp[n-1] {
		return fp[n-1]
	}
	j := sort.Search(n, func(i int) bool { return xp[i] > x }) - 1
	return fp[j] + (x-xp[j])*(fp[j+1]-fp[j])/(xp[j+1]-xp[j])
}

// normPPF is the inverse CDF of the standard normal distribution.
func normPPF(p float64) float64 {
	return math.Sqrt2 * math.Erfinv(2*p-1)
}

// ScalerState holds the fitted parameters of one scaler together with the
// feature names of its columns, so the transform can be replayed on
// traffic outside the workspace.
type ScalerState struct {
	Kind       string      `json:"kind"`
	Features   []string    `json:"features"`
	Min        []float64   `json:"min,omitempty"`
	Scale      []float64   `json:"scale,omitempty"`
	Mean       []float64   `json:"mean,omitempty"`
	Std        []float64   `json:"std,omitempty"`
	References []float64   `json:"references,omitempty"`
	Quantiles  [][]float64 `json:"quantiles,omitempty"`
}

// NewScalerState captures a fitted scaler.
func NewScalerState(kind string, features []string, s Scaler) ScalerState {
	st := ScalerState{Kind: kind, Features: append([]string(nil), features...)}
	switch v := s.(type) {
	case *MinMaxScaler:
		st.Kind = NormMinMax
		st.Min, st.Scale = v.Min, v.Scale
	case *StandardScaler:
		st.Kind = NormStandard
		st.Mean, st.Std = v.Mean, v.Std
	case *QuantileScaler:
		st.Kind = NormQuantile
		st.References, st.Quantiles = v.References, v.Quantiles
	}
	return st
}

func (st ScalerState) restore() (Scaler, error) {
	p := len(st.Features)
	bad := func(what string) error {
		return fmt.Errorf("dataset: %s scaler has %s for %d features", st.Kind, what, p)
	}
	switch st.Kind {
	case NormMinMax:
		if len(st.Min) != p || len(st.Scale) != p {
			return nil, bad("mismatched min/scale")
		}
		return &MinMaxScaler{Min: st.Min, Scale: st.Scale}, nil
	case NormStandard:
		if len(st.Mean) != p || len(st.Std) != p {
			return nil, bad("mismatched mean/std")
		}
		return &StandardScaler{Mean: st.Mean, Std: st.Std}, nil
	case NormQuantile:
		if len(st.Quantiles) != p || len(st.References) == 0 {
			return nil, bad("mismatched quantiles")
		}
		for _, q := range st.Quantiles {
			if len(q) != len(st.References) {
				return nil, bad("ragged quantiles")
			}
		}
		s := &QuantileScaler{References: st.References, Quantiles: st.Quantiles}
		s.mirror()
		return s, nil
	}
	return nil, fmt.Errorf("dataset: unknown scaler kind %q", st.Kind)
}

// Scaling is the ordered list of scalers applied to the stored splits.
// Each entry was fitted on the output of the ones before it.
type Scaling []ScalerState

// Compile rebuilds the scalers. An empty Scaling compiles to nil, whose
// Apply is the identity.
func (sc Scaling) Compile() (*FeatureScaler, error) {
	if len(sc) == 0 {
		return nil, nil
	}
	fs := &FeatureScaler{steps: make([]scaleStep, len(sc))}
	for i, st := range sc {
		s, err := st.restore()
		if err != nil {
			return nil, err
		}
		fs.steps[i] = scaleStep{features: st.Features, scaler: s}
	}
	return fs, nil
}

type scaleStep struct {
	features []string
	scaler   Scaler
}

// FeatureScaler applies a compiled Scaling to named feature values.
type FeatureScaler struct {
	steps []scaleStep
}

// Apply returns a copy of in with every scaled feature transformed.
// Scaled features absent from in are taken as zero.
func (fs *FeatureScaler) Apply(in map[string]float64) map[string]float64 {
	if fs == nil {
		return in
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	for _, step := range fs.steps {
		row := make([]float64, len(step.features))
		for j, name := range step.features {
			row[j] = out[name]
		}
		row = step.scaler.Transform([][]float64{row})[0]
		for j, name := range step.features {
			out[name] = row[j]
		}
	}
	return out
}
