package dataset

import (
	"math"
)

// corrTolerance is how close |r| must be to 1 to count as perfect correlation.
const corrTolerance = 1e-9

// RemovedFeatures lists the columns dropped by preprocessing, by reason.
type RemovedFeatures struct {
	ZeroStd          []string `json:"zero_std"`
	HighlyCorrelated []string `json:"highly_correlated"`
	NonNumeric       []string `json:"non_numeric"`
}

// All returns every removed column.
func (r RemovedFeatures) All() []string {
	out := make([]string, 0, len(r.ZeroStd)+len(r.HighlyCorrelated)+len(r.NonNumeric))
	out = append(out, r.NonNumeric...)
	out = append(out, r.ZeroStd...)
	return append(out, r.HighlyCorrelated...)
}

// DropMissing removes every row holding a missing cell and returns the
// filtered frame with the number of rows dropped.
func DropMissing(f *Frame) (*Frame, int) {
	out := &Frame{Columns: f.Columns, Rows: make([][]string, 0, len(f.Rows))}
	for _, row := range f.Rows {
		keep := true
		for _, cell := range row {
			if IsMissing(cell) {
				keep = false
				break
			}
		}
		if keep {
			out.Rows = append(out.Rows, row)
		}
	}
	return out, len(f.Rows) - len(out.Rows)
}

// FindRedundantFeatures decides which feature columns carry no information:
// non-numeric columns, constant columns and columns perfectly correlated
// with an earlier kept column. The label column is never considered.
func FindRedundantFeatures(f *Frame, label string) RemovedFeatures {
	var removed RemovedFeatures

	type column struct {
		name string
		vals []float64
		mean float64
		std  float64
	}
	var cols []column
	for i, name := range f.Columns {
		if name == label {
			continue
		}
		if !f.IsNumeric(i) {
			removed.NonNumeric = append(removed.NonNumeric, name)
			continue
		}
		vals := f.Floats(i)
		mean, std := meanStd(vals, 1)
		if std == 0 {
			removed.ZeroStd = append(removed.ZeroStd, name)
			continue
		}
		cols = append(cols, column{name: name, vals: vals, mean: mean, std: std})
	}

	dropped := make([]bool, len(cols))
	for j := 1; j < len(cols); j++ {
		for i := 0; i < j; i++ {
			if dropped[i] {
				continue
			}
			r := pearson(cols[i].vals, cols[j].vals, cols[i].mean, cols[j].mean)
			if !math.IsNaN(r) && math.Abs(math.Abs(r)-1) <= corrTolerance {
				dropped[j] = true
				removed.HighlyCorrelated = append(removed.HighlyCorrelated, cols[j].name)
				break
			}
		}
	}
	return removed
}

// ApplyRemoval drops the removed columns and keeps label last.
func ApplyRemoval(f *Frame, removed RemovedFeatures, label string) *Frame {
	return f.Drop(removed.All()).MoveToEnd(label)
}

// meanStd returns mean and standard deviation with the given delta degrees
// of freedom, skipping NaN. The std is NaN when fewer than ddof+1 values exist.
func meanStd(vals []float64, ddof int) (float64, float64) {
	var sum float64
	n := 0
	for _, v := range vals {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return math.NaN(), math.NaN()
	}
	mean := sum / float64(n)
	if n <= ddof {
		return mean, math.NaN()
	}
	var ss float64
	for _, v := range vals {
		if math.IsNaN(v) {
			continue
		}
		d := v - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(n-ddof))
}

func pearson(x, y []float64, mx, my float64) float64 {
	var sxy, sxx, syy float64
	for k := range x {
		if math.IsNaN(x[k]) || math.IsNaN(y[k]) {
			continue
		}
		dx, dy := x[k]-mx, y[k]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return math.NaN()
	}
	return sxy / math.Sqrt(sxx*syy)
}
