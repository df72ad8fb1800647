package dataset

import (
	"math"
	"sort"
	"strconv"
)

// BenfordProbabilities are the expected first-digit frequencies for 1..9.
var BenfordProbabilities = [9]float64{0.301, 0.176, 0.125, 0.097, 0.079, 0.067, 0.058, 0.051, 0.046}

// ChiSquareResult is one column's goodness of fit against Benford's law.
type ChiSquareResult struct {
	Feature   string  `json:"Features"`
	ChiSquare float64 `json:"Chi-Square"`
}

// BenfordSelection is the outcome of Benford feature selection.
type BenfordSelection struct {
	Results         []ChiSquareResult
	MeanThreshold   float64
	MedianThreshold float64
	// Selected holds the chosen features followed by the label column.
	Selected []string
}

// FirstDigit returns the first significant digit of v, or 0 when v is
// zero, NaN or infinite.
func FirstDigit(v float64) int {
	if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	s := strconv.FormatFloat(math.Abs(v), 'e', -1, 64)
	return int(s[0] - '0')
}

// BenfordChiSquare computes the chi-square statistic of the first-digit
// distribution of vals. ok is false when no value has a significant digit.
func BenfordChiSquare(vals []float64) (chi float64, ok bool) {
	var counts [9]float64
	total := 0.0
	for _, v := range vals {
		d := FirstDigit(v)
		if d == 0 {
			continue
		}
		counts[d-1]++
		total++
	}
	if total == 0 {
		return 0, false
	}
	for i, p := range BenfordProbabilities {
		e := p * total
		diff := counts[i] - e
		chi += diff * diff / e
	}
	return chi, true
}

// SelectBenford scores every numeric feature column of f and keeps those
// whose statistic reaches the median.
func SelectBenford(f *Frame, label string) (*BenfordSelection, error) {
	sel := &BenfordSelection{}
	for i, name := range f.Columns {
		if name == label || !f.IsNumeric(i) {
			continue
		}
		chi, ok := BenfordChiSquare(f.Floats(i))
		if !ok {
			continue
		}
		sel.Results = append(sel.Results, ChiSquareResult{Feature: name, ChiSquare: chi})
	}
	if len(sel.Results) == 0 {
		return nil, ErrNoNumericColumns
	}

	stats := make([]float64, len(sel.Results))
	var sum float64
	for i, r := range sel.Results {
		stats[i] = r.ChiSquare
		sum += r.ChiSquare
	}
	sel.MeanThreshold = sum / float64(len(stats))
	sel.MedianThreshold = median(stats)

	for _, r := range sel.Results {
		if r.ChiSquare >= sel.MedianThreshold {
			sel.Selected = append(sel.Selected, r.Feature)
		}
	}
	if len(sel.Selected) == 0 {
		return nil, ErrNoFeaturesSelected
	}
	if f.HasColumn(label) {
		sel.Selected = append(sel.Selected, label)
	}
	return sel, nil
}

func median(vals []float64) float64 {
	s := append([]float64(nil), vals...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
