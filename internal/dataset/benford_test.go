package dataset

import (
	"errors"
	"math"
	"strconv"
	"testing"
)

func TestFirstDigit(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{123, 1},
		{-987, 9},
		{0.00042, 4},
		{5e-9, 5},
		{0, 0},
		{math.NaN(), 0},
		{math.Inf(1), 0},
	}
	for _, tt := range tests {
		if got := FirstDigit(tt.in); got != tt.want {
			t.Errorf("FirstDigit(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestBenfordChiSquare(t *testing.T) {
	// 1000 values distributed exactly like the expected counts.
	var vals []float64
	for d, p := range BenfordProbabilities {
		for i := 0; i < int(math.Round(p*1000)); i++ {
			vals = append(vals, float64(d+1))
		}
	}
	chi, ok := BenfordChiSquare(vals)
	if !ok {
		t.Fatal("expected a statistic")
	}
	if chi > 1e-9 {
		t.Errorf("chi-square of a perfect fit = %v, want 0", chi)
	}

	chi, _ = BenfordChiSquare([]float64{9, 9, 9, 9})
	if chi <= 0 {
		t.Errorf("skewed sample should have positive chi-square, got %v", chi)
	}

	if _, ok := BenfordChiSquare([]float64{0, 0}); ok {
		t.Error("zeros have no significant digit")
	}
}

func TestSelectBenford(t *testing.T) {
	cols := []string{"natural", "nines", "fives", "Label"}
	f := numericFrame(cols, 50, func(r, c int) string {
		switch cols[c] {
		case "natural":
			return strconv.Itoa(r + 1)
		case "nines":
			return "9"
		case "fives":
			return strconv.Itoa(50 + r%10)
		default:
			return "BENIGN"
		}
	})
	sel, err := SelectBenford(f, LabelColumn)
	if err != nil {
		t.Fatalf("SelectBenford() error = %v", err)
	}
	if len(sel.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(sel.Results))
	}
	if sel.Selected[len(sel.Selected)-1] != LabelColumn {
		t.Errorf("label must be last: %v", sel.Selected)
	}
	for _, name := range sel.Selected[:len(sel.Selected)-1] {
		if name == "natural" {
			t.Errorf("the most Benford-like column should not be selected: %v", sel.Selected)
		}
	}
	if sel.MedianThreshold <= 0 || sel.MeanThreshold <= 0 {
		t.Errorf("thresholds = %v / %v", sel.MeanThreshold, sel.MedianThreshold)
	}
}

func TestSelectBenfordNoNumericColumns(t *testing.T) {
	f := &Frame{Columns: []string{"proto", "Label"}, Rows: [][]string{{"tcp", "x"}}}
	_, err := SelectBenford(f, LabelColumn)
	if !errors.Is(err, ErrNoNumericColumns) {
		t.Errorf("error = %v, want ErrNoNumericColumns", err)
	}
}
