package ml

import "sort"

// Scores are the evaluation metrics reported after training.
type Scores struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1_score"`
}

// Accuracy is the fraction of predictions equal to the truth.
func Accuracy(truth, pred []string) float64 {
	if len(truth) == 0 {
		return 0
	}
	hits := 0
	for i := range truth {
		if truth[i] == pred[i] {
			hits++
		}
	}
	return float64(hits) / float64(len(truth))
}

// Evaluate computes accuracy and support-weighted precision, recall and F1.
// Classes without predicted or true samples score 0 for the undefined ratio.
func Evaluate(truth, pred []string) Scores {
	s := Scores{Accuracy: Accuracy(truth, pred)}
	if len(truth) == 0 {
		return s
	}

	type tally struct{ tp, fp, fn int }
	per := map[string]*tally{}
	get := func(c string) *tally {
		t, ok := per[c]
		if !ok {
			t = &tally{}
			per[c] = t
		}
		return t
	}
	for i := range truth {
		if truth[i] == pred[i] {
			get(truth[i]).tp++
			continue
		}
		get(pred[i]).fp++
		get(truth[i]).fn++
	}

	labels := make([]string, 0, len(per))
	for c := range per {
		labels = append(labels, c)
	}
	sort.Strings(labels)

	n := float64(len(truth))
	for _, c := range labels {
		t := per[c]
		support := float64(t.tp + t.fn)
		if support == 0 {
			continue
		}
		var p, r, f float64
		if t.tp+t.fp > 0 {
			p = float64(t.tp) / float64(t.tp+t.fp)
		}
		r = float64(t.tp) / support
		if p+r > 0 {
			f = 2 * p * r / (p + r)
		}
		w := support / n
		s.Precision += w * p
		s.Recall += w * r
		s.F1 += w * f
	}
	return s
}
