package dataset

import (
	"math"
	"math/rand"
)

// TrainTestSplit shuffles rows with a seeded permutation and returns the
// train and test partitions. The test partition holds ceil(testFrac*n) rows.
func TrainTestSplit(f *Frame, testFrac float64, seed int64) (train, test *Frame, err error) {
	n := f.NumRows()
	nTest := int(math.Ceil(testFrac * float64(n)))
	nTrain := n - nTest
	if nTest <= 0 || nTrain <= 0 {
		return nil, nil, invalid("Dataset too small to split: %d rows", n)
	}
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	return f.Subset(perm[nTest:]), f.Subset(perm[:nTest]), nil
}

// SplitThreeWay splits a single dataset 70/30 and then halves the remainder
// into validation and test.
func SplitThreeWay(f *Frame, seed int64) (train, validation, test *Frame, err error) {
	train, rest, err := TrainTestSplit(f, 0.3, seed)
	if err != nil {
		return nil, nil, nil, err
	}
	validation, test, err = TrainTestSplit(rest, 0.5, seed)
	if err != nil {
		return nil, nil, nil, err
	}
	return train, validation, test, nil
}
