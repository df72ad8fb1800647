package dataset

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	ws, err := NewWorkspace(t.TempDir(), 42, 2)
	if err != nil {
		t.Fatalf("NewWorkspace() error = %v", err)
	}
	t.Cleanup(ws.Close)
	return ws
}

// trafficCSV builds a small flow dataset with a constant column, a column
// duplicating another and some missing cells.
func trafficCSV(rows int) []byte {
	var b strings.Builder
	b.WriteString("Flow Duration,Total Fwd Packets,Fwd Packets Copy,Bwd Bytes,Version,Label\n")
	for i := 0; i < rows; i++ {
		label := "BENIGN"
		if i%3 == 0 {
			label = "DDoS"
		}
		bwd := fmt.Sprint((i*37)%97 + 1)
		if i == 5 {
			bwd = ""
		}
		fmt.Fprintf(&b, "%d,%d,%d,%s,4,%s\n", (i+1)*113, i%7+1, (i%7+1)*10, bwd, label)
	}
	return []byte(b.String())
}

func TestUploadFileCountErrors(t *testing.T) {
	ws := newTestWorkspace(t)
	ctx := context.Background()
	file := UploadFile{Name: "a.csv", Data: trafficCSV(20)}

	tests := []struct {
		kind  SplitKind
		files []UploadFile
		want  string
	}{
		{SplitTrain, nil, "Please upload exactly 1 file for the Train dataset."},
		{SplitTrainTest, []UploadFile{file}, "Please upload exactly 2 files for Train + Test datasets."},
		{SplitTrainValidationTest, []UploadFile{file}, "Please upload exactly 3 files for Train + Validation + Test datasets."},
		{"bogus", []UploadFile{file}, ErrInvalidUploadType.Msg},
	}
	for _, tt := range tests {
		_, err := ws.Upload(ctx, tt.kind, tt.files)
		if err == nil || err.Error() != tt.want || !IsValidation(err) {
			t.Errorf("Upload(%s) error = %v, want %q", tt.kind, err, tt.want)
		}
	}
}

func TestUploadFileValidation(t *testing.T) {
	ws := newTestWorkspace(t)
	ctx := context.Background()

	_, err := ws.Upload(ctx, SplitTrain, []UploadFile{{Name: "", Data: trafficCSV(10)}})
	if !errors.Is(err, ErrNoFileSelected) {
		t.Errorf("empty filename error = %v", err)
	}
	_, err = ws.Upload(ctx, SplitTrain, []UploadFile{{Name: "x.csv", Data: []byte("a,b\n1,2\n")}})
	if !errors.Is(err, ErrMissingLabel) {
		t.Errorf("missing label error = %v", err)
	}
	_, err = ws.Upload(ctx, SplitTrainTest, []UploadFile{
		{Name: "a.csv", Purpose: "train", Data: trafficCSV(10)},
		{Name: "b.csv", Purpose: "train", Data: trafficCSV(10)},
	})
	if err == nil || !IsValidation(err) {
		t.Errorf("duplicate purpose error = %v", err)
	}
}

func TestUploadSingleFileSplits(t *testing.T) {
	ws := newTestWorkspace(t)
	res, err := ws.Upload(context.Background(), SplitTrain, []UploadFile{{Name: "flows.csv", Data: trafficCSV(40)}})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if res.Train != "28 rows, 6 columns" || res.Validation != "6 rows, 6 columns" || res.Test != "6 rows, 6 columns" {
		t.Errorf("dimensions = %+v", res.Dimensions)
	}
	if res.Details[0] != "flows.csv: 40 rows, 6 columns" {
		t.Errorf("details = %v", res.Details)
	}

	dims, err := ws.Dimensions()
	if err != nil {
		t.Fatal(err)
	}
	if dims != res.Dimensions {
		t.Errorf("Dimensions() = %+v, want %+v", dims, res.Dimensions)
	}
}

func TestUploadTrainTestCarvesValidation(t *testing.T) {
	ws := newTestWorkspace(t)
	res, err := ws.Upload(context.Background(), SplitTrainTest, []UploadFile{
		{Name: "test.csv", Purpose: "test", Data: trafficCSV(10)},
		{Name: "train.csv", Purpose: "Train", Data: trafficCSV(40)},
	})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if res.Train != "34 rows, 6 columns" || res.Validation != "6 rows, 6 columns" || res.Test != "10 rows, 6 columns" {
		t.Errorf("dimensions = %+v", res.Dimensions)
	}
	if !strings.Contains(res.Details[1], "uploaded as train dataset") {
		t.Errorf("details = %v", res.Details)
	}
}

func TestDimensionsBeforeUpload(t *testing.T) {
	ws := newTestWorkspace(t)
	dims, err := ws.Dimensions()
	if err != nil {
		t.Fatal(err)
	}
	if dims.Train != NotUploaded || dims.Validation != NotUploaded || dims.Test != NotUploaded {
		t.Errorf("Dimensions() = %+v", dims)
	}
}

func TestWorkflowPreprocessSelectNormalize(t *testing.T) {
	ws := newTestWorkspace(t)
	ctx := context.Background()

	if _, err := ws.SelectFeatures(ctx, ""); !errors.Is(err, ErrNoDataset) {
		t.Errorf("SelectFeatures() before upload error = %v", err)
	}
	if _, err := ws.Normalize(ctx, NormMinMax); !errors.Is(err, ErrSelectionNotDone) {
		t.Errorf("Normalize() before selection error = %v", err)
	}

	if _, err := ws.Upload(ctx, SplitTrain, []UploadFile{{Name: "flows.csv", Data: trafficCSV(60)}}); err != nil {
		t.Fatal(err)
	}

	pre, err := ws.Preprocess(ctx)
	if err != nil {
		t.Fatalf("Preprocess() error = %v", err)
	}
	if pre.Message != "Preprocessing completed successfully!" || len(pre.Results) != 3 {
		t.Errorf("Preprocess() = %+v", pre)
	}
	if strings.Join(pre.RemovedFeatures.ZeroStd, ",") != "Version" {
		t.Errorf("zero std = %v", pre.RemovedFeatures.ZeroStd)
	}
	if strings.Join(pre.RemovedFeatures.HighlyCorrelated, ",") != "Fwd Packets Copy" {
		t.Errorf("correlated = %v", pre.RemovedFeatures.HighlyCorrelated)
	}
	if pre.TrainMissing+pre.ValidationMissing+pre.TestMissing != 1 {
		t.Errorf("missing rows = %d/%d/%d", pre.TrainMissing, pre.ValidationMissing, pre.TestMissing)
	}
	for _, split := range Splits {
		f, err := ReadCSVFile(ws.Path(split))
		if err != nil {
			t.Fatal(err)
		}
		if strings.Join(f.Columns, ",") != "Flow Duration,Total Fwd Packets,Bwd Bytes,Label" {
			t.Errorf("%s columns = %v", split, f.Columns)
		}
	}

	if _, err := ws.Normalize(ctx, NormMinMax); !errors.Is(err, ErrSelectionNotDone) {
		t.Errorf("Normalize() after preprocess must require a fresh selection, got %v", err)
	}

	sel, err := ws.SelectFeatures(ctx, "benford")
	if err != nil {
		t.Fatalf("SelectFeatures() error = %v", err)
	}
	if sel.Message != "Feature Selection Done" || sel.Method != "benford" {
		t.Errorf("SelectFeatures() = %+v", sel)
	}
	if last := sel.SelectedFeatures[len(sel.SelectedFeatures)-1]; last != LabelColumn {
		t.Errorf("selected features must end with Label: %v", sel.SelectedFeatures)
	}

	if _, err := ws.Normalize(ctx, "bogus"); !errors.Is(err, ErrInvalidNormalizer) {
		t.Errorf("Normalize(bogus) error = %v", err)
	}
	norm, err := ws.Normalize(ctx, NormMinMax)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if norm.NormalizedFile != NormalizedFile || norm.Columns[len(norm.Columns)-1] != LabelColumn {
		t.Errorf("Normalize() = %+v", norm)
	}
	if norm.Shape[1] != len(sel.SelectedFeatures) {
		t.Errorf("shape = %v, want %d columns", norm.Shape, len(sel.SelectedFeatures))
	}
	if _, err := os.Stat(filepath.Join(ws.Dir(), NormalizedFile)); err != nil {
		t.Errorf("normalized file missing: %v", err)
	}

	data, err := ws.LoadSplits()
	if err != nil {
		t.Fatal(err)
	}
	train, val, test := data.Train, data.Validation, data.Test
	if len(data.Scaling) != 1 || data.Scaling[0].Kind != NormMinMax {
		t.Errorf("scaling = %+v", data.Scaling)
	}
	X, err := train.Matrix(train.FeatureColumns(LabelColumn))
	if err != nil {
		t.Fatal(err)
	}
	for _, row := range X {
		for _, v := range row {
			if v < 0 || v > 1 {
				t.Fatalf("train value %v outside [0,1]", v)
			}
		}
	}
	if strings.Join(val.Columns, ",") != strings.Join(train.Columns, ",") ||
		strings.Join(test.Columns, ",") != strings.Join(train.Columns, ",") {
		t.Error("splits must share the train schema after normalization")
	}
}

func TestPreprocessNeedsReadableTrain(t *testing.T) {
	ws := newTestWorkspace(t)
	ctx := context.Background()
	if _, err := ws.Upload(ctx, SplitTrain, []UploadFile{{Name: "flows.csv", Data: trafficCSV(40)}}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(ws.Path(Train), []byte("a,a,Label\n1,2,BENIGN\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	before, err := os.ReadFile(ws.Path(Validation))
	if err != nil {
		t.Fatal(err)
	}

	_, err = ws.Preprocess(ctx)
	if !IsValidation(err) || !strings.HasPrefix(err.Error(), "Train Dataset Preprocessing Failed") {
		t.Fatalf("Preprocess() error = %v", err)
	}
	after, err := os.ReadFile(ws.Path(Validation))
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Error("validation split rewritten although train could not be read")
	}
}

func TestNormalizeRecordsScaling(t *testing.T) {
	ws := newTestWorkspace(t)
	ctx := context.Background()
	if _, err := ws.Upload(ctx, SplitTrain, []UploadFile{{Name: "flows.csv", Data: trafficCSV(60)}}); err != nil {
		t.Fatal(err)
	}
	if _, err := ws.Preprocess(ctx); err != nil {
		t.Fatal(err)
	}
	if sc, err := ws.Scaling(); err != nil || len(sc) != 0 {
		t.Fatalf("Scaling() before normalize = %v, %v", sc, err)
	}
	if _, err := ws.SelectFeatures(ctx, ""); err != nil {
		t.Fatal(err)
	}
	raw, err := ReadCSVFile(ws.Path(Train))
	if err != nil {
		t.Fatal(err)
	}

	for _, kind := range []string{NormStandard, NormQuantile, NormMinMax} {
		if _, err := ws.Normalize(ctx, kind); err != nil {
			t.Fatalf("Normalize(%s) error = %v", kind, err)
		}
	}
	sc, err := ws.Scaling()
	if err != nil {
		t.Fatal(err)
	}
	if len(sc) != 3 || sc[0].Kind != NormStandard || sc[2].Kind != NormMinMax {
		t.Fatalf("Scaling() = %+v", sc)
	}
	fs, err := sc.Compile()
	if err != nil {
		t.Fatal(err)
	}

	scaled, err := ReadCSVFile(ws.Path(Train))
	if err != nil {
		t.Fatal(err)
	}
	features := scaled.FeatureColumns(LabelColumn)
	for r := 0; r < 5; r++ {
		in := make(map[string]float64)
		for _, name := range features {
			v, _ := ParseCell(raw.Rows[r][raw.Index(name)])
			in[name] = v
		}
		out := fs.Apply(in)
		for _, name := range features {
			want, _ := ParseCell(scaled.Rows[r][scaled.Index(name)])
			if math.Abs(out[name]-want) > 1e-9 {
				t.Errorf("row %d %s: Apply = %v, stored %v", r, name, out[name], want)
			}
		}
	}

	if _, err := ws.Upload(ctx, SplitTrain, []UploadFile{{Name: "flows.csv", Data: trafficCSV(60)}}); err != nil {
		t.Fatal(err)
	}
	if sc, _ := ws.Scaling(); len(sc) != 0 {
		t.Errorf("Scaling() after a new upload = %+v", sc)
	}
}
