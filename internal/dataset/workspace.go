package dataset

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/logging"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/metrics"
)

// SplitKind is the upload layout chosen on the upload page.
type SplitKind string

const (
	SplitTrain               SplitKind = "train"
	SplitTrainTest           SplitKind = "train_test"
	SplitTrainValidationTest SplitKind = "train_validation_test"
)

// Split names, also used as file stems inside the workspace.
const (
	Train      = "train"
	Validation = "validation"
	Test       = "test"
)

// Splits lists the split names in display order.
var Splits = []string{Train, Validation, Test}

// NormalizedFile is the file receiving the normalized train split.
const NormalizedFile = "normalized.csv"

// ScalingFile records the scalers applied to the stored splits.
const ScalingFile = "scaling.json"

// NotUploaded is the dimension string of a missing split.
const NotUploaded = "Not uploaded"

// sniffLen is how many leading bytes are inspected for content detection.
const sniffLen = 3072

// UploadFile is one file of an upload request.
type UploadFile struct {
	Name    string
	Purpose string
	Data    []byte
}

// Dimensions holds the "R rows, C columns" string of each split.
type Dimensions struct {
	Train      string `json:"train_dimensions"`
	Validation string `json:"validation_dimensions"`
	Test       string `json:"test_dimensions"`
}

func (d *Dimensions) set(split, value string) {
	switch split {
	case Train:
		d.Train = value
	case Validation:
		d.Validation = value
	case Test:
		d.Test = value
	}
}

// UploadResult is returned by Upload.
type UploadResult struct {
	Message string   `json:"message"`
	Details []string `json:"details"`
	Dimensions
}

// PreprocessResult is returned by Preprocess.
type PreprocessResult struct {
	Message           string          `json:"message"`
	Results           []string        `json:"results"`
	RemovedFeatures   RemovedFeatures `json:"removed_features"`
	TrainMissing      int             `json:"train_missing"`
	ValidationMissing int             `json:"validation_missing"`
	TestMissing       int             `json:"test_missing"`
	Dimensions
}

// SelectionResult is returned by SelectFeatures.
type SelectionResult struct {
	Message          string            `json:"message"`
	Method           string            `json:"method"`
	MeanThreshold    float64           `json:"mean_threshold"`
	MedianThreshold  float64           `json:"median_threshold"`
	SelectedFeatures []string          `json:"selected_features"`
	Results          []ChiSquareResult `json:"results"`
}

// NormalizeResult is returned by Normalize.
type NormalizeResult struct {
	Message        string   `json:"message"`
	NormalizedFile string   `json:"normalized_file"`
	Columns        []string `json:"columns"`
	Shape          [2]int   `json:"shape"`
	Normalization  string   `json:"normalization_type"`
	Dimensions
}

// Workspace owns the upload directory and the dataset workflow state:
// the split files on disk plus the selected feature list.
type Workspace struct {
	dir  string
	seed int64
	pool *ants.Pool
	log  *logging.Logger

	mu            sync.Mutex
	kind          SplitKind
	selected      []string
	normalization string
}

// NewWorkspace opens a workspace rooted at dir. workers bounds the number
// of splits processed concurrently.
func NewWorkspace(dir string, seed int64, workers int) (*Workspace, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("dataset: failed to create workspace: %w", err)
	}
	if workers <= 0 {
		workers = len(Splits)
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("dataset: failed to create worker pool: %w", err)
	}
	return &Workspace{
		dir:  dir,
		seed: seed,
		pool: pool,
		log:  logging.DatasetLogger(),
	}, nil
}

// Close releases the worker pool.
func (w *Workspace) Close() {
	w.pool.Release()
}

// Dir returns the workspace directory.
func (w *Workspace) Dir() string { return w.dir }

// Path returns the file path of a split.
func (w *Workspace) Path(split string) string {
	return filepath.Join(w.dir, split+".csv")
}

// SelectedFeatures returns the current feature selection including the label.
func (w *Workspace) SelectedFeatures() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.selected...)
}

func (w *Workspace) exists(split string) bool {
	_, err := os.Stat(w.Path(split))
	return err == nil
}

// parallel runs tasks on the pool and joins their errors.
func (w *Workspace) parallel(tasks ...func() error) error {
	var wg sync.WaitGroup
	errs := make([]error, len(tasks))
	for i, task := range tasks {
		wg.Add(1)
		if err := w.pool.Submit(func() {
			defer wg.Done()
			errs[i] = task()
		}); err != nil {
			wg.Done()
			errs[i] = err
		}
	}
	wg.Wait()
	return errors.Join(errs...)
}

func validPurposes(kind SplitKind) []string {
	switch kind {
	case SplitTrainTest:
		return []string{Train, Test}
	case SplitTrainValidationTest:
		return []string{Train, Validation, Test}
	}
	return nil
}

func parseUpload(file UploadFile) (*Frame, error) {
	if strings.TrimSpace(file.Name) == "" {
		return nil, ErrNoFileSelected
	}
	head := file.Data
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	if err := SniffCSV(head); err != nil {
		return nil, err
	}
	f, err := ReadCSV(bytes.NewReader(file.Data))
	if err != nil {
		return nil, invalid("%s: %v", file.Name, err)
	}
	if !f.HasColumn(LabelColumn) {
		return nil, ErrMissingLabel
	}
	return f, nil
}

// Upload validates the uploaded files, derives the train, validation and
// test splits for the chosen layout and stores them in the workspace.
func (w *Workspace) Upload(ctx context.Context, kind SplitKind, files []UploadFile) (*UploadResult, error) {
	switch kind {
	case SplitTrain:
		if len(files) != 1 {
			return nil, invalid("Please upload exactly 1 file for the Train dataset.")
		}
	case SplitTrainTest:
		if len(files) != 2 {
			return nil, invalid("Please upload exactly 2 files for Train + Test datasets.")
		}
	case SplitTrainValidationTest:
		if len(files) != 3 {
			return nil, invalid("Please upload exactly 3 files for Train + Validation + Test datasets.")
		}
	default:
		return nil, ErrInvalidUploadType
	}

	res := &UploadResult{Message: "Dataset(s) uploaded and processed successfully!"}
	frames := make(map[string]*Frame, len(Splits))

	allowed := validPurposes(kind)
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := parseUpload(file)
		if err != nil {
			return nil, err
		}
		if kind == SplitTrain {
			frames[Train] = f
			res.Details = append(res.Details, fmt.Sprintf("%s: %s", file.Name, f.ShapeString()))
			continue
		}
		purpose := strings.ToLower(strings.TrimSpace(file.Purpose))
		if !contains(allowed, purpose) {
			return nil, invalid("Invalid dataset purpose %q for %s", file.Purpose, file.Name)
		}
		if _, dup := frames[purpose]; dup {
			return nil, invalid("Each dataset purpose must be used once: %s", purpose)
		}
		frames[purpose] = f
		res.Details = append(res.Details, fmt.Sprintf("%s uploaded as %s dataset: %s", file.Name, purpose, f.ShapeString()))
	}

	switch kind {
	case SplitTrain:
		train, val, test, err := SplitThreeWay(frames[Train], w.seed)
		if err != nil {
			return nil, err
		}
		frames[Train], frames[Validation], frames[Test] = train, val, test
		res.Details = append(res.Details, "Train dataset split into Train, Validation, and Test sets.")
	case SplitTrainTest:
		train, val, err := TrainTestSplit(frames[Train], 0.15, w.seed)
		if err != nil {
			return nil, err
		}
		frames[Train], frames[Validation] = train, val
		res.Details = append(res.Details,
			"Validation set carved from the Train dataset.",
			"Train and Test datasets uploaded successfully.")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	err := w.parallel(
		func() error { return WriteCSVFile(w.Path(Train), frames[Train]) },
		func() error { return WriteCSVFile(w.Path(Validation), frames[Validation]) },
		func() error { return WriteCSVFile(w.Path(Test), frames[Test]) },
	)
	if err != nil {
		return nil, err
	}
	w.resetNormalization()
	w.kind = kind
	w.selected = nil

	for _, split := range Splits {
		f := frames[split]
		res.Dimensions.set(split, f.ShapeString())
		metrics.DatasetRows.WithLabelValues(split).Set(float64(f.NumRows()))
	}
	w.log.Info("dataset uploaded",
		"kind", string(kind),
		"train", res.Train,
		"validation", res.Validation,
		"test", res.Test,
	)
	return res, nil
}

// Dimensions reports the shape of every stored split.
func (w *Workspace) Dimensions() (Dimensions, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dimensionsLocked()
}

func (w *Workspace) dimensionsLocked() (Dimensions, error) {
	dims := Dimensions{Train: NotUploaded, Validation: NotUploaded, Test: NotUploaded}
	for _, split := range Splits {
		if !w.exists(split) {
			continue
		}
		f, err := ReadCSVFile(w.Path(split))
		if err != nil {
			return dims, err
		}
		dims.set(split, f.ShapeString())
	}
	return dims, nil
}

func splitTitle(split string) string {
	return strings.ToUpper(split[:1]) + split[1:]
}

// Preprocess drops incomplete rows from every split and removes the
// redundant features found on the train split from all of them.
func (w *Workspace) Preprocess(ctx context.Context) (*PreprocessResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	frames := make([]*Frame, len(Splits))
	missing := make([]int, len(Splits))
	loadErrs := make([]error, len(Splits))
	tasks := make([]func() error, 0, len(Splits))
	for i, split := range Splits {
		if !w.exists(split) {
			continue
		}
		tasks = append(tasks, func() error {
			f, err := ReadCSVFile(w.Path(split))
			if err != nil {
				loadErrs[i] = err
				return nil
			}
			frames[i], missing[i] = DropMissing(f)
			return nil
		})
	}
	if err := w.parallel(tasks...); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Train alone decides which features go; without it nothing is rewritten.
	if loadErrs[0] != nil {
		return nil, invalid("Train Dataset Preprocessing Failed: %v", loadErrs[0])
	}
	if frames[0] == nil {
		return nil, ErrNoDataset
	}
	removed := FindRedundantFeatures(frames[0], LabelColumn)

	writeErrs := make([]error, len(Splits))
	tasks = tasks[:0]
	for i, split := range Splits {
		if frames[i] == nil {
			continue
		}
		tasks = append(tasks, func() error {
			frames[i] = ApplyRemoval(frames[i], removed, LabelColumn)
			writeErrs[i] = WriteCSVFile(w.Path(split), frames[i])
			return nil
		})
	}
	if err := w.parallel(tasks...); err != nil {
		return nil, err
	}

	res := &PreprocessResult{
		Message:           "Preprocessing completed successfully!",
		RemovedFeatures:   removed,
		TrainMissing:      missing[0],
		ValidationMissing: missing[1],
		TestMissing:       missing[2],
		Dimensions:        Dimensions{Train: NotUploaded, Validation: NotUploaded, Test: NotUploaded},
	}
	for i, split := range Splits {
		title := splitTitle(split)
		switch {
		case loadErrs[i] != nil:
			res.Results = append(res.Results, fmt.Sprintf("%s Dataset Preprocessing Failed: %v", title, loadErrs[i]))
		case writeErrs[i] != nil:
			res.Results = append(res.Results, fmt.Sprintf("%s Dataset Preprocessing Failed: %v", title, writeErrs[i]))
		case frames[i] == nil:
			w.log.Warn("split not found", "split", split, "path", w.Path(split))
			res.Results = append(res.Results, fmt.Sprintf("%s dataset not found.", title))
		default:
			res.Dimensions.set(split, frames[i].ShapeString())
			res.Results = append(res.Results, fmt.Sprintf("%s Dataset Preprocessed: %s.", title, frames[i].ShapeString()))
			metrics.DatasetRows.WithLabelValues(split).Set(float64(frames[i].NumRows()))
		}
	}

	// Values are unchanged, so the recorded scaling still describes them.
	w.selected = nil
	w.normalization = ""
	w.log.Info("datasets preprocessed",
		"zero_std", len(removed.ZeroStd),
		"highly_correlated", len(removed.HighlyCorrelated),
		"non_numeric", len(removed.NonNumeric),
	)
	return res, nil
}

// SelectFeatures runs feature selection on the train split and remembers
// the selected columns for normalization.
func (w *Workspace) SelectFeatures(ctx context.Context, method string) (*SelectionResult, error) {
	method = strings.ToLower(strings.TrimSpace(method))
	if method == "" {
		method = "benford"
	}
	if method != "benford" {
		return nil, ErrInvalidSelectMethod
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.exists(Train) {
		return nil, ErrNoDataset
	}
	train, err := ReadCSVFile(w.Path(Train))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sel, err := SelectBenford(train, LabelColumn)
	if err != nil {
		return nil, err
	}
	w.selected = sel.Selected

	w.log.Info("features selected",
		"method", method,
		"selected", len(sel.Selected)-1,
		"median_threshold", sel.MedianThreshold,
	)
	return &SelectionResult{
		Message:          "Feature Selection Done",
		Method:           method,
		MeanThreshold:    sel.MeanThreshold,
		MedianThreshold:  sel.MedianThreshold,
		SelectedFeatures: sel.Selected,
		Results:          sel.Results,
	}, nil
}

// Normalize fits the chosen scaler on the selected train features, applies
// it to every split and rewrites the split files. The fitted parameters are
// appended to ScalingFile so trained models can scale raw traffic the same
// way.
func (w *Workspace) Normalize(ctx context.Context, kind string) (*NormalizeResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.selected) == 0 || !w.exists(Train) {
		return nil, ErrSelectionNotDone
	}
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		kind = NormMinMax
	}
	scaler, err := NewScaler(kind)
	if err != nil {
		return nil, err
	}

	features := make([]string, 0, len(w.selected))
	for _, c := range w.selected {
		if c != LabelColumn {
			features = append(features, c)
		}
	}

	frames := make([]*Frame, len(Splits))
	for i, split := range Splits {
		if !w.exists(split) {
			continue
		}
		f, err := ReadCSVFile(w.Path(split))
		if err != nil {
			return nil, err
		}
		frames[i] = f
	}

	trainX, err := frames[0].Matrix(features)
	if err != nil {
		return nil, invalid("Cannot normalize train dataset: %v", err)
	}
	if len(trainX) == 0 {
		return nil, invalid("Train dataset is empty")
	}
	prior, err := w.readScaling()
	if err != nil {
		return nil, err
	}
	scaler.Fit(trainX)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]*Frame, len(Splits))
	out[0] = fromMatrix(features, scaler.Transform(trainX), frames[0])
	tasks := make([]func() error, 0, len(Splits)-1)
	for i := 1; i < len(Splits); i++ {
		if frames[i] == nil {
			continue
		}
		tasks = append(tasks, func() error {
			X, err := frames[i].Select(features, "0").Matrix(features)
			if err != nil {
				return invalid("Cannot normalize %s dataset: %v", Splits[i], err)
			}
			out[i] = fromMatrix(features, scaler.Transform(X), frames[i])
			return nil
		})
	}
	if err := w.parallel(tasks...); err != nil {
		return nil, err
	}

	for i, split := range Splits {
		if out[i] == nil {
			continue
		}
		if err := WriteCSVFile(w.Path(split), out[i]); err != nil {
			return nil, err
		}
	}
	if err := WriteCSVFile(filepath.Join(w.dir, NormalizedFile), out[0]); err != nil {
		return nil, err
	}
	if err := w.writeScaling(append(prior, NewScalerState(kind, features, scaler))); err != nil {
		return nil, err
	}
	w.normalization = kind

	dims, err := w.dimensionsLocked()
	if err != nil {
		return nil, err
	}
	rows, cols := out[0].Shape()
	w.log.Info("datasets normalized", "kind", kind, "features", len(features), "rows", rows)
	return &NormalizeResult{
		Message:        "Normalization completed successfully!",
		NormalizedFile: NormalizedFile,
		Columns:        out[0].Columns,
		Shape:          [2]int{rows, cols},
		Normalization:  kind,
		Dimensions:     dims,
	}, nil
}

// TrainingData is a consistent snapshot of the splits and the scaling
// applied to them.
type TrainingData struct {
	Train, Validation, Test *Frame
	Scaling                 Scaling
}

// LoadSplits reads the train, validation and test frames for training.
func (w *Workspace) LoadSplits() (*TrainingData, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.exists(Train) {
		return nil, ErrNoDataset
	}
	frames := make([]*Frame, len(Splits))
	for i, split := range Splits {
		if !w.exists(split) {
			return nil, invalid("%s dataset not found", splitTitle(split))
		}
		f, err := ReadCSVFile(w.Path(split))
		if err != nil {
			return nil, err
		}
		frames[i] = f
	}
	scaling, err := w.readScaling()
	if err != nil {
		return nil, err
	}
	return &TrainingData{Train: frames[0], Validation: frames[1], Test: frames[2], Scaling: scaling}, nil
}

// Scaling returns the scalers applied to the stored splits, oldest first.
// It is empty until Normalize has run.
func (w *Workspace) Scaling() (Scaling, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.readScaling()
}

func (w *Workspace) readScaling() (Scaling, error) {
	data, err := os.ReadFile(filepath.Join(w.dir, ScalingFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sc Scaling
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("dataset: corrupt %s: %w", ScalingFile, err)
	}
	return sc, nil
}

func (w *Workspace) writeScaling(sc Scaling) error {
	data, err := json.Marshal(sc)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(w.dir, ScalingFile), data, 0o644)
}

// resetNormalization forgets earlier scaling once the splits are replaced
// by raw uploads.
func (w *Workspace) resetNormalization() {
	os.Remove(filepath.Join(w.dir, NormalizedFile))
	os.Remove(filepath.Join(w.dir, ScalingFile))
	w.normalization = ""
}

// fromMatrix rebuilds a frame from normalized features and the label column
// of the source frame.
func fromMatrix(features []string, X [][]float64, src *Frame) *Frame {
	labels := make([]string, src.NumRows())
	if idx := src.Index(LabelColumn); idx >= 0 {
		labels = src.Strings(idx)
	}
	out := &Frame{
		Columns: append(append([]string(nil), features...), LabelColumn),
		Rows:    make([][]string, len(X)),
	}
	for r, vec := range X {
		row := make([]string, 0, len(vec)+1)
		for _, v := range vec {
			row = append(row, FormatFloat(v))
		}
		out.Rows[r] = append(row, labels[r])
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
