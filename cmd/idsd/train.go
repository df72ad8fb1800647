package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/dataset"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/ml"
)

// trainOptions are the flags of the train command.
type trainOptions struct {
	train      string
	validation string
	test       string
	model      string
	out        string
	preprocess bool
	selection  string
	normalize  string
}

func newTrainCmd() *cobra.Command {
	var opts trainOptions
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a model from CSV files without starting the server",
		Example: `  idsd train --train flows.csv --model random_forest --preprocess
  idsd train --train train.csv --test test.csv --out ./models`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrain(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.train, "train", "", "Train dataset CSV (required)")
	f.StringVar(&opts.validation, "validation", "", "Validation dataset CSV")
	f.StringVar(&opts.test, "test", "", "Test dataset CSV")
	f.StringVar(&opts.model, "model", ml.KindDecisionTree, "Model type (decision_tree, random_forest)")
	f.StringVar(&opts.out, "out", "", "Model output directory (defaults to paths.model_dir)")
	f.BoolVar(&opts.preprocess, "preprocess", false, "Drop missing rows and redundant features before training")
	f.StringVar(&opts.selection, "select", "", "Feature selection method to run after preprocessing (benford)")
	f.StringVar(&opts.normalize, "normalize", "", "Normalization to apply after selection (minmax, standard, quantile)")
	cmd.MarkFlagRequired("train")
	return cmd
}

// uploadFromFlags maps the given files onto an upload layout.
func uploadFromFlags(opts trainOptions) (dataset.SplitKind, []dataset.UploadFile, error) {
	read := func(path, purpose string) (dataset.UploadFile, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return dataset.UploadFile{}, err
		}
		return dataset.UploadFile{Name: filepath.Base(path), Purpose: purpose, Data: data}, nil
	}

	paths := []struct{ path, purpose string }{{opts.train, dataset.Train}}
	kind := dataset.SplitTrain
	switch {
	case opts.validation != "" && opts.test != "":
		kind = dataset.SplitTrainValidationTest
		paths = append(paths,
			struct{ path, purpose string }{opts.validation, dataset.Validation},
			struct{ path, purpose string }{opts.test, dataset.Test})
	case opts.test != "":
		kind = dataset.SplitTrainTest
		paths = append(paths, struct{ path, purpose string }{opts.test, dataset.Test})
	case opts.validation != "":
		return "", nil, errors.New("--validation requires --test")
	}

	files := make([]dataset.UploadFile, 0, len(paths))
	for _, p := range paths {
		file, err := read(p.path, p.purpose)
		if err != nil {
			return "", nil, err
		}
		files = append(files, file)
	}
	return kind, files, nil
}

func runTrain(cmd *cobra.Command, opts trainOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.out != "" {
		cfg.Paths.ModelDir = opts.out
	}
	if err := os.MkdirAll(cfg.Paths.ModelDir, 0o755); err != nil {
		return err
	}
	if opts.normalize != "" && opts.selection == "" {
		opts.selection = "benford"
	}
	if opts.selection != "" {
		opts.preprocess = true
	}

	kind, files, err := uploadFromFlags(opts)
	if err != nil {
		return err
	}

	dir, err := os.MkdirTemp("", "idsd-train-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	ctx := cmd.Context()
	ws, err := dataset.NewWorkspace(dir, cfg.Training.Seed, cfg.Training.Workers)
	if err != nil {
		return err
	}
	defer ws.Close()

	if _, err := ws.Upload(ctx, kind, files); err != nil {
		return err
	}
	if opts.preprocess {
		if _, err := ws.Preprocess(ctx); err != nil {
			return fmt.Errorf("preprocess: %w", err)
		}
	}
	if opts.selection != "" {
		if _, err := ws.SelectFeatures(ctx, opts.selection); err != nil {
			return fmt.Errorf("feature selection: %w", err)
		}
	}
	if opts.normalize != "" {
		if _, err := ws.Normalize(ctx, opts.normalize); err != nil {
			return fmt.Errorf("normalize: %w", err)
		}
	}

	data, err := ws.LoadSplits()
	if err != nil {
		return err
	}
	trainer := ml.NewTrainer(cfg.Paths.ModelDir, cfg.Training.Seed,
		cfg.Training.MaxDepth, cfg.Training.ForestTrees, cfg.Training.Workers)
	res, err := trainer.Train(ctx, data.Train, data.Validation, data.Test, data.Scaling, opts.model)
	if err != nil {
		return err
	}
	return printJSON(cmd, res)
}
