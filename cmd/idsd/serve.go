package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/alert"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/api"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/config"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/dataset"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/logging"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/ml"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/monitor"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/profiling"
)

func newServeCmd() *cobra.Command {
	var (
		listen     string
		iface      string
		staticDir  string
		profileDir string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and traffic monitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.ListenAddr = listen
			}
			if iface != "" {
				cfg.Capture.Interface = iface
			}
			if staticDir != "" {
				cfg.Paths.StaticDir = staticDir
			}
			if profileDir != "" {
				cfg.Profiling.Dir = profileDir
				cfg.Profiling.CPU = true
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "HTTP listen address (overrides config)")
	cmd.Flags().StringVarP(&iface, "interface", "i", "", "Default capture interface")
	cmd.Flags().StringVar(&staticDir, "static", "", "Directory served at /")
	cmd.Flags().StringVar(&profileDir, "profile-dir", "", "Write CPU and heap profiles to this directory")
	return cmd
}

func serve(parent context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.Paths.EnsureDirectories(); err != nil {
		return err
	}

	logging.Info("starting idsd",
		"version", version,
		"git_commit", gitCommit,
		"listen", cfg.Server.ListenAddr,
		"upload_dir", cfg.Paths.UploadDir,
		"model_dir", cfg.Paths.ModelDir)
	logging.LogRuntimeInfo()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Profiling.Dir != "" {
		prof, err := profiling.New(profiling.Config{
			Dir:      cfg.Profiling.Dir,
			CPU:      cfg.Profiling.CPU,
			Interval: cfg.Profiling.Interval,
		})
		if err != nil {
			return err
		}
		if err := prof.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if err := prof.Stop(); err != nil {
				logging.Warn("profiling stop", logging.Err(err))
			}
		}()
	}

	workspace, err := dataset.NewWorkspace(cfg.Paths.UploadDir, cfg.Training.Seed, cfg.Training.Workers)
	if err != nil {
		return err
	}
	defer workspace.Close()

	sink, err := alert.New(cfg.MQTT)
	if err != nil {
		// Alerts are optional; the monitor keeps running without them.
		logging.Warn("mqtt alerts disabled", logging.Err(err))
		sink = nil
	}

	mon := monitor.New(monitor.FromConfig(cfg), sink)
	defer func() {
		if err := mon.Close(); err != nil {
			logging.Warn("monitor close", logging.Err(err))
		}
	}()

	trainer := ml.NewTrainer(cfg.Paths.ModelDir, cfg.Training.Seed,
		cfg.Training.MaxDepth, cfg.Training.ForestTrees, cfg.Training.Workers)

	srv, err := api.New(api.Deps{
		Config:    cfg,
		Workspace: workspace,
		Trainer:   trainer,
		Monitor:   mon,
	})
	if err != nil {
		return err
	}

	err = srv.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error("server error", logging.Err(err))
		return err
	}
	logging.Info("shutdown complete")
	return nil
}
