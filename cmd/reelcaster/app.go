package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jo-hoe/reelcaster/internal/blob"
	"github.com/jo-hoe/reelcaster/internal/blob/drive"
	"github.com/jo-hoe/reelcaster/internal/blob/gcs"
	"github.com/jo-hoe/reelcaster/internal/blob/local"
	"github.com/jo-hoe/reelcaster/internal/config"
	"github.com/jo-hoe/reelcaster/internal/jobs"
	"github.com/jo-hoe/reelcaster/internal/media"
	"github.com/jo-hoe/reelcaster/internal/notify"
	"github.com/jo-hoe/reelcaster/internal/pipeline"
	"github.com/jo-hoe/reelcaster/internal/processor"
	"github.com/jo-hoe/reelcaster/internal/progress"
	"github.com/jo-hoe/reelcaster/internal/publish"
)

// stores are the persistence handles every command needs.
type stores struct {
	progress progress.Store
	runs     *jobs.SQLiteStore
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	var ps progress.Store
	var err error
	switch cfg.Store.Driver {
	case "sqlite":
		ps, err = progress.NewSQLiteStore(cfg.Store.DatabasePath, cfg.Store.Collection)
	case "postgres":
		ps, err = progress.NewPostgresStore(ctx, cfg.Store.DSN, cfg.Store.Collection)
	default:
		err = fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open progress store: %w", err)
	}
	// Run history always lives in the local SQLite file.
	runs, err := jobs.NewSQLiteStore(cfg.Store.DatabasePath)
	if err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("open run history: %w", err)
	}
	return &stores{progress: ps, runs: runs}, nil
}

func (s *stores) Close() error {
	return errors.Join(s.progress.Close(), s.runs.Close())
}

// app is the fully wired pipeline.
type app struct {
	*stores
	log      *slog.Logger
	blob     blob.Store
	local    *local.Store // set for the local backend, served over HTTP
	pipeline *pipeline.Pipeline
	worker   *processor.Worker
	closers  []func() error
}

func openApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	st, err := openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{stores: st, log: log}

	switch cfg.Blob.Backend {
	case "drive":
		d, err := drive.New(ctx, cfg.Blob.Drive.CredentialsFile, cfg.Blob.Drive.ParentFolder)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.blob = d
	case "gcs":
		g, err := gcs.New(ctx, cfg.Blob.GCS.Bucket, cfg.Blob.GCS.Prefix, cfg.Blob.GCS.CredentialsFile, cfg.Blob.GCS.LinkTTL)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.blob = g
		a.closers = append(a.closers, g.Close)
	case "local":
		a.local = local.New(cfg.Server.StorageDir, cfg.Server.PublicBaseURL)
		a.blob = a.local
	default:
		_ = a.Close()
		return nil, fmt.Errorf("unsupported blob backend %q", cfg.Blob.Backend)
	}
	log.Debug("blob backend ready", "backend", cfg.Blob.Backend)

	prod := media.New(cfg.Producer, log)
	prod.Extension = cfg.Blob.Extension
	a.pipeline = pipeline.New(log, st.progress, a.blob, publish.New(cfg.Publish), prod, pipeline.Options{
		Stream:         cfg.Store.Stream,
		Captions:       cfg.Publish.Captions,
		Extension:      cfg.Blob.Extension,
		UploadParallel: cfg.Producer.UploadParallel,
	})
	a.worker = processor.New(log, st.runs, a.pipeline, notify.New(cfg.Notify), cfg.Store.Stream)
	return a, nil
}

func (a *app) Close() error {
	errs := make([]error, 0, len(a.closers)+1)
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	errs = append(errs, a.stores.Close())
	return errors.Join(errs...)
}
