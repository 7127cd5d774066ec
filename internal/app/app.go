// Package app wires configuration into the shared classifier, pipeline and
// optional history store used by every entrypoint.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/Brownie44l1/freshness-api/internal/config"
	"github.com/Brownie44l1/freshness-api/internal/inference"
	"github.com/Brownie44l1/freshness-api/internal/labels"
	"github.com/Brownie44l1/freshness-api/internal/model"
	"github.com/Brownie44l1/freshness-api/internal/preprocess"
	"github.com/Brownie44l1/freshness-api/internal/store"
)

type App struct {
	Config   *config.Config
	Model    *model.Handle
	Pipeline *inference.Pipeline
	Timeout  time.Duration

	// History is nil unless a database is configured.
	History *store.HistoryRepo
	db      *sql.DB
}

// ProjectRoot is the working directory, or the repository root when the
// binary is started from its cmd/<name> directory.
func ProjectRoot() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	if filepath.Base(filepath.Dir(wd)) == "cmd" {
		wd = filepath.Join(wd, "../..")
	}
	return wd, nil
}

func resolve(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// New loads the model once and builds the pipeline. A model that fails to
// load is not an error here; the pipeline reports it per request.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	root, err := ProjectRoot()
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.Timeout()
	if err != nil {
		return nil, err
	}
	interp, err := preprocess.ParseInterpolation(cfg.Interpolation)
	if err != nil {
		return nil, err
	}

	table := labels.Default()
	handle := model.Load(model.Options{
		ModelPath:     resolve(root, cfg.ModelPath),
		MetadataPath:  resolve(root, cfg.MetadataPath),
		SharedLibPath: cfg.ONNXLibPath,
		NumThreads:    cfg.TFLiteThreads,
	}, table)

	normalizer := preprocess.New(
		preprocess.WithInterpolation(interp),
		preprocess.WithMaxPixels(cfg.MaxImagePixels),
	)
	pipeline, err := inference.New(handle, table, normalizer)
	if err != nil {
		handle.Close()
		return nil, err
	}

	a := &App{Config: cfg, Model: handle, Pipeline: pipeline, Timeout: timeout}

	if cfg.DatabaseURL != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		log.Printf("db connected: %s", store.SafeDSNSummary(cfg.DatabaseURL))

		repo := store.NewHistoryRepo(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			db.Close()
			a.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		a.db = db
		a.History = repo
	}
	return a, nil
}

// StartRetention purges old history rows every interval until ctx is done.
// It does nothing without a database or a retention period.
func (a *App) StartRetention(ctx context.Context, interval time.Duration) {
	retention, _ := a.Config.Retention()
	if a.History == nil || retention <= 0 {
		return
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				n, err := a.History.PurgeOlderThan(ctx, retention)
				if err != nil {
					log.Printf("history purge: %v", err)
					continue
				}
				if n > 0 {
					log.Printf("history purge: removed %d rows older than %s", n, retention)
				}
			}
		}
	}()
}

func (a *App) Close() {
	if a.db != nil {
		a.db.Close()
	}
	if err := a.Model.Close(); err != nil {
		log.Printf("model close: %v", err)
	}
}
