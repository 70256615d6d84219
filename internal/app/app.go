// Package app wires the store, catalogue, backup manager and reconciler
// together from a config file and runs the daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"syncvault/internal/backup"
	"syncvault/internal/catalog"
	"syncvault/internal/config"
	"syncvault/internal/crypto"
	"syncvault/internal/lock"
	"syncvault/internal/progress"
	"syncvault/internal/reconcile"
	"syncvault/internal/schedule"
	"syncvault/internal/store"
	"syncvault/internal/util"

	"filippo.io/age"
)

type Options struct {
	ConfigPath string
	// LogLevel overrides the configured level when set.
	LogLevel string
	// IdentityFile overrides encryption.age_identity_file when set.
	IdentityFile string
}

type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Store   *store.Store
	Catalog *catalog.Catalog
	Hub     *progress.Hub
	Manager *backup.Manager
	Sync    *reconcile.Reconciler

	logFile *os.File
}

// Open loads the config and opens every component it describes.
func Open(opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := util.SetupDirectories(cfg.BaseDir, util.LogDir(cfg.BaseDir), util.RunDir(cfg.BaseDir)); err != nil {
		return nil, err
	}

	level := cfg.Level()
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	logger, logFile, err := util.SetupLogging(util.LogFile(cfg.BaseDir, time.Now()), level)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	a := &App{Config: cfg, Logger: logger, logFile: logFile}
	if err := a.init(opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(opts Options) error {
	cfg := a.Config

	st, err := store.Open(cfg.StorePath(), cfg.Store.Passphrase, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	a.Store = st

	cat, err := catalog.Open(cfg.CataloguePath())
	if err != nil {
		return fmt.Errorf("failed to open catalogue: %w", err)
	}
	a.Catalog = cat

	var recipient age.Recipient
	if cfg.Encryption.AgePublicKey != "" {
		if recipient, err = crypto.ParseRecipient(cfg.Encryption.AgePublicKey); err != nil {
			return fmt.Errorf("encryption.age_public_key: %w", err)
		}
	}

	var identity age.Identity
	identityFile := cfg.Encryption.AgeIdentityFile
	if opts.IdentityFile != "" {
		identityFile = opts.IdentityFile
	}
	if identityFile != "" {
		id, err := crypto.LoadIdentity(identityFile)
		if err != nil {
			return fmt.Errorf("failed to load age identity: %w", err)
		}
		identity = id
	}

	a.Hub = progress.NewHub(a.Logger)
	a.Manager = backup.New(cfg, backup.Options{
		Store:     st,
		Catalog:   cat,
		Hub:       a.Hub,
		Logger:    a.Logger,
		Recipient: recipient,
		Identity:  identity,
	})

	syncOpts := reconcile.OptionsFromConfig(cfg)
	syncOpts.Bases = st
	syncOpts.OnProgress = a.Hub.Publish
	syncOpts.Logger = a.Logger
	if cfg.Sync.LocalDir != "" {
		syncOpts.Local = reconcile.NewDirFiles(cfg.Sync.LocalDir)
	} else {
		syncOpts.Local = reconcile.NewSnapshotFiles(st)
	}
	a.Sync = reconcile.New(a.Manager, syncOpts)
	return nil
}

func (a *App) Close() error {
	var errs []error
	if a.Catalog != nil {
		errs = append(errs, a.Catalog.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.logFile != nil {
		errs = append(errs, a.logFile.Close())
	}
	return errors.Join(errs...)
}

// Lock takes the per-base-dir process lock for command.
func (a *App) Lock(command string) (func() error, error) {
	return lock.Acquire(util.LockFile(a.Config.BaseDir), command)
}

// Serve runs the scheduler, the periodic sync and the HTTP API until ctx is
// cancelled.
func (a *App) Serve(ctx context.Context) error {
	release, err := a.Lock("serve")
	if err != nil {
		return err
	}
	defer func() {
		if err := release(); err != nil {
			a.Logger.Warn("Failed to release lock", "error", err)
		}
	}()

	scheduler := schedule.New(a.Manager, a.Config, a.Logger)
	if a.Config.Sync.Enabled {
		scheduler.AddJob(schedule.Job{
			Name:     "sync",
			Interval: a.Config.SyncInterval(),
			Run: func(ctx context.Context) error {
				_, err := a.Sync.Run(ctx)
				return err
			},
		})
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	httpServer := &http.Server{
		Addr:        a.Config.Listen(),
		Handler:     a.Handler(),
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("HTTP API listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	a.Logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
