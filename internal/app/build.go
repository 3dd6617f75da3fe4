// Package app assembles the service from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ent0n29/voxcollect/internal/archive"
	"github.com/ent0n29/voxcollect/internal/artifact"
	"github.com/ent0n29/voxcollect/internal/bot"
	"github.com/ent0n29/voxcollect/internal/config"
	"github.com/ent0n29/voxcollect/internal/corpus"
	"github.com/ent0n29/voxcollect/internal/counter"
	"github.com/ent0n29/voxcollect/internal/httpapi"
	"github.com/ent0n29/voxcollect/internal/ledger"
	"github.com/ent0n29/voxcollect/internal/observability"
	"github.com/ent0n29/voxcollect/internal/probe"
	"github.com/ent0n29/voxcollect/internal/reliability"
	"github.com/ent0n29/voxcollect/internal/session"
	"github.com/ent0n29/voxcollect/internal/telegram"
	"github.com/ent0n29/voxcollect/internal/webchat"
)

type BuildResult struct {
	Config     config.Config
	API        *httpapi.Server
	Machine    *session.Machine
	Dispatcher *bot.Dispatcher
	Pool       *corpus.Pool
	Counter    *counter.Counter
	Ledger     ledger.Store
	Metrics    *observability.Metrics

	// Telegram is nil when no bot token is configured.
	Telegram *telegram.Adapter

	// Webchat is nil when the browser channel is disabled.
	Webchat *webchat.Gateway

	// Cleanup drains queued events and closes the stores.
	Cleanup func() error
}

// Options override collaborators that Build would otherwise create.
type Options struct {
	Logger   *slog.Logger
	Metrics  *observability.Metrics
	Telegram telegram.API
	Probe    session.DurationProbe
}

// OpenLedger opens the configured ledger backend.
func OpenLedger(ctx context.Context, cfg config.Config) (ledger.Store, error) {
	store, err := ledger.NewStore(ctx, ledger.Options{
		Backend:     cfg.LedgerBackend,
		DatasetDir:  cfg.DatasetDir,
		DatabaseURL: cfg.DatabaseURL,
		SQLitePath:  cfg.LedgerSQLitePath,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger init failed: %w", err)
	}
	return store, nil
}

func Build(ctx context.Context, cfg config.Config, opts Options) (*BuildResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.NewMetrics(cfg.MetricsNamespace, nil)
	}

	ledgerStore, err := OpenLedger(ctx, cfg)
	if err != nil {
		return nil, err
	}
	closers := []func() error{ledgerStore.Close}
	fail := func(err error) (*BuildResult, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}

	recorded, maxID, err := ledger.RecordedTexts(ctx, ledgerStore, corpus.Supported)
	if err != nil {
		return fail(fmt.Errorf("ledger scan failed: %w", err))
	}
	pool := corpus.Load(cfg.LangDir, corpus.Supported, recorded, logger)
	pool.SetRecycleHook(func(lang corpus.Language) {
		metrics.ObserveRecycle(string(lang))
	})

	ctr, err := counter.Open(cfg.CounterPath, cfg.CounterBase)
	if err != nil {
		return fail(fmt.Errorf("voice counter init failed: %w", err))
	}
	if maxID > 0 {
		if err := ctr.Raise(maxID + 1); err != nil {
			return fail(fmt.Errorf("voice counter init failed: %w", err))
		}
	}
	logger.Info("voice counter ready", "next", ctr.Peek(), "ledger_max_id", maxID)

	artifacts, err := artifact.NewStore(cfg.DatasetDir)
	if err != nil {
		return fail(fmt.Errorf("artifact store init failed: %w", err))
	}

	sessions, err := session.NewStore(cfg.SessionStoreDir, session.WithLogger(logger))
	if err != nil {
		return fail(fmt.Errorf("session store init failed: %w", err))
	}
	closers = append(closers, sessions.Close)

	var tg *telegram.Adapter
	switch {
	case opts.Telegram != nil:
		tg = telegram.New(opts.Telegram, logger)
	case cfg.TelegramToken != "":
		tg, err = telegram.Connect(cfg.TelegramToken, logger)
		if err != nil {
			return fail(err)
		}
	}

	sendPolicy := reliability.Policy{
		Attempts: cfg.SendRetryAttempts,
		Base:     cfg.SendRetryBase,
		Cap:      cfg.SendRetryCap,
	}

	var archivers archive.Multi
	if cfg.SendToChannel {
		if tg == nil {
			logger.Warn("SEND_TO_CHANNEL set without a telegram bot; broadcast disabled")
		} else {
			archivers = append(archivers, archive.NewBroadcaster(tg, cfg.ChannelID, sendPolicy, metrics))
		}
	}
	if cfg.ArchiveS3Bucket != "" {
		client := artifact.NewS3Client(artifact.S3Config{
			Bucket:          cfg.ArchiveS3Bucket,
			Prefix:          cfg.ArchiveS3Prefix,
			Region:          cfg.ArchiveS3Region,
			Endpoint:        cfg.ArchiveS3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		archivers = append(archivers, archive.NewMirror(artifact.NewS3(client, cfg.ArchiveS3Bucket, cfg.ArchiveS3Prefix)))
		logger.Info("s3 archive mirror enabled", "bucket", cfg.ArchiveS3Bucket, "prefix", cfg.ArchiveS3Prefix)
	}
	var archiver session.Archiver
	if len(archivers) > 0 {
		archiver = archivers
	}

	durationProbe := opts.Probe
	if durationProbe == nil {
		durationProbe = probe.NewFFProbe(cfg.FFProbePath, logger)
	}

	machine, err := session.NewMachine(session.Deps{
		Store:     sessions,
		Pool:      pool,
		Counter:   ctr,
		Ledger:    ledgerStore,
		Artifacts: artifacts,
		Probe:     durationProbe,
		Archiver:  archiver,
		Metrics:   metrics,
		Logger:    logger,
	})
	if err != nil {
		return fail(err)
	}

	stats := func(ctx context.Context) (ledger.Stats, error) {
		return ledger.Aggregate(ctx, ledgerStore, corpus.Supported)
	}
	dispatcher := bot.NewDispatcher(machine, bot.Options{
		Stats:   stats,
		Send:    sendPolicy,
		Metrics: metrics,
		Logger:  logger,
	})

	var (
		gateway *webchat.Gateway
		chat    http.Handler
	)
	if cfg.WebchatEnabled {
		gateway = webchat.New(dispatcher, webchat.Options{
			AllowAnyOrigin: cfg.AllowAnyOrigin,
			Metrics:        metrics,
			Logger:         logger,
		})
		chat = gateway
	}
	if tg == nil && gateway == nil {
		return fail(errors.New("no channel enabled: set TOKEN_ID or WEBCHAT_ENABLED"))
	}

	api := httpapi.New(httpapi.Options{
		Stats:    stats,
		Sessions: machine,
		Corpus:   pool,
		Chat:     chat,
		Metrics:  metrics,
		Ready: func(ctx context.Context) error {
			_, err := ledgerStore.ReadAll(ctx, corpus.Supported[0])
			return err
		},
	})

	cleanup := func() error {
		dispatcher.Close()
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	return &BuildResult{
		Config:     cfg,
		API:        api,
		Machine:    machine,
		Dispatcher: dispatcher,
		Pool:       pool,
		Counter:    ctr,
		Ledger:     ledgerStore,
		Metrics:    metrics,
		Telegram:   tg,
		Webchat:    gateway,
		Cleanup:    cleanup,
	}, nil
}
