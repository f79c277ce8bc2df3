package cli

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/telekom/mailqueue/pkg/api"
	"github.com/telekom/mailqueue/pkg/config"
	"github.com/telekom/mailqueue/pkg/deadletter"
	"github.com/telekom/mailqueue/pkg/dkim"
	"github.com/telekom/mailqueue/pkg/mail"
	"github.com/telekom/mailqueue/pkg/redisqueue"
	"github.com/telekom/mailqueue/pkg/system"
	"github.com/telekom/mailqueue/pkg/telemetry"
	"github.com/telekom/mailqueue/pkg/version"
)

func newServeCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background delivery worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := system.NewLogger(opts.Debug)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			log := logger.Sugar()
			log.With("version", version.Version, "commit", version.GitCommit).Info("Starting mailqueue")
			opts.Print(log)

			a, err := newApp(cmd.Context(), *opts, logger)
			if err != nil {
				return err
			}
			return a.run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&opts.ListenAddress, "listen-address", opts.ListenAddress,
		"Override server.listenAddress (env MAILQUEUE_LISTEN_ADDRESS)")
	return cmd
}

// app is a fully wired mailqueue process.
type app struct {
	log        *zap.Logger
	configPath string
	store      *config.Store
	queue      mail.Queue
	redis      *redis.Client
	sink       mail.DeadLetterSink
	service    *mail.Service
	server     *api.Server
	watcher    *config.Watcher

	shutdownTracing telemetry.ShutdownFunc
}

func newApp(ctx context.Context, opts Options, logger *zap.Logger) (a *app, err error) {
	cfg, err := loadConfig(&opts)
	if err != nil {
		return nil, err
	}

	a = &app{log: logger, configPath: opts.ConfigPath, store: config.NewStore(cfg)}
	defer func() {
		if err != nil {
			a.release()
		}
	}()

	switch cfg.Queue.Backend {
	case "redis":
		a.redis = redisqueue.NewClient(cfg.Redis)
		q := redisqueue.New(a.redis, cfg.Redis)
		if err := q.Ping(ctx); err != nil {
			return nil, err
		}
		a.queue = q
	default:
		a.queue = mail.NewMemoryQueue()
	}

	signer, err := dkim.Load(cfg.DKIM)
	if err != nil {
		return nil, err
	}
	var mailSigner mail.Signer
	if signer != nil {
		mailSigner = signer
		logger.Info("DKIM signing enabled", zap.String("domain", signer.Domain()), zap.String("selector", signer.Selector()))
	}
	transport := mail.NewSMTPTransport(mailSigner)

	a.sink, err = deadletter.New(cfg.DeadLetter, logger)
	if err != nil {
		return nil, fmt.Errorf("dead-letter sink: %w", err)
	}

	tp, shutdownTracing, err := telemetry.Init(ctx, telemetry.FromConfig(cfg.Tracing, version.Version, logger.Sugar()))
	if err != nil {
		return nil, err
	}
	a.shutdownTracing = shutdownTracing

	svcOpts := []mail.Option{
		mail.WithRetryPolicy(mail.RetryPolicy{
			Backoff:     cfg.Queue.Backoff,
			MaxAttempts: cfg.Queue.MaxAttempts,
		}),
		mail.WithTracerProvider(tp),
	}
	if a.sink != nil {
		svcOpts = append(svcOpts, mail.WithDeadLetterSink(a.sink))
	}
	a.service = mail.NewService(a.queue, transport, a.store, logger.Sugar(), svcOpts...)

	a.server, err = api.NewServer(logger, cfg.Server, opts.Debug)
	if err != nil {
		return nil, err
	}
	a.server.RegisterHealth(api.Readiness(a.service))
	err = a.server.RegisterAll([]api.APIController{
		api.NewContactController(logger.Sugar(), a.service, func() config.Contact { return a.store.Get().Contact }, a.server.ContactRateLimit()),
		api.NewQueueController(logger.Sugar(), a.service),
	})
	if err != nil {
		return nil, err
	}

	a.watcher = config.NewWatcher(opts.ConfigPath, a.store, logger.Sugar()).
		WithReloadCallback(func(c config.Config) {
			a.server.UpdateRateLimit(c.Server.RateLimit)
		})

	return a, nil
}

// run serves until ctx is done or the HTTP server fails, then shuts down.
func (a *app) run(ctx context.Context) error {
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if _, err := a.watcher.Start(watchCtx); err != nil {
		a.log.Warn("Configuration hot reload disabled", zap.String("path", a.configPath), zap.Error(err))
	}

	a.service.Start()

	errCh := make(chan error, 1)
	go func() { errCh <- a.server.Listen() }()

	var serveErr error
	select {
	case <-ctx.Done():
		a.log.Info("Shutdown signal received")
	case serveErr = <-errCh:
		if serveErr != nil {
			a.log.Error("HTTP server failed", zap.Error(serveErr))
		}
	}

	a.shutdown()
	return serveErr
}

// shutdown stops intake first, then lets the worker finish its current
// message within queue.stopTimeout.
func (a *app) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.store.Get().Queue.StopTimeout)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		a.log.Warn("HTTP server shutdown incomplete", zap.Error(err))
	}
	a.service.Stop(ctx)
	_ = a.service.Close()

	if n, err := a.queue.Len(ctx); err == nil && n > 0 {
		a.log.Warn("Mail queue not empty at shutdown", zap.Int("pending", n))
	}
	a.release()
	a.log.Info("mailqueue stopped")
}

func (a *app) release() {
	if a.server != nil {
		a.server.Close()
	}
	if a.queue != nil {
		_ = a.queue.Close()
	}
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			a.log.Warn("Failed to close dead-letter sink", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(context.Background()); err != nil {
			a.log.Warn("Failed to flush traces", zap.Error(err))
		}
		a.shutdownTracing = nil
	}
}
