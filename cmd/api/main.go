package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"reviewdesk/activity"
	"reviewdesk/auth"
	"reviewdesk/cashtag"
	"reviewdesk/config"
	"reviewdesk/db"
	"reviewdesk/lock"
	"reviewdesk/logging"
	"reviewdesk/messaging"
	"reviewdesk/notify"
	"reviewdesk/outbox"
	"reviewdesk/player"
	"reviewdesk/request"
	"reviewdesk/review"
	"reviewdesk/sweep"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "reviewdesk: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("ENV_FILE"))
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns:        cfg.DBMaxConns,
		ApplicationName: "reviewdesk",
	})
	if err != nil {
		return fmt.Errorf("bootstrap database pool: %w", err)
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := db.Migrate(ctx, pool); err != nil {
			return err
		}
		logger.Info("migrations applied")
	}

	locks := lock.NewManager(lock.NewRepository(pool), logger)
	publisher := messaging.NewPublisher(outbox.NewWriter(), logger)
	requests := request.NewService(pool, request.NewRepository(pool), activity.NewWriter(), publisher, logger)
	players := player.NewService(player.NewRepository(pool))

	client := messaging.NewClient(cfg.MessagingURL, cfg.MessagingToken, &http.Client{Timeout: 10 * time.Second})
	dispatcher := outbox.NewDispatcher(pool, cfg.OutboxBatchSize, cfg.OutboxMaxAttempts, logger).
		Handle(messaging.TopicNotification, client.Handler())

	hub := notify.NewHub(logger)
	listener := notify.NewListener(pool, hub, logger)
	registry := review.NewRegistry(locks, requests, hub, review.Options{
		Logger:       logger,
		ReleaseDelay: cfg.ReleaseDelay,
	})

	scheduler, err := sweep.New(sweep.Config{
		SweepSchedule:      cfg.SweepSchedule,
		OutboxSchedule:     cfg.OutboxSchedule,
		LockStaleAfter:     cfg.LockStaleAfter,
		SessionIdleTimeout: cfg.SessionIdleTimeout,
	}, sweep.Jobs{Locks: locks, Outbox: dispatcher, Sessions: registry}, logger)
	if err != nil {
		return err
	}

	server := &Server{
		authService:    auth.NewService(auth.NewRepository(pool), cfg.JWTSecret),
		requestService: requests,
		lockService:    locks,
		sessions:       registry,
		cashtagService: cashtag.NewService(cashtag.NewRepository(pool)),
		playerService:  players,
		activityLog:    activity.NewRepository(pool),
		feed:           hub,
		guards:         []review.Guard{review.BannedPlayerGuard(players)},
		wsOrigins:      cfg.WSAllowedOrigins,
		logger:         logger,
	}
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listener.Run(gctx) })
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error {
		logger.Info("api listening", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		// held dialog locks go back to idle before the pool closes
		registry.CloseAll(shutdownCtx)
		hub.Close()
		return err
	})
	return g.Wait()
}
