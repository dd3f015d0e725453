package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"esimflow/internal/config"
	"esimflow/internal/core/ordering"
	"esimflow/internal/core/poll"
	"esimflow/internal/core/reconcile"
	httpx "esimflow/internal/http"
	"esimflow/internal/notify"
	"esimflow/internal/provider"
	"esimflow/internal/provider/airhub"
	"esimflow/internal/provider/esimaccess"
	"esimflow/internal/provider/esimgo"
	"esimflow/internal/store/postgres"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := postgres.MustOpen(ctx, cfg.DB.DSN)
	defer pool.Close()
	repo := postgres.NewRepo(pool)

	// Redis is optional: without it alert dedup and the sweep lock degrade to
	// per-instance behavior, row transitions stay correct either way.
	var rdb *redis.Client
	var locker poll.Locker = poll.NoopLocker{}
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		locker = poll.NewRedisLocker(rdb)
	}

	// Static adapter registration, keyed by slug.
	registry := provider.NewRegistry(repo.Providers, repo.Packages)
	registry.Register(esimaccess.New(cfg))
	registry.Register(esimgo.New(cfg))
	registry.Register(airhub.New(cfg))

	notifier := notify.NewDeduped(notify.Log{}, rdb, 24*time.Hour)
	updater := reconcile.NewUpdater(repo.Orders, notifier)
	reconciler := reconcile.NewReconciler(registry, repo.Orders, repo.Notifications, updater, notifier)
	engine := ordering.NewEngine(registry, repo.Orders, repo.Packages, repo.Attempts, updater,
		cfg.Ordering.MaxFailoverAttempts, cfg.Ordering.ProviderTimeout)

	poller := poll.NewPoller(registry, repo.Orders, updater, locker, cfg.Poller.Interval, cfg.Poller.GracePeriod)
	go poller.Run(ctx)

	r := httpx.NewRouter(httpx.RouterDependencies{
		Config:        cfg,
		Engine:        engine,
		Reconciler:    reconciler,
		Poller:        poller,
		Registry:      registry,
		Orders:        repo.Orders,
		Providers:     repo.Providers,
		Notifications: repo.Notifications,
		Attempts:      repo.Attempts,
		APIKeys:       repo.APIKeys,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Msgf("esimflow API listening on :%s", cfg.App.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	cancel()
	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	log.Info().Msg("server stopped")
}
