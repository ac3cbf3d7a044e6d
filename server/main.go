// server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/rexlx/volboard/forum"
	"github.com/rexlx/volboard/forum/cache"
	"github.com/rexlx/volboard/forum/sqlite"
	"github.com/rexlx/volboard/telemetry"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := forum.LoadConfig()
	if err != nil {
		errLog := telemetry.NewLogger(os.Stderr, "info")
		errLog.Fatal().Err(err).Msg("invalid configuration")
	}
	log := telemetry.NewLogger(os.Stdout, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(ctx context.Context, cfg forum.Config, log zerolog.Logger) error {
	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn().Err(err).Msg("flush traces")
		}
	}()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Info().Str("store", cfg.Driver).Msg("successfully connected to the database")

	retry := cfg.Retry()
	aggregates := forum.NewAggregateTracker(log)
	reads := forum.NewReadTracker(store, log,
		forum.WithReadMarkLimit(cfg.ReadMarkLimit),
		forum.WithReadRetry(retry),
	)
	merges := forum.NewMergeCoordinator(store, aggregates, log, retry)
	postOpts := []forum.PostServiceOption{forum.WithRetryPolicy(retry)}
	listOpts := []forum.ListerOption{
		forum.WithPageSizes(cfg.TopicPageSize, cfg.PostPageSize),
		forum.WithUserPageSize(cfg.UserPageSize),
	}

	if cfg.RedisAddr != "" {
		r, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer r.Close()
		postCache := cache.NewPostCache(r, store, cfg.PostCacheTTL, log)
		merges.SetInvalidator(postCache)
		postOpts = append(postOpts, forum.WithInvalidator(postCache))
		listOpts = append(listOpts, forum.WithPostLoader(postCache))
		log.Info().Str("addr", cfg.RedisAddr).Msg("post cache enabled")
	}

	posts := forum.NewPostService(store, aggregates, reads, log, postOpts...)
	lister := forum.NewLister(store, reads, listOpts...)

	session := scs.New()
	session.Lifetime = cfg.SessionLifetime
	session.Cookie.HttpOnly = true
	session.Cookie.SameSite = http.SameSiteLaxMode

	handlers := forum.NewHandlers(store, posts, reads, merges, lister, session, log)
	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux)

	svr := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlers.Session.LoadAndSave(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("starting forum server")
		errc <- svr.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info().Msg("shutting down")
	return svr.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg forum.Config) (forum.Store, error) {
	switch cfg.Driver {
	case forum.DriverPostgres:
		db, err := forum.NewDatabase(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.CreateTables(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	default:
		st, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
}
