package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gomokuhub/match-backend/internal/config"
	"github.com/gomokuhub/match-backend/internal/events"
	"github.com/gomokuhub/match-backend/internal/httpapi"
	"github.com/gomokuhub/match-backend/internal/hub"
	"github.com/gomokuhub/match-backend/internal/match"
	"github.com/gomokuhub/match-backend/internal/storage"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store *storage.Store
	if cfg.DatabaseURL != "" {
		store, err = storage.New(cfg.DatabaseURL, log)
		if err != nil {
			log.Warn("database unavailable, finalized series will not be persisted", zap.Error(err))
			store = nil
		}
	} else {
		log.Warn("DATABASE_URL unset, running without persistence")
	}

	producer := events.NewProducer(cfg.KafkaBrokers, log)
	defer producer.Close()

	var h *hub.Hub
	onFinalized := func(res match.Result) {
		if store != nil {
			// The series is not durably resolved until this commit lands.
			cctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if err := store.SaveSeriesResultWithRetry(cctx, res); err != nil {
				log.Error("giving up on series commit",
					zap.String("series_id", res.Series.ID), zap.Error(err))
				return
			}
		}
		h.Inbox() <- hub.RemoveMatch{ID: res.Series.ID}
	}
	h = hub.NewHub(ctx, log, cfg.MatchParams(), producer, onFinalized)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpapi.SetupRoutes(h, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		h.Inbox() <- hub.ShutdownHub{}
		sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
	log.Info("server exited cleanly")
}
