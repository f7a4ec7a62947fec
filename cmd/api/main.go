package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"telecom-dialer/internal/auth"
	"telecom-dialer/internal/bootstrap"
	"telecom-dialer/internal/config"
	"telecom-dialer/internal/httpapi"
	"telecom-dialer/pkg/logger"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	stack, err := bootstrap.Build(rootCtx, cfg, log)
	if err != nil {
		log.Error("dialer init failed", "err", err)
		os.Exit(1)
	}
	defer func() {
		if err := stack.Close(); err != nil {
			log.Error("close failed", "err", err)
		}
	}()

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, auth.RequireAccessToken(authManager), httpapi.Handlers{
		Auth:     authManager,
		Dialer:   stack.Engine,
		Prompter: stack.Prompter,
		Gate:     stack.Gate,
		Audit:    stack.Audit,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// campaign stop and device initialize wait on the gateway
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// The loop outlives the HTTP server so shutdown can still drive it.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()

	g, gctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		if err := stack.Engine.Run(loopCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "err", err)
		}
		if err := stack.Engine.Shutdown(shutdownCtx); err != nil {
			log.Error("dialer shutdown failed", "err", err)
		}
		stopLoop()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("api stopped", "err", err)
		os.Exit(1)
	}
}
