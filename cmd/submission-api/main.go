package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/isotope-submissions-api/api/swagger"
	"github.com/noah-isme/isotope-submissions-api/internal/bootstrap"
	"github.com/noah-isme/isotope-submissions-api/internal/handler"
	internalmiddleware "github.com/noah-isme/isotope-submissions-api/internal/middleware"
	"github.com/noah-isme/isotope-submissions-api/pkg/config"
	"github.com/noah-isme/isotope-submissions-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/isotope-submissions-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/isotope-submissions-api/pkg/middleware/requestid"
)

const shutdownTimeout = 15 * time.Second

// @title Isotope Submissions API
// @version 1.0.0
// @description Measurement submission, review and publication service
// @BasePath /api
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logr)
	if err != nil {
		return err
	}
	app.Start(ctx)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.WithResponseMeta())
	r.Use(internalmiddleware.Metrics(app.Metrics))

	handler.RegisterRoutes(r, cfg.APIPrefix, app.Handlers())
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting",
			"addr", srv.Addr, "env", cfg.Env, "backend", app.Store.Backend(), "auto_approve", cfg.Review.AutoApprove)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logr.Info("signal received, initiating graceful shutdown")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("http server shutdown error", zap.Error(err))
	}
	if err := app.Close(shutdownCtx); err != nil {
		logr.Error("shutdown errors occurred", zap.Error(err))
	}
	logr.Info("shutdown complete")
	return serveErr
}
