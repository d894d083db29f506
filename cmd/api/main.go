package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"english-eval-go/internal/api"
	"english-eval-go/internal/app"
	"english-eval-go/internal/config"
	"english-eval-go/internal/logger"
)

func main() {
	cfg, err := config.Load(os.Getenv("EVAL_CONFIG"))
	if err != nil {
		logger.New().WithError(err).Fatal("failed to load configuration")
	}
	logger.Init(cfg.App.Environment, cfg.Logging.Level, cfg.Logging.Format)

	log := logger.New().WithField("service", cfg.App.Name).WithField("version", cfg.App.Version)
	log.Info("starting service")

	a, err := app.Build(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to build application")
	}
	defer a.Close()

	if cfg.App.Environment != "local" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), api.RequestLogger())
	// multipart bodies larger than this spill to temp files
	router.MaxMultipartMemory = cfg.Upload.MaxBytes()

	h := api.NewHandler(a.Pipeline, a.Store, cfg.Upload.MaxBytes(), cfg.App.Name, cfg.App.Version)
	api.SetupRoutes(router, h, a.Authenticator)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.WithField("addr", addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server terminated")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("forced shutdown")
	}
	log.Info("server stopped")
}
