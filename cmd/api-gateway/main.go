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
	"go.uber.org/zap"

	_ "github.com/noah-isme/campus-cert-api/api/swagger"
	"github.com/noah-isme/campus-cert-api/internal/bootstrap"
	"github.com/noah-isme/campus-cert-api/pkg/config"
	"github.com/noah-isme/campus-cert-api/pkg/logger"
	"github.com/noah-isme/campus-cert-api/pkg/middleware/ratelimit"
)

const shutdownTimeout = 15 * time.Second

// @title Campus Certificate API
// @version 1.0.0
// @description Certificate issuance, ledger anchoring and public verification
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := bootstrap.New(ctx, cfg, logr)
	if err != nil {
		logr.Fatal("failed to wire services", zap.Error(err))
	}
	defer container.Close()

	container.AnchorQueue.Start(context.Background())
	defer container.AnchorQueue.Stop()
	if recovered, err := container.Issuance.RecoverPendingAnchors(ctx); err != nil {
		logr.Warn("anchor recovery failed", zap.Error(err))
	} else if recovered > 0 {
		logr.Info("requeued pending anchors", zap.Int("count", recovered))
	}

	limiter := ratelimit.New(cfg.Verification.RateLimitRPS, cfg.Verification.RateLimitBurst)
	go limiter.Run(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           newRouter(container, limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "anchoring", cfg.Anchoring.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logr.Error("server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	logr.Info("server stopped")
}
