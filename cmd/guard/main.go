package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xela07ax/spaceai-tool-guard/internal/app"
	"github.com/xela07ax/spaceai-tool-guard/internal/infra"
	"go.uber.org/zap"
)

func main() {
	// 1. Конфиг и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("Logger error: %v", err)
	}
	defer logger.Sync()

	// Контекст жизненного цикла: SIGINT/SIGTERM останавливают фоновые подписки
	appCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Сборка шлюза
	initCtx, cancel := context.WithTimeout(appCtx, 30*time.Second)
	guard, err := app.New(initCtx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal("failed to build tool guard", zap.Error(err))
	}

	go guard.Run(appCtx)

	// 3. Служебный HTTP API
	srv := &http.Server{
		Addr:         cfg.Admin.Addr(),
		Handler:      guard.Admin,
		ReadTimeout:  cfg.Admin.ReadTimeout,
		WriteTimeout: cfg.Admin.WriteTimeout,
	}
	go func() {
		logger.Info("admin API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("admin API failed", zap.Error(err))
		}
	}()

	// 4. Graceful Shutdown
	<-appCtx.Done()
	logger.Info("tool guard stopping...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin API shutdown failed", zap.Error(err))
	}

	// Журналы дописывают накопленные события
	guard.Close()
	logger.Info("tool guard exited properly")
}
