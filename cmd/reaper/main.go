// Package main runs a single invitation sweep and exits. Meant to be
// scheduled by cron; a non-zero exit signals the sweep failed so the
// scheduler can alert.
package main

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ledgerdesk/backend/config"
	"github.com/ledgerdesk/backend/internal/memberships"
	"github.com/ledgerdesk/backend/internal/reaper"
	"github.com/ledgerdesk/backend/pkg/database"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	r := reaper.New(memberships.NewRepository(pool), logger)
	deleted, err := r.Sweep(ctx, time.Now())
	if err != nil {
		logger.Error("sweep failed", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("sweep done", zap.Int("deleted_count", deleted))
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
