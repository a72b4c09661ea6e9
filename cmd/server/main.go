// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Mailvine — Ingestion Service
//
// Entry point for the Go ingestion service. It:
//  1. Loads configuration from config.yaml
//  2. Connects to PostgreSQL and Redis
//  3. Ensures the message/attachment/alias schema
//  4. Polls the configured IMAP mailbox and the file-drop inbox
//  5. Parses, deduplicates, saves, and enqueues stage tasks
//  6. Serves the health and admin endpoints
//  7. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/mailvine/ingestion/internal/admin"
	"github.com/mailvine/ingestion/internal/config"
	"github.com/mailvine/ingestion/internal/dedup"
	"github.com/mailvine/ingestion/internal/imagecheck"
	"github.com/mailvine/ingestion/internal/imapsource"
	"github.com/mailvine/ingestion/internal/inbox"
	"github.com/mailvine/ingestion/internal/mailparse"
	"github.com/mailvine/ingestion/internal/pipeline"
	"github.com/mailvine/ingestion/internal/queue"
	"github.com/mailvine/ingestion/internal/saver"
	"github.com/mailvine/ingestion/internal/store"
	"github.com/mailvine/ingestion/internal/workflow"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting mailvine ingestion service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"imap_host", cfg.IMAP.Host,
		"inbox_dir", cfg.InboxDir,
		"poll_interval", cfg.PollInterval,
		"auto_assign", cfg.AutoAssign,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	publisher := queue.NewPublisher(rdb, cfg.OCRQueue)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Dedup Filter ---
	filter := dedup.NewFilter(rdb)

	// --- Stores ---
	files, err := store.New(cfg.AttachmentsDir)
	if err != nil {
		slog.Error("failed to initialise attachment store", "error", err)
		os.Exit(1)
	}

	messages, err := saver.NewStore(ctx, pgPool, files)
	if err != nil {
		slog.Error("failed to initialise message store", "error", err)
		os.Exit(1)
	}

	statuses := workflow.NewStore(pgPool)

	// --- Parser ---
	validator := &imagecheck.Validator{
		MinSize:        cfg.Validator.MinSizeBytes,
		MinWidth:       cfg.Validator.MinWidth,
		MinHeight:      cfg.Validator.MinHeight,
		MaxAspectRatio: cfg.Validator.MaxAspectRatio,
	}
	parser := mailparse.NewParser(mailparse.WithValidator(validator))

	// --- Sources ---
	var source *imapsource.Source
	if cfg.IMAP.Host != "" {
		source, err = imapsource.New(cfg.IMAP)
		if err != nil {
			slog.Error("invalid IMAP configuration", "error", err)
			os.Exit(1)
		}
	}

	var scanner *inbox.Scanner
	if cfg.InboxDir != "" {
		scanner, err = inbox.NewScanner(cfg.InboxDir)
		if err != nil {
			slog.Error("failed to initialise inbox scanner", "error", err)
			os.Exit(1)
		}
	}

	if source == nil && scanner == nil {
		slog.Error("no sources configured — set imap.host or inbox.dir")
		os.Exit(1)
	}

	// --- Pipeline ---
	runner := pipeline.NewRunner(pipeline.Options{
		Parser:      parser,
		Saver:       messages,
		Publisher:   publisher,
		Filter:      filter,
		AutoAssign:  cfg.AutoAssign,
		DefaultUser: cfg.DefaultUser,
	})
	poller := pipeline.NewPoller(runner, source, cfg.IMAP.Username, scanner, cfg.PollInterval)

	// --- Admin Server ---
	// Started before the poller so the health endpoint answers during
	// the first (possibly long) batch.
	handler := admin.NewHandler(pgPool, publisher, statuses, poller)
	ready, err := admin.Serve(ctx, cfg.Port, handler)
	if err != nil {
		slog.Error("failed to start admin server", "error", err)
		os.Exit(1)
	}
	<-ready

	pollerDone := make(chan struct{})
	go func() {
		defer close(pollerDone)
		poller.Run(ctx)
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	slog.Info("received shutdown signal", "signal", sig)
	cancel() // Stop the poller and the admin server

	<-pollerDone
	rdb.Close()
	pgPool.Close()

	slog.Info("ingestion service stopped")
}
