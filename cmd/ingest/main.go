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

// Mailvine — One-Shot Ingestion Command
//
// Standalone CLI that runs a single ingestion batch against the IMAP
// mailbox or the file-drop inbox. Intended for seeding data on new
// deployments and for operator-driven replays.
//
// Usage:
//
//	go run ./cmd/ingest/ --source imap [--user user-1] [--since 2026-01-01]
//	go run ./cmd/ingest/ --source inbox [--user user-1]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

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
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	sourceFlag := flag.String("source", "imap", "Source to drain: imap or inbox")
	userFlag := flag.String("user", "", "Assign every ingested message to this user (overrides alias routing)")
	sinceFlag := flag.String("since", "", "Only fetch mail on or after this date (YYYY-MM-DD, imap only)")
	noQueueFlag := flag.Bool("no-queue", false, "Skip publishing stage tasks (save only)")
	flag.Parse()

	if *sourceFlag != "imap" && *sourceFlag != "inbox" {
		fmt.Fprintf(os.Stderr, "Error: --source must be imap or inbox\n\n")
		flag.Usage()
		os.Exit(1)
	}

	slog.Info("starting one-shot ingestion",
		"source", *sourceFlag,
		"user", *userFlag,
		"since", *sinceFlag,
	)

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *sinceFlag != "" {
		cfg.IMAP.Since = *sinceFlag
	}
	if *userFlag != "" {
		cfg.AutoAssign = false
		cfg.DefaultUser = *userFlag
	}

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

	// --- Connect to Redis (skipped with --no-queue) ---
	var publisher *queue.Publisher
	var filter *dedup.Filter
	if !*noQueueFlag {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		defer rdb.Close()

		publisher = queue.NewPublisher(rdb, cfg.OCRQueue)
		if err := publisher.Ping(ctx); err != nil {
			slog.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		filter = dedup.NewFilter(rdb)
	}

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

	// --- Pipeline ---
	validator := &imagecheck.Validator{
		MinSize:        cfg.Validator.MinSizeBytes,
		MinWidth:       cfg.Validator.MinWidth,
		MinHeight:      cfg.Validator.MinHeight,
		MaxAspectRatio: cfg.Validator.MaxAspectRatio,
	}
	opts := pipeline.Options{
		Parser:      mailparse.NewParser(mailparse.WithValidator(validator)),
		Saver:       messages,
		Filter:      filter,
		AutoAssign:  cfg.AutoAssign,
		DefaultUser: cfg.DefaultUser,
	}
	if publisher != nil {
		// Assigning the typed nil directly would leave the runner with
		// a non-nil interface wrapping nothing.
		opts.Publisher = publisher
	}
	runner := pipeline.NewRunner(opts)

	// --- Run Batch ---
	var result pipeline.Result
	switch *sourceFlag {
	case "imap":
		source, err := imapsource.New(cfg.IMAP)
		if err != nil {
			slog.Error("invalid IMAP configuration", "error", err)
			os.Exit(1)
		}
		result, err = runner.ProcessIMAP(ctx, source, cfg.IMAP.Username)
		if err != nil {
			slog.Error("imap ingestion failed", "error", err)
			os.Exit(1)
		}
	case "inbox":
		if cfg.InboxDir == "" {
			slog.Error("inbox.dir is not configured")
			os.Exit(1)
		}
		scanner, err := inbox.NewScanner(cfg.InboxDir)
		if err != nil {
			slog.Error("failed to initialise inbox scanner", "error", err)
			os.Exit(1)
		}
		result, err = runner.ProcessInbox(ctx, scanner)
		if err != nil {
			slog.Error("inbox ingestion failed", "error", err)
			os.Exit(1)
		}
	}

	// --- Summary ---
	slog.Info("ingestion complete",
		"source", *sourceFlag,
		"ingested", result.Ingested,
		"duplicates", result.Duplicates,
		"failures", result.Failures,
	)

	if result.Failures > 0 {
		os.Exit(1)
	}
}
