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
// Package config loads configuration from config.yaml and environment variables.
// Mbox backfill command
//
// Standalone CLI tool that replays archived mail through the receiver
// pipeline. Intended for importing a mailing list archive on new
// deployments. Rerunning over the same archive is safe: messages already
// processed are reported as duplicates.
//
// Usage:
//
//	go run ./cmd/backfill/ [--concurrency 4] [--delay 0s] archive.mbox [more.mbox ...]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mdheller/discourse/internal/app"
	"github.com/mdheller/discourse/internal/backfill"
	"github.com/mdheller/discourse/internal/config"
)

func main() {
	// --- CLI Flags ---
	concurrencyFlag := flag.Int("concurrency", 4, "Messages processed in parallel")
	delayFlag := flag.Duration("delay", 0, "Pause between messages (e.g. 100ms)")
	flag.Parse()

	paths := flag.Args()
	if len(paths) == 0 {
		fmt.Fprintf(os.Stderr, "Error: at least one mbox file is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(app.NewLogger(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise receiver", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	// --- Run Backfill ---
	runner := backfill.NewRunner(backfill.RunnerConfig{
		Processor:   a.Receiver,
		Concurrency: *concurrencyFlag,
		Delay:       *delayFlag,
	})

	result, err := runner.Run(ctx, paths)
	if err != nil {
		slog.Error("backfill interrupted", "error", err)
	}

	// --- Summary ---
	for _, fr := range result.Files {
		slog.Info("file result",
			"path", fr.Path,
			"messages", fr.Messages,
			"processed", fr.Processed,
			"duplicates", fr.Duplicates,
			"rejected", fr.Rejected,
			"errors", fr.Errors,
		)
	}
	if err != nil || result.TotalErrors > 0 {
		a.Close()
		os.Exit(1)
	}
}
