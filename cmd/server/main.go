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
// Incoming e-mail receiver service
//
// Entry point for the receiver. It:
//  1. Loads configuration from config.yaml
//  2. Connects to Redis, the audit store and the forum API
//  3. Serves POST /incoming for the mail transfer agent and GET /health
//  4. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mdheller/discourse/internal/app"
	"github.com/mdheller/discourse/internal/config"
	"github.com/mdheller/discourse/internal/webhook"
)

func main() {
	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Structured JSON logging
	slog.SetDefault(app.NewLogger(cfg.LogLevel))
	slog.Info("starting incoming e-mail receiver")

	slog.Info("configuration loaded",
		"port", cfg.Port,
		"audit_driver", cfg.AuditDriver,
		"forum", cfg.Forum.BaseURL,
		"email_in", cfg.Receiver.EmailIn,
		"lock_timeout", cfg.LockWait,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise receiver", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Forum.Ping(ctx); err != nil {
		// The breaker and the MTA's retries cover a forum that is still
		// starting up.
		slog.Warn("forum API not reachable yet", "error", err)
	}

	// --- Intake Server ---
	handler := webhook.NewHandler(a.Receiver, webhook.Config{
		Token:         cfg.IngestToken,
		MaxConcurrent: cfg.MaxConcurrent,
		MaxBytes:      cfg.MaxMessageBytes,
	}, a.Checks)
	if cfg.IngestToken == "" {
		slog.Warn("INGEST_TOKEN not set, intake endpoint is unauthenticated")
	}

	ready, err := webhook.Serve(ctx, cfg.Port, handler)
	if err != nil {
		slog.Error("failed to start intake server", "error", err)
		os.Exit(1)
	}
	<-ready

	// --- Graceful Shutdown ---
	<-ctx.Done()
	slog.Info("received shutdown signal")
	slog.Info("receiver stopped")
}
