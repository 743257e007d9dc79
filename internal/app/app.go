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
// Package app wires the receiver and its collaborators from configuration.
// Both commands build their pipeline through it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/mdheller/discourse/internal/audit"
	"github.com/mdheller/discourse/internal/bounce"
	"github.com/mdheller/discourse/internal/config"
	"github.com/mdheller/discourse/internal/dedup"
	"github.com/mdheller/discourse/internal/forumapi"
	"github.com/mdheller/discourse/internal/queue"
	"github.com/mdheller/discourse/internal/receiver"
	"github.com/mdheller/discourse/internal/webhook"
)

// App is a wired receiver.
type App struct {
	Receiver *receiver.Receiver
	Forum    *forumapi.Client
	Checks   map[string]webhook.Checker

	closers []func()
}

// NewLogger returns a JSON logger at the named level.
func NewLogger(level string) *slog.Logger {
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(level)); err != nil {
		lv = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lv}))
}

// Build connects to Redis, the audit store and the forum API and returns
// the wired receiver. Close releases the connections.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Checks: map[string]webhook.Checker{}}

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	a.closers = append(a.closers, func() { rdb.Close() })

	publisher := queue.NewPublisher(rdb, cfg.OutcomesQueue)
	if err := publisher.Ping(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("connect to Redis: %w", err)
	}
	a.Checks["redis"] = publisher
	slog.Info("connected to Redis")

	// --- Audit store ---
	store, err := a.openAudit(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	// --- Lock, daily markers and bounce scores ---
	filter := dedup.NewFilter(dedup.NewRedisStore(rdb),
		dedup.WithLockTTL(cfg.LockTTL),
		dedup.WithLockWait(cfg.LockWait),
	)

	a.Forum = forumapi.New(ctx, cfg.Forum)
	a.Checks["forum"] = a.Forum

	updater := bounce.NewUpdater(filter, bounce.NewRedisScores(rdb), a.Forum, cfg.Bounce)

	a.Receiver, err = receiver.New(cfg.Receiver, receiver.Deps{
		Identities:    a.Forum,
		Conversations: a.Forum,
		Content:       a.Forum,
		Reactions:     a.Forum,
		Uploads:       a.Forum,
		Mailer:        a.Forum,
		Bounces:       updater,
		Audit:         store,
		Locker:        filter,
		Publisher:     publisher,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build receiver: %w", err)
	}
	return a, nil
}

func (a *App) openAudit(ctx context.Context, cfg *config.Config) (audit.Store, error) {
	switch cfg.AuditDriver {
	case config.DriverSQLite:
		store, err := audit.OpenSQLite(cfg.AuditDSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { store.Close() })
		a.Checks["sqlite"] = store
		return store, nil
	default:
		pool, err := pgxpool.New(ctx, cfg.AuditDSN)
		if err != nil {
			return nil, fmt.Errorf("create Postgres pool: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if err := pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("connect to PostgreSQL: %w", err)
		}
		slog.Info("connected to PostgreSQL")
		a.Checks["postgres"] = pool
		return audit.NewPostgresStore(ctx, pool)
	}
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
