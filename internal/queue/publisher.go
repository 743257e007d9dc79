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

// Package queue publishes processing outcomes to a Redis list so that
// downstream consumers (notifications, analytics) can react to them.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mdheller/discourse/internal/models"
)

// DefaultQueue is the list outcomes are pushed to when none is configured.
const DefaultQueue = "receiver:outcomes"

// Publisher pushes outcome envelopes onto a Redis list.
type Publisher struct {
	rdb       *redis.Client
	queueName string
}

// NewPublisher creates a publisher targeting queueName.
func NewPublisher(rdb *redis.Client, queueName string) *Publisher {
	if queueName == "" {
		queueName = DefaultQueue
	}
	return &Publisher{
		rdb:       rdb,
		queueName: queueName,
	}
}

// Envelope is the JSON document pushed for each outcome.
type Envelope struct {
	ID          string          `json:"id"`
	Event       string          `json:"event"`
	PublishedAt time.Time       `json:"published_at"`
	Outcome     *models.Outcome `json:"outcome"`
}

// PublishOutcome serialises the outcome and LPUSHes it. Consumers BRPOP
// from the other end.
func (p *Publisher) PublishOutcome(ctx context.Context, outcome *models.Outcome) error {
	env := Envelope{
		ID:          uuid.New().String(),
		Event:       "incoming_email." + string(outcome.Kind),
		PublishedAt: time.Now().UTC(),
		Outcome:     outcome,
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal outcome envelope: %w", err)
	}

	if err := p.rdb.LPush(ctx, p.queueName, body).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Debug("published outcome",
		"envelope_id", env.ID,
		"message_id", outcome.MessageID,
		"kind", outcome.Kind,
		"queue", p.queueName,
	)
	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
