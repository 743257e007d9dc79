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

package bounce

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Scores stores accumulated bounce scores.
type Scores interface {
	// Add increments the score of address, refreshes its expiry and
	// returns the new total.
	Add(ctx context.Context, address string, score float64, ttl time.Duration) (float64, error)
	Get(ctx context.Context, address string) (float64, error)
}

const scoreKeyPrefix = "bounce_score_total:"

// RedisScores keeps scores in Redis.
type RedisScores struct {
	rdb *redis.Client
}

// NewRedisScores creates a score store on rdb.
func NewRedisScores(rdb *redis.Client) *RedisScores {
	return &RedisScores{rdb: rdb}
}

func (s *RedisScores) Add(ctx context.Context, address string, score float64, ttl time.Duration) (float64, error) {
	key := scoreKeyPrefix + address
	var incr *redis.FloatCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.IncrByFloat(ctx, key, score)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis INCRBYFLOAT: %w", err)
	}
	return incr.Val(), nil
}

func (s *RedisScores) Get(ctx context.Context, address string) (float64, error) {
	v, err := s.rdb.Get(ctx, scoreKeyPrefix+address).Float64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis GET: %w", err)
	}
	return v, nil
}

// MemoryScores keeps scores in process. Expiry is not enforced.
type MemoryScores struct {
	mu     sync.Mutex
	scores map[string]float64
}

// NewMemoryScores creates an empty score store.
func NewMemoryScores() *MemoryScores {
	return &MemoryScores{scores: map[string]float64{}}
}

func (s *MemoryScores) Add(_ context.Context, address string, score float64, _ time.Duration) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[address] += score
	return s.scores[address], nil
}

func (s *MemoryScores) Get(_ context.Context, address string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scores[address], nil
}
