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

// Package bounce keeps a per-address bounce reputation score. At most one
// report per address per calendar day counts toward the score.
package bounce

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mdheller/discourse/internal/dedup"
)

// MarkerTTL outlives a calendar day so late reports near midnight still
// see the marker.
const MarkerTTL = 25 * time.Hour

// Policy acts on an address whose score crossed a threshold.
type Policy interface {
	BounceThresholdReached(ctx context.Context, address string, score float64, deactivate bool) error
}

// Config holds the scoring thresholds.
type Config struct {
	// Threshold notifies the address owner.
	Threshold float64
	// DeactivateThreshold deactivates the owner.
	DeactivateThreshold float64
	// ResetAfter is the expiry of the accumulated score, refreshed on
	// every increment.
	ResetAfter time.Duration
}

// Updater applies bounce scores.
type Updater struct {
	filter *dedup.Filter
	scores Scores
	policy Policy
	cfg    Config
	now    func() time.Time
}

// Option configures an Updater.
type Option func(*Updater)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(u *Updater) { u.now = now }
}

// NewUpdater creates an updater.
func NewUpdater(filter *dedup.Filter, scores Scores, policy Policy, cfg Config, opts ...Option) *Updater {
	u := &Updater{filter: filter, scores: scores, policy: policy, cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(u)
	}
	return u
}

// MarkerKey is the daily marker for address.
func MarkerKey(address string, day time.Time) string {
	return fmt.Sprintf("bounce_score:%s:%s", strings.ToLower(address), day.Format("2006-01-02"))
}

// Update adds score to address unless address already bounced today. It
// reports whether the score was applied.
func (u *Updater) Update(ctx context.Context, address string, score float64) (bool, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		return false, nil
	}

	marker := MarkerKey(address, u.now())
	first, err := u.filter.Once(ctx, marker, MarkerTTL)
	if err != nil {
		return false, fmt.Errorf("bounce marker: %w", err)
	}
	if !first {
		slog.Debug("bounce already counted today", "address", address)
		return false, nil
	}

	total, err := u.scores.Add(ctx, address, score, u.cfg.ResetAfter)
	if err != nil {
		// Unclaim the day so a redelivered report can still score.
		if ferr := u.filter.Forget(context.WithoutCancel(ctx), marker); ferr != nil {
			slog.Warn("failed to release bounce marker", "address", address, "error", ferr)
		}
		return false, fmt.Errorf("bounce score: %w", err)
	}
	old := total - score

	slog.Info("bounce score updated",
		"address", address,
		"score", score,
		"total", total,
	)

	if u.policy == nil {
		return true, nil
	}
	if crossed(old, total, u.cfg.Threshold) {
		if err := u.policy.BounceThresholdReached(ctx, address, total, false); err != nil {
			return true, fmt.Errorf("bounce threshold policy: %w", err)
		}
	}
	if crossed(old, total, u.cfg.DeactivateThreshold) {
		if err := u.policy.BounceThresholdReached(ctx, address, total, true); err != nil {
			return true, fmt.Errorf("bounce deactivate policy: %w", err)
		}
	}
	return true, nil
}

// Score returns the accumulated score of address.
func (u *Updater) Score(ctx context.Context, address string) (float64, error) {
	return u.scores.Get(ctx, strings.ToLower(strings.TrimSpace(address)))
}

func crossed(old, total, threshold float64) bool {
	return threshold > 0 && old < threshold && total >= threshold
}
