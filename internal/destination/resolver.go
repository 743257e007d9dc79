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

// Package destination maps recipient addresses to group inboxes, category
// inboxes and reply-key conversations.
package destination

import (
	"context"
	"fmt"
	"strings"

	"github.com/mdheller/discourse/internal/address"
	"github.com/mdheller/discourse/internal/models"
)

// Directory looks up the entities recipient addresses can point at. Each
// method returns (nil, nil) when nothing matches.
type Directory interface {
	FindGroupByAddress(ctx context.Context, addr string) (*models.Group, error)
	FindCategoryByAddress(ctx context.Context, addr string) (*models.Category, error)
	FindReplyKey(ctx context.Context, key string) (*models.ReplyKeyRecord, error)
}

// Config controls which lookups the resolver performs.
type Config struct {
	// EmailIn enables group and category inbox lookups.
	EmailIn bool
	Pattern *ReplyKeyPattern
}

// Resolver resolves recipient addresses.
type Resolver struct {
	dir Directory
	cfg Config
}

// NewResolver creates a resolver.
func NewResolver(dir Directory, cfg Config) *Resolver {
	return &Resolver{dir: dir, cfg: cfg}
}

// CandidateAddresses returns the To, Cc, X-Forwarded-To and Delivered-To
// addresses of msg, lowercased and without duplicates, in that order.
func CandidateAddresses(msg *models.IncomingMessage) []string {
	var out []string
	seen := map[string]bool{}
	for _, values := range [][]string{msg.To, msg.Cc, msg.ForwardedTo, msg.DeliveredTo} {
		for _, v := range values {
			for _, a := range address.ParseList(v) {
				if seen[a.Address] {
					continue
				}
				seen[a.Address] = true
				out = append(out, a.Address)
			}
		}
	}
	return out
}

// Resolve returns the destination addr points at, or nil.
func (r *Resolver) Resolve(ctx context.Context, addr string) (*models.Destination, error) {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if addr == "" {
		return nil, nil
	}

	if r.cfg.EmailIn {
		group, err := r.dir.FindGroupByAddress(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("find group %s: %w", addr, err)
		}
		if group != nil {
			return &models.Destination{Kind: models.DestinationGroup, Address: addr, Group: group}, nil
		}

		category, err := r.dir.FindCategoryByAddress(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("find category %s: %w", addr, err)
		}
		if category != nil {
			return &models.Destination{Kind: models.DestinationCategory, Address: addr, Category: category}, nil
		}
	}

	for _, key := range r.cfg.Pattern.Keys(addr) {
		rec, err := r.dir.FindReplyKey(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("find reply key: %w", err)
		}
		if rec != nil {
			return &models.Destination{Kind: models.DestinationReply, Address: addr, ReplyKey: rec}, nil
		}
	}
	return nil, nil
}

// Each resolves candidates in order and calls fn for every destination
// found, stopping when fn returns false.
func (r *Resolver) Each(ctx context.Context, msg *models.IncomingMessage, fn func(models.Destination) bool) error {
	for _, addr := range CandidateAddresses(msg) {
		d, err := r.Resolve(ctx, addr)
		if err != nil {
			return err
		}
		if d != nil && !fn(*d) {
			return nil
		}
	}
	return nil
}

// ResolveAll returns every destination of msg in candidate order.
func (r *Resolver) ResolveAll(ctx context.Context, msg *models.IncomingMessage) ([]models.Destination, error) {
	var out []models.Destination
	err := r.Each(ctx, msg, func(d models.Destination) bool {
		out = append(out, d)
		return true
	})
	return out, err
}

// IsMailingListMirror reports whether any destination is a mirror category.
func IsMailingListMirror(dests []models.Destination) bool {
	for _, d := range dests {
		if d.Kind == models.DestinationCategory && d.Category != nil && d.Category.MailingListMirror {
			return true
		}
	}
	return false
}
