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
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mdheller/discourse/internal/bounce"
	"github.com/mdheller/discourse/internal/dedup"
	"github.com/mdheller/discourse/internal/destination"
	"github.com/mdheller/discourse/internal/forumapi"
	"github.com/mdheller/discourse/internal/receiver"
)

// Audit store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds all configuration for the receiver service.
type Config struct {
	// Server
	Port            int
	IngestToken     string
	MaxConcurrent   int64
	MaxMessageBytes int64
	LogLevel        string

	// Redis
	RedisURL      string
	OutcomesQueue string

	// Audit store
	AuditDriver string
	AuditDSN    string

	// Per-message lock
	LockTTL  time.Duration
	LockWait time.Duration

	Forum    forumapi.Config
	Receiver receiver.Config
	Bounce   bounce.Config
}

// rawConfig mirrors the YAML structure for unmarshalling. Pointers mark
// settings whose zero value differs from the default.
type rawConfig struct {
	Server struct {
		Port            int    `yaml:"port"`
		Token           string `yaml:"token"`
		MaxConcurrent   int64  `yaml:"max_concurrent"`
		MaxMessageBytes int64  `yaml:"max_message_bytes"`
		LogLevel        string `yaml:"log_level"`
	} `yaml:"server"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Outcomes string `yaml:"outcomes"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	Audit struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"audit"`
	Lock struct {
		TTL     time.Duration `yaml:"ttl"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"lock"`
	Forum struct {
		BaseURL           string        `yaml:"base_url"`
		TokenURL          string        `yaml:"token_url"`
		ClientID          string        `yaml:"client_id"`
		ClientSecret      string        `yaml:"client_secret"`
		Scopes            []string      `yaml:"scopes"`
		APIKey            string        `yaml:"api_key"`
		APIUsername       string        `yaml:"api_username"`
		RequestsPerSecond float64       `yaml:"requests_per_second"`
		Burst             int           `yaml:"burst"`
		Timeout           time.Duration `yaml:"timeout"`
		BreakerFailures   uint32        `yaml:"breaker_failures"`
		BreakerCooldown   time.Duration `yaml:"breaker_cooldown"`
	} `yaml:"forum"`
	Receiver struct {
		ReplyByEmailAddress            string   `yaml:"reply_by_email_address"`
		AlternativeReplyByEmailAddress []string `yaml:"alternative_reply_by_email_addresses"`
		EmailIn                        *bool    `yaml:"email_in"`
		EnableStagedUsers              *bool    `yaml:"enable_staged_users"`
		MinTrustToCreateTopic          *int     `yaml:"email_in_min_trust"`
		MaxStagedUsersPerEmail         *int     `yaml:"maximum_staged_users_per_email"`
		BlockedEmailDomains            []string `yaml:"blocked_email_domains"`
		AttachmentContentTypeDenyList  string   `yaml:"attachment_content_type_denylist"`
		AttachmentFilenameDenyList     string   `yaml:"attachment_filename_denylist"`
		BlockAutoGeneratedEmails       *bool    `yaml:"block_auto_generated_emails"`
		AutoGeneratedAllowList         []string `yaml:"auto_generated_allowlist"`
		PreferHTML                     bool     `yaml:"incoming_email_prefer_html"`
		AlwaysShowTrimmedContent       bool     `yaml:"always_show_trimmed_content"`
		SkipTrimming                   bool     `yaml:"skip_email_trimming"`
		ConvertPlaintext               *bool    `yaml:"convert_plaintext"`
		UnsubscribeViaEmail            *bool    `yaml:"unsubscribe_via_email"`
		IgnoreByTitle                  string   `yaml:"ignore_by_title"`
		FindRelatedPostWithKey         bool     `yaml:"find_related_post_with_key"`
		ForwardedEmailsBehaviour       string   `yaml:"forwarded_emails_behaviour"`
	} `yaml:"receiver"`
	Bounce struct {
		SoftScore           *float64      `yaml:"soft_bounce_score"`
		HardScore           *float64      `yaml:"hard_bounce_score"`
		Threshold           *float64      `yaml:"bounce_score_threshold"`
		DeactivateThreshold *float64      `yaml:"bounce_score_threshold_deactivate"`
		ResetAfter          time.Duration `yaml:"reset_bounce_score_after"`
	} `yaml:"bounce"`
}

// Load reads configuration from the file named by CONFIG_PATH.
func Load() (*Config, error) {
	return LoadFile(envOrDefault("CONFIG_PATH", "/app/config/config.yaml"))
}

// LoadFile reads configuration from path (with env var expansion) and
// environment variables for non-YAML settings.
func LoadFile(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}
	return Parse(data)
}

// Parse builds a Config from YAML bytes.
func Parse(data []byte) (*Config, error) {
	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	rr := raw.Receiver
	rb := raw.Bounce
	cfg := &Config{
		Port:            firstPositive(raw.Server.Port, envOrDefaultInt("PORT", 8080)),
		IngestToken:     firstNonEmpty(raw.Server.Token, os.Getenv("INGEST_TOKEN")),
		MaxConcurrent:   raw.Server.MaxConcurrent,
		MaxMessageBytes: raw.Server.MaxMessageBytes,
		LogLevel:        firstNonEmpty(raw.Server.LogLevel, envOrDefault("LOG_LEVEL", "info")),

		RedisURL:      firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		OutcomesQueue: firstNonEmpty(raw.Redis.Queues.Outcomes, envOrDefault("OUTCOMES_QUEUE", "receiver:outcomes")),

		AuditDriver: strings.ToLower(firstNonEmpty(raw.Audit.Driver, envOrDefault("AUDIT_DRIVER", DriverPostgres))),
		AuditDSN:    firstNonEmpty(raw.Audit.DSN, os.Getenv("DATABASE_URL")),

		LockTTL:  firstDuration(raw.Lock.TTL, dedup.DefaultLockTTL),
		LockWait: firstDuration(raw.Lock.Timeout, envOrDefaultDuration("LOCK_TIMEOUT", dedup.DefaultLockTTL)),

		Forum: forumapi.Config{
			BaseURL:           firstNonEmpty(raw.Forum.BaseURL, os.Getenv("FORUM_BASE_URL")),
			TokenURL:          raw.Forum.TokenURL,
			ClientID:          raw.Forum.ClientID,
			ClientSecret:      raw.Forum.ClientSecret,
			Scopes:            raw.Forum.Scopes,
			APIKey:            firstNonEmpty(raw.Forum.APIKey, os.Getenv("FORUM_API_KEY")),
			APIUsername:       firstNonEmpty(raw.Forum.APIUsername, envOrDefault("FORUM_API_USERNAME", "system")),
			RequestsPerSecond: raw.Forum.RequestsPerSecond,
			Burst:             raw.Forum.Burst,
			Timeout:           raw.Forum.Timeout,
			BreakerFailures:   raw.Forum.BreakerFailures,
			BreakerCooldown:   raw.Forum.BreakerCooldown,
		},

		Receiver: receiver.Config{
			ReplyTemplate:              rr.ReplyByEmailAddress,
			AlternativeReplyTemplates:  rr.AlternativeReplyByEmailAddress,
			EmailIn:                    boolOr(rr.EmailIn, true),
			EnableStagedUsers:          boolOr(rr.EnableStagedUsers, true),
			MinTrustToCreateTopic:      intOr(rr.MinTrustToCreateTopic, 2),
			MaxStagedUsersPerEmail:     intOr(rr.MaxStagedUsersPerEmail, 10),
			BlockedEmailDomains:        lower(rr.BlockedEmailDomains),
			AttachmentDenyContentTypes: rr.AttachmentContentTypeDenyList,
			AttachmentDenyFilenames:    rr.AttachmentFilenameDenyList,
			BlockAutoGenerated:         boolOr(rr.BlockAutoGeneratedEmails, true),
			AutoGeneratedAllowList:     lower(rr.AutoGeneratedAllowList),
			PreferHTML:                 rr.PreferHTML,
			AlwaysShowElided:           rr.AlwaysShowTrimmedContent,
			SkipTrimming:               rr.SkipTrimming,
			ConvertPlaintext:           boolOr(rr.ConvertPlaintext, true),
			UnsubscribeViaEmail:        boolOr(rr.UnsubscribeViaEmail, true),
			IgnoreByTitle:              rr.IgnoreByTitle,
			FindRelatedPostWithKey:     rr.FindRelatedPostWithKey,
			ForwardedEmails:            firstNonEmpty(rr.ForwardedEmailsBehaviour, receiver.ForwardCreateReplies),
			SoftBounceScore:            floatOr(rb.SoftScore, 1),
			HardBounceScore:            floatOr(rb.HardScore, 2),
		},

		Bounce: bounce.Config{
			Threshold:           floatOr(rb.Threshold, 4),
			DeactivateThreshold: floatOr(rb.DeactivateThreshold, 30),
			ResetAfter:          firstDuration(rb.ResetAfter, 30*24*time.Hour),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Receiver.ReplyTemplate == "" {
		return fmt.Errorf("receiver.reply_by_email_address is required")
	}
	if !strings.Contains(c.Receiver.ReplyTemplate, destination.ReplyKeyPlaceholder) {
		return fmt.Errorf("receiver.reply_by_email_address must contain %s: %q", destination.ReplyKeyPlaceholder, c.Receiver.ReplyTemplate)
	}
	switch c.Receiver.ForwardedEmails {
	case receiver.ForwardCreateReplies, receiver.ForwardHide:
	default:
		return fmt.Errorf("unknown receiver.forwarded_emails_behaviour %q", c.Receiver.ForwardedEmails)
	}
	switch c.AuditDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unknown audit.driver %q", c.AuditDriver)
	}
	if c.AuditDSN == "" {
		return fmt.Errorf("audit.dsn is required (or set DATABASE_URL)")
	}
	if c.Forum.BaseURL == "" {
		return fmt.Errorf("forum.base_url is required (or set FORUM_BASE_URL)")
	}
	if c.Bounce.DeactivateThreshold > 0 && c.Bounce.DeactivateThreshold < c.Bounce.Threshold {
		return fmt.Errorf("bounce_score_threshold_deactivate (%v) is below bounce_score_threshold (%v)",
			c.Bounce.DeactivateThreshold, c.Bounce.Threshold)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstDuration(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}

func boolOr(p *bool, fallback bool) bool {
	if p == nil {
		return fallback
	}
	return *p
}

func intOr(p *int, fallback int) int {
	if p == nil {
		return fallback
	}
	return *p
}

func floatOr(p *float64, fallback float64) float64 {
	if p == nil {
		return fallback
	}
	return *p
}

func lower(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}
